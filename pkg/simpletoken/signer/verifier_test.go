package signer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formBody = "key=cats%2F1.png&token_id=abc"

func TestCallbackMessage(t *testing.T) {
	assert.Equal(t, "/cb\n", CallbackMessage("/cb", "", nil, formContentType))
	assert.Equal(t, "/cb?a=1\nx=1", CallbackMessage("/cb", "a=1", []byte("x=1"), formContentType))
	assert.Equal(t, "/cb\nx=1", CallbackMessage("/cb", "", []byte("x=1"), "application/x-www-form-urlencoded; charset=utf-8"))
	assert.Equal(t, "/cb\n", CallbackMessage("/cb", "", []byte(`{"x":1}`), "application/json"))
}

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier(newTestSigner(t))

	t.Run("known vector", func(t *testing.T) {
		assert.True(t, v.Verify("QBox AK:O8Fcs9a1EoYXibluhqizVJTkt1s", "/callbacks/upload", "", []byte(formBody), formContentType))
	})

	t.Run("round trip", func(t *testing.T) {
		msg := CallbackMessage("/callbacks/upload", "x=1", []byte(formBody), formContentType)
		auth := v.ExpectedAuthorization(msg)
		assert.True(t, v.Verify(auth, "/callbacks/upload", "x=1", []byte(formBody), formContentType))
	})

	t.Run("any flipped signature byte fails", func(t *testing.T) {
		auth := v.ExpectedAuthorization(CallbackMessage("/cb", "", []byte(formBody), formContentType))
		sigStart := strings.LastIndex(auth, ":") + 1
		for i := sigStart; i < len(auth); i++ {
			b := []byte(auth)
			b[i] ^= 0x01
			assert.False(t, v.Verify(string(b), "/cb", "", []byte(formBody), formContentType), "byte %d", i)
		}
	})

	t.Run("fails closed", func(t *testing.T) {
		good := v.ExpectedAuthorization("/cb\n")
		cases := []string{"", "QBox", "QBox ", "Bearer AK:x", "QBox AK", strings.TrimPrefix(good, "QBox "), good + " "}
		for _, auth := range cases {
			assert.False(t, v.Verify(auth, "/cb", "", nil, ""), "auth %q", auth)
		}
		var nilVerifier *Verifier
		assert.False(t, nilVerifier.Verify(good, "/cb", "", nil, ""))
	})

	t.Run("body ignored unless form encoded", func(t *testing.T) {
		auth := v.ExpectedAuthorization("/cb\n")
		assert.True(t, v.Verify(auth, "/cb", "", []byte(`{"a":1}`), "application/json"))
		assert.False(t, v.Verify(auth, "/cb", "", []byte("a=1"), formContentType))
	})
}

func TestVerifier_Middleware(t *testing.T) {
	v := NewVerifier(newTestSigner(t))
	var seenBody string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		seenBody = r.PostForm.Get("token_id")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/callbacks/upload", strings.NewReader(formBody))
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Authorization", "QBox AK:O8Fcs9a1EoYXibluhqizVJTkt1s")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "abc", seenBody)

	req = httptest.NewRequest(http.MethodPost, "/callbacks/upload", strings.NewReader(formBody))
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Authorization", "QBox AK:forged")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
