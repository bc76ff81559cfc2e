package signer

import (
	"bytes"
	"crypto/subtle"
	"io"
	"mime"
	"net/http"
)

// AuthorizationScheme prefixes provider-signed callback Authorization headers.
const AuthorizationScheme = "QBox"

const formContentType = "application/x-www-form-urlencoded"

// maxCallbackBody bounds how much of a callback body VerifyRequest reads.
const maxCallbackBody = 1 << 20

// Verifier confirms that inbound callbacks were signed by the storage provider.
type Verifier struct {
	signer *Signer
}

// NewVerifier creates a Verifier sharing s's credentials.
func NewVerifier(s *Signer) *Verifier {
	return &Verifier{signer: s}
}

// CallbackMessage reconstructs the message the provider signs for a callback:
// path["?"query]"\n"[body when form encoded].
func CallbackMessage(path, query string, body []byte, contentType string) string {
	msg := path
	if query != "" {
		msg += "?" + query
	}
	msg += "\n"
	if len(body) > 0 && isFormEncoded(contentType) {
		msg += string(body)
	}
	return msg
}

// ExpectedAuthorization returns the Authorization header value the provider
// would send for message.
func (v *Verifier) ExpectedAuthorization(message string) string {
	return AuthorizationScheme + " " + v.signer.accessKeyID + ":" + v.signer.SignEncoded(message)
}

// Verify reports whether authorization matches the signature of the callback.
// It never panics or errors: any malformed input yields false.
func (v *Verifier) Verify(authorization, path, query string, body []byte, contentType string) bool {
	if v == nil || v.signer == nil || authorization == "" {
		return false
	}
	expected := v.ExpectedAuthorization(CallbackMessage(path, query, body, contentType))
	return subtle.ConstantTimeCompare([]byte(authorization), []byte(expected)) == 1
}

// VerifyRequest verifies r and returns the body it read. r.Body is replaced so
// downstream handlers can read it again.
func (v *Verifier) VerifyRequest(r *http.Request) (bool, []byte) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
		r.Body.Close()
		if err != nil || len(b) > maxCallbackBody {
			return false, nil
		}
		body = b
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	ok := v.Verify(r.Header.Get("Authorization"), r.URL.EscapedPath(), r.URL.RawQuery, body, r.Header.Get("Content-Type"))
	return ok, body
}

// Middleware rejects requests whose callback signature does not verify.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, _ := v.VerifyRequest(r); !ok {
			http.Error(w, "invalid callback signature", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isFormEncoded(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == formContentType
}
