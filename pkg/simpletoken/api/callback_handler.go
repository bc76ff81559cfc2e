package api

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

// CallbackObserver is told the outcome of every callback.
type CallbackObserver interface {
	ObserveCallback(result string)
}

// CallbackResponse acknowledges a verified callback
type CallbackResponse struct {
	OK    bool               `json:"ok"`
	Token *simpletoken.Token `json:"token,omitempty"`
}

// CallbackHandler accepts upload-completion callbacks signed by the storage provider.
type CallbackHandler struct {
	service  simpletoken.Service
	verifier *signer.Verifier
	observer CallbackObserver
	logger   *slog.Logger
}

// NewCallbackHandler creates a callback handler. observer may be nil.
func NewCallbackHandler(service simpletoken.Service, verifier *signer.Verifier, observer CallbackObserver, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackHandler{service: service, verifier: verifier, observer: observer, logger: logger}
}

// Upload verifies the callback signature and, when the callback names a
// token_id, marks that token used on behalf of the system.
func (h *CallbackHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ok, body := h.verifier.VerifyRequest(r)
	if !ok {
		h.observe("rejected")
		h.logger.WarnContext(r.Context(), "Callback signature rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
		writeUnauthorized(w, r, "invalid callback signature")
		return
	}

	rawID := callbackTokenID(r.Header.Get("Content-Type"), body)
	if rawID == "" {
		h.observe("verified")
		render.JSON(w, r, CallbackResponse{OK: true})
		return
	}

	externalID, err := uuid.Parse(rawID)
	if err != nil {
		h.observe("invalid")
		writeBadRequest(w, r, "invalid token_id")
		return
	}

	ctx := r.Context()
	token, err := h.service.GetTokenByExternalID(ctx, simpletoken.SystemCaller, externalID)
	if err == nil {
		token, err = h.service.MarkUsed(ctx, simpletoken.SystemCaller, token.ID)
	}
	if err != nil {
		h.observe("failed")
		writeError(w, r, err)
		return
	}

	h.observe("verified")
	h.logger.InfoContext(ctx, "Upload callback redeemed token", "token_id", token.ID, "external_id", externalID.String())
	render.JSON(w, r, CallbackResponse{OK: true, Token: token})
}

func (h *CallbackHandler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveCallback(result)
	}
}

// callbackTokenID extracts token_id from a form or JSON callback body.
func callbackTokenID(contentType string, body []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return values.Get("token_id")
	case "application/json":
		var payload struct {
			TokenID string `json:"token_id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.TokenID
	default:
		return ""
	}
}
