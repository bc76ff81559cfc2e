package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps service errors onto HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, simpletoken.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, simpletoken.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, simpletoken.ErrTokenNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpletoken.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, simpletoken.ErrConflictingState):
		return http.StatusConflict, "conflicting_state"
	case errors.Is(err, simpletoken.ErrTokenExists):
		return http.StatusConflict, "token_exists"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: code})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: "bad_request"})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: "unauthorized"})
}
