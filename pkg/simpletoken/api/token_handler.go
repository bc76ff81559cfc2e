package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// IssueUploadRequest is the request body for an upload token
type IssueUploadRequest struct {
	Kind       string         `json:"kind,omitempty"`
	Bucket     string         `json:"bucket,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	Purpose    string         `json:"purpose,omitempty"`
	TTLSeconds int64          `json:"ttl_seconds,omitempty"`
	Policy     map[string]any `json:"policy,omitempty"`
}

// IssueDownloadRequest is the request body for a download token
type IssueDownloadRequest struct {
	Kind        string `json:"kind,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	ObjectKey   string `json:"object_key"`
	Purpose     string `json:"purpose,omitempty"`
	OriginalURL string `json:"original_url,omitempty"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}

// DecisionRequest is the request body for approving or rejecting a token
type DecisionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// ListResponse wraps a page of tokens
type ListResponse struct {
	Tokens []*simpletoken.Token `json:"tokens"`
	Skip   int                  `json:"skip"`
	Limit  int                  `json:"limit"`
}

// SweepResponse reports how many tokens a sweep reclaimed
type SweepResponse struct {
	Reclaimed int64 `json:"reclaimed"`
}

// IssueResponse is the issued token. Records approved on creation also
// carry the domains the signature is meant for.
type IssueResponse struct {
	*simpletoken.Token
	UploadDomain   string `json:"upload_domain,omitempty"`
	DownloadDomain string `json:"download_domain,omitempty"`
}

// TokenHandler handles HTTP requests for storage tokens
type TokenHandler struct {
	service        simpletoken.Service
	uploadDomain   string
	downloadDomain string
}

// TokenHandlerOption configures a TokenHandler
type TokenHandlerOption func(*TokenHandler)

// WithDomains sets the upload and download domains returned with fast-path tokens
func WithDomains(uploadDomain, downloadDomain string) TokenHandlerOption {
	return func(h *TokenHandler) {
		h.uploadDomain = uploadDomain
		h.downloadDomain = downloadDomain
	}
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(service simpletoken.Service, opts ...TokenHandlerOption) *TokenHandler {
	h := &TokenHandler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the routes for tokens. Callers must already be
// authenticated (see Authenticator.Middleware).
func (h *TokenHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/upload", h.IssueUpload)
	r.Post("/download", h.IssueDownload)
	r.Get("/mine", h.ListMine)
	r.Get("/pending", h.ListPending)
	r.Post("/sweep", h.Sweep)
	r.Get("/bucket-info", h.BucketInfo)

	r.Get("/{id}", h.GetToken)
	r.Post("/{id}/decision", h.Decide)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/mark-used", h.MarkUsed)

	return r
}

// IssueUpload issues an upload token
func (h *TokenHandler) IssueUpload(w http.ResponseWriter, r *http.Request) {
	var req IssueUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	token, err := h.service.IssueUpload(r.Context(), callerOf(r), simpletoken.IssueUploadRequest{
		Kind:       simpletoken.TokenKind(req.Kind),
		Bucket:     req.Bucket,
		ObjectKey:  req.ObjectKey,
		Purpose:    req.Purpose,
		TTLSeconds: req.TTLSeconds,
		Policy:     req.Policy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.issueResponse(token))
}

// IssueDownload issues a download token
func (h *TokenHandler) IssueDownload(w http.ResponseWriter, r *http.Request) {
	var req IssueDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	token, err := h.service.IssueDownload(r.Context(), callerOf(r), simpletoken.IssueDownloadRequest{
		Kind:        simpletoken.TokenKind(req.Kind),
		Bucket:      req.Bucket,
		ObjectKey:   req.ObjectKey,
		Purpose:     req.Purpose,
		OriginalURL: req.OriginalURL,
		TTLSeconds:  req.TTLSeconds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.issueResponse(token))
}

// GetToken returns a single token
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	token, err := h.service.GetToken(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, token)
}

// ListMine lists the caller's own tokens, newest first
func (h *TokenHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOf(w, r)
	if !ok {
		return
	}
	tokens, err := h.service.ListOwnTokens(r.Context(), callerOf(r), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ListResponse{Tokens: tokens, Skip: page.Skip, Limit: page.Limit})
}

// ListPending lists tokens awaiting a decision
func (h *TokenHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOf(w, r)
	if !ok {
		return
	}
	tokens, err := h.service.ListPendingTokens(r.Context(), callerOf(r), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ListResponse{Tokens: tokens, Skip: page.Skip, Limit: page.Limit})
}

// Decide approves or rejects a token according to the body's status
func (h *TokenHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	token, err := h.service.Decide(r.Context(), callerOf(r), id, simpletoken.DecisionRequest{
		Status: simpletoken.TokenStatus(req.Status),
		Note:   req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, token)
}

// Approve approves a pending token
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	token, err := h.service.Approve(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, token)
}

// Reject rejects a pending token. The body, if any, may carry a note.
func (h *TokenHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, r, "invalid request body: "+err.Error())
			return
		}
	}
	token, err := h.service.Reject(r.Context(), callerOf(r), id, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, token)
}

// MarkUsed records that a token was redeemed
func (h *TokenHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	token, err := h.service.MarkUsed(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, token)
}

// Sweep expires lapsed tokens immediately
func (h *TokenHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Sweep(r.Context(), callerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, SweepResponse{Reclaimed: n})
}

// BucketInfo describes the configured bucket
func (h *TokenHandler) BucketInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.BucketInfo(r.Context(), callerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *TokenHandler) issueResponse(token *simpletoken.Token) IssueResponse {
	resp := IssueResponse{Token: token}
	if token.Status == simpletoken.TokenStatusApproved {
		resp.UploadDomain = h.uploadDomain
		resp.DownloadDomain = h.downloadDomain
	}
	return resp
}

func callerOf(r *http.Request) simpletoken.Caller {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func tokenID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, r, "invalid token id")
		return 0, false
	}
	return id, true
}

func pageOf(w http.ResponseWriter, r *http.Request) (simpletoken.Page, bool) {
	var page simpletoken.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"skip": &page.Skip, "limit": &page.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, r, "invalid "+name)
			return page, false
		}
		*dst = n
	}
	return page.Normalize(), true
}
