package simpletoken

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

func (s *service) IssueUpload(ctx context.Context, caller Caller, req IssueUploadRequest) (*Token, error) {
	if req.Kind != "" && req.Kind != TokenKindUpload {
		return nil, &TokenError{Op: "issue_upload", Err: validationf("invalid token kind %q for upload request", req.Kind)}
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = s.bucket
	}

	return s.issue(ctx, caller, "issue_upload", tokenDraft{
		kind:      TokenKindUpload,
		bucket:    bucket,
		objectKey: req.ObjectKey,
		purpose:   req.Purpose,
		ttl:       req.TTLSeconds,
	}, func(deadline int64) (string, error) {
		return s.signer.UploadPolicyToken(bucket, req.ObjectKey, deadline, req.Policy)
	})
}

func (s *service) IssueDownload(ctx context.Context, caller Caller, req IssueDownloadRequest) (*Token, error) {
	if req.Kind != "" && req.Kind != TokenKindDownload {
		return nil, &TokenError{Op: "issue_download", Err: validationf("invalid token kind %q for download request", req.Kind)}
	}
	if strings.TrimSpace(req.ObjectKey) == "" {
		return nil, &TokenError{Op: "issue_download", Err: validationf("object key is required for download token")}
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	originalURL := req.OriginalURL
	if originalURL == "" {
		if s.downloadDomain == "" {
			return nil, &TokenError{Op: "issue_download", Err: validationf("original url is required when no download domain is configured")}
		}
		originalURL = objectURL(s.downloadDomain, req.ObjectKey)
	}

	return s.issue(ctx, caller, "issue_download", tokenDraft{
		kind:      TokenKindDownload,
		bucket:    bucket,
		objectKey: req.ObjectKey,
		purpose:   req.Purpose,
		ttl:       req.TTLSeconds,
	}, func(deadline int64) (string, error) {
		return s.signer.DownloadURL(originalURL, deadline)
	})
}

type tokenDraft struct {
	kind      TokenKind
	bucket    string
	objectKey string
	purpose   string
	ttl       int64
}

func (d tokenDraft) validate() error {
	if !d.kind.IsValid() {
		return validationf("unknown token kind %q", d.kind)
	}
	if d.bucket == "" {
		return validationf("bucket is required")
	}
	if utf8.RuneCountInString(d.bucket) > MaxBucketLength {
		return validationf("bucket exceeds %d characters", MaxBucketLength)
	}
	if d.kind == TokenKindDownload && d.objectKey == "" {
		return validationf("object key is required for download token")
	}
	if utf8.RuneCountInString(d.objectKey) > MaxObjectKeyLength {
		return validationf("object key exceeds %d characters", MaxObjectKeyLength)
	}
	if utf8.RuneCountInString(d.purpose) > MaxPurposeLength {
		return validationf("purpose exceeds %d characters", MaxPurposeLength)
	}
	return nil
}

// issue signs and persists a token in one step, so a signature is never
// handed out without a stored record.
func (s *service) issue(ctx context.Context, caller Caller, op string, d tokenDraft, sign func(deadline int64) (string, error)) (*Token, error) {
	if caller.ID == "" {
		return nil, &TokenError{Op: op, Err: ErrForbidden}
	}
	if err := d.validate(); err != nil {
		return nil, &TokenError{Op: op, Err: err}
	}
	ttl, err := s.resolveTTL(d.ttl)
	if err != nil {
		return nil, &TokenError{Op: op, Err: err}
	}

	now := s.clock()
	deadline := now.Unix() + int64(ttl/time.Second)
	signed, err := sign(deadline)
	if err != nil {
		if errors.Is(err, signer.ErrInvalidInput) {
			err = fmt.Errorf("%w: %w: %v", ErrValidation, ErrSigningFailure, err)
		}
		return nil, &TokenError{Op: op, Err: err}
	}

	token := &Token{
		ExternalID:  uuid.New(),
		OwnerID:     caller.ID,
		Kind:        d.kind,
		Bucket:      d.bucket,
		ObjectKey:   d.objectKey,
		SignedValue: signed,
		Purpose:     d.purpose,
		ExpiresAt:   time.Unix(deadline, 0).UTC(),
		Status:      TokenStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if caller.Elevated {
		// Elevated callers approve their own requests.
		decidedAt := now
		token.Status = TokenStatusApproved
		token.ReviewerID = caller.ID
		token.DecidedAt = &decidedAt
	}

	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, &TokenError{Op: op, Err: err}
	}

	s.fireIssued(ctx, token)
	return token, nil
}

func (s *service) resolveTTL(seconds int64) (time.Duration, error) {
	if seconds == 0 {
		return s.defaultTTL.Truncate(time.Second), nil
	}
	if seconds < 0 {
		return 0, validationf("ttl must be positive, got %d", seconds)
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl > s.maxTTL || ttl/time.Second != time.Duration(seconds) {
		return 0, validationf("ttl %ds exceeds maximum %s", seconds, s.maxTTL)
	}
	return ttl, nil
}

// objectURL joins a download domain and an object key, escaping each path segment.
func objectURL(domain, key string) string {
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(domain, "/") + "/" + strings.Join(segments, "/")
}
