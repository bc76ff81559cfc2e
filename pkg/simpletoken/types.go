package simpletoken

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind is the kind of storage access a token grants.
type TokenKind string

// Token kind constants (typed).
const (
	TokenKindUpload   TokenKind = "upload"
	TokenKindDownload TokenKind = "download"
)

// IsValid reports whether k is a known token kind.
func (k TokenKind) IsValid() bool {
	return k == TokenKindUpload || k == TokenKindDownload
}

// TokenStatus is the domain type for token lifecycle states.
type TokenStatus string

// Token status constants (typed).
const (
	TokenStatusPending  TokenStatus = "pending"
	TokenStatusApproved TokenStatus = "approved"
	TokenStatusRejected TokenStatus = "rejected"
	TokenStatusUsed     TokenStatus = "used"
	TokenStatusExpired  TokenStatus = "expired"
)

// IsValid reports whether s is a known token status.
func (s TokenStatus) IsValid() bool {
	switch s {
	case TokenStatusPending, TokenStatusApproved, TokenStatusRejected, TokenStatusUsed, TokenStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenStatusRejected || s == TokenStatusUsed || s == TokenStatusExpired
}

// Field limits carried over from the token table schema.
const (
	MaxBucketLength    = 100
	MaxObjectKeyLength = 512
	MaxPurposeLength   = 255
)

// Token is a signed, time-limited grant to upload to or download from a bucket.
//
// Records are append-only: they are created once and afterwards only their
// status and decision/usage bookkeeping change.
type Token struct {
	ID           int64       `json:"id"`
	ExternalID   uuid.UUID   `json:"external_id"`
	OwnerID      string      `json:"owner_id"`
	Kind         TokenKind   `json:"kind"`
	Bucket       string      `json:"bucket"`
	ObjectKey    string      `json:"object_key,omitempty"`
	SignedValue  string      `json:"signed_value"`
	Purpose      string      `json:"purpose,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Status       TokenStatus `json:"status"`
	ReviewerID   string      `json:"reviewer_id,omitempty"`
	DecisionNote string      `json:"decision_note,omitempty"`
	DecidedAt    *time.Time  `json:"decided_at,omitempty"`
	UsedAt       *time.Time  `json:"used_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// IsLiveAt reports whether the token's deadline is still ahead of t.
func (t *Token) IsLiveAt(at time.Time) bool {
	return at.Before(t.ExpiresAt)
}

// Caller is the identity on whose behalf an operation runs. It is resolved
// once at the request boundary and never re-derived inside the service.
type Caller struct {
	ID       string
	Elevated bool
}

// SystemCaller acts for batch jobs and verified provider callbacks.
var SystemCaller = Caller{ID: "system", Elevated: true}

// Page selects a window of a newest-first listing.
type Page struct {
	Skip  int
	Limit int
}

// Paging defaults.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps p to sane bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Transition describes a single conditional status change applied by a Store.
type Transition struct {
	To           TokenStatus
	ReviewerID   string
	DecisionNote string
	DecidedAt    *time.Time
	UsedAt       *time.Time
	UpdatedAt    time.Time
	// LiveAt, when set, additionally requires expires_at > LiveAt at update time.
	LiveAt *time.Time
}

// BucketInfo describes the configured storage target. It never carries secrets.
type BucketInfo struct {
	Bucket         string `json:"bucket"`
	UploadDomain   string `json:"upload_domain"`
	DownloadDomain string `json:"download_domain"`
	AccessKey      string `json:"access_key,omitempty"`
	Configured     bool   `json:"configured"`
	Reachable      *bool  `json:"reachable,omitempty"`
}
