package simpletoken

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for token persistence.
//
// Every status change goes through TransitionToken or ExpireTokens, both of
// which must apply their update atomically against the stored status.
type Store interface {
	// CreateToken persists a new token and assigns its ID
	CreateToken(ctx context.Context, token *Token) error

	GetToken(ctx context.Context, id int64) (*Token, error)
	GetTokenByExternalID(ctx context.Context, externalID uuid.UUID) (*Token, error)

	// ListTokensByOwner returns the owner's tokens, newest first
	ListTokensByOwner(ctx context.Context, ownerID string, page Page) ([]*Token, error)

	// ListTokensByStatus returns tokens in the given status, newest first
	ListTokensByStatus(ctx context.Context, status TokenStatus, page Page) ([]*Token, error)

	// TransitionToken applies t if the stored status is one of from (and, when
	// t.LiveAt is set, the token has not reached its deadline). It returns the
	// updated token, ErrTokenNotFound, or ErrConflictingState.
	TransitionToken(ctx context.Context, id int64, from []TokenStatus, t Transition) (*Token, error)

	// ExpireTokens moves every pending or approved token whose deadline is at
	// or before now to expired and returns how many changed.
	ExpireTokens(ctx context.Context, now time.Time) (int64, error)
}

// EventSink defines the interface for token lifecycle notifications
type EventSink interface {
	// TokenIssued is fired after a token is persisted
	TokenIssued(ctx context.Context, token *Token) error

	// TokenTransitioned is fired after a successful status change
	TokenTransitioned(ctx context.Context, token *Token, from TokenStatus) error

	// TokensExpired is fired after a sweep reclaimed count tokens
	TokensExpired(ctx context.Context, count int64) error
}

// BucketProber checks whether the configured bucket answers requests
type BucketProber interface {
	ProbeBucket(ctx context.Context) error
}
