package simpletoken

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the token issuance and lifecycle operations.
//
// Issue* mint and persist tokens; Decide, MarkUsed and the sweep own every
// legal status transition together with its authorization rule.
type Service interface {
	// Issuance
	IssueUpload(ctx context.Context, caller Caller, req IssueUploadRequest) (*Token, error)
	IssueDownload(ctx context.Context, caller Caller, req IssueDownloadRequest) (*Token, error)

	// Reads
	GetToken(ctx context.Context, caller Caller, id int64) (*Token, error)
	GetTokenByExternalID(ctx context.Context, caller Caller, externalID uuid.UUID) (*Token, error)
	ListOwnTokens(ctx context.Context, caller Caller, page Page) ([]*Token, error)
	ListPendingTokens(ctx context.Context, caller Caller, page Page) ([]*Token, error)

	// Transitions
	Decide(ctx context.Context, caller Caller, id int64, req DecisionRequest) (*Token, error)
	Approve(ctx context.Context, caller Caller, id int64) (*Token, error)
	Reject(ctx context.Context, caller Caller, id int64, note string) (*Token, error)
	MarkUsed(ctx context.Context, caller Caller, id int64) (*Token, error)

	// Sweep reclaims lapsed tokens on behalf of an elevated caller
	Sweep(ctx context.Context, caller Caller) (int64, error)
	// SweepExpired reclaims tokens whose deadline is at or before now
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	BucketInfo(ctx context.Context, caller Caller) (*BucketInfo, error)
}
