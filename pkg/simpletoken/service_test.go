package simpletoken_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/repo/memory"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

var (
	alice   = simpletoken.Caller{ID: "alice"}
	bob     = simpletoken.Caller{ID: "bob"}
	manager = simpletoken.Caller{ID: "manager-1", Elevated: true}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   simpletoken.Service
	store simpletoken.Store
	clock *testClock
}

func setupService(t *testing.T, opts ...simpletoken.Option) fixture {
	t.Helper()

	sg, err := signer.New(signer.Config{SecretKey: "test-secret-key", AccessKeyID: "AK"})
	require.NoError(t, err)

	store := memory.New()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	base := []simpletoken.Option{
		simpletoken.WithStore(store),
		simpletoken.WithSigner(sg),
		simpletoken.WithClock(clock.Now),
		simpletoken.WithBucket("photos", "upload.example", "cdn.example"),
	}
	svc, err := simpletoken.New(append(base, opts...)...)
	require.NoError(t, err)
	return fixture{svc: svc, store: store, clock: clock}
}

func TestNew_Validation(t *testing.T) {
	sg, err := signer.New(signer.Config{SecretKey: "k", AccessKeyID: "AK"})
	require.NoError(t, err)

	_, err = simpletoken.New(simpletoken.WithSigner(sg))
	assert.Error(t, err, "store is required")

	_, err = simpletoken.New(simpletoken.WithStore(memory.New()))
	assert.Error(t, err, "signer is required")

	_, err = simpletoken.New(simpletoken.WithStore(memory.New()), simpletoken.WithSigner(sg),
		simpletoken.WithTTL(2*time.Hour, time.Hour))
	assert.Error(t, err)

	_, err = simpletoken.New(simpletoken.WithStore(memory.New()), simpletoken.WithSigner(sg),
		simpletoken.WithTTL(500*time.Millisecond, time.Hour))
	assert.Error(t, err)
}

func TestIssueDownload_SignedURL(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	token, err := f.svc.IssueDownload(ctx, alice, simpletoken.IssueDownloadRequest{
		ObjectKey:   "obj.png",
		OriginalURL: "https://cdn.example/obj.png",
		TTLSeconds:  3600,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1700003600), token.ExpiresAt.Unix())
	assert.Equal(t, "https://cdn.example/obj.png?e=1700003600&token=AK:csq4iQa5d16tTwp7O8BqFfQltGk", token.SignedValue)
	assert.Equal(t, simpletoken.TokenKindDownload, token.Kind)
	assert.Equal(t, simpletoken.TokenStatusPending, token.Status)
	assert.Equal(t, "alice", token.OwnerID)
	assert.Equal(t, "photos", token.Bucket)
	assert.True(t, token.ExpiresAt.After(token.CreatedAt))
	assert.Empty(t, token.ReviewerID)
	assert.Nil(t, token.DecidedAt)

	stored, err := f.store.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, token.SignedValue, stored.SignedValue)
}

func TestIssueDownload_DefaultsToDownloadDomain(t *testing.T) {
	f := setupService(t)

	token, err := f.svc.IssueDownload(context.Background(), alice, simpletoken.IssueDownloadRequest{
		ObjectKey: "obj.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/obj.png?e=1700003600&token=AK:csq4iQa5d16tTwp7O8BqFfQltGk", token.SignedValue)
}

func TestIssueDownload_EmptyKeyCreatesNothing(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.IssueDownload(ctx, alice, simpletoken.IssueDownloadRequest{
		OriginalURL: "https://cdn.example/obj.png",
	})
	assert.ErrorIs(t, err, simpletoken.ErrValidation)

	tokens, err := f.svc.ListOwnTokens(ctx, alice, simpletoken.Page{})
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestIssueDownload_MalformedURL(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.IssueDownload(context.Background(), alice, simpletoken.IssueDownloadRequest{
		ObjectKey:   "obj.png",
		OriginalURL: "not a url",
	})
	assert.ErrorIs(t, err, simpletoken.ErrValidation)
	assert.ErrorIs(t, err, simpletoken.ErrSigningFailure)
}

func TestIssueUpload(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	t.Run("SignsPolicy", func(t *testing.T) {
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{
			ObjectKey:  "cats/1.png",
			TTLSeconds: 3600,
		})
		require.NoError(t, err)
		assert.Equal(t,
			"eyJkZWFkbGluZSI6MTcwMDAwMzYwMCwic2NvcGUiOiJwaG90b3M6Y2F0cy8xLnBuZyJ9:1Sb57dKbg5mJHpSRqLRINy_E5dc",
			token.SignedValue)
		assert.Equal(t, simpletoken.TokenKindUpload, token.Kind)
		assert.Equal(t, "photos", token.Bucket)
	})

	t.Run("Deterministic", func(t *testing.T) {
		req := simpletoken.IssueUploadRequest{Bucket: "docs", ObjectKey: "a.txt", TTLSeconds: 60}
		first, err := f.svc.IssueUpload(ctx, alice, req)
		require.NoError(t, err)
		second, err := f.svc.IssueUpload(ctx, alice, req)
		require.NoError(t, err)

		assert.Equal(t, first.SignedValue, second.SignedValue)
		assert.NotEqual(t, first.ID, second.ID)
		assert.NotEqual(t, first.ExternalID, second.ExternalID)
	})

	t.Run("DefaultTTL", func(t *testing.T) {
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(1700003600), token.ExpiresAt.Unix())
	})

	t.Run("WrongKind", func(t *testing.T) {
		_, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{Kind: simpletoken.TokenKindDownload})
		assert.ErrorIs(t, err, simpletoken.ErrValidation)
	})

	t.Run("TTLBounds", func(t *testing.T) {
		_, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: -1})
		assert.ErrorIs(t, err, simpletoken.ErrValidation)

		_, err = f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: int64(simpletoken.DefaultMaxTTL/time.Second) + 1})
		assert.ErrorIs(t, err, simpletoken.ErrValidation)
	})

	t.Run("FieldLimits", func(t *testing.T) {
		_, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{Purpose: strings.Repeat("x", simpletoken.MaxPurposeLength+1)})
		assert.ErrorIs(t, err, simpletoken.ErrValidation)
	})

	t.Run("FieldLimitsCountCharacters", func(t *testing.T) {
		tests := []struct {
			name    string
			req     simpletoken.IssueUploadRequest
			wantErr bool
		}{
			{"key at limit", simpletoken.IssueUploadRequest{ObjectKey: strings.Repeat("课", simpletoken.MaxObjectKeyLength)}, false},
			{"key past limit", simpletoken.IssueUploadRequest{ObjectKey: strings.Repeat("课", simpletoken.MaxObjectKeyLength+1)}, true},
			{"purpose at limit", simpletoken.IssueUploadRequest{Purpose: strings.Repeat("作", simpletoken.MaxPurposeLength)}, false},
			{"purpose past limit", simpletoken.IssueUploadRequest{Purpose: strings.Repeat("作", simpletoken.MaxPurposeLength+1)}, true},
			{"bucket at limit", simpletoken.IssueUploadRequest{Bucket: strings.Repeat("桶", simpletoken.MaxBucketLength)}, false},
			{"bucket past limit", simpletoken.IssueUploadRequest{Bucket: strings.Repeat("桶", simpletoken.MaxBucketLength+1)}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.IssueUpload(ctx, alice, tt.req)
				if tt.wantErr {
					assert.ErrorIs(t, err, simpletoken.ErrValidation)
				} else {
					assert.NoError(t, err)
				}
			})
		}

		token, err := f.svc.IssueDownload(ctx, alice, simpletoken.IssueDownloadRequest{ObjectKey: strings.Repeat("课", 200)})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("课", 200), token.ObjectKey)
	})

	t.Run("AnonymousCaller", func(t *testing.T) {
		_, err := f.svc.IssueUpload(ctx, simpletoken.Caller{}, simpletoken.IssueUploadRequest{})
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)
	})
}

func TestIssue_PrivilegedFastPath(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	upload, err := f.svc.IssueUpload(ctx, manager, simpletoken.IssueUploadRequest{ObjectKey: "cats/1.png"})
	require.NoError(t, err)
	assert.Equal(t, simpletoken.TokenStatusApproved, upload.Status)
	assert.Equal(t, upload.OwnerID, upload.ReviewerID)
	require.NotNil(t, upload.DecidedAt)
	assert.True(t, upload.DecidedAt.Equal(upload.CreatedAt))

	download, err := f.svc.IssueDownload(ctx, manager, simpletoken.IssueDownloadRequest{ObjectKey: "obj.png"})
	require.NoError(t, err)
	assert.Equal(t, simpletoken.TokenStatusApproved, download.Status)

	pending, err := f.svc.ListPendingTokens(ctx, manager, simpletoken.Page{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("Approve", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		f.clock.Set(time.Unix(1700000100, 0))
		approved, err := f.svc.Approve(ctx, manager, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusApproved, approved.Status)
		assert.Equal(t, "manager-1", approved.ReviewerID)
		require.NotNil(t, approved.DecidedAt)
		assert.Equal(t, int64(1700000100), approved.DecidedAt.Unix())
	})

	t.Run("RejectWithNote", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		rejected, err := f.svc.Reject(ctx, manager, token.ID, "wrong bucket")
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusRejected, rejected.Status)
		assert.Equal(t, "wrong bucket", rejected.DecisionNote)
	})

	t.Run("NonElevatedForbidden", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		_, err = f.svc.Approve(ctx, alice, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)

		got, err := f.svc.GetToken(ctx, alice, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusPending, got.Status)
	})

	t.Run("InvalidTarget", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		_, err = f.svc.Decide(ctx, manager, token.ID, simpletoken.DecisionRequest{Status: simpletoken.TokenStatusUsed})
		assert.ErrorIs(t, err, simpletoken.ErrValidation)
	})

	t.Run("AlreadyDecided", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)
		_, err = f.svc.Reject(ctx, manager, token.ID, "")
		require.NoError(t, err)

		_, err = f.svc.Approve(ctx, manager, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrInvalidTransition)
		assert.ErrorIs(t, err, simpletoken.ErrConflictingState)

		var tokenErr *simpletoken.TokenError
		require.True(t, errors.As(err, &tokenErr))
		assert.Equal(t, token.ID, tokenErr.ID)
		assert.Equal(t, "decide", tokenErr.Op)
	})

	t.Run("PastDeadline", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
		require.NoError(t, err)

		f.clock.Set(token.ExpiresAt)
		_, err = f.svc.Approve(ctx, manager, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrConflictingState)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.Approve(ctx, manager, 12345)
		assert.ErrorIs(t, err, simpletoken.ErrTokenNotFound)
	})
}

func TestMarkUsed(t *testing.T) {
	ctx := context.Background()

	t.Run("FromPendingByOwner", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		used, err := f.svc.MarkUsed(ctx, alice, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusUsed, used.Status)
		require.NotNil(t, used.UsedAt)
	})

	t.Run("FromApprovedByElevated", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, manager, token.ID)
		require.NoError(t, err)

		used, err := f.svc.MarkUsed(ctx, manager, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusUsed, used.Status)
		assert.Equal(t, "manager-1", used.ReviewerID)
	})

	t.Run("OtherCallerForbidden", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)

		_, err = f.svc.MarkUsed(ctx, bob, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)
	})

	t.Run("AtDeadline", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
		require.NoError(t, err)

		f.clock.Set(token.ExpiresAt)
		_, err = f.svc.MarkUsed(ctx, alice, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrInvalidTransition)

		got, err := f.svc.GetToken(ctx, alice, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusPending, got.Status)
	})

	t.Run("Twice", func(t *testing.T) {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
		require.NoError(t, err)
		_, err = f.svc.MarkUsed(ctx, alice, token.ID)
		require.NoError(t, err)

		_, err = f.svc.MarkUsed(ctx, alice, token.ID)
		assert.ErrorIs(t, err, simpletoken.ErrInvalidTransition)
	})
}

func TestNoResurrection(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)

	rejected, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, manager, rejected.ID, "")
	require.NoError(t, err)

	used, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
	require.NoError(t, err)
	_, err = f.svc.MarkUsed(ctx, alice, used.ID)
	require.NoError(t, err)

	expired, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
	require.NoError(t, err)
	count, err := f.svc.SweepExpired(ctx, expired.ExpiresAt)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	want := map[int64]simpletoken.TokenStatus{
		rejected.ID: simpletoken.TokenStatusRejected,
		used.ID:     simpletoken.TokenStatusUsed,
		expired.ID:  simpletoken.TokenStatusExpired,
	}
	for id := range want {
		_, err = f.svc.Approve(ctx, manager, id)
		assert.Error(t, err)
		_, err = f.svc.Reject(ctx, manager, id, "")
		assert.Error(t, err)
		_, err = f.svc.MarkUsed(ctx, manager, id)
		assert.Error(t, err)
	}
	_, err = f.svc.SweepExpired(ctx, time.Unix(1800000000, 0))
	require.NoError(t, err)

	for id, status := range want {
		got, err := f.store.GetToken(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status, "token %d", id)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)

	short, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
	require.NoError(t, err)
	long, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 3600})
	require.NoError(t, err)

	count, err := f.svc.SweepExpired(ctx, short.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = f.svc.SweepExpired(ctx, short.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = f.svc.SweepExpired(ctx, short.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := f.store.GetToken(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, simpletoken.TokenStatusPending, got.Status)

	_, err = f.svc.Sweep(ctx, alice)
	assert.ErrorIs(t, err, simpletoken.ErrForbidden)

	f.clock.Set(long.ExpiresAt)
	count, err = f.svc.Sweep(ctx, manager)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestApproveRacesSweep(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		f := setupService(t)
		token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
		require.NoError(t, err)
		f.clock.Set(token.ExpiresAt)

		var (
			wg         sync.WaitGroup
			approveErr error
			swept      int64
			sweepErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = f.svc.Approve(ctx, manager, token.ID)
		}()
		go func() {
			defer wg.Done()
			swept, sweepErr = f.svc.SweepExpired(ctx, token.ExpiresAt)
		}()
		wg.Wait()

		require.NoError(t, sweepErr)
		successes := int(swept)
		if approveErr == nil {
			successes++
		} else {
			assert.ErrorIs(t, approveErr, simpletoken.ErrConflictingState)
		}
		assert.Equal(t, 1, successes)
	}
}

// sweepBeforeTransition runs a sweep between the service's read and its
// conditional update.
type sweepBeforeTransition struct {
	simpletoken.Store
	sweepAt time.Time
	swept   int64
}

func (s *sweepBeforeTransition) TransitionToken(ctx context.Context, id int64, from []simpletoken.TokenStatus, t simpletoken.Transition) (*simpletoken.Token, error) {
	n, err := s.Store.ExpireTokens(ctx, s.sweepAt)
	if err != nil {
		return nil, err
	}
	s.swept += n
	return s.Store.TransitionToken(ctx, id, from, t)
}

func TestApproveLosesToSweepAfterRead(t *testing.T) {
	ctx := context.Background()
	sg, err := signer.New(signer.Config{SecretKey: "test-secret-key", AccessKeyID: "AK"})
	require.NoError(t, err)

	store := &sweepBeforeTransition{Store: memory.New()}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	svc, err := simpletoken.New(
		simpletoken.WithStore(store),
		simpletoken.WithSigner(sg),
		simpletoken.WithClock(clock.Now),
		simpletoken.WithBucket("photos", "upload.example", "cdn.example"),
	)
	require.NoError(t, err)

	token, err := svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
	require.NoError(t, err)

	// The read sees a live pending token; the sweep lands before the update.
	clock.Set(token.ExpiresAt.Add(-time.Second))
	store.sweepAt = token.ExpiresAt

	_, err = svc.Approve(ctx, manager, token.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, simpletoken.ErrConflictingState)
	assert.NotErrorIs(t, err, simpletoken.ErrInvalidTransition)
	assert.Equal(t, int64(1), store.swept)

	got, err := store.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, simpletoken.TokenStatusExpired, got.Status)
	assert.Empty(t, got.ReviewerID)
	assert.Nil(t, got.DecidedAt)
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	f := setupService(t)

	aliceToken, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
	require.NoError(t, err)
	f.clock.Set(time.Unix(1700000001, 0))
	_, err = f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{})
	require.NoError(t, err)
	_, err = f.svc.IssueUpload(ctx, bob, simpletoken.IssueUploadRequest{})
	require.NoError(t, err)

	t.Run("GetOwn", func(t *testing.T) {
		got, err := f.svc.GetToken(ctx, alice, aliceToken.ID)
		require.NoError(t, err)
		assert.Equal(t, aliceToken.ExternalID, got.ExternalID)
	})

	t.Run("GetOthersForbidden", func(t *testing.T) {
		_, err := f.svc.GetToken(ctx, bob, aliceToken.ID)
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)

		_, err = f.svc.GetTokenByExternalID(ctx, bob, aliceToken.ExternalID)
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)
	})

	t.Run("GetByExternalID", func(t *testing.T) {
		got, err := f.svc.GetTokenByExternalID(ctx, manager, aliceToken.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, aliceToken.ID, got.ID)

		_, err = f.svc.GetTokenByExternalID(ctx, manager, uuid.New())
		assert.ErrorIs(t, err, simpletoken.ErrTokenNotFound)
	})

	t.Run("ListOwnNewestFirst", func(t *testing.T) {
		tokens, err := f.svc.ListOwnTokens(ctx, alice, simpletoken.Page{})
		require.NoError(t, err)
		require.Len(t, tokens, 2)
		assert.Equal(t, aliceToken.ID, tokens[1].ID)
	})

	t.Run("ListPending", func(t *testing.T) {
		_, err := f.svc.ListPendingTokens(ctx, alice, simpletoken.Page{})
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)

		tokens, err := f.svc.ListPendingTokens(ctx, manager, simpletoken.Page{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, tokens, 2)
	})
}

type fakeProber struct{ err error }

func (p fakeProber) ProbeBucket(ctx context.Context) error { return p.err }

func TestBucketInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("MasksAccessKey", func(t *testing.T) {
		f := setupService(t)
		info, err := f.svc.BucketInfo(ctx, manager)
		require.NoError(t, err)
		assert.Equal(t, "photos", info.Bucket)
		assert.Equal(t, "cdn.example", info.DownloadDomain)
		assert.Equal(t, "A...", info.AccessKey)
		assert.True(t, info.Configured)
		assert.Nil(t, info.Reachable)
	})

	t.Run("Forbidden", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.BucketInfo(ctx, alice)
		assert.ErrorIs(t, err, simpletoken.ErrForbidden)
	})

	t.Run("ProbeFailure", func(t *testing.T) {
		f := setupService(t, simpletoken.WithBucketProber(fakeProber{err: errors.New("unreachable")}))
		info, err := f.svc.BucketInfo(ctx, manager)
		require.NoError(t, err)
		require.NotNil(t, info.Reachable)
		assert.False(t, *info.Reachable)
	})
}

func TestMaskAccessKey(t *testing.T) {
	assert.Equal(t, "", simpletoken.MaskAccessKey(""))
	assert.Equal(t, "ab...", simpletoken.MaskAccessKey("abcd"))
	assert.Equal(t, "ABCDEFGH...", simpletoken.MaskAccessKey("ABCDEFGHIJKLMNOP"))
}

type recordingSink struct {
	mu          sync.Mutex
	issued      int
	transitions []simpletoken.TokenStatus
	expired     int64
}

func (r *recordingSink) TokenIssued(ctx context.Context, token *simpletoken.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return nil
}

func (r *recordingSink) TokenTransitioned(ctx context.Context, token *simpletoken.Token, from simpletoken.TokenStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, token.Status)
	return nil
}

func (r *recordingSink) TokensExpired(ctx context.Context, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired += count
	return errors.New("sink unavailable")
}

func TestEventSink(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	f := setupService(t, simpletoken.WithEventSink(simpletoken.MultiEventSink{sink, simpletoken.NewNoopEventSink()}))

	token, err := f.svc.IssueUpload(ctx, alice, simpletoken.IssueUploadRequest{TTLSeconds: 60})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, manager, token.ID)
	require.NoError(t, err)

	// Sink errors are logged, never returned
	count, err := f.svc.SweepExpired(ctx, token.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, 1, sink.issued)
	assert.Equal(t, []simpletoken.TokenStatus{simpletoken.TokenStatusApproved}, sink.transitions)
	assert.Equal(t, int64(1), sink.expired)
}
