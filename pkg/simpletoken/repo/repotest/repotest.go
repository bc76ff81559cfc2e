// Package repotest holds behaviour tests shared by every simpletoken.Store
// implementation.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// BaseTime is the creation time used by fixtures.
var BaseTime = time.Unix(1700000000, 0).UTC()

// NewToken returns a pending upload token owned by ownerID that expires ttl after BaseTime.
func NewToken(ownerID string, ttl time.Duration) *simpletoken.Token {
	return &simpletoken.Token{
		ExternalID:  uuid.New(),
		OwnerID:     ownerID,
		Kind:        simpletoken.TokenKindUpload,
		Bucket:      "photos",
		ObjectKey:   "cats/1.png",
		SignedValue: "policy:sig",
		Purpose:     "avatar",
		ExpiresAt:   BaseTime.Add(ttl),
		Status:      simpletoken.TokenStatusPending,
		CreatedAt:   BaseTime,
		UpdatedAt:   BaseTime,
	}
}

// Run exercises store against the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) simpletoken.Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		token := NewToken("alice", time.Hour)

		require.NoError(t, store.CreateToken(ctx, token))
		assert.NotZero(t, token.ID)

		got, err := store.GetToken(ctx, token.ID)
		require.NoError(t, err)
		assert.Equal(t, token.ExternalID, got.ExternalID)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, simpletoken.TokenKindUpload, got.Kind)
		assert.Equal(t, "cats/1.png", got.ObjectKey)
		assert.Equal(t, "avatar", got.Purpose)
		assert.Equal(t, simpletoken.TokenStatusPending, got.Status)
		assert.True(t, token.ExpiresAt.Equal(got.ExpiresAt))
		assert.Nil(t, got.DecidedAt)
		assert.Nil(t, got.UsedAt)

		byExternal, err := store.GetTokenByExternalID(ctx, token.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, token.ID, byExternal.ID)
	})

	t.Run("DistinctIDs", func(t *testing.T) {
		store := newStore(t)
		a := NewToken("alice", time.Hour)
		b := NewToken("alice", time.Hour)
		require.NoError(t, store.CreateToken(ctx, a))
		require.NoError(t, store.CreateToken(ctx, b))
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("DuplicateExternalID", func(t *testing.T) {
		store := newStore(t)
		a := NewToken("alice", time.Hour)
		require.NoError(t, store.CreateToken(ctx, a))

		b := NewToken("bob", time.Hour)
		b.ExternalID = a.ExternalID
		assert.ErrorIs(t, store.CreateToken(ctx, b), simpletoken.ErrTokenExists)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetToken(ctx, 999999)
		assert.ErrorIs(t, err, simpletoken.ErrTokenNotFound)

		_, err = store.GetTokenByExternalID(ctx, uuid.New())
		assert.ErrorIs(t, err, simpletoken.ErrTokenNotFound)
	})

	t.Run("ListByOwner", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 3; i++ {
			token := NewToken("alice", time.Hour)
			token.CreatedAt = BaseTime.Add(time.Duration(i) * time.Minute)
			token.UpdatedAt = token.CreatedAt
			token.ExpiresAt = token.CreatedAt.Add(time.Hour)
			require.NoError(t, store.CreateToken(ctx, token))
		}
		require.NoError(t, store.CreateToken(ctx, NewToken("bob", time.Hour)))

		tokens, err := store.ListTokensByOwner(ctx, "alice", simpletoken.Page{})
		require.NoError(t, err)
		require.Len(t, tokens, 3)
		for i := 1; i < len(tokens); i++ {
			assert.False(t, tokens[i].CreatedAt.After(tokens[i-1].CreatedAt), "tokens must be newest first")
		}

		paged, err := store.ListTokensByOwner(ctx, "alice", simpletoken.Page{Skip: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, tokens[1].ID, paged[0].ID)

		none, err := store.ListTokensByOwner(ctx, "nobody", simpletoken.Page{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		store := newStore(t)
		pending := NewToken("alice", time.Hour)
		approved := NewToken("alice", time.Hour)
		approved.Status = simpletoken.TokenStatusApproved
		require.NoError(t, store.CreateToken(ctx, pending))
		require.NoError(t, store.CreateToken(ctx, approved))

		tokens, err := store.ListTokensByStatus(ctx, simpletoken.TokenStatusPending, simpletoken.Page{})
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Equal(t, pending.ID, tokens[0].ID)
	})

	t.Run("TransitionApplies", func(t *testing.T) {
		store := newStore(t)
		token := NewToken("alice", time.Hour)
		require.NoError(t, store.CreateToken(ctx, token))

		decidedAt := BaseTime.Add(time.Minute)
		updated, err := store.TransitionToken(ctx, token.ID,
			[]simpletoken.TokenStatus{simpletoken.TokenStatusPending},
			simpletoken.Transition{
				To:           simpletoken.TokenStatusApproved,
				ReviewerID:   "manager-1",
				DecisionNote: "looks fine",
				DecidedAt:    &decidedAt,
				UpdatedAt:    decidedAt,
			})
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusApproved, updated.Status)
		assert.Equal(t, "manager-1", updated.ReviewerID)
		assert.Equal(t, "looks fine", updated.DecisionNote)
		require.NotNil(t, updated.DecidedAt)
		assert.True(t, decidedAt.Equal(*updated.DecidedAt))

		usedAt := BaseTime.Add(2 * time.Minute)
		used, err := store.TransitionToken(ctx, token.ID,
			[]simpletoken.TokenStatus{simpletoken.TokenStatusPending, simpletoken.TokenStatusApproved},
			simpletoken.Transition{To: simpletoken.TokenStatusUsed, UsedAt: &usedAt, UpdatedAt: usedAt, LiveAt: &usedAt})
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusUsed, used.Status)
		assert.Equal(t, "manager-1", used.ReviewerID, "reviewer survives later transitions")
		require.NotNil(t, used.UsedAt)
		assert.True(t, usedAt.Equal(*used.UsedAt))
	})

	t.Run("TransitionConflicts", func(t *testing.T) {
		store := newStore(t)
		token := NewToken("alice", time.Hour)
		token.Status = simpletoken.TokenStatusRejected
		require.NoError(t, store.CreateToken(ctx, token))

		_, err := store.TransitionToken(ctx, token.ID,
			[]simpletoken.TokenStatus{simpletoken.TokenStatusPending},
			simpletoken.Transition{To: simpletoken.TokenStatusApproved, UpdatedAt: BaseTime})
		assert.ErrorIs(t, err, simpletoken.ErrConflictingState)

		got, err := store.GetToken(ctx, token.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusRejected, got.Status)
	})

	t.Run("TransitionLiveGuard", func(t *testing.T) {
		store := newStore(t)
		token := NewToken("alice", time.Hour)
		require.NoError(t, store.CreateToken(ctx, token))

		at := token.ExpiresAt
		_, err := store.TransitionToken(ctx, token.ID,
			[]simpletoken.TokenStatus{simpletoken.TokenStatusPending},
			simpletoken.Transition{To: simpletoken.TokenStatusUsed, UsedAt: &at, UpdatedAt: at, LiveAt: &at})
		assert.ErrorIs(t, err, simpletoken.ErrConflictingState)
	})

	t.Run("TransitionNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.TransitionToken(ctx, 424242,
			[]simpletoken.TokenStatus{simpletoken.TokenStatusPending},
			simpletoken.Transition{To: simpletoken.TokenStatusApproved, UpdatedAt: BaseTime})
		assert.ErrorIs(t, err, simpletoken.ErrTokenNotFound)
	})

	t.Run("ExpireTokens", func(t *testing.T) {
		store := newStore(t)
		expiredPending := NewToken("alice", time.Minute)
		expiredApproved := NewToken("alice", time.Minute)
		expiredApproved.Status = simpletoken.TokenStatusApproved
		boundary := NewToken("alice", time.Hour)
		live := NewToken("alice", 2*time.Hour)
		rejected := NewToken("alice", time.Minute)
		rejected.Status = simpletoken.TokenStatusRejected
		for _, token := range []*simpletoken.Token{expiredPending, expiredApproved, boundary, live, rejected} {
			require.NoError(t, store.CreateToken(ctx, token))
		}

		count, err := store.ExpireTokens(ctx, BaseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		for _, token := range []*simpletoken.Token{expiredPending, expiredApproved, boundary} {
			got, err := store.GetToken(ctx, token.ID)
			require.NoError(t, err)
			assert.Equal(t, simpletoken.TokenStatusExpired, got.Status)
		}
		got, err := store.GetToken(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusPending, got.Status)
		got, err = store.GetToken(ctx, rejected.ID)
		require.NoError(t, err)
		assert.Equal(t, simpletoken.TokenStatusRejected, got.Status)

		again, err := store.ExpireTokens(ctx, BaseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, again)
	})

	t.Run("ConcurrentTransitions", func(t *testing.T) {
		store := newStore(t)
		token := NewToken("alice", time.Hour)
		require.NoError(t, store.CreateToken(ctx, token))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.TransitionToken(ctx, token.ID,
					[]simpletoken.TokenStatus{simpletoken.TokenStatusPending},
					simpletoken.Transition{To: simpletoken.TokenStatusRejected, ReviewerID: "m", UpdatedAt: BaseTime})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, simpletoken.ErrConflictingState)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
	})
}
