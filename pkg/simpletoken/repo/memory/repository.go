package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// Repository implements simpletoken.Store using in-memory storage
type Repository struct {
	mu         sync.RWMutex
	nextID     int64
	tokens     map[int64]*simpletoken.Token
	byExternal map[uuid.UUID]int64
}

// New creates a new in-memory repository
func New() simpletoken.Store {
	return &Repository{
		tokens:     make(map[int64]*simpletoken.Token),
		byExternal: make(map[uuid.UUID]int64),
	}
}

func (r *Repository) CreateToken(ctx context.Context, token *simpletoken.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[token.ExternalID]; exists {
		return simpletoken.ErrTokenExists
	}

	r.nextID++
	token.ID = r.nextID

	// Create a copy to avoid external modifications
	r.tokens[token.ID] = copyToken(token)
	r.byExternal[token.ExternalID] = token.ID
	return nil
}

func (r *Repository) GetToken(ctx context.Context, id int64) (*simpletoken.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, exists := r.tokens[id]
	if !exists {
		return nil, simpletoken.ErrTokenNotFound
	}
	return copyToken(token), nil
}

func (r *Repository) GetTokenByExternalID(ctx context.Context, externalID uuid.UUID) (*simpletoken.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byExternal[externalID]
	if !exists {
		return nil, simpletoken.ErrTokenNotFound
	}
	return copyToken(r.tokens[id]), nil
}

func (r *Repository) ListTokensByOwner(ctx context.Context, ownerID string, page simpletoken.Page) ([]*simpletoken.Token, error) {
	return r.list(page, func(t *simpletoken.Token) bool { return t.OwnerID == ownerID }), nil
}

func (r *Repository) ListTokensByStatus(ctx context.Context, status simpletoken.TokenStatus, page simpletoken.Page) ([]*simpletoken.Token, error) {
	return r.list(page, func(t *simpletoken.Token) bool { return t.Status == status }), nil
}

func (r *Repository) list(page simpletoken.Page, match func(*simpletoken.Token) bool) []*simpletoken.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simpletoken.Token
	for _, token := range r.tokens {
		if match(token) {
			result = append(result, copyToken(token))
		}
	}

	// Sort by created_at descending, newest id first on ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	page = page.Normalize()
	if page.Skip >= len(result) {
		return []*simpletoken.Token{}
	}
	end := page.Skip + page.Limit
	if end > len(result) {
		end = len(result)
	}
	return result[page.Skip:end]
}

func (r *Repository) TransitionToken(ctx context.Context, id int64, from []simpletoken.TokenStatus, t simpletoken.Transition) (*simpletoken.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.tokens[id]
	if !exists {
		return nil, simpletoken.ErrTokenNotFound
	}
	if !simpletoken.StatusIn(token.Status, from) {
		return nil, simpletoken.ErrConflictingState
	}
	if t.LiveAt != nil && !token.IsLiveAt(*t.LiveAt) {
		return nil, simpletoken.ErrConflictingState
	}

	token.Status = t.To
	if t.ReviewerID != "" {
		token.ReviewerID = t.ReviewerID
		token.DecisionNote = t.DecisionNote
	}
	if t.DecidedAt != nil {
		decidedAt := *t.DecidedAt
		token.DecidedAt = &decidedAt
	}
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		token.UsedAt = &usedAt
	}
	token.UpdatedAt = t.UpdatedAt
	return copyToken(token), nil
}

func (r *Repository) ExpireTokens(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	expirable := simpletoken.ExpirableStatuses()
	for _, token := range r.tokens {
		if simpletoken.StatusIn(token.Status, expirable) && !token.IsLiveAt(now) {
			token.Status = simpletoken.TokenStatusExpired
			token.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func copyToken(t *simpletoken.Token) *simpletoken.Token {
	c := *t
	if t.DecidedAt != nil {
		decidedAt := *t.DecidedAt
		c.DecidedAt = &decidedAt
	}
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		c.UsedAt = &usedAt
	}
	return &c
}
