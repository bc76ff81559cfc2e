package simpletoken

import (
	"context"
	"errors"
	"time"
)

func (s *service) Approve(ctx context.Context, caller Caller, id int64) (*Token, error) {
	return s.Decide(ctx, caller, id, DecisionRequest{Status: TokenStatusApproved})
}

func (s *service) Reject(ctx context.Context, caller Caller, id int64, note string) (*Token, error) {
	return s.Decide(ctx, caller, id, DecisionRequest{Status: TokenStatusRejected, Note: note})
}

// Decide approves or rejects a pending token that has not reached its
// deadline. Only elevated callers decide.
func (s *service) Decide(ctx context.Context, caller Caller, id int64, req DecisionRequest) (*Token, error) {
	op := "decide"
	if !caller.Elevated {
		return nil, &TokenError{ID: id, Op: op, Err: ErrForbidden}
	}
	to, err := decisionTarget(req.Status)
	if err != nil {
		return nil, &TokenError{ID: id, Op: op, Err: err}
	}

	current, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil, &TokenError{ID: id, Op: op, Err: err}
	}
	if ok, err := canDecide(current.Status); !ok {
		return nil, &TokenError{ID: id, Op: op, Err: err}
	}

	now := s.clock()
	if !current.IsLiveAt(now) {
		return nil, &TokenError{ID: id, Op: op, Err: errorf(ErrInvalidTransition, "token passed its deadline at %s", current.ExpiresAt.Format(time.RFC3339))}
	}
	return s.transition(ctx, op, current, decidableFrom, Transition{
		To:           to,
		ReviewerID:   caller.ID,
		DecisionNote: req.Note,
		DecidedAt:    &now,
		UpdatedAt:    now,
		LiveAt:       &now,
	})
}

// MarkUsed records redemption of a live token by its owner or an elevated caller.
func (s *service) MarkUsed(ctx context.Context, caller Caller, id int64) (*Token, error) {
	op := "mark_used"
	current, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil, &TokenError{ID: id, Op: op, Err: err}
	}
	if !canView(caller, current) {
		return nil, &TokenError{ID: id, Op: op, Err: ErrForbidden}
	}
	if ok, err := canMarkUsed(current.Status); !ok {
		return nil, &TokenError{ID: id, Op: op, Err: err}
	}

	now := s.clock()
	if !current.IsLiveAt(now) {
		return nil, &TokenError{ID: id, Op: op, Err: errorf(ErrInvalidTransition, "token passed its deadline at %s", current.ExpiresAt.Format(time.RFC3339))}
	}
	return s.transition(ctx, op, current, usableFrom, Transition{
		To:        TokenStatusUsed,
		UsedAt:    &now,
		UpdatedAt: now,
		LiveAt:    &now,
	})
}

// transition applies t through the store's conditional update. A status that
// moved since current was read surfaces as ErrConflictingState.
func (s *service) transition(ctx context.Context, op string, current *Token, from []TokenStatus, t Transition) (*Token, error) {
	updated, err := s.store.TransitionToken(ctx, current.ID, from, t)
	if err != nil {
		if errors.Is(err, ErrConflictingState) {
			s.logger.InfoContext(ctx, "Token transition lost to concurrent update",
				"token_id", current.ID, "op", op, "read_status", current.Status, "to", t.To)
		}
		return nil, &TokenError{ID: current.ID, Op: op, Err: err}
	}
	s.fireTransitioned(ctx, updated, current.Status)
	return updated, nil
}

func (s *service) Sweep(ctx context.Context, caller Caller) (int64, error) {
	if !caller.Elevated {
		return 0, &TokenError{Op: "sweep", Err: ErrForbidden}
	}
	return s.SweepExpired(ctx, s.clock())
}

func (s *service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.store.ExpireTokens(ctx, now.UTC())
	if err != nil {
		return 0, &TokenError{Op: "sweep", Err: err}
	}
	if err := s.eventSink.TokensExpired(ctx, count); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "tokens_expired", "err", err)
	}
	return count, nil
}
