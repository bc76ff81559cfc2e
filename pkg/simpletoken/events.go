package simpletoken

import (
	"context"
	"errors"
	"log/slog"
)

// LogEventSink writes lifecycle events to a structured logger.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink logging through logger (slog.Default when nil).
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) TokenIssued(ctx context.Context, token *Token) error {
	l.logger.InfoContext(ctx, "Token issued",
		"token_id", token.ID,
		"external_id", token.ExternalID.String(),
		"owner_id", token.OwnerID,
		"kind", token.Kind,
		"bucket", token.Bucket,
		"status", token.Status,
		"expires_at", token.ExpiresAt)
	return nil
}

func (l *LogEventSink) TokenTransitioned(ctx context.Context, token *Token, from TokenStatus) error {
	l.logger.InfoContext(ctx, "Token status changed",
		"token_id", token.ID,
		"from", from,
		"to", token.Status,
		"reviewer_id", token.ReviewerID)
	return nil
}

func (l *LogEventSink) TokensExpired(ctx context.Context, count int64) error {
	if count > 0 {
		l.logger.InfoContext(ctx, "Expired tokens reclaimed", "count", count)
	}
	return nil
}

// MultiEventSink fans events out to several sinks, returning the joined errors.
type MultiEventSink []EventSink

func (m MultiEventSink) TokenIssued(ctx context.Context, token *Token) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.TokenIssued(ctx, token))
	}
	return errors.Join(errs...)
}

func (m MultiEventSink) TokenTransitioned(ctx context.Context, token *Token, from TokenStatus) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.TokenTransitioned(ctx, token, from))
	}
	return errors.Join(errs...)
}

func (m MultiEventSink) TokensExpired(ctx context.Context, count int64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.TokensExpired(ctx, count))
	}
	return errors.Join(errs...)
}
