package simpletoken

import "context"

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// TokenIssued does nothing and returns nil
func (n *NoopEventSink) TokenIssued(ctx context.Context, token *Token) error {
	return nil
}

// TokenTransitioned does nothing and returns nil
func (n *NoopEventSink) TokenTransitioned(ctx context.Context, token *Token, from TokenStatus) error {
	return nil
}

// TokensExpired does nothing and returns nil
func (n *NoopEventSink) TokensExpired(ctx context.Context, count int64) error {
	return nil
}
