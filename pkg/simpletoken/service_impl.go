package simpletoken

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

// Defaults applied by New.
const (
	DefaultTTL    = time.Hour
	DefaultMaxTTL = 7 * 24 * time.Hour
)

// service implements the Service interface
type service struct {
	store     Store
	signer    *signer.Signer
	eventSink EventSink
	prober    BucketProber
	logger    *slog.Logger
	now       func() time.Time

	bucket         string
	uploadDomain   string
	downloadDomain string
	defaultTTL     time.Duration
	maxTTL         time.Duration
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithStore sets the token store for the service
func WithStore(store Store) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithSigner sets the signer used to mint tokens
func WithSigner(sg *signer.Signer) Option {
	return func(s *service) {
		s.signer = sg
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithBucketProber sets the prober consulted by BucketInfo
func WithBucketProber(p BucketProber) Option {
	return func(s *service) {
		s.prober = p
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithBucket sets the default bucket and the upload/download domains
func WithBucket(bucket, uploadDomain, downloadDomain string) Option {
	return func(s *service) {
		s.bucket = bucket
		s.uploadDomain = uploadDomain
		s.downloadDomain = downloadDomain
	}
}

// WithTTL sets the default and maximum token lifetimes
func WithTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(s *service) {
		s.defaultTTL = defaultTTL
		s.maxTTL = maxTTL
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink:  NewNoopEventSink(),
		logger:     slog.Default(),
		now:        time.Now,
		defaultTTL: DefaultTTL,
		maxTTL:     DefaultMaxTTL,
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if s.signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if s.defaultTTL < time.Second {
		return nil, fmt.Errorf("default ttl must be at least one second")
	}
	if s.maxTTL < s.defaultTTL {
		return nil, fmt.Errorf("max ttl %s is shorter than default ttl %s", s.maxTTL, s.defaultTTL)
	}

	return s, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// Reads

func (s *service) GetToken(ctx context.Context, caller Caller, id int64) (*Token, error) {
	token, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil, &TokenError{ID: id, Op: "get", Err: err}
	}
	if !canView(caller, token) {
		return nil, &TokenError{ID: id, Op: "get", Err: ErrForbidden}
	}
	return token, nil
}

func (s *service) GetTokenByExternalID(ctx context.Context, caller Caller, externalID uuid.UUID) (*Token, error) {
	token, err := s.store.GetTokenByExternalID(ctx, externalID)
	if err != nil {
		return nil, &TokenError{Op: "get_by_external_id", Err: err}
	}
	if !canView(caller, token) {
		return nil, &TokenError{ID: token.ID, Op: "get_by_external_id", Err: ErrForbidden}
	}
	return token, nil
}

func (s *service) ListOwnTokens(ctx context.Context, caller Caller, page Page) ([]*Token, error) {
	if caller.ID == "" {
		return nil, &TokenError{Op: "list_own", Err: ErrForbidden}
	}
	tokens, err := s.store.ListTokensByOwner(ctx, caller.ID, page.Normalize())
	if err != nil {
		return nil, &TokenError{Op: "list_own", Err: err}
	}
	return tokens, nil
}

func (s *service) ListPendingTokens(ctx context.Context, caller Caller, page Page) ([]*Token, error) {
	if !caller.Elevated {
		return nil, &TokenError{Op: "list_pending", Err: ErrForbidden}
	}
	tokens, err := s.store.ListTokensByStatus(ctx, TokenStatusPending, page.Normalize())
	if err != nil {
		return nil, &TokenError{Op: "list_pending", Err: err}
	}
	return tokens, nil
}

// BucketInfo reports the configured bucket. The access key is masked and the
// secret key is never part of the result.
func (s *service) BucketInfo(ctx context.Context, caller Caller) (*BucketInfo, error) {
	if !caller.Elevated {
		return nil, &TokenError{Op: "bucket_info", Err: ErrForbidden}
	}
	info := &BucketInfo{
		Bucket:         s.bucket,
		UploadDomain:   s.uploadDomain,
		DownloadDomain: s.downloadDomain,
		AccessKey:      MaskAccessKey(s.signer.AccessKeyID()),
		Configured:     s.signer.AccessKeyID() != "",
	}
	if s.prober != nil {
		reachable := true
		if err := s.prober.ProbeBucket(ctx); err != nil {
			s.logger.WarnContext(ctx, "Bucket probe failed", "bucket", s.bucket, "err", err)
			reachable = false
		}
		info.Reachable = &reachable
	}
	return info, nil
}

// MaskAccessKey keeps the first eight characters of an access key id.
func MaskAccessKey(accessKey string) string {
	if accessKey == "" {
		return ""
	}
	if len(accessKey) <= 8 {
		return accessKey[:len(accessKey)/2] + "..."
	}
	return accessKey[:8] + "..."
}

func canView(caller Caller, token *Token) bool {
	return caller.Elevated || (caller.ID != "" && caller.ID == token.OwnerID)
}

func (s *service) fireIssued(ctx context.Context, token *Token) {
	if err := s.eventSink.TokenIssued(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "token_issued", "token_id", token.ID, "err", err)
	}
}

func (s *service) fireTransitioned(ctx context.Context, token *Token, from TokenStatus) {
	if err := s.eventSink.TokenTransitioned(ctx, token, from); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "token_transitioned", "token_id", token.ID, "err", err)
	}
}
