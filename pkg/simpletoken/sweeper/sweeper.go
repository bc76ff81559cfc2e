// Package sweeper runs the expiration sweep on a fixed interval.
//
// Every replica may run its own sweeper: the store's conditional update
// guarantees each token is expired at most once.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Minute

// Expirer reclaims tokens whose deadline is at or before now.
type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Observer is notified after every sweep.
type Observer interface {
	ObserveSweep(duration time.Duration, err error)
}

// Result describes one sweep.
type Result struct {
	Reclaimed int64
	Duration  time.Duration
	Err       error
}

// Sweeper periodically expires tokens nobody acted on.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu sync.Mutex // serializes SweepOnce
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithObserver reports sweep durations and failures to o.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) {
		s.observer = o
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// New creates a sweeper that calls expirer every interval.
func New(expirer Expirer, interval time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the configured sweep period.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started", "interval", s.interval.String())
	defer s.logger.Info("Sweeper stopped")

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep. Failures are logged and returned in the result;
// the next tick tries again.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	count, err := s.expirer.SweepExpired(ctx, s.now())
	res := Result{Reclaimed: count, Duration: time.Since(start), Err: err}

	if s.observer != nil {
		s.observer.ObserveSweep(res.Duration, err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Sweep failed", "err", err)
		return res
	}
	if count > 0 {
		s.logger.InfoContext(ctx, "Sweep completed", "reclaimed", count, "duration", res.Duration.String())
	} else {
		s.logger.DebugContext(ctx, "Sweep completed", "reclaimed", 0)
	}
	return res
}
