package goSession

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrEthical07/goSession/session"
)

// Cleaner runs one bounded expiration sweep. [Engine] implements it.
type Cleaner interface {
	CleanupExpiredSessions(ctx context.Context, limit int) (session.CleanupResult, error)
}

// Sweeper drives a [Cleaner] on a fixed interval. Each tick drains up to
// MaxBatchesPerTick batches of BatchSize markers and stops early once a
// batch comes back short. Batches failing with a backend error are retried
// with exponential backoff; other errors end the tick.
type Sweeper struct {
	cleaner Cleaner
	cfg     SweeperConfig
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a stopped [Sweeper]. Zero fields of cfg take the values
// of [DefaultConfig].
func NewSweeper(cleaner Cleaner, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	def := DefaultConfig().Sweeper
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBatchesPerTick <= 0 {
		cfg.MaxBatchesPerTick = def.MaxBatchesPerTick
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{cleaner: cleaner, cfg: cfg, logger: logger}
}

// RunOnce performs one tick and returns the accumulated result of the
// batches that succeeded.
func (s *Sweeper) RunOnce(ctx context.Context) (session.CleanupResult, error) {
	var total session.CleanupResult
	for i := 0; i < s.cfg.MaxBatchesPerTick; i++ {
		res, err := s.sweepBatch(ctx)
		if err != nil {
			return total, err
		}
		total.Candidates += res.Candidates
		total.StaleMarkers += res.StaleMarkers
		total.Expired += res.Expired
		if res.Candidates < s.cfg.BatchSize {
			break
		}
	}
	return total, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context) (session.CleanupResult, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.cfg.InitialBackoff
	expBackoff.MaxInterval = s.cfg.Interval
	expBackoff.Reset()

	operation := func() (session.CleanupResult, error) {
		res, err := s.cleaner.CleanupExpiredSessions(ctx, s.cfg.BatchSize)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, session.ErrBackendUnavailable) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.WarnContext(ctx, "session sweep failed, retrying",
				"error", err,
				"retry_in", d,
			)
		}),
	)
}

// Run sweeps every Interval until ctx is done. Failed ticks are logged and
// do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrEngineClosed) {
					return
				}
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
				continue
			}
			if res.Candidates > 0 {
				s.logger.InfoContext(ctx, "session sweep finished",
					"candidates", res.Candidates,
					"stale_markers", res.StaleMarkers,
					"expired", res.Expired,
				)
			}
		}
	}
}

// Start runs the sweeper in a background goroutine. Calling Start on a
// running sweeper does nothing.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels a running sweeper and waits for the current tick to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
