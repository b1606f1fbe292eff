package cleanup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/metrics"
	"github.com/perdedora/safe/pkg/store"
)

// test hook
var nowUnix = func() int64 { return time.Now().Unix() }

// Sweeper periodically deletes expired uploads. At most one sweep runs
// at a time; a tick that fires while a sweep is still in progress is
// skipped.
type Sweeper struct {
	store      store.DeletionStore
	deleter    *Deleter
	interval   time.Duration
	stats      *metrics.Metrics
	inProgress atomic.Bool
}

// NewSweeper creates a Sweeper ticking at interval.
func NewSweeper(s store.DeletionStore, d *Deleter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: s, deleter: d, interval: interval}
}

// WithMetrics attaches the pipeline collectors.
func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.stats = m
	return s
}

// Run ticks until ctx is cancelled. Errors are logged and do not stop
// the ticker.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("retention sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.ErrorCtx(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes everything past its expiry once. Returns the number of
// rows handed to the deleter; 0 with nil error when another sweep was
// already running or nothing was expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		logger.Debug("retention sweep already in progress, skipping tick")
		return 0, nil
	}
	defer s.inProgress.Store(false)

	expired, err := s.store.ListExpired(ctx, nowUnix())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	values := make([]any, len(expired))
	for i, f := range expired {
		values[i] = f.ID
	}

	// nil actor = privileged internal caller, no owner scoping.
	failed, err := s.deleter.DeleteByField(ctx, "id", values, nil)
	if err != nil {
		return 0, err
	}

	s.stats.RecordSweep(len(expired) - len(failed))
	logger.InfoCtx(ctx, "retention sweep finished",
		"count", len(expired)-len(failed), "failed", len(failed))
	return len(expired), nil
}
