package debounce

import (
	"context"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// Reaper periodically sweeps stale locks so recovery does not have to wait for
// the next inbound message. Submit still sweeps on every call.
type Reaper struct {
	locks    LockStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.DebounceMetrics
	logger   *logging.Logger
}

func NewReaper(locks LockStore, ttl, interval time.Duration, m *metrics.DebounceMetrics, logger *logging.Logger) *Reaper {
	if locks == nil {
		panic("debounce: lock store required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reaper{locks: locks, ttl: ttl, interval: interval, now: time.Now, metrics: m, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("lock reaper started", "ttl", r.ttl.String(), "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lock reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reap pass and returns the number of locks removed.
func (r *Reaper) Sweep(ctx context.Context) int64 {
	reaped, err := r.locks.ReapStale(ctx, r.now().Add(-r.ttl))
	if err != nil {
		r.logger.Warn("lock reaper sweep failed", "error", err)
		return 0
	}
	if reaped > 0 {
		r.metrics.ObserveReaped(reaped)
		r.logger.Warn("reaped stale conversation locks", "count", reaped)
	}
	return reaped
}
