package verify

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically purges expired sessions. Expiry is already enforced on
// every Link/Verify; the reaper only bounds memory held by abandoned sessions.
type Reaper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewReaper constructs a Reaper. interval <= 0 falls back to 30s.
func NewReaper(store Store, interval time.Duration, log *slog.Logger, metrics *Metrics) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		store:    store,
		interval: interval,
		log:      log,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("verify.reaper.start", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("verify.reaper.stop")
			return nil
		case <-t.C:
			r.SweepOnce(r.now())
		}
	}
}

// SweepOnce runs a single pass with now as the snapshot time.
func (r *Reaper) SweepOnce(now time.Time) int {
	n := r.store.Sweep(now)
	r.metrics.sweep(n)
	if n > 0 {
		r.log.Debug("verify.reaper.swept", "removed", n, "remaining", r.store.Len())
	}
	return n
}
