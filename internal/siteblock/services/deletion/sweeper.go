package deletion

import (
	"context"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// DefaultSweepInterval is the longest a due removal waits for the sweep.
const DefaultSweepInterval = 10 * time.Second

// Sweeper finalizes elapsed countdowns: once at start, then on a bounded
// cadence while countdowns exist. With none pending it sleeps until the
// store reports a change to the pending set.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	onSweep  func(removed []string)
}

// NewSweeper returns a Sweeper for svc. Intervals outside (0, 10s] use the
// default.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 || interval > DefaultSweepInterval {
		interval = DefaultSweepInterval
	}
	return &Sweeper{svc: svc, interval: interval}
}

// OnSweep registers fn to receive the identifiers removed by each sweep.
func (w *Sweeper) OnSweep(fn func(removed []string)) { w.onSweep = fn }

// Run sweeps until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	changes := w.svc.store.Watch(ctx, domain.KeyPendingDeletions)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		case <-timer.C:
		}

		pending := w.sweep()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if pending {
			timer.Reset(w.interval)
		}
	}
}

// sweep finalizes what is due and reports whether countdowns remain.
func (w *Sweeper) sweep() bool {
	removed, err := w.svc.SweepExpired()
	if err != nil {
		w.svc.logger.Error(map[string]any{"error": err}, "pending removal sweep failed")
		return true
	}
	if len(removed) > 0 && w.onSweep != nil {
		w.onSweep(removed)
	}
	pending, err := w.svc.store.Pending()
	if err != nil {
		w.svc.logger.Error(map[string]any{"error": err}, "reading pending removals failed")
		return true
	}
	return len(pending) > 0
}
