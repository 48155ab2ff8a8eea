package batch

import (
	"context"

	"github.com/rs/zerolog/log"
)

// watchdog periodically checks for a wedged batch: files still queued,
// nothing active, no dispatch round in flight. Lost wakeups are possible
// when a retry timer fires during a pause; the watchdog re-kicks the
// scheduler so the queue always drains.
type watchdog struct {
	store *Store
	clock Clock
	sched *scheduler
}

func newWatchdog(store *Store, clock Clock, sched *scheduler) *watchdog {
	return &watchdog{store: store, clock: clock, sched: sched}
}

// Run ticks until ctx is cancelled.
func (w *watchdog) Run(ctx context.Context) {
	t := w.clock.NewTicker(WatchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			w.check()
		}
	}
}

func (w *watchdog) check() {
	if w.sched.Processing() {
		return
	}
	snap := w.store.Snapshot()
	if snap.Status != BatchUploading {
		return
	}
	if len(snap.Queued()) == 0 || snap.ActiveCount() > 0 {
		return
	}
	log.Warn().
		Int("queued", len(snap.Queued())).
		Msg("Upload queue stalled with free slots, restarting dispatch")
	w.sched.Kick()
}
