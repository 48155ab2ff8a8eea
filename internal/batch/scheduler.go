package batch

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// scheduler fills free transfer slots from the queue. A single goroutine
// owns dispatch; the processing flag keeps the watchdog and kick sources
// from observing a half-finished dispatch round as a stall.
type scheduler struct {
	store    *Store
	clock    Clock
	dispatch func(ctx context.Context, id string)

	kick       chan struct{}
	processing atomic.Bool
}

func newScheduler(store *Store, clock Clock, dispatch func(ctx context.Context, id string)) *scheduler {
	return &scheduler{
		store:    store,
		clock:    clock,
		dispatch: dispatch,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a dispatch round. Coalesces: a round already pending
// absorbs further kicks.
func (s *scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Processing reports whether a dispatch round is underway. The watchdog
// consults this before concluding the batch has stalled.
func (s *scheduler) Processing() bool {
	return s.processing.Load()
}

// Run loops until ctx is cancelled, dispatching queued files whenever
// kicked.
func (s *scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.round(ctx)
		}
	}
}

// round launches pipelines for as many queued files as free slots allow,
// pausing StaggerDelay between consecutive launches so transfers don't
// slam the backend at the same instant.
func (s *scheduler) round(ctx context.Context) {
	s.processing.Store(true)
	defer s.processing.Store(false)

	launched := 0
	for {
		if ctx.Err() != nil {
			return
		}
		snap := s.store.Snapshot()
		if snap.Status != BatchUploading {
			return
		}
		free := snap.Concurrency - snap.ActiveCount()
		if free <= 0 {
			return
		}
		next := ""
		for _, f := range snap.Files {
			// Unhashed files wait for intake to finish with them.
			if f.Status == StatusQueued && f.HashDone {
				next = f.ID
				break
			}
		}
		if next == "" {
			return
		}
		if launched > 0 {
			s.clock.Sleep(StaggerDelay)
			// State may have moved during the stagger; re-check.
			if s.store.Snapshot().Status != BatchUploading {
				return
			}
		}
		if !s.store.Apply(dispatchStarted{id: next}) {
			// Raced with a removal or pause; take another look.
			continue
		}
		launched++
		log.Debug().Str("file_id", next).Msg("Dispatching file")
		id := next
		go s.dispatch(ctx, id)
	}
}
