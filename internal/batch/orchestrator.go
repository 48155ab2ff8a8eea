package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatherly/event-media-uploader/internal/blobstore"
	"github.com/gatherly/event-media-uploader/internal/contenthash"
	"github.com/gatherly/event-media-uploader/internal/mediafile"
	"github.com/gatherly/event-media-uploader/internal/metrics"
	"github.com/gatherly/event-media-uploader/internal/recordstore"
)

// Config wires an Orchestrator's collaborators.
type Config struct {
	EventID     string
	UserID      string
	Concurrency int

	Blob      blobstore.Uploader
	Stream    StreamService
	Converter ImageConverter
	Records   recordstore.RecordStore

	// Clock defaults to the wall clock when nil.
	Clock Clock
}

// Orchestrator runs one upload batch end to end: intake with duplicate
// detection, staggered bounded-concurrency transfer with retries, a stall
// watchdog, and the final publish of the batch's draft records.
type Orchestrator struct {
	store   *Store
	sched   *scheduler
	dog     *watchdog
	pipe    *pipeline
	records recordstore.RecordStore
	clock   Clock

	// intakeMu serializes duplicate decisions. Two concurrent AddFiles
	// calls with the same content would otherwise each see the other's
	// copy as the live one and skip both.
	intakeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

// New builds an orchestrator and starts its background scheduler and
// watchdog. Call Close when done with the batch.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.EventID == "" || cfg.UserID == "" {
		return nil, errors.New("event ID and user ID are required")
	}
	if cfg.Blob == nil || cfg.Records == nil {
		return nil, errors.New("blob store and record store are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewClock()
	}

	store := NewStore(cfg.EventID, cfg.UserID, cfg.Concurrency)
	o := &Orchestrator{
		store:   store,
		records: cfg.Records,
		clock:   clock,
	}
	o.pipe = &pipeline{
		store:     store,
		blob:      cfg.Blob,
		stream:    cfg.Stream,
		converter: cfg.Converter,
		records:   cfg.Records,
		clock:     clock,
		notify:    func() { o.sched.Kick() },
	}
	o.sched = newScheduler(store, clock, o.pipe.Run)
	o.dog = newWatchdog(store, clock, o.sched)

	o.ctx, o.cancel = context.WithCancel(context.Background())
	go o.sched.Run(o.ctx)
	go o.dog.Run(o.ctx)
	return o, nil
}

// Close stops the background scheduler and watchdog. In-flight transfers
// are abandoned.
func (o *Orchestrator) Close() {
	o.cancel()
}

// AddFiles registers local files with the batch and kicks off background
// hashing and duplicate detection for them. Paths that can't be used are
// reported in the joined error; the rest are added regardless.
func (o *Orchestrator) AddFiles(paths []string) ([]string, error) {
	var (
		ids  []string
		errs []error
	)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		ext := filepath.Ext(path)
		_, kind, err := mediafile.Classify(ext)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		f := FileUpload{
			ID:          uuid.NewString(),
			SourcePath:  path,
			PreviewPath: path,
			Name:        filepath.Base(path),
			SizeBytes:   info.Size(),
			Kind:        MediaKind(kind),
		}
		if o.store.Apply(fileAdded{file: f}) {
			ids = append(ids, f.ID)
		}
	}
	if len(ids) > 0 {
		go o.intake(ids)
	}
	return ids, errors.Join(errs...)
}

// intake hashes the newly added files and skips the ones whose content is
// already in the event gallery or earlier in this batch. Hash failures are
// tolerated: the file uploads without duplicate protection.
func (o *Orchestrator) intake(ids []string) {
	byHash := make(map[string]string) // hash -> file ID
	for _, id := range ids {
		if !o.store.Apply(hashStarted{id: id}) {
			continue
		}
		snap := o.store.Snapshot()
		f := snap.File(id)
		if f == nil {
			continue
		}
		hash, err := contenthash.SumFile(f.SourcePath)
		if err != nil {
			log.Warn().Err(err).Str("name", f.Name).Msg("Could not hash file")
			hash = ""
		}

		// Recording the hash and deciding duplicate status must be one
		// critical section, so exactly one of several identical files
		// stays live no matter how intakes interleave.
		o.intakeMu.Lock()
		o.store.Apply(hashFinished{id: id, hash: hash})
		if hash == "" {
			o.intakeMu.Unlock()
			continue
		}
		if o.hashInBatch(hash, id) {
			o.store.Apply(markedDuplicate{id: id})
			o.intakeMu.Unlock()
			log.Info().Str("name", f.Name).Msg("Duplicate within selection, skipping")
			continue
		}
		byHash[hash] = id
		o.intakeMu.Unlock()
	}

	if len(byHash) > 0 {
		hashes := make([]string, 0, len(byHash))
		for h := range byHash {
			hashes = append(hashes, h)
		}
		existing, err := o.records.ExistingHashes(o.ctx, o.store.Snapshot().EventID, hashes)
		if err != nil {
			// Worst case the gallery gets a duplicate; don't block intake.
			log.Warn().Err(err).Msg("Duplicate check against record store failed")
		} else {
			for h, id := range byHash {
				if existing[h] {
					o.store.Apply(markedDuplicate{id: id})
				}
			}
		}
	}
	o.sched.Kick()
}

// hashInBatch reports whether another file in the batch already carries
// this content hash.
func (o *Orchestrator) hashInBatch(hash, excludeID string) bool {
	snap := o.store.Snapshot()
	for _, f := range snap.Files {
		if f.ID != excludeID && f.ContentHash == hash && f.Status != StatusSkipped {
			return true
		}
	}
	return false
}

// RemoveFile drops a file from the batch and deletes any temp files it
// created. Files currently transferring can't be removed.
func (o *Orchestrator) RemoveFile(id string) bool {
	snap := o.store.Snapshot()
	f := snap.File(id)
	if f == nil {
		return false
	}
	temps := f.TempPaths
	if !o.store.Apply(fileRemoved{id: id}) {
		return false
	}
	removeAll(temps)
	return true
}

// SetCaption sets one file's caption.
func (o *Orchestrator) SetCaption(id, caption string) bool {
	return o.store.Apply(captionSet{id: id, caption: caption})
}

// SetBatchCaption applies the same caption to every file in the batch.
func (o *Orchestrator) SetBatchCaption(caption string) {
	o.store.Apply(captionSet{caption: caption})
}

// Start begins transferring the batch.
func (o *Orchestrator) Start() bool {
	if !o.store.Apply(batchStarted{}) {
		return false
	}
	o.startedAt = o.clock.Now()
	o.sched.Kick()
	return true
}

// Pause stops new dispatches. Transfers already in flight run to
// completion.
func (o *Orchestrator) Pause() bool {
	return o.store.Apply(batchPaused{})
}

// Resume continues a paused batch.
func (o *Orchestrator) Resume() bool {
	if !o.store.Apply(batchResumed{}) {
		return false
	}
	o.sched.Kick()
	return true
}

// RetryFile re-queues an errored file with a fresh retry budget.
func (o *Orchestrator) RetryFile(id string) bool {
	if !o.store.Apply(retryRequested{id: id}) {
		return false
	}
	o.sched.Kick()
	return true
}

// RetryAllFailed re-queues every errored file.
func (o *Orchestrator) RetryAllFailed() int {
	n := 0
	for _, f := range o.store.Snapshot().Files {
		if f.Status == StatusError && o.store.Apply(retryRequested{id: f.ID}) {
			n++
		}
	}
	if n > 0 {
		o.sched.Kick()
	}
	return n
}

// Reset clears the batch for a fresh selection, deleting temp files and
// issuing a new batch ID.
func (o *Orchestrator) Reset() {
	removeAll(o.store.Reset())
}

// Snapshot returns the current batch state.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.store.Snapshot()
}

// Updates returns a channel closed on the next state change. Take the
// channel before reading a Snapshot to avoid missing an update between
// the two calls.
func (o *Orchestrator) Updates() <-chan struct{} {
	return o.store.Changed()
}

// Wait blocks until every file reaches a terminal state or ctx is
// cancelled.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		ch := o.store.Changed()
		if o.store.Snapshot().Status == BatchComplete {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Publish promotes every draft this user holds for the event and returns
// the number promoted. Safe to call again; a second call returns 0.
func (o *Orchestrator) Publish(ctx context.Context) (int, error) {
	snap := o.store.Snapshot()
	return o.records.PublishDrafts(ctx, snap.EventID, snap.UserID)
}

// FlushMetrics emits one EMF document summarizing the batch.
func (o *Orchestrator) FlushMetrics() {
	snap := o.store.Snapshot()
	var uploaded, skipped, failed int
	var bytes int64
	for _, f := range snap.Files {
		switch f.Status {
		case StatusComplete:
			uploaded++
			bytes += f.SizeBytes
		case StatusSkipped:
			skipped++
		case StatusError:
			failed++
		}
	}
	rec := metrics.New().
		Dimension("EventID", snap.EventID).
		Property("batchId", snap.BatchID).
		Count("FilesUploaded", uploaded).
		Count("FilesSkipped", skipped).
		Count("FilesFailed", failed).
		Metric("BytesUploaded", float64(bytes), metrics.UnitBytes)
	if !o.startedAt.IsZero() {
		rec.Duration("BatchDuration", o.clock.Now().Sub(o.startedAt))
	}
	rec.Flush()
}

func removeAll(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Could not delete temp file")
		}
	}
}
