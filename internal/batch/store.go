package batch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Action is a discrete intent applied to the batch state. Every mutation of
// batch or per-file state goes through Store.Apply; nothing else writes.
type Action interface {
	isAction()
}

// --- Intake actions ---

type fileAdded struct{ file FileUpload }

type hashStarted struct{ id string }

// hashFinished reports a computed content hash, or hash="" when hashing
// failed (non-fatal: the file proceeds unhashed, undedupable).
type hashFinished struct {
	id   string
	hash string
}

type markedDuplicate struct{ id string }

type fileRemoved struct{ id string }

type captionSet struct {
	id      string // empty: apply to every file
	caption string
}

// --- Pipeline actions ---

type dispatchStarted struct{ id string }

type conversionStarted struct{ id string }

// previewReplaced records new local bytes (conversion/compression output).
type previewReplaced struct {
	id       string
	path     string
	tempPath string // owned temp file to revoke later; may equal path
}

type serverConvertFlagged struct{ id string }

type uploadStarted struct{ id string }

type progressed struct {
	id      string
	percent int
}

type uploaded struct {
	id           string
	mediaURL     string
	thumbnailURL string
	videoID      string
	transcode    string
}

type draftSaved struct {
	id      string
	draftID string
}

// failed marks a file errored with a message. Used for terminal failures
// only; transfer failures go through transferFailed so a retryable file is
// never observed in a terminal state.
type failed struct {
	id  string
	msg string
}

// transferFailed records a failed transfer attempt in one step: the file
// moves straight to retrying while attempts remain, or to error once the
// budget is spent. Splitting this into failed-then-retry would let the
// batch complete, and a concurrency slot free up, between the two.
type transferFailed struct {
	id  string
	msg string
}

// requeued returns a retrying file to the queue once its backoff elapses.
type requeued struct{ id string }

// retryRequested is a user-initiated retry of an errored file; it resets
// the attempt counter and re-queues immediately.
type retryRequested struct{ id string }

// --- Batch actions ---

type batchStarted struct{}
type batchPaused struct{}
type batchResumed struct{}

func (fileAdded) isAction()            {}
func (hashStarted) isAction()          {}
func (hashFinished) isAction()         {}
func (markedDuplicate) isAction()      {}
func (fileRemoved) isAction()          {}
func (captionSet) isAction()           {}
func (dispatchStarted) isAction()      {}
func (conversionStarted) isAction()    {}
func (previewReplaced) isAction()      {}
func (serverConvertFlagged) isAction() {}
func (uploadStarted) isAction()        {}
func (progressed) isAction()           {}
func (uploaded) isAction()             {}
func (draftSaved) isAction()           {}
func (failed) isAction()               {}
func (transferFailed) isAction()       {}
func (requeued) isAction()             {}
func (retryRequested) isAction()       {}
func (batchStarted) isAction()         {}
func (batchPaused) isAction()          {}
func (batchResumed) isAction()         {}

// Store is the single source of truth for batch and per-file state. All
// mutation happens inside Apply under one mutex, through the pure reducer;
// readers get deep-copied snapshots. Components never hold references into
// the live state, which keeps async callbacks from acting on stale data.
type Store struct {
	mu      sync.Mutex
	batchID string
	eventID string
	userID  string
	limit   int
	status  BatchStatus
	files   map[string]*FileUpload
	order   []string

	// changed is closed and replaced on every applied action, waking
	// anything blocked in Wait.
	changed chan struct{}
}

// NewStore creates the state store for one batch.
func NewStore(eventID, userID string, concurrency int) *Store {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Store{
		batchID: uuid.NewString(),
		eventID: eventID,
		userID:  userID,
		limit:   concurrency,
		status:  BatchIdle,
		files:   make(map[string]*FileUpload),
		changed: make(chan struct{}),
	}
}

// Apply runs one action through the reducer. Actions whose preconditions
// don't hold are no-ops; Apply reports whether state changed.
func (s *Store) Apply(a Action) bool {
	s.mu.Lock()
	mutated := s.reduce(a)
	if mutated {
		s.refreshBatchStatus()
		close(s.changed)
		s.changed = make(chan struct{})
	}
	s.mu.Unlock()
	return mutated
}

// Changed returns a channel closed the next time any action mutates state.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	ch := s.changed
	s.mu.Unlock()
	return ch
}

// Snapshot returns a deep copy of the current batch state, files in
// insertion order.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		BatchID:     s.batchID,
		EventID:     s.eventID,
		UserID:      s.userID,
		Concurrency: s.limit,
		Status:      s.status,
		Files:       make([]FileUpload, 0, len(s.order)),
	}
	for _, id := range s.order {
		if f, ok := s.files[id]; ok {
			cp := *f
			cp.TempPaths = append([]string(nil), f.TempPaths...)
			snap.Files = append(snap.Files, cp)
		}
	}
	return snap
}

// Reset discards all per-file state and issues a fresh batch ID. It returns
// the temp paths of every discarded file so the caller can revoke them.
func (s *Store) Reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var temps []string
	for _, f := range s.files {
		temps = append(temps, f.TempPaths...)
	}
	s.batchID = uuid.NewString()
	s.files = make(map[string]*FileUpload)
	s.order = nil
	s.status = BatchIdle
	close(s.changed)
	s.changed = make(chan struct{})
	return temps
}

// --- Reducer ---

// reduce applies one action to the state. Caller holds the mutex. Returns
// false when the action's precondition doesn't hold.
func (s *Store) reduce(a Action) bool {
	switch act := a.(type) {
	case fileAdded:
		if _, exists := s.files[act.file.ID]; exists {
			return false
		}
		f := act.file
		f.Status = StatusQueued
		s.files[f.ID] = &f
		s.order = append(s.order, f.ID)
		return true

	case hashStarted:
		return s.move(act.id, StatusHashing, func(f *FileUpload) {})

	case hashFinished:
		return s.move(act.id, StatusQueued, func(f *FileUpload) {
			f.ContentHash = act.hash
			f.HashDone = true
		})

	case markedDuplicate:
		return s.move(act.id, StatusSkipped, func(f *FileUpload) {})

	case fileRemoved:
		f, ok := s.files[act.id]
		// In-flight transfers keep their state; removal waits for them.
		if !ok || isActive(f.Status) {
			return false
		}
		delete(s.files, act.id)
		for i, id := range s.order {
			if id == f.ID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return true

	case captionSet:
		if act.id == "" {
			for _, f := range s.files {
				f.Caption = act.caption
			}
			return len(s.files) > 0
		}
		f, ok := s.files[act.id]
		if !ok {
			return false
		}
		f.Caption = act.caption
		return true

	case dispatchStarted:
		return s.move(act.id, StatusValidating, func(f *FileUpload) {
			f.Err = ""
		})

	case conversionStarted:
		return s.move(act.id, StatusConverting, func(f *FileUpload) {})

	case previewReplaced:
		f, ok := s.files[act.id]
		if !ok {
			return false
		}
		f.PreviewPath = act.path
		if act.tempPath != "" {
			f.TempPaths = append(f.TempPaths, act.tempPath)
		}
		return true

	case serverConvertFlagged:
		f, ok := s.files[act.id]
		if !ok {
			return false
		}
		f.ServerConvert = true
		return true

	case uploadStarted:
		return s.move(act.id, StatusUploading, func(f *FileUpload) {
			f.ProgressPercent = 0
		})

	case progressed:
		f, ok := s.files[act.id]
		if !ok || f.Status != StatusUploading {
			return false
		}
		// Monotonic within one transfer attempt.
		if act.percent <= f.ProgressPercent {
			return false
		}
		f.ProgressPercent = clampPercent(act.percent)
		return true

	case uploaded:
		return s.move(act.id, StatusSaving, func(f *FileUpload) {
			f.ProgressPercent = 100
			f.RemoteMediaURL = act.mediaURL
			f.RemoteThumbnailURL = act.thumbnailURL
			f.RemoteVideoID = act.videoID
			f.TranscodeStatus = act.transcode
		})

	case draftSaved:
		return s.move(act.id, StatusComplete, func(f *FileUpload) {
			f.DraftID = act.draftID
		})

	case failed:
		f, ok := s.files[act.id]
		if !ok || !canTransition(f.Status, StatusError) {
			return false
		}
		f.Status = StatusError
		f.Err = act.msg
		return true

	case transferFailed:
		f, ok := s.files[act.id]
		if !ok {
			return false
		}
		if f.RetryCount < MaxRetries && canTransition(f.Status, StatusRetrying) {
			f.Status = StatusRetrying
			f.RetryCount++
			f.Err = act.msg
			return true
		}
		if !canTransition(f.Status, StatusError) {
			return false
		}
		f.Status = StatusError
		f.Err = act.msg
		return true

	case requeued:
		return s.move(act.id, StatusQueued, func(f *FileUpload) {
			f.Err = ""
			f.ProgressPercent = 0
		})

	case retryRequested:
		f, ok := s.files[act.id]
		if !ok || !canRetry(f.Status) {
			return false
		}
		f.Status = StatusQueued
		f.Err = ""
		f.ProgressPercent = 0
		f.RetryCount = 0
		// A manual retry reopens a finished batch so the scheduler will
		// dispatch the re-queued file.
		if s.status == BatchComplete {
			s.status = BatchUploading
		}
		return true

	case batchStarted:
		if s.status != BatchIdle && s.status != BatchComplete {
			return false
		}
		s.status = BatchUploading
		return true

	case batchPaused:
		if s.status != BatchUploading {
			return false
		}
		s.status = BatchPaused
		return true

	case batchResumed:
		if s.status != BatchPaused {
			return false
		}
		s.status = BatchUploading
		return true

	default:
		log.Warn().Msgf("Unknown action %T ignored", a)
		return false
	}
}

// move transitions a file if the edge is legal, applying mutate on success.
func (s *Store) move(id string, to FileStatus, mutate func(*FileUpload)) bool {
	f, ok := s.files[id]
	if !ok || !canTransition(f.Status, to) {
		return false
	}
	f.Status = to
	mutate(f)
	return true
}

// refreshBatchStatus derives the aggregate status after each action: the
// batch completes once every file is terminal and at least one file exists.
// Caller holds the mutex.
func (s *Store) refreshBatchStatus() {
	if s.status != BatchUploading {
		return
	}
	if len(s.files) == 0 {
		return
	}
	for _, f := range s.files {
		if !isTerminal(f.Status) {
			return
		}
	}
	s.status = BatchComplete
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
