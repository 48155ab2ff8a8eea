// Package batch orchestrates bulk media uploads for an event gallery: a
// fixed-concurrency scheduler drives each selected file through hashing,
// duplicate detection, format normalization, transfer, and a draft record
// save, keeping one authoritative map of per-file state the whole way.
package batch

import "time"

// FileStatus is the per-file state machine position.
type FileStatus string

const (
	StatusQueued     FileStatus = "queued"
	StatusHashing    FileStatus = "hashing"
	StatusValidating FileStatus = "validating"
	StatusConverting FileStatus = "converting"
	StatusUploading  FileStatus = "uploading"
	StatusSaving     FileStatus = "saving"
	StatusRetrying   FileStatus = "retrying"
	StatusComplete   FileStatus = "complete"
	StatusSkipped    FileStatus = "skipped"
	StatusError      FileStatus = "error"
)

// BatchStatus is the aggregate state of the whole batch.
type BatchStatus string

const (
	BatchIdle      BatchStatus = "idle"
	BatchUploading BatchStatus = "uploading"
	BatchPaused    BatchStatus = "paused"
	BatchComplete  BatchStatus = "complete"
)

const (
	// DefaultConcurrency is the number of files allowed in flight at once.
	DefaultConcurrency = 2

	// MaxRetries caps transfer retry attempts per file.
	MaxRetries = 3

	// StaggerDelay spaces out successive dispatches so a freed-up batch
	// doesn't burst the backend.
	StaggerDelay = 200 * time.Millisecond

	// WatchdogInterval is how often the stall watchdog checks progress
	// while the batch is uploading.
	WatchdogInterval = 2 * time.Second

	// retryBaseDelay is the first retry backoff; it doubles per attempt.
	retryBaseDelay = 1 * time.Second
)

// FileUpload is the authoritative state of one ingested file. Instances
// live inside the Store; snapshots returned to callers are copies.
type FileUpload struct {
	ID         string
	SourcePath string
	Name       string
	SizeBytes  int64
	Kind       MediaKind

	Status          FileStatus
	ProgressPercent int
	RetryCount      int
	Err             string

	// PreviewPath is a locally renderable handle to the current bytes.
	// It is replaced whenever conversion or compression rewrites the file.
	PreviewPath string

	// TempPaths are files this upload created locally (conversion and
	// compression outputs). Revoked on removal or batch reset.
	TempPaths []string

	RemoteMediaURL     string
	RemoteThumbnailURL string
	RemoteVideoID      string
	TranscodeStatus    string
	DraftID            string

	Caption     string
	ContentHash string

	// HashDone is set once intake has attempted to hash the file. Dispatch
	// holds off until then so duplicates never start transferring.
	HashDone bool

	// ServerConvert marks a file uploaded as-is whose format conversion is
	// deferred to the backend after transfer.
	ServerConvert bool
}

// MediaKind distinguishes photos from videos.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
)

// Snapshot is a consistent copy of the whole batch state.
type Snapshot struct {
	BatchID     string
	EventID     string
	UserID      string
	Concurrency int
	Status      BatchStatus
	Files       []FileUpload
}

// File returns the file with the given ID, or nil if absent.
func (s Snapshot) File(id string) *FileUpload {
	for i := range s.Files {
		if s.Files[i].ID == id {
			return &s.Files[i]
		}
	}
	return nil
}

// Queued returns the files currently awaiting dispatch.
func (s Snapshot) Queued() []FileUpload {
	var out []FileUpload
	for _, f := range s.Files {
		if f.Status == StatusQueued {
			out = append(out, f)
		}
	}
	return out
}

// ActiveCount returns the number of files holding a concurrency slot.
func (s Snapshot) ActiveCount() int {
	n := 0
	for _, f := range s.Files {
		if isActive(f.Status) {
			n++
		}
	}
	return n
}

// isActive reports whether a status holds a concurrency slot. Retrying
// files count: they are waiting out a backoff and will re-enter the queue.
func isActive(st FileStatus) bool {
	switch st {
	case StatusValidating, StatusConverting, StatusUploading, StatusSaving, StatusRetrying:
		return true
	}
	return false
}

// isTerminal reports whether a status is final for the file.
func isTerminal(st FileStatus) bool {
	return st == StatusComplete || st == StatusSkipped || st == StatusError
}
