// Package recordstore persists gallery media records in the backend
// record-store. Every successfully uploaded file becomes a draft record,
// stored but not visible to other users, until an explicit publish call
// promotes all of a batch's drafts at once.
//
// The package uses a single-table DynamoDB design where all records for an
// event share a partition key (EVENT#{eventId}) and media records use the
// sort key MEDIA#{draftId}. The content hash stored on each record backs
// the duplicate check that lets the uploader skip already-present files
// without transferring bytes.
package recordstore

import (
	"context"
	"time"
)

// Visibility states for a media record.
const (
	VisibilityDraft     = "draft"
	VisibilityPublished = "published"
)

// Draft is a media record awaiting publication. MediaURL is nullable for
// videos still transcoding on the streaming service; such records carry a
// RemoteVideoID instead.
type Draft struct {
	ID            string     `json:"id" dynamodbav:"-"`
	EventID       string     `json:"-" dynamodbav:"-"`
	AuthorID      string     `json:"authorId" dynamodbav:"authorId"`
	MediaURL      string     `json:"mediaUrl,omitempty" dynamodbav:"mediaUrl,omitempty"`
	MediaKind     string     `json:"mediaKind" dynamodbav:"mediaKind"`
	ThumbnailURL  string     `json:"thumbnailUrl,omitempty" dynamodbav:"thumbnailUrl,omitempty"`
	Caption       string     `json:"caption,omitempty" dynamodbav:"caption,omitempty"`
	RemoteVideoID string     `json:"remoteVideoId,omitempty" dynamodbav:"remoteVideoId,omitempty"`
	ContentHash   string     `json:"contentHash,omitempty" dynamodbav:"contentHash,omitempty"`
	Visibility    string     `json:"visibility" dynamodbav:"visibility"`
	TakenAt       *time.Time `json:"takenAt,omitempty" dynamodbav:"takenAt,omitempty"`
	Latitude      float64    `json:"latitude,omitempty" dynamodbav:"latitude,omitempty"`
	Longitude     float64    `json:"longitude,omitempty" dynamodbav:"longitude,omitempty"`
	CreatedAt     int64      `json:"createdAt" dynamodbav:"createdAt"`
}

// RecordStore defines the persistence interface for media records.
// Each method is safe for concurrent use.
type RecordStore interface {
	// CreateDraft stores a new draft record and returns its draft ID.
	CreateDraft(ctx context.Context, d *Draft) (string, error)

	// ExistingHashes returns, for an event, which of the given content
	// hashes already have a record (draft or published, any author).
	ExistingHashes(ctx context.Context, eventID string, hashes []string) (map[string]bool, error)

	// PublishDrafts promotes every draft for the event authored by
	// authorID to published visibility and returns the count promoted.
	// Idempotent: with nothing left in draft it returns 0, not an error.
	PublishDrafts(ctx context.Context, eventID, authorID string) (int, error)
}
