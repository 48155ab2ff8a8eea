package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/gatherly/event-media-uploader/internal/blobstore"
	"github.com/gatherly/event-media-uploader/internal/mediaapi"
	"github.com/gatherly/event-media-uploader/internal/mediafile"
	"github.com/gatherly/event-media-uploader/internal/recordstore"
)

// StreamService is the slice of the streaming API the video path needs.
// *mediaapi.Client satisfies it.
type StreamService interface {
	CreateUploadSession(ctx context.Context, filename string, sizeBytes int64) (*mediaapi.UploadSession, error)
	UploadChunks(ctx context.Context, session *mediaapi.UploadSession, r io.ReaderAt, size int64, progress func(fraction float64)) error
	TranscodeStatus(ctx context.Context, videoID string) (string, error)
}

// ImageConverter converts an already uploaded image on the backend. Used
// when the local machine can't convert a proprietary format itself.
type ImageConverter interface {
	ConvertImage(ctx context.Context, storedURL string) (string, error)
}

// pipeline runs one file from validation through draft save. Failures
// during transfer are retried with exponential backoff; failures in
// validation, conversion, and draft save are terminal.
type pipeline struct {
	store     *Store
	blob      blobstore.Uploader
	stream    StreamService
	converter ImageConverter
	records   recordstore.RecordStore
	clock     Clock
	notify    func() // wakes the scheduler when a slot frees up
}

// Run drives the file with the given ID through every remaining stage.
// The caller has already moved it to validating.
func (p *pipeline) Run(ctx context.Context, id string) {
	defer p.notify()

	snap := p.store.Snapshot()
	f := snap.File(id)
	if f == nil {
		return
	}
	logger := log.With().Str("file_id", id).Str("name", f.Name).Logger()

	media, err := mediafile.Load(f.PreviewPath)
	if err != nil {
		p.failTerminal(id, fmt.Errorf("reading file: %w", err))
		return
	}
	if err := mediafile.Validate(media); err != nil {
		logger.Warn().Err(err).Msg("File rejected")
		p.failTerminal(id, err)
		return
	}

	media, err = p.normalize(id, media)
	if err != nil {
		logger.Error().Err(err).Msg("Format conversion failed")
		p.failTerminal(id, err)
		return
	}

	if !p.store.Apply(uploadStarted{id: id}) {
		return
	}

	var result transferResult
	if media.Kind == mediafile.KindVideo {
		result, err = p.transferVideo(ctx, id, snap.EventID, media)
	} else {
		result, err = p.transferPhoto(ctx, id, snap.EventID, media)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Transfer failed")
		p.failRetryable(id, err)
		return
	}

	if !p.store.Apply(uploaded{
		id:           id,
		mediaURL:     result.mediaURL,
		thumbnailURL: result.thumbnailURL,
		videoID:      result.videoID,
		transcode:    result.transcode,
	}) {
		return
	}

	draftID, err := p.saveDraft(ctx, id, result)
	if err != nil {
		// The bytes are uploaded but unrecorded. Retrying would upload a
		// second copy, so surface the error instead.
		logger.Error().Err(err).
			Str("media_url", result.mediaURL).
			Msg("Draft save failed, uploaded media is orphaned")
		p.failTerminal(id, fmt.Errorf("saving draft: %w", err))
		return
	}
	p.store.Apply(draftSaved{id: id, draftID: draftID})
	logger.Info().Str("draft_id", draftID).Msg("File uploaded")
}

type transferResult struct {
	mediaURL     string
	thumbnailURL string
	videoID      string
	transcode    string
}

// normalize converts proprietary formats and recompresses oversized
// photos, updating the file's local preview as bytes change.
func (p *pipeline) normalize(id string, media *mediafile.File) (*mediafile.File, error) {
	switch mediafile.Plan(media) {
	case mediafile.PlanClientConvert:
		if !p.store.Apply(conversionStarted{id: id}) {
			return media, nil
		}
		converted, err := mediafile.Convert(media)
		if err != nil {
			return nil, err
		}
		p.store.Apply(previewReplaced{id: id, path: converted.Path, tempPath: converted.Path})
		media = converted
	case mediafile.PlanServerConvert:
		p.store.Apply(serverConvertFlagged{id: id})
	}

	if mediafile.NeedsCompression(media) {
		p.store.Apply(conversionStarted{id: id})
		compressed, err := mediafile.Compress(media)
		if err != nil {
			// Compression is an optimization; ship the original.
			log.Warn().Err(err).Str("file_id", id).Msg("Compression failed, uploading original")
			return media, nil
		}
		if compressed.Path != media.Path {
			p.store.Apply(previewReplaced{id: id, path: compressed.Path, tempPath: compressed.Path})
			media = compressed
		}
	}
	return media, nil
}

// transferPhoto uploads a photo's bytes and thumbnail to the blob store,
// then asks the backend to convert formats the client couldn't.
func (p *pipeline) transferPhoto(ctx context.Context, id, eventID string, media *mediafile.File) (transferResult, error) {
	key := blobstore.MediaKey(eventID, media.Name)
	src, err := os.Open(media.Path)
	if err != nil {
		return transferResult{}, fmt.Errorf("opening %s: %w", media.Name, err)
	}
	defer src.Close()

	url, err := p.blob.Upload(ctx, key, media.MIMEType, src, media.Size, p.progressFunc(id))
	if err != nil {
		return transferResult{}, fmt.Errorf("uploading %s: %w", media.Name, err)
	}

	snap := p.store.Snapshot()
	if f := snap.File(id); f != nil && f.ServerConvert {
		if p.converter == nil {
			return transferResult{}, fmt.Errorf("%s needs backend conversion but no conversion service is configured", media.Name)
		}
		url, err = p.converter.ConvertImage(ctx, url)
		if err != nil {
			return transferResult{}, fmt.Errorf("backend conversion of %s: %w", media.Name, err)
		}
	}

	return transferResult{
		mediaURL:     url,
		thumbnailURL: p.uploadThumbnail(ctx, eventID, key, media),
	}, nil
}

// transferVideo streams a video to the streaming service in chunks. When
// the service refuses a session the video goes to the blob store whole.
func (p *pipeline) transferVideo(ctx context.Context, id, eventID string, media *mediafile.File) (transferResult, error) {
	if p.stream == nil {
		return p.transferVideoFallback(ctx, id, eventID, media)
	}
	session, err := p.stream.CreateUploadSession(ctx, media.Name, media.Size)
	if err != nil {
		log.Warn().Err(err).Str("name", media.Name).
			Msg("Streaming service unavailable, falling back to direct upload")
		return p.transferVideoFallback(ctx, id, eventID, media)
	}

	src, err := os.Open(media.Path)
	if err != nil {
		return transferResult{}, fmt.Errorf("opening %s: %w", media.Name, err)
	}
	defer src.Close()

	if err := p.stream.UploadChunks(ctx, session, src, media.Size, p.progressFunc(id)); err != nil {
		return transferResult{}, fmt.Errorf("streaming %s: %w", media.Name, err)
	}

	status, err := p.stream.TranscodeStatus(ctx, session.VideoID)
	if err != nil {
		// The upload itself succeeded; transcoding is tracked elsewhere.
		log.Warn().Err(err).Str("video_id", session.VideoID).Msg("Could not read transcode status")
		status = ""
	}

	return transferResult{
		videoID:      session.VideoID,
		transcode:    status,
		thumbnailURL: p.uploadThumbnail(ctx, eventID, blobstore.MediaKey(eventID, media.Name), media),
	}, nil
}

func (p *pipeline) transferVideoFallback(ctx context.Context, id, eventID string, media *mediafile.File) (transferResult, error) {
	key := blobstore.MediaKey(eventID, media.Name)
	src, err := os.Open(media.Path)
	if err != nil {
		return transferResult{}, fmt.Errorf("opening %s: %w", media.Name, err)
	}
	defer src.Close()

	url, err := p.blob.Upload(ctx, key, media.MIMEType, src, media.Size, p.progressFunc(id))
	if err != nil {
		return transferResult{}, fmt.Errorf("uploading %s: %w", media.Name, err)
	}
	return transferResult{
		mediaURL:     url,
		thumbnailURL: p.uploadThumbnail(ctx, eventID, key, media),
	}, nil
}

// uploadThumbnail generates and stores a thumbnail. Thumbnail failures
// never fail the upload; the gallery renders a placeholder instead.
func (p *pipeline) uploadThumbnail(ctx context.Context, eventID, mediaKey string, media *mediafile.File) string {
	data, contentType, err := mediafile.GenerateThumbnail(media, mediafile.DefaultThumbnailMaxDimension)
	if err != nil {
		log.Warn().Err(err).Str("name", media.Name).Msg("Thumbnail generation failed")
		return ""
	}
	if len(data) == 0 {
		return ""
	}
	key := blobstore.ThumbnailKey(eventID, mediaKey)
	url, err := p.blob.Upload(ctx, key, contentType, bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		log.Warn().Err(err).Str("name", media.Name).Msg("Thumbnail upload failed")
		return ""
	}
	return url
}

// saveDraft persists the uploaded file as a draft record, attaching any
// capture metadata found in the photo's EXIF block.
func (p *pipeline) saveDraft(ctx context.Context, id string, result transferResult) (string, error) {
	snap := p.store.Snapshot()
	f := snap.File(id)
	if f == nil {
		return "", fmt.Errorf("file %s no longer in batch", id)
	}

	draft := &recordstore.Draft{
		EventID:       snap.EventID,
		AuthorID:      snap.UserID,
		MediaURL:      result.mediaURL,
		MediaKind:     string(f.Kind),
		ThumbnailURL:  result.thumbnailURL,
		Caption:       f.Caption,
		RemoteVideoID: result.videoID,
		ContentHash:   f.ContentHash,
	}

	if f.Kind == KindPhoto {
		if meta, err := mediafile.ExtractCaptureMetadata(f.PreviewPath); err == nil && meta != nil {
			if meta.HasDate {
				taken := meta.TakenAt
				draft.TakenAt = &taken
			}
			if meta.HasGPS {
				draft.Latitude = meta.Latitude
				draft.Longitude = meta.Longitude
			}
		}
	}

	return p.records.CreateDraft(ctx, draft)
}

// failTerminal marks a file errored with no automatic retry.
func (p *pipeline) failTerminal(id string, err error) {
	p.store.Apply(failed{id: id, msg: err.Error()})
}

// failRetryable records a transfer failure as one action. While attempts
// remain the file lands in retrying, still holding its slot, and a backoff
// timer returns it to the queue; once the budget is spent it errors.
func (p *pipeline) failRetryable(id string, err error) {
	if !p.store.Apply(transferFailed{id: id, msg: err.Error()}) {
		return
	}
	f := p.store.Snapshot().File(id)
	if f == nil {
		return
	}
	if f.Status != StatusRetrying {
		log.Error().Str("file_id", id).Msg("Retries exhausted")
		return
	}
	delay := retryBaseDelay << (f.RetryCount - 1)
	log.Info().Str("file_id", id).Int("attempt", f.RetryCount).Dur("delay", delay).
		Msg("Retry scheduled")
	p.clock.AfterFunc(delay, func() {
		if p.store.Apply(requeued{id: id}) {
			p.notify()
		}
	})
}

// progressFunc reports transfer progress for a file as whole percentages.
func (p *pipeline) progressFunc(id string) func(fraction float64) {
	return func(fraction float64) {
		p.store.Apply(progressed{id: id, percent: int(fraction * 100)})
	}
}
