// Package mediafile implements the validation and normalization policy for
// event gallery uploads: which photo and video formats are accepted, which
// need conversion before transfer, when large images are recompressed, and
// how preview thumbnails are produced.
package mediafile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind distinguishes the two media families the gallery accepts.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Size caps enforced before any bytes are transferred.
const (
	MaxPhotoSize int64 = 15 * 1024 * 1024 // 15 MB
	MaxVideoSize int64 = 50 * 1024 * 1024 // 50 MB
)

// SupportedPhotoExtensions defines the photo extensions accepted for upload.
// HEIC/HEIF are accepted but require conversion (see Plan).
var SupportedPhotoExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// SupportedVideoExtensions defines the video extensions accepted for upload.
// AVI is accepted but requires conversion to MP4 (see Plan).
var SupportedVideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
}

// File describes one local media file selected for upload.
type File struct {
	Path     string
	Name     string
	MIMEType string
	Size     int64
	Kind     Kind
}

// Load stats the file at path and resolves its media kind and MIME type.
// It does not read the file contents.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	mimeType, kind, err := Classify(ext)
	if err != nil {
		return nil, err
	}

	f := &File{
		Path:     path,
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Size:     info.Size(),
		Kind:     kind,
	}

	log.Debug().
		Str("path", path).
		Str("mime_type", mimeType).
		Str("kind", string(kind)).
		Int64("size_bytes", info.Size()).
		Msg("Media file loaded")

	return f, nil
}

// Classify resolves a file extension to its MIME type and media kind.
func Classify(ext string) (string, Kind, error) {
	ext = strings.ToLower(ext)
	if mimeType, ok := SupportedPhotoExtensions[ext]; ok {
		return mimeType, KindPhoto, nil
	}
	if mimeType, ok := SupportedVideoExtensions[ext]; ok {
		return mimeType, KindVideo, nil
	}
	return "", "", fmt.Errorf("unsupported file extension: %s", ext)
}

// Validate checks the file against the upload policy: supported extension
// and size below the per-kind cap. A validation failure is final for the
// file; it is never retried.
func Validate(f *File) error {
	ext := strings.ToLower(filepath.Ext(f.Path))
	if !IsSupported(ext) {
		return fmt.Errorf("unsupported file extension: %s", ext)
	}
	switch f.Kind {
	case KindPhoto:
		if f.Size > MaxPhotoSize {
			return fmt.Errorf("photo too large: %d bytes (max %d)", f.Size, MaxPhotoSize)
		}
	case KindVideo:
		if f.Size > MaxVideoSize {
			return fmt.Errorf("video too large: %d bytes (max %d)", f.Size, MaxVideoSize)
		}
	default:
		return fmt.Errorf("unknown media kind: %q", f.Kind)
	}
	if f.Size <= 0 {
		return fmt.Errorf("empty file: %s", f.Name)
	}
	return nil
}

// IsPhoto returns true if the extension corresponds to a photo format.
func IsPhoto(ext string) bool {
	_, ok := SupportedPhotoExtensions[strings.ToLower(ext)]
	return ok
}

// IsVideo returns true if the extension corresponds to a video format.
func IsVideo(ext string) bool {
	_, ok := SupportedVideoExtensions[strings.ToLower(ext)]
	return ok
}

// IsSupported returns true if the extension is an accepted photo or video format.
func IsSupported(ext string) bool {
	return IsPhoto(ext) || IsVideo(ext)
}
