package blobstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// S3Store implements Uploader against an S3 bucket with public-read objects.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// Compile-time interface check.
var _ Uploader = (*S3Store)(nil)

// NewS3Store creates an S3-backed blob store for the given bucket.
// region is used to construct public object URLs.
func NewS3Store(client *s3.Client, bucket, region string) *S3Store {
	return &S3Store{client: client, bucket: bucket, region: region}
}

// MediaKey builds the destination key for an event media object:
// events/{eventID}/{uuid}{ext}. The random component keeps distinct
// uploads of same-named files from colliding.
func MediaKey(eventID, filename string) string {
	return fmt.Sprintf("events/%s/%s%s", eventID, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}

// ThumbnailKey builds the destination key for a preview thumbnail.
func ThumbnailKey(eventID, mediaKey string) string {
	base := strings.TrimSuffix(filepath.Base(mediaKey), filepath.Ext(mediaKey))
	return fmt.Sprintf("events/%s/thumbs/%s.webp", eventID, base)
}

// Upload streams the blob to S3 and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, r io.Reader, size int64, progress ProgressFunc) (string, error) {
	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Str("content_type", contentType).
		Int64("size", size).
		Msg("Uploading blob to S3")

	body := newProgressReader(r, size, progress)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          body,
		ContentType:   &contentType,
		ContentLength: &size,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	url := s.PublicURL(key)
	log.Info().Str("key", key).Str("url", url).Msg("Blob uploaded to S3")
	return url, nil
}

// PublicURL returns the virtual-hosted URL of an object in the media bucket.
func (s *S3Store) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
