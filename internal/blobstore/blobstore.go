// Package blobstore moves media bytes to durable blob storage. The photo
// path always lands here; the video path falls back here when the
// streaming service cannot issue an upload session.
package blobstore

import (
	"context"
	"io"
)

// ProgressFunc receives the fraction of bytes confirmed so far, 0.0–1.0.
type ProgressFunc func(fraction float64)

// Uploader stores a blob under a destination key and returns its public URL.
type Uploader interface {
	// Upload streams size bytes from r to the given key. progress may be nil.
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64, progress ProgressFunc) (string, error)
}

// progressReader wraps a reader and reports the fraction read.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil || total <= 0 {
		return r
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.progress(float64(p.read) / float64(p.total))
	}
	return n, err
}
