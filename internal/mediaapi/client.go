// Package mediaapi provides a client for the managed media backend: the
// streaming/transcoding service used for video uploads and the server-side
// image conversion endpoint used for formats uploaded as-is.
//
// Video upload is a two-step process:
//  1. Create an upload session (returns a resumable upload URL and video ID)
//  2. Transfer the bytes in chunks against that URL with progress callbacks
//
// The video becomes playable after an asynchronous server-side transcode;
// its status is reported separately and not awaited by the upload pipeline.
package mediaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout is the HTTP client timeout for control-plane calls.
	// Chunk transfers use a longer per-request timeout.
	defaultTimeout = 30 * time.Second

	// chunkSize is the resumable upload chunk size (5 MB).
	chunkSize int64 = 5 * 1024 * 1024

	// chunkRetries is the number of attempts per chunk before the whole
	// transfer is reported as failed.
	chunkRetries = 3
)

// Client talks to the media backend API.
type Client struct {
	httpClient  *http.Client
	chunkClient *http.Client
	baseURL     string
	token       string
}

// NewClient creates a media backend client. token is typically loaded from
// SSM Parameter Store at startup.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		chunkClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
	}
}

// --- API types ---

// UploadSession is a resumable video upload slot issued by the streaming service.
type UploadSession struct {
	UploadURL string `json:"uploadUrl"`
	VideoID   string `json:"videoId"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type sessionResponse struct {
	UploadSession
	Error *apiError `json:"error,omitempty"`
}

type statusResponse struct {
	VideoID string    `json:"videoId"`
	Status  string    `json:"status"` // pending, processing, ready, errored
	Error   *apiError `json:"error,omitempty"`
}

type convertResponse struct {
	URL   string    `json:"url"`
	Error *apiError `json:"error,omitempty"`
}

// --- Video upload session ---

// CreateUploadSession requests a resumable upload slot from the streaming
// service. A failure here is the signal for the caller to fall back to a
// direct blob-storage upload within the same attempt.
func (c *Client) CreateUploadSession(ctx context.Context, filename string, sizeBytes int64) (*UploadSession, error) {
	reqBody := map[string]interface{}{
		"filename":  filename,
		"sizeBytes": sizeBytes,
	}

	var resp sessionResponse
	if err := c.postJSON(ctx, "/v1/videos/upload-sessions", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}
	if resp.UploadURL == "" || resp.VideoID == "" {
		return nil, fmt.Errorf("create upload session: incomplete response (videoId=%q)", resp.VideoID)
	}

	log.Info().Str("videoId", resp.VideoID).Str("filename", filename).Msg("Upload session created")
	return &resp.UploadSession, nil
}

// UploadChunks transfers size bytes from r against the session's upload URL
// in 5 MB chunks. Each chunk carries a Content-Range header and is retried
// up to chunkRetries times; progress receives the fraction of bytes the
// server has confirmed.
//
// r must be an io.ReaderAt so failed chunks can be re-read.
func (c *Client) UploadChunks(ctx context.Context, session *UploadSession, r io.ReaderAt, size int64, progress func(fraction float64)) error {
	if size <= 0 {
		return fmt.Errorf("upload chunks: size must be positive, got %d", size)
	}

	var sent int64
	for offset := int64(0); offset < size; offset += chunkSize {
		end := offset + chunkSize
		if end > size {
			end = size
		}

		if err := c.uploadChunk(ctx, session, r, offset, end, size); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", offset, err)
		}

		sent = end
		if progress != nil {
			progress(float64(sent) / float64(size))
		}
	}

	log.Info().
		Str("videoId", session.VideoID).
		Int64("bytes", size).
		Msg("Chunked video upload complete")
	return nil
}

// uploadChunk PUTs one byte range, retrying transient failures.
func (c *Client) uploadChunk(ctx context.Context, session *UploadSession, r io.ReaderAt, start, end, total int64) error {
	var lastErr error
	for attempt := 1; attempt <= chunkRetries; attempt++ {
		chunk := io.NewSectionReader(r, start, end-start)

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, chunk)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.ContentLength = end - start
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.chunkClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			// 308 means the range was accepted and more is expected.
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
				resp.StatusCode == http.StatusPermanentRedirect {
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if attempt < chunkRetries {
			log.Warn().
				Err(lastErr).
				Str("videoId", session.VideoID).
				Int64("offset", start).
				Int("attempt", attempt).
				Msg("Chunk upload failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return lastErr
}

// TranscodeStatus returns the server-side transcode status of a video:
// "pending", "processing", "ready", or "errored".
func (c *Client) TranscodeStatus(ctx context.Context, videoID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/videos/%s/status", c.baseURL, videoID), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcode status request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if status.Error != nil {
		return "", fmt.Errorf("API error: %s (code %s)", status.Error.Message, status.Error.Code)
	}
	return status.Status, nil
}

// --- Server-side image conversion ---

// ConvertImage asks the backend to convert a stored image (e.g. a HEIC
// uploaded as-is because local conversion was unavailable) and returns the
// URL of the converted object. The call blocks until conversion finishes.
func (c *Client) ConvertImage(ctx context.Context, storedURL string) (string, error) {
	reqBody := map[string]interface{}{"sourceUrl": storedURL}

	var resp convertResponse
	if err := c.postJSON(ctx, "/v1/images/convert", reqBody, &resp); err != nil {
		return "", fmt.Errorf("convert image: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("convert image: no URL in response")
	}

	log.Info().Str("source", storedURL).Str("converted", resp.URL).Msg("Server-side image conversion complete")
	return resp.URL, nil
}

// --- Internal helpers ---

// postJSON sends a JSON POST to the API and decodes the response into out.
// out must embed an optional *apiError field named Error; API-level errors
// are surfaced by the caller inspecting that field or by non-2xx statuses.
func (c *Client) postJSON(ctx context.Context, endpoint string, reqBody interface{}, out interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Debug().Str("path", endpoint).Dur("duration", duration).Err(err).Msg("Media API request failed")
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Str("path", endpoint).Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Media API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return fmt.Errorf("API returned status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	return nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
