package mediafile

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultThumbnailMaxDimension is the maximum dimension (width or height)
// for gallery preview thumbnails.
const DefaultThumbnailMaxDimension = 512

// GenerateThumbnail creates a low-resolution preview of a media file.
// Returns the thumbnail bytes, MIME type, and any error.
//
// Strategy:
//   - JPEG/PNG: Resize using pure Go (golang.org/x/image/draw) and encode as WebP
//   - HEIC/HEIF: Use ffmpeg to extract a WebP thumbnail
//   - GIF/WebP: Return original file (typically small)
//   - Video (MP4/MOV/WebM/AVI): Extract frame at 1s using ffmpeg and encode as WebP
func GenerateThumbnail(f *File, maxDimension int) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(f.Path))

	log.Debug().
		Str("path", f.Path).
		Int("max_dimension", maxDimension).
		Msg("Generating thumbnail")

	switch ext {
	case ".jpg", ".jpeg", ".png":
		return thumbnailPureGo(f.Path, ext, maxDimension)
	case ".heic", ".heif":
		return thumbnailFFmpeg(f.Path, maxDimension, true)
	case ".gif", ".webp":
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read file: %w", err)
		}
		return data, f.MIMEType, nil
	case ".mp4", ".mov", ".webm", ".avi":
		return thumbnailFFmpeg(f.Path, maxDimension, false)
	default:
		return nil, "", fmt.Errorf("unsupported format for thumbnail: %s", ext)
	}
}

// thumbnailPureGo resizes JPEG/PNG images using pure Go and encodes WebP.
func thumbnailPureGo(path, ext string, maxDimension int) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	default:
		return nil, "", fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := fitDimensions(bounds.Dx(), bounds.Dy(), maxDimension)
	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: 80}); err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail as WebP: %w", err)
	}
	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("WebP encoding produced empty thumbnail for %s", filepath.Base(path))
	}

	return buf.Bytes(), "image/webp", nil
}

// thumbnailFFmpeg extracts a single frame with ffmpeg and encodes it as WebP.
// For videos the frame is taken at the 1-second mark, retrying at 0s for
// clips shorter than one second.
func thumbnailFFmpeg(path string, maxDimension int, singleImage bool) ([]byte, string, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, "", fmt.Errorf("ffmpeg not found: thumbnail generation for %s requires ffmpeg", filepath.Ext(path))
	}

	tmpFile, err := os.CreateTemp("", "thumb-*.png")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// scale filter: downscale only if larger, preserve aspect ratio,
	// -2 keeps the height even as some encoders require.
	vf := fmt.Sprintf("scale='min(%d,iw)':-2", maxDimension)

	args := []string{"-i", path}
	if !singleImage {
		args = append(args, "-ss", "1")
	}
	args = append(args, "-frames:v", "1", "-vf", vf, "-f", "image2", "-y", tmpPath)

	output, err := exec.Command(ffmpegPath, args...).CombinedOutput()
	if err != nil && !singleImage {
		// Retry at 0s in case the video is shorter than 1 second.
		retryArgs := []string{"-i", path, "-frames:v", "1", "-vf", vf, "-f", "image2", "-y", tmpPath}
		output2, err2 := exec.Command(ffmpegPath, retryArgs...).CombinedOutput()
		if err2 != nil {
			return nil, "", fmt.Errorf("ffmpeg frame extraction failed: %w: %s / %s", err2, string(output), string(output2))
		}
		err = nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, string(output))
	}

	frameFile, err := os.Open(tmpPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read extracted frame: %w", err)
	}
	defer frameFile.Close()

	img, err := png.Decode(frameFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode extracted frame: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: 80}); err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail as WebP: %w", err)
	}
	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("WebP encoding produced empty thumbnail for %s", filepath.Base(path))
	}

	return buf.Bytes(), "image/webp", nil
}
