package mediafile

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// CompressionThreshold is the image size above which lossy recompression
	// is applied before transfer.
	CompressionThreshold int64 = 4 * 1024 * 1024 // 4 MB

	// compressionQuality is the JPEG quality used for recompression.
	compressionQuality = 85

	// compressionMaxDimension bounds the longer edge of a recompressed image.
	compressionMaxDimension = 2560
)

// NeedsCompression reports whether a photo should be recompressed before
// transfer. Only JPEG and PNG are recompressed; GIF and WebP pass through.
func NeedsCompression(f *File) bool {
	if f.Kind != KindPhoto || f.Size <= CompressionThreshold {
		return false
	}
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Compress re-encodes a large image as JPEG at quality 85, downscaling so
// the longer edge is at most 2560px. Returns a new File pointing at the
// compressed bytes in a temp location; the caller owns that path. If the
// recompressed output is not smaller than the original, the original File
// is returned unchanged and the temp output is discarded.
func Compress(f *File) (*File, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer src.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(src)
	case ".png":
		img, err = png.Decode(src)
	default:
		return nil, fmt.Errorf("unsupported format for compression: %s", f.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := fitDimensions(bounds.Dx(), bounds.Dy(), compressionMaxDimension)
	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	outPath, err := tempOutputPath(f.Name, ".jpg")
	if err != nil {
		return nil, err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: compressionQuality}); err != nil {
		out.Close()
		os.Remove(outPath)
		return nil, fmt.Errorf("failed to encode compressed image: %w", err)
	}
	out.Close()

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat compressed file: %w", err)
	}

	if info.Size() >= f.Size {
		// Recompression didn't help. Keep the original.
		os.Remove(outPath)
		log.Debug().Str("file", f.Name).Msg("Compression skipped, output not smaller than original")
		return f, nil
	}

	log.Info().
		Str("file", f.Name).
		Int64("original_size", f.Size).
		Int64("compressed_size", info.Size()).
		Msg("Image compressed")

	return &File{
		Path:     outPath,
		Name:     strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg",
		MIMEType: "image/jpeg",
		Size:     info.Size(),
		Kind:     KindPhoto,
	}, nil
}

// fitDimensions scales (width, height) down so neither exceeds maxDimension,
// preserving aspect ratio. Dimensions already within bounds are unchanged.
func fitDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, int(float64(height) * float64(maxDimension) / float64(width))
	}
	return int(float64(width) * float64(maxDimension) / float64(height)), maxDimension
}
