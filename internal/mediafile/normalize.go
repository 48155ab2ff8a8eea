package mediafile

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ConversionPlan describes what has to happen to a file before (or after)
// transfer.
type ConversionPlan int

const (
	// PlanNone: the file is already in a transfer-ready format.
	PlanNone ConversionPlan = iota
	// PlanClientConvert: convert locally before transfer (HEIC→JPEG, AVI→MP4).
	PlanClientConvert
	// PlanServerConvert: upload the original bytes as-is and ask the backend
	// to convert afterwards. Chosen for HEIC when ffmpeg is not available.
	PlanServerConvert
)

// convertibleImageExts are proprietary photo container formats that need
// normalization to a common raster format.
var convertibleImageExts = map[string]bool{".heic": true, ".heif": true}

// convertibleVideoExts are legacy video containers that need normalization
// to a streaming-friendly format.
var convertibleVideoExts = map[string]bool{".avi": true}

// Plan decides the conversion strategy for a file. HEIC/HEIF prefers a
// local ffmpeg conversion to JPEG and falls back to a deferred server-side
// conversion when ffmpeg is missing. AVI is always converted locally; there
// is no server-side path for it.
func Plan(f *File) ConversionPlan {
	ext := strings.ToLower(filepath.Ext(f.Path))
	switch {
	case convertibleImageExts[ext]:
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			log.Warn().Str("file", f.Name).Msg("ffmpeg not found, deferring HEIC conversion to server")
			return PlanServerConvert
		}
		return PlanClientConvert
	case convertibleVideoExts[ext]:
		return PlanClientConvert
	default:
		return PlanNone
	}
}

// Convert normalizes a convertible file and returns a new File pointing at
// the converted bytes in a temp location. The caller owns the returned
// file's path and must remove it when the upload finishes or the file is
// removed from the batch. Conversion failure is final for the file.
func Convert(f *File) (*File, error) {
	ext := strings.ToLower(filepath.Ext(f.Path))
	switch {
	case convertibleImageExts[ext]:
		return convertHEIC(f)
	case convertibleVideoExts[ext]:
		return convertAVI(f)
	default:
		return nil, fmt.Errorf("file does not need conversion: %s", f.Name)
	}
}

// convertHEIC converts a HEIC/HEIF image to JPEG using ffmpeg.
func convertHEIC(f *File) (*File, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: HEIC conversion requires ffmpeg")
	}

	outPath, err := tempOutputPath(f.Name, ".jpg")
	if err != nil {
		return nil, err
	}

	// ffmpeg -i input.heic -frames:v 1 -q:v 2 -y output.jpg
	// -frames:v 1 because HEIC is a single image; -q:v 2 is high JPEG quality.
	cmd := exec.Command(ffmpegPath,
		"-i", f.Path,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("ffmpeg HEIC conversion failed: %w: %s", err, string(output))
	}

	return convertedFile(f, outPath, ".jpg", "image/jpeg", KindPhoto)
}

// convertAVI converts a legacy AVI container to MP4 (H.264/AAC) using ffmpeg.
func convertAVI(f *File) (*File, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: AVI conversion requires ffmpeg")
	}

	outPath, err := tempOutputPath(f.Name, ".mp4")
	if err != nil {
		return nil, err
	}

	// ffmpeg -i input.avi -c:v libx264 -preset fast -c:a aac -movflags +faststart -y output.mp4
	// +faststart moves the moov atom up front so the result streams immediately.
	cmd := exec.Command(ffmpegPath,
		"-i", f.Path,
		"-c:v", "libx264",
		"-preset", "fast",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-y", outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("ffmpeg AVI conversion failed: %w: %s", err, string(output))
	}

	return convertedFile(f, outPath, ".mp4", "video/mp4", KindVideo)
}

// tempOutputPath creates an empty temp file with the wanted extension and
// returns its path.
func tempOutputPath(originalName, newExt string) (string, error) {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	tmpFile, err := os.CreateTemp("", "convert-"+base+"-*"+newExt)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmpFile.Name()
	tmpFile.Close()
	return path, nil
}

// convertedFile builds the File describing a finished conversion output.
func convertedFile(orig *File, outPath, newExt, mimeType string, kind Kind) (*File, error) {
	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat converted file: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(outPath)
		return nil, fmt.Errorf("conversion produced empty output for %s", orig.Name)
	}

	newName := strings.TrimSuffix(orig.Name, filepath.Ext(orig.Name)) + newExt

	log.Info().
		Str("file", orig.Name).
		Str("converted", newName).
		Int64("original_size", orig.Size).
		Int64("converted_size", info.Size()).
		Msg("Format conversion complete")

	return &File{
		Path:     outPath,
		Name:     newName,
		MIMEType: mimeType,
		Size:     info.Size(),
		Kind:     kind,
	}, nil
}
