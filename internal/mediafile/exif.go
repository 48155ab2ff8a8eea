package mediafile

import (
	"fmt"
	"os"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CaptureMetadata holds the EXIF fields recorded alongside a draft so the
// gallery can sort and geotag media. Extraction failure is never fatal;
// a file without metadata still uploads.
type CaptureMetadata struct {
	TakenAt   time.Time
	HasDate   bool
	Latitude  float64
	Longitude float64
	HasGPS    bool
}

// ExtractCaptureMetadata reads EXIF metadata from a photo using the
// imagemeta library. It supports JPEG, HEIC/HEIF, and TIFF containers and
// reads only the metadata bytes, not the whole file.
func ExtractCaptureMetadata(path string) (*CaptureMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	exifData, err := imagemeta.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	meta := &CaptureMetadata{}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		meta.Latitude = gps.Latitude()
		meta.Longitude = gps.Longitude()
		meta.HasGPS = true
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		meta.TakenAt = exifData.DateTimeOriginal()
		meta.HasDate = true
	case !exifData.CreateDate().IsZero():
		meta.TakenAt = exifData.CreateDate()
		meta.HasDate = true
	case !exifData.ModifyDate().IsZero():
		meta.TakenAt = exifData.ModifyDate()
		meta.HasDate = true
	}

	log.Debug().
		Str("path", path).
		Bool("has_gps", meta.HasGPS).
		Bool("has_date", meta.HasDate).
		Msg("Capture metadata extracted")

	return meta, nil
}
