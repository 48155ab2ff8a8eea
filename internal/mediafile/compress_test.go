package mediafile

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsCompression(t *testing.T) {
	tests := []struct {
		name string
		file File
		want bool
	}{
		{"small jpeg", File{Path: "a.jpg", Size: CompressionThreshold, Kind: KindPhoto}, false},
		{"large jpeg", File{Path: "a.jpg", Size: CompressionThreshold + 1, Kind: KindPhoto}, true},
		{"large png", File{Path: "a.png", Size: CompressionThreshold + 1, Kind: KindPhoto}, true},
		{"large gif passes through", File{Path: "a.gif", Size: CompressionThreshold + 1, Kind: KindPhoto}, false},
		{"large webp passes through", File{Path: "a.webp", Size: CompressionThreshold + 1, Kind: KindPhoto}, false},
		{"video never recompressed here", File{Path: "a.mp4", Size: CompressionThreshold + 1, Kind: KindVideo}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsCompression(&tt.file); got != tt.want {
				t.Errorf("NeedsCompression = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"within bounds", 800, 600, 2560, 800, 600},
		{"wide landscape", 5120, 2560, 2560, 2560, 1280},
		{"tall portrait", 2560, 5120, 2560, 1280, 2560},
		{"square", 4000, 4000, 2560, 2560, 2560},
		{"exactly at bound", 2560, 1440, 2560, 2560, 1440},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitDimensions(tt.w, tt.h, tt.max)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("fitDimensions(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCompressDownscalesLargeImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")

	// Noisy pixel data keeps the PNG near raw size, so the downscaled JPEG
	// re-encode is genuinely smaller. A flat fill would compress better as
	// PNG than as JPEG and skip the path under test.
	img := image.NewRGBA(image.Rect(0, 0, 3000, 2000))
	seed := uint32(1)
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 0xff
			continue
		}
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(seed >> 24)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Compress(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Path == f.Path {
		t.Fatal("expected a new temp file for the compressed output")
	}
	t.Cleanup(func() { os.Remove(out.Path) })

	if out.Size >= f.Size {
		t.Errorf("expected smaller output, got %d >= %d", out.Size, f.Size)
	}
	decoded, err := os.Open(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer decoded.Close()
	cfg, _, err := image.DecodeConfig(decoded)
	if err != nil {
		t.Fatalf("compressed output not decodable: %v", err)
	}
	if cfg.Width > compressionMaxDimension || cfg.Height > compressionMaxDimension {
		t.Errorf("output %dx%d exceeds the dimension cap", cfg.Width, cfg.Height)
	}
}

func TestGenerateThumbnailPureGo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")

	img := image.NewRGBA(image.Rect(0, 0, 1024, 768))
	for y := 0; y < 768; y++ {
		for x := 0; x < 1024; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	data, contentType, err := GenerateThumbnail(f, DefaultThumbnailMaxDimension)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contentType != "image/webp" {
		t.Errorf("expected image/webp thumbnail, got %s", contentType)
	}
	if len(data) == 0 {
		t.Error("expected thumbnail bytes")
	}
}
