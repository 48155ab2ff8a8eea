package mediafile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		ext      string
		wantMIME string
		wantKind Kind
		wantErr  bool
	}{
		{".jpg", "image/jpeg", KindPhoto, false},
		{".JPEG", "image/jpeg", KindPhoto, false},
		{".png", "image/png", KindPhoto, false},
		{".heic", "image/heic", KindPhoto, false},
		{".mp4", "video/mp4", KindVideo, false},
		{".MOV", "video/quicktime", KindVideo, false},
		{".avi", "video/x-msvideo", KindVideo, false},
		{".txt", "", "", true},
		{".pdf", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			mime, kind, err := Classify(tt.ext)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.ext)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tt.wantMIME || kind != tt.wantKind {
				t.Errorf("Classify(%q) = (%s, %s), want (%s, %s)", tt.ext, mime, kind, tt.wantMIME, tt.wantKind)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "party.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "party.jpg" {
		t.Errorf("expected name party.jpg, got %s", f.Name)
	}
	if f.Kind != KindPhoto || f.MIMEType != "image/jpeg" {
		t.Errorf("unexpected classification: %s %s", f.Kind, f.MIMEType)
	}
	if f.Size != int64(len("jpeg-bytes")) {
		t.Errorf("unexpected size %d", f.Size)
	}

	if _, err := Load(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateSizeCaps(t *testing.T) {
	tests := []struct {
		name    string
		file    File
		wantErr string
	}{
		{
			name: "photo within cap",
			file: File{Path: "a.jpg", Name: "a.jpg", Size: MaxPhotoSize, Kind: KindPhoto},
		},
		{
			name:    "photo over cap",
			file:    File{Path: "a.jpg", Name: "a.jpg", Size: MaxPhotoSize + 1, Kind: KindPhoto},
			wantErr: "photo too large",
		},
		{
			name: "video within cap",
			file: File{Path: "a.mp4", Name: "a.mp4", Size: MaxVideoSize, Kind: KindVideo},
		},
		{
			name:    "video over cap",
			file:    File{Path: "a.mp4", Name: "a.mp4", Size: MaxVideoSize + 1, Kind: KindVideo},
			wantErr: "video too large",
		},
		{
			name:    "empty file",
			file:    File{Path: "a.jpg", Name: "a.jpg", Size: 0, Kind: KindPhoto},
			wantErr: "empty file",
		},
		{
			name:    "unsupported extension",
			file:    File{Path: "a.bmp", Name: "a.bmp", Size: 10, Kind: KindPhoto},
			wantErr: "unsupported file extension",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.file)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	if got := Plan(&File{Path: "a.jpg", Name: "a.jpg"}); got != PlanNone {
		t.Errorf("jpg should need no conversion, got %v", got)
	}
	if got := Plan(&File{Path: "a.mp4", Name: "a.mp4"}); got != PlanNone {
		t.Errorf("mp4 should need no conversion, got %v", got)
	}
	if got := Plan(&File{Path: "a.avi", Name: "a.avi"}); got != PlanClientConvert {
		t.Errorf("avi must convert locally, got %v", got)
	}
	// HEIC resolves to client or server conversion depending on the
	// machine, never to none.
	if got := Plan(&File{Path: "a.heic", Name: "a.heic"}); got == PlanNone {
		t.Error("heic must always have a conversion plan")
	}
}
