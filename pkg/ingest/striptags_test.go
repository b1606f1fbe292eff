package ingest

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestStripTagsReencodesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	writeTestImage(t, path)

	if err := stripTags(path, ".png"); err != nil {
		t.Fatalf("stripTags: %v", err)
	}

	// The pixels survive the round trip.
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("re-encoded image does not decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("bounds = %v", b)
	}

	// No temp file left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the image", len(entries))
	}
}

func TestStripTagsSkipsNonImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	content := []byte("not an image")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := stripTags(path, ".txt"); err != nil {
		t.Fatalf("stripTags: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Error("non-image content must pass through untouched")
	}
}

func TestStripTagsCorruptImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := stripTags(path, ".png"); err == nil {
		t.Fatal("undecodable image should error")
	}
}
