package thumbs

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/perdedora/safe/pkg/paths"
)

func newTestPaths(t *testing.T) *paths.Paths {
	t.Helper()
	p := paths.New(t.TempDir(), "")
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func writeImage(t *testing.T, p *paths.Paths, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	path, err := p.UploadPath(name)
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		extension string
		want      bool
	}{
		{"png", true, ".png", true},
		{"uppercase", true, ".JPG", true},
		{"video", true, ".mp4", false},
		{"no extension", true, "", false},
		{"disabled", false, ".png", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(Config{Enabled: tt.enabled}, nil)
			if got := g.Eligible(tt.extension); got != tt.want {
				t.Errorf("Eligible(%q) = %v, want %v", tt.extension, got, tt.want)
			}
		})
	}
}

func TestScheduleGeneratesThumbnail(t *testing.T) {
	p := newTestPaths(t)
	g := New(Config{Enabled: true, Workers: 2}, p)

	writeImage(t, p, "abc123.png", 640, 480)
	g.Schedule("abc123.png")
	g.Wait()

	dest, err := p.ThumbPath("abc123")
	if err != nil {
		t.Fatalf("ThumbPath: %v", err)
	}
	thumb, err := imaging.Open(dest)
	if err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	b := thumb.Bounds()
	if b.Dx() > thumbSide || b.Dy() > thumbSide {
		t.Errorf("thumbnail %dx%d exceeds the bounding box", b.Dx(), b.Dy())
	}
}

func TestScheduleDisabledIsNoop(t *testing.T) {
	p := newTestPaths(t)
	g := New(Config{Enabled: false}, p)

	g.Schedule("whatever.png")
	g.Wait()

	dest, err := p.ThumbPath("whatever")
	if err != nil {
		t.Fatalf("ThumbPath: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("disabled generator must not write thumbnails")
	}
}

func TestScheduleMissingSourceLogsOnly(t *testing.T) {
	p := newTestPaths(t)
	g := New(Config{Enabled: true}, p)

	// Never uploaded; the failure must stay internal.
	g.Schedule("ghost.png")
	g.Wait()
}
