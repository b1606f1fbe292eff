package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestPaths(t *testing.T) *Paths {
	t.Helper()
	p := New(t.TempDir(), "")
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func TestInitCreatesLayout(t *testing.T) {
	p := newTestPaths(t)
	for _, dir := range []string{p.Uploads, p.Chunks, p.Thumbs, p.Zips} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("missing directory %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestSafeJoinRejectsEscapes(t *testing.T) {
	p := newTestPaths(t)

	tests := []string{
		"",
		".",
		"..",
		"../etc/passwd",
		"a/b",
		`a\b`,
		"/absolute",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := p.UploadPath(name); !errors.Is(err, ErrUnsafeName) {
				t.Errorf("UploadPath(%q) err = %v, want ErrUnsafeName", name, err)
			}
		})
	}
}

func TestPathShapes(t *testing.T) {
	p := newTestPaths(t)

	up, err := p.UploadPath("abc123.png")
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if up != filepath.Join(p.Uploads, "abc123.png") {
		t.Errorf("UploadPath = %q", up)
	}

	th, err := p.ThumbPath("abc123")
	if err != nil {
		t.Fatalf("ThumbPath: %v", err)
	}
	if filepath.Base(th) != "abc123.png" {
		t.Errorf("ThumbPath base = %q", filepath.Base(th))
	}

	zp, err := p.ZipPath("albumx")
	if err != nil {
		t.Fatalf("ZipPath: %v", err)
	}
	if filepath.Base(zp) != "albumx.zip" {
		t.Errorf("ZipPath base = %q", filepath.Base(zp))
	}
}

func TestRemoveIgnoresMissing(t *testing.T) {
	p := newTestPaths(t)

	if err := p.RemoveUpload("never-existed.bin"); err != nil {
		t.Errorf("RemoveUpload on missing file: %v", err)
	}
	if err := p.RemoveThumb("never-existed"); err != nil {
		t.Errorf("RemoveThumb on missing file: %v", err)
	}
	if err := p.RemoveZip("never-existed"); err != nil {
		t.Errorf("RemoveZip on missing file: %v", err)
	}
}

func TestRemoveUpload(t *testing.T) {
	p := newTestPaths(t)

	path, _ := p.UploadPath("gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := p.RemoveUpload("gone.txt"); err != nil {
		t.Fatalf("RemoveUpload: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone")
	}
}

func TestUploadExists(t *testing.T) {
	p := newTestPaths(t)

	ok, err := p.UploadExists("nope.bin")
	if err != nil || ok {
		t.Errorf("UploadExists(missing) = %v, %v", ok, err)
	}

	path, _ := p.UploadPath("here.bin")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ok, err = p.UploadExists("here.bin")
	if err != nil || !ok {
		t.Errorf("UploadExists(present) = %v, %v", ok, err)
	}
}

func TestRemoveChunkDir(t *testing.T) {
	p := newTestPaths(t)

	dir, err := p.ChunkDir("1.2.3.4_uuid")
	if err != nil {
		t.Fatalf("ChunkDir: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := p.RemoveChunkDir("1.2.3.4_uuid"); err != nil {
		t.Fatalf("RemoveChunkDir: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("chunk dir should be gone")
	}
}
