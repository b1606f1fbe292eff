// Package paths resolves the on-disk layout of the service and provides
// scoped file removal so no caller can reach outside the storage root.
//
// Layout under the uploads root:
//
//	uploads/<identifier><ext>      committed files
//	uploads/thumbs/<identifier>.png thumbnails
//	uploads/zips/<identifier>.zip   album archives
//	uploads/chunks/<ip>_<uuid>/tmp  in-progress chunk sessions
package paths

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafeName is returned when a file name would escape its directory.
var ErrUnsafeName = errors.New("unsafe file name")

// Paths holds the resolved service directories.
type Paths struct {
	Uploads string
	Chunks  string
	Thumbs  string
	Zips    string
	Errors  string
}

// New resolves the directory layout under the given uploads root.
// errorPages is the directory holding the static 404/500 pages.
func New(uploadsRoot, errorPages string) *Paths {
	return &Paths{
		Uploads: uploadsRoot,
		Chunks:  filepath.Join(uploadsRoot, "chunks"),
		Thumbs:  filepath.Join(uploadsRoot, "thumbs"),
		Zips:    filepath.Join(uploadsRoot, "zips"),
		Errors:  errorPages,
	}
}

// Init creates every directory the service writes to.
func (p *Paths) Init() error {
	for _, dir := range []string{p.Uploads, p.Chunks, p.Thumbs, p.Zips} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// safeJoin joins name under dir, rejecting names that would resolve
// outside it.
func safeJoin(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return filepath.Join(dir, name), nil
}

// UploadPath returns the committed file path for a public name.
func (p *Paths) UploadPath(name string) (string, error) {
	return safeJoin(p.Uploads, name)
}

// ThumbPath returns the thumbnail path for an identifier.
func (p *Paths) ThumbPath(identifier string) (string, error) {
	return safeJoin(p.Thumbs, identifier+".png")
}

// ZipPath returns the album archive path for an album identifier.
func (p *Paths) ZipPath(identifier string) (string, error) {
	return safeJoin(p.Zips, identifier+".zip")
}

// ChunkDir returns the session directory for a namespaced chunk uuid.
func (p *Paths) ChunkDir(namespacedUUID string) (string, error) {
	return safeJoin(p.Chunks, namespacedUUID)
}

// RemoveUpload unlinks a committed file. A missing file is not an error:
// sweeps and bulk deletes may race over the same name.
func (p *Paths) RemoveUpload(name string) error {
	path, err := p.UploadPath(name)
	if err != nil {
		return err
	}
	return removeIgnoringMissing(path)
}

// RemoveThumb unlinks a thumbnail by identifier.
func (p *Paths) RemoveThumb(identifier string) error {
	path, err := p.ThumbPath(identifier)
	if err != nil {
		return err
	}
	return removeIgnoringMissing(path)
}

// RemoveZip unlinks a cached album archive by identifier.
func (p *Paths) RemoveZip(identifier string) error {
	path, err := p.ZipPath(identifier)
	if err != nil {
		return err
	}
	return removeIgnoringMissing(path)
}

// RemoveChunkDir removes a chunk session directory recursively.
func (p *Paths) RemoveChunkDir(namespacedUUID string) error {
	dir, err := p.ChunkDir(namespacedUUID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// UploadExists reports whether a committed file is present on disk.
func (p *Paths) UploadExists(name string) (bool, error) {
	path, err := p.UploadPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func removeIgnoringMissing(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
