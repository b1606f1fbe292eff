// Package zipper builds on-demand ZIP archives of album contents.
// Concurrent requests for the same album coalesce into one build; the
// on-disk archive is reused while it is newer than the album's last
// edit.
package zipper

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/metrics"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store"
)

// Config controls ZIP generation.
type Config struct {
	// Enabled turns the zip endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxTotalSize rejects generation when the sum of member sizes
	// exceeds it. 0 = unlimited.
	MaxTotalSize int64 `mapstructure:"max_total_size" yaml:"max_total_size"`
}

// Zipper generates and caches album archives.
type Zipper struct {
	cfg    Config
	albums store.AlbumStore
	paths  *paths.Paths
	stats  *metrics.Metrics
	group  singleflight.Group
}

// New creates a Zipper.
func New(cfg Config, albums store.AlbumStore, p *paths.Paths) *Zipper {
	return &Zipper{cfg: cfg, albums: albums, paths: p}
}

// WithMetrics attaches the pipeline collectors.
func (z *Zipper) WithMetrics(m *metrics.Metrics) *Zipper {
	z.stats = m
	return z
}

// Archive returns the path of a fresh ZIP for the album with the given
// public identifier, building it first if the cached one is stale or
// missing. The album must be enabled, public, and downloadable.
func (z *Zipper) Archive(ctx context.Context, identifier string) (string, error) {
	if !z.cfg.Enabled {
		return "", apperr.ClientStatusf(403, "album downloads are not enabled")
	}

	album, err := z.albums.GetAlbumByIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !album.Public || !album.Download {
		return "", apperr.ClientStatusf(403, "this album is not available for download")
	}

	path, err := z.paths.ZipPath(identifier)
	if err != nil {
		return "", apperr.Clientf("invalid album identifier")
	}

	if album.ZipFresh() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// One build per identifier; later requesters wait for the same
	// result. A build error clears the slot and reaches every waiter.
	_, err, _ = z.group.Do(identifier, func() (any, error) {
		return nil, z.build(ctx, album.ID, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// build writes the archive to a temp path and renames it into place, so
// a failed build never leaves a partial ZIP behind.
func (z *Zipper) build(ctx context.Context, albumID uint, dest string) error {
	files, err := z.albums.AlbumFiles(ctx, albumID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return apperr.Clientf("this album has no files to download")
	}

	if z.cfg.MaxTotalSize > 0 {
		var total int64
		for _, f := range files {
			total += f.Size
		}
		if total > z.cfg.MaxTotalSize {
			return apperr.Clientf("total size of this album exceeds the download limit")
		}
	}

	started := time.Now()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return apperr.Serverf(err, "failed to create album archive")
	}

	w := zip.NewWriter(out)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			abandon(w, out, tmp)
			return err
		}
		if err := z.addMember(w, f.Name); err != nil {
			abandon(w, out, tmp)
			return apperr.Serverf(err, "failed to archive %s", f.Name)
		}
	}
	if err := w.Close(); err != nil {
		abandon(nil, out, tmp)
		return apperr.Serverf(err, "failed to finish album archive")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return apperr.Serverf(err, "failed to flush album archive")
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return apperr.Serverf(err, "failed to place album archive")
	}

	if err := z.albums.SetZipGeneratedAt(ctx, albumID, time.Now().Unix()); err != nil {
		return apperr.Serverf(err, "failed to record archive freshness")
	}

	z.stats.RecordZipBuild()
	logger.InfoCtx(ctx, "album archive built",
		"album", albumID, "count", len(files), "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func (z *Zipper) addMember(w *zip.Writer, name string) error {
	src, err := z.paths.UploadPath(name)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Store without re-compressing; members are already compressed
	// formats more often than not.
	header := &zip.FileHeader{Name: name, Method: zip.Store}
	header.Modified = time.Now()
	member, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(member, in)
	return err
}

func abandon(w *zip.Writer, out *os.File, tmp string) {
	if w != nil {
		_ = w.Close()
	}
	_ = out.Close()
	_ = os.Remove(tmp)
}
