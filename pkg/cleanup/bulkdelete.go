// Package cleanup removes uploads in bulk: the user-facing delete
// endpoints and the periodic retention sweep both funnel through the
// same chunked deleter.
package cleanup

import (
	"context"
	"fmt"
	"sync"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

// Purger schedules CDN cache purges for deleted names. Calls must not
// block; failures are the purger's problem.
type Purger interface {
	PurgeNames(names []string)
}

// Invalidator evicts derived caches for deleted files and their albums.
type Invalidator interface {
	InvalidateFiles(names []string)
	InvalidateAlbums(ids []uint)
	InvalidateStats()
}

// Thumbs answers whether an extension carries a thumbnail on disk.
type Thumbs interface {
	Eligible(extension string) bool
}

// Deleter removes files in SQL-parameter-sized chunks, unlinking bytes
// and thumbnails as it goes. Deliberately not transactional: unlink is
// not rollbackable, and partial progress must be reportable.
type Deleter struct {
	store store.DeletionStore
	paths *paths.Paths

	// optional collaborators
	purger Purger
	inval  Invalidator
	thumbs Thumbs
}

// NewDeleter creates a Deleter. purger, inval and thumbs may be nil.
func NewDeleter(s store.DeletionStore, p *paths.Paths) *Deleter {
	return &Deleter{store: s, paths: p}
}

// WithPurger attaches a CDN purge scheduler.
func (d *Deleter) WithPurger(p Purger) *Deleter {
	d.purger = p
	return d
}

// WithInvalidator attaches a cache invalidator.
func (d *Deleter) WithInvalidator(i Invalidator) *Deleter {
	d.inval = i
	return d
}

// WithThumbs attaches the thumbnail eligibility check.
func (d *Deleter) WithThumbs(t Thumbs) *Deleter {
	d.thumbs = t
	return d
}

// DeleteByField removes every file whose field (id or name) matches one
// of values. A nil actor is privileged (internal callers); moderators
// see all rows; everyone else is scoped to their own uploads. Returns
// the requested values that could not be deleted.
func (d *Deleter) DeleteByField(ctx context.Context, field string, values []any, actor *models.User) ([]any, error) {
	if field != "id" && field != "name" {
		return nil, apperr.Clientf("invalid field: %s", field)
	}
	if len(values) == 0 {
		return nil, apperr.Clientf("no values provided")
	}

	var ownerID *uint
	if actor != nil && !actor.IsModerator() {
		id := actor.ID
		ownerID = &id
	}

	var (
		mu      sync.Mutex
		failed  []any
		deleted []string
		touched = make(map[uint]struct{})
		wg      sync.WaitGroup
		errs    []error
	)

	for _, chunk := range chunkSlice(values, store.MaxSQLVars) {
		wg.Add(1)
		go func(chunk []any) {
			defer wg.Done()
			res, err := d.deleteChunk(ctx, field, chunk, ownerID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				failed = append(failed, chunk...)
				return
			}
			failed = append(failed, res.failed...)
			deleted = append(deleted, res.deleted...)
			for id := range res.albums {
				touched[id] = struct{}{}
			}
		}(chunk)
	}
	wg.Wait()

	if len(errs) > 0 && len(deleted) == 0 {
		return nil, apperr.Serverf(errs[0], "bulk delete failed")
	}

	if len(touched) > 0 {
		ids := make([]uint, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		if err := d.store.TouchAlbums(ctx, ids, nowUnix()); err != nil {
			logger.ErrorCtx(ctx, "failed to bump album timestamps after delete", "error", err)
		}
		if d.inval != nil {
			d.inval.InvalidateAlbums(ids)
		}
	}
	if d.inval != nil && len(deleted) > 0 {
		d.inval.InvalidateFiles(deleted)
		d.inval.InvalidateStats()
	}
	if d.purger != nil && len(deleted) > 0 {
		d.purger.PurgeNames(deleted)
	}

	logger.InfoCtx(ctx, "bulk delete finished",
		"count", len(deleted), "failed", len(failed))
	return failed, nil
}

type chunkResult struct {
	failed  []any
	deleted []string
	albums  map[uint]struct{}
}

// deleteChunk handles one parameter-bounded slice of values: select the
// matching rows, unlink their bytes, then delete the rows that were
// successfully unlinked.
func (d *Deleter) deleteChunk(ctx context.Context, field string, values []any, ownerID *uint) (*chunkResult, error) {
	rows, err := d.store.SelectFilesByField(ctx, field, values, ownerID)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*models.File, len(rows))
	for _, row := range rows {
		found[fieldValue(row, field)] = row
	}

	res := &chunkResult{albums: make(map[uint]struct{})}
	var ids []uint

	for _, v := range values {
		key := fmt.Sprint(v)
		row, ok := found[key]
		if !ok {
			res.failed = append(res.failed, v)
			continue
		}
		if err := d.unlink(row); err != nil {
			logger.Warn("failed to unlink upload", "upload", row.Name, "error", err)
			res.failed = append(res.failed, v)
			continue
		}
		ids = append(ids, row.ID)
		res.deleted = append(res.deleted, row.Name)
		if row.AlbumID != nil {
			res.albums[*row.AlbumID] = struct{}{}
		}
	}

	if len(ids) > 0 {
		if err := d.store.DeleteFilesByID(ctx, ids); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// unlink removes the upload's bytes and its thumbnail if one exists.
// A missing file is not an error; the row is stale and should still go.
func (d *Deleter) unlink(row *models.File) error {
	if err := d.paths.RemoveUpload(row.Name); err != nil {
		return err
	}
	if d.thumbs != nil && d.thumbs.Eligible(row.Extension()) {
		if err := d.paths.RemoveThumb(row.Identifier()); err != nil {
			logger.Warn("failed to remove thumbnail", "upload", row.Name, "error", err)
		}
	}
	return nil
}

func fieldValue(row *models.File, field string) string {
	if field == "id" {
		return fmt.Sprint(row.ID)
	}
	return row.Name
}

func chunkSlice(values []any, size int) [][]any {
	if len(values) <= size {
		return [][]any{values}
	}
	var chunks [][]any
	for len(values) > 0 {
		n := size
		if len(values) < n {
			n = len(values)
		}
		chunks = append(chunks, values[:n])
		values = values[n:]
	}
	return chunks
}
