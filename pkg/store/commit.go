package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/perdedora/safe/pkg/store/models"
)

// CommitResult describes the outcome for one staged file: either a fresh
// row or a reference to an existing duplicate.
type CommitResult struct {
	File *models.File

	// Repeated is true when an existing row with the same
	// (owner, hash, size) was found. File then points at that row and the
	// caller must unlink the staged bytes from disk.
	Repeated bool
}

// CommitFiles inserts the staged files in a single transaction,
// deduplicating by (owner, hash, size) and bumping editedAt on every
// authorized album the batch touched.
//
// Album authorization happens inside the transaction: albumid values
// whose album does not belong to the uploader (or is disabled) are
// stripped rather than rejected. TouchedAlbums in the return carries the
// ids whose editedAt was bumped so the caller can invalidate caches.
func (s *GORMStore) CommitFiles(ctx context.Context, files []*models.File) ([]CommitResult, []uint, error) {
	results := make([]CommitResult, 0, len(files))
	var touched []uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := nowUnix()

		// Resolve the set of albums the uploader may write to. All files
		// in one batch share an uploader, so one query covers the batch.
		authorized := make(map[uint]bool)
		{
			ids := make([]uint, 0, len(files))
			seen := make(map[uint]bool)
			for _, f := range files {
				if f.AlbumID != nil && !seen[*f.AlbumID] {
					seen[*f.AlbumID] = true
					ids = append(ids, *f.AlbumID)
				}
			}
			if len(ids) > 0 {
				q := tx.Model(&models.Album{}).Where("id IN ? AND enabled = ?", ids, true)
				if owner := batchOwner(files); owner != nil {
					q = q.Where("userid = ?", *owner)
				} else {
					// Anonymous uploads can never target an album.
					q = q.Where("1 = 0")
				}
				var allowed []uint
				if err := q.Pluck("id", &allowed).Error; err != nil {
					return err
				}
				for _, id := range allowed {
					authorized[id] = true
				}
			}
		}

		touchedSet := make(map[uint]bool)
		for _, f := range files {
			if f.Hash != "" {
				dup, err := findDuplicateTx(tx, f.UserID, f.Hash, f.Size)
				if err != nil {
					return err
				}
				if dup != nil {
					results = append(results, CommitResult{File: dup, Repeated: true})
					continue
				}
			}

			if f.AlbumID != nil && !authorized[*f.AlbumID] {
				f.AlbumID = nil
			}
			f.Timestamp = now
			if err := tx.Create(f).Error; err != nil {
				return err
			}
			if f.AlbumID != nil {
				touchedSet[*f.AlbumID] = true
			}
			results = append(results, CommitResult{File: f})
		}

		for id := range touchedSet {
			touched = append(touched, id)
		}
		if len(touched) > 0 {
			if err := tx.Model(&models.Album{}).
				Where("id IN ?", touched).
				Update("editedAt", now).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return results, touched, nil
}

// batchOwner returns the owner shared by the batch, nil for anonymous.
func batchOwner(files []*models.File) *uint {
	for _, f := range files {
		if f.UserID != nil {
			return f.UserID
		}
	}
	return nil
}

// findDuplicateTx is FindDuplicate running inside an open transaction.
func findDuplicateTx(tx *gorm.DB, userID *uint, hash string, size int64) (*models.File, error) {
	q := tx.Where("hash = ? AND size = ?", hash, size)
	if userID != nil {
		q = q.Where("userid = ?", *userID)
	} else {
		q = q.Where("userid IS NULL")
	}
	var file models.File
	if err := q.First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}
