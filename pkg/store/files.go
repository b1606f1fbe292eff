package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/perdedora/safe/pkg/store/models"
)

// GetFileByName retrieves a file by its public name (identifier + extension).
func (s *GORMStore) GetFileByName(ctx context.Context, name string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "name", name, models.ErrFileNotFound)
}

// GetFileByID retrieves a file by primary key.
func (s *GORMStore) GetFileByID(ctx context.Context, id uint) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "id", id, models.ErrFileNotFound)
}

// FileIdentifierInUse reports whether any row claims the identifier,
// regardless of extension. Matching any extension is what makes thumbnail
// names collide correctly: thumbs are keyed by identifier alone.
func (s *GORMStore) FileIdentifierInUse(ctx context.Context, identifier string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("name = ? OR name LIKE ?", identifier, identifier+".%").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindDuplicate looks up an existing row with the same (owner, hash, size).
// Anonymous uploads are scoped to rows with no owner. Returns nil, nil
// when no duplicate exists.
func (s *GORMStore) FindDuplicate(ctx context.Context, userID *uint, hash string, size int64) (*models.File, error) {
	q := s.db.WithContext(ctx).Where("hash = ? AND size = ?", hash, size)
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

// ListExpired returns all files whose expiry is at or before now.
// Only ID and Name are populated; that is all the sweeper needs.
func (s *GORMStore) ListExpired(ctx context.Context, now int64) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Select("id", "name").
		Where("expirydate IS NOT NULL AND expirydate <= ?", now).
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SelectFilesByField returns the rows matching the given values on field
// ("id" or "name"). When ownerID is non-nil the result is additionally
// scoped to that owner; moderators pass nil to act on any upload.
// The caller is responsible for keeping len(values) under MaxSQLVars.
func (s *GORMStore) SelectFilesByField(ctx context.Context, field string, values []any, ownerID *uint) ([]*models.File, error) {
	q := s.db.WithContext(ctx).Where(field+" IN ?", values)
	if ownerID != nil {
		q = q.Where("userid = ?", *ownerID)
	}
	var files []*models.File
	if err := q.Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFilesByID removes rows by primary key in one statement.
func (s *GORMStore) DeleteFilesByID(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.File{}, "id IN ?", ids).Error
}

// TouchAlbums bumps editedAt to now on the given albums. EditedAt is
// monotonic because it is always set to the current time after the change.
func (s *GORMStore) TouchAlbums(ctx context.Context, albumIDs []uint, now int64) error {
	if len(albumIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Album{}).
		Where("id IN ?", albumIDs).
		Update("editedAt", now).Error
}

// ListFiles runs a compiled filter query against the files table.
// where/args/order come from the query compiler; every dynamic value is a
// bound parameter.
func (s *GORMStore) ListFiles(ctx context.Context, where string, args []any, order string, limit, offset int) ([]*models.File, error) {
	q := s.db.WithContext(ctx).Model(&models.File{})
	if where != "" {
		q = q.Where(where, args...)
	}
	if order != "" {
		q = q.Order(order)
	}
	var files []*models.File
	if err := q.Limit(limit).Offset(offset).Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// CountFiles counts the rows a compiled filter query would return.
func (s *GORMStore) CountFiles(ctx context.Context, where string, args []any) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.File{})
	if where != "" {
		q = q.Where(where, args...)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AlbumFiles returns all files of an album ordered by id.
func (s *GORMStore) AlbumFiles(ctx context.Context, albumID uint) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Where("albumid = ?", albumID).
		Order("id ASC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// nowUnix is swappable for tests that need deterministic timestamps.
var nowUnix = func() int64 { return time.Now().Unix() }
