package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/perdedora/safe/pkg/store/models"
)

// GetAlbumByIdentifier retrieves an enabled album by its public identifier.
func (s *GORMStore) GetAlbumByIdentifier(ctx context.Context, identifier string) (*models.Album, error) {
	var album models.Album
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND enabled = ?", identifier, true).
		First(&album).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrAlbumNotFound)
	}
	return &album, nil
}

// GetAlbumByID retrieves an album by primary key, enabled or not.
func (s *GORMStore) GetAlbumByID(ctx context.Context, id uint) (*models.Album, error) {
	return getByField[models.Album](s.db, ctx, "id", id, models.ErrAlbumNotFound)
}

// GetUserAlbum retrieves an enabled album owned by the given user.
func (s *GORMStore) GetUserAlbum(ctx context.Context, id uint, userID uint) (*models.Album, error) {
	var album models.Album
	err := s.db.WithContext(ctx).
		Where("id = ? AND userid = ? AND enabled = ?", id, userID, true).
		First(&album).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrAlbumNotFound)
	}
	return &album, nil
}

// ListUserAlbums returns the enabled albums owned by a user, newest first.
func (s *GORMStore) ListUserAlbums(ctx context.Context, userID uint) ([]*models.Album, error) {
	var albums []*models.Album
	err := s.db.WithContext(ctx).
		Where("userid = ? AND enabled = ?", userID, true).
		Order("id DESC").
		Find(&albums).Error
	if err != nil {
		return nil, err
	}
	return albums, nil
}

// AlbumIdentifierInUse reports whether an album already claims the identifier.
func (s *GORMStore) AlbumIdentifierInUse(ctx context.Context, identifier string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Album{}).
		Where("identifier = ?", identifier).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// albumNameTaken checks the per-(owner, enabled) name uniqueness invariant.
func albumNameTaken(tx *gorm.DB, userID uint, name string, excludeID uint) (bool, error) {
	var count int64
	q := tx.Model(&models.Album{}).
		Where("userid = ? AND name = ? AND enabled = ?", userID, name, true)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAlbum inserts a new album, enforcing name uniqueness among the
// owner's enabled albums.
func (s *GORMStore) CreateAlbum(ctx context.Context, album *models.Album) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := albumNameTaken(tx, album.UserID, album.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return models.ErrDuplicateAlbum
		}
		now := time.Now().Unix()
		album.Enabled = true
		album.Timestamp = now
		album.EditedAt = now
		if err := tx.Create(album).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateAlbum
			}
			return err
		}
		return nil
	})
}

// UpdateAlbum applies an edit to an owned album and bumps editedAt.
func (s *GORMStore) UpdateAlbum(ctx context.Context, album *models.Album) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Album
		if err := tx.Where("id = ? AND userid = ? AND enabled = ?",
			album.ID, album.UserID, true).First(&existing).Error; err != nil {
			return convertNotFoundError(err, models.ErrAlbumNotFound)
		}
		taken, err := albumNameTaken(tx, album.UserID, album.Name, album.ID)
		if err != nil {
			return err
		}
		if taken {
			return models.ErrDuplicateAlbum
		}
		return tx.Model(&existing).Updates(map[string]any{
			"name":        album.Name,
			"description": album.Description,
			"public":      album.Public,
			"download":    album.Download,
			"editedAt":    time.Now().Unix(),
		}).Error
	})
}

// DisableAlbum soft-deletes an owned album. Files keep their albumid; the
// album simply stops being reachable.
func (s *GORMStore) DisableAlbum(ctx context.Context, id uint, userID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.Album{}).
		Where("id = ? AND userid = ? AND enabled = ?", id, userID, true).
		Updates(map[string]any{
			"enabled":  false,
			"editedAt": time.Now().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrAlbumNotFound
	}
	return nil
}

// DeleteAlbum hard-deletes an owned album row and clears albumid on its
// files. On-disk cleanup (the cached ZIP) is the caller's job.
func (s *GORMStore) DeleteAlbum(ctx context.Context, id uint, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var album models.Album
		if err := tx.Where("id = ? AND userid = ?", id, userID).First(&album).Error; err != nil {
			return convertNotFoundError(err, models.ErrAlbumNotFound)
		}
		if err := tx.Model(&models.File{}).
			Where("albumid = ?", id).
			Update("albumid", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&album).Error
	})
}

// AddFilesToAlbum assigns the caller's files to an owned album and bumps
// editedAt. Files not owned by the caller are skipped; the count of
// assigned rows is returned.
func (s *GORMStore) AddFilesToAlbum(ctx context.Context, albumID uint, fileIDs []uint, userID uint) (int64, error) {
	var assigned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var album models.Album
		if err := tx.Where("id = ? AND userid = ? AND enabled = ?",
			albumID, userID, true).First(&album).Error; err != nil {
			return convertNotFoundError(err, models.ErrAlbumNotFound)
		}
		result := tx.Model(&models.File{}).
			Where("id IN ? AND userid = ?", fileIDs, userID).
			Update("albumid", albumID)
		if result.Error != nil {
			return result.Error
		}
		assigned = result.RowsAffected
		if assigned > 0 {
			return tx.Model(&album).Update("editedAt", time.Now().Unix()).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// SetZipGeneratedAt records a successful ZIP build instant.
func (s *GORMStore) SetZipGeneratedAt(ctx context.Context, albumID uint, ts int64) error {
	return s.db.WithContext(ctx).
		Model(&models.Album{}).
		Where("id = ?", albumID).
		Update("zipGeneratedAt", ts).Error
}
