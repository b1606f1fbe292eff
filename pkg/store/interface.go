package store

import (
	"context"

	"github.com/perdedora/safe/pkg/store/models"
)

// Per-concern interfaces let the pipeline packages depend on exactly the
// store surface they exercise; GORMStore implements all of them.

// UserStore is the surface needed by authentication and account routes.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID uint, passwordHash string) error
	ChangeToken(ctx context.Context, userID uint) (string, error)
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
	EnsureRootUser(ctx context.Context) (string, error)
}

// FileStore is the surface needed by the ingest pipeline and list routes.
type FileStore interface {
	GetFileByName(ctx context.Context, name string) (*models.File, error)
	GetFileByID(ctx context.Context, id uint) (*models.File, error)
	FileIdentifierInUse(ctx context.Context, identifier string) (bool, error)
	FindDuplicate(ctx context.Context, userID *uint, hash string, size int64) (*models.File, error)
	CommitFiles(ctx context.Context, files []*models.File) ([]CommitResult, []uint, error)
	ListFiles(ctx context.Context, where string, args []any, order string, limit, offset int) ([]*models.File, error)
	CountFiles(ctx context.Context, where string, args []any) (int64, error)
	AlbumFiles(ctx context.Context, albumID uint) ([]*models.File, error)
}

// DeletionStore is the surface needed by the bulk deleter and sweeper.
type DeletionStore interface {
	ListExpired(ctx context.Context, now int64) ([]*models.File, error)
	SelectFilesByField(ctx context.Context, field string, values []any, ownerID *uint) ([]*models.File, error)
	DeleteFilesByID(ctx context.Context, ids []uint) error
	TouchAlbums(ctx context.Context, albumIDs []uint, now int64) error
}

// AlbumStore is the surface needed by album routes and the ZIP generator.
type AlbumStore interface {
	GetAlbumByIdentifier(ctx context.Context, identifier string) (*models.Album, error)
	GetAlbumByID(ctx context.Context, id uint) (*models.Album, error)
	GetUserAlbum(ctx context.Context, id uint, userID uint) (*models.Album, error)
	ListUserAlbums(ctx context.Context, userID uint) ([]*models.Album, error)
	AlbumIdentifierInUse(ctx context.Context, identifier string) (bool, error)
	CreateAlbum(ctx context.Context, album *models.Album) error
	UpdateAlbum(ctx context.Context, album *models.Album) error
	DisableAlbum(ctx context.Context, id uint, userID uint) error
	DeleteAlbum(ctx context.Context, id uint, userID uint) error
	AddFilesToAlbum(ctx context.Context, albumID uint, fileIDs []uint, userID uint) (int64, error)
	SetZipGeneratedAt(ctx context.Context, albumID uint, ts int64) error
	AlbumFiles(ctx context.Context, albumID uint) ([]*models.File, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	FileStore
	DeletionStore
	AlbumStore

	// Statistics computes the aggregate service snapshot.
	Statistics(ctx context.Context) (*models.Statistics, error)
}

var _ Store = (*GORMStore)(nil)
