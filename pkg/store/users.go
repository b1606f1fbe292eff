package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/perdedora/safe/pkg/store/models"
)

// GetUser retrieves a user by username.
func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

// GetUserByID retrieves a user by primary key.
func (s *GORMStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

// GetUserByToken resolves an API token to its user. Disabled accounts do
// not authenticate.
func (s *GORMStore) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrInvalidToken
	}
	user, err := getByField[models.User](s.db, ctx, "token", token, models.ErrInvalidToken)
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, models.ErrUserDisabled
	}
	return user, nil
}

// CreateUser inserts a new user. The caller provides the password hash and
// token; Registration and Timestamp are set here. The root username is
// reserved for EnsureRootUser and rejected here.
func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) error {
	if strings.EqualFold(user.Username, models.RootUsername) {
		return models.ErrRootImmutable
	}
	return s.insertUser(ctx, user)
}

func (s *GORMStore) insertUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	now := time.Now().Unix()
	user.Registration = now
	user.Timestamp = now
	return create(s.db, ctx, user, models.ErrDuplicateUser)
}

// UpdatePassword replaces the stored password hash for a user.
func (s *GORMStore) UpdatePassword(ctx context.Context, userID uint, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("password", passwordHash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// ChangeToken issues a fresh token for the user and returns it.
func (s *GORMStore) ChangeToken(ctx context.Context, userID uint) (string, error) {
	token, err := models.GenerateToken()
	if err != nil {
		return "", err
	}
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"token":     token,
			"timestamp": time.Now().Unix(),
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", models.ErrUserNotFound
	}
	return token, nil
}

// ValidateCredentials checks a username/password pair and returns the user.
func (s *GORMStore) ValidateCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, models.ErrUserDisabled
	}
	if !user.CheckPassword(password) {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

// EnsureRootUser re-creates the root superadmin when the users table is
// empty. Returns the generated plaintext password on creation, or empty
// when root already exists or the password came from the environment.
func (s *GORMStore) EnsureRootUser(ctx context.Context) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}

	password := os.Getenv(models.EnvRootInitialPassword)
	fromEnv := password != ""
	if !fromEnv {
		var err error
		password, err = models.GeneratePassword()
		if err != nil {
			return "", err
		}
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return "", err
	}
	token, err := models.GenerateToken()
	if err != nil {
		return "", err
	}

	root := &models.User{
		Username:     models.RootUsername,
		PasswordHash: hash,
		Token:        token,
		Enabled:      true,
		Permission:   models.RankSuperadmin,
	}
	if err := s.insertUser(ctx, root); err != nil {
		return "", fmt.Errorf("failed to create root user: %w", err)
	}

	if fromEnv {
		return "", nil
	}
	return password, nil
}
