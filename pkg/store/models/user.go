package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// RootUsername is the reserved superadmin account. It is re-created on an
// empty users table and may not be renamed, disabled, or deleted through
// the API.
const RootUsername = "root"

// EnvRootInitialPassword optionally sets the root password on bootstrap
// instead of generating a random one.
const EnvRootInitialPassword = "SAFE_ROOT_PASSWORD"

// Group ranks, ordered. Higher ranks inherit the retention periods and
// moderation abilities of all lower ranks.
const (
	RankUser       = 0
	RankVIP        = 10
	RankModerator  = 20
	RankAdmin      = 30
	RankSuperadmin = 40
)

// GroupNames maps rank values to their canonical names, lowest first.
var GroupNames = []struct {
	Rank int
	Name string
}{
	{RankUser, "user"},
	{RankVIP, "vip"},
	{RankModerator, "moderator"},
	{RankAdmin, "admin"},
	{RankSuperadmin, "superadmin"},
}

// GroupName returns the canonical name of the highest group at or below rank.
func GroupName(rank int) string {
	name := "user"
	for _, g := range GroupNames {
		if rank >= g.Rank {
			name = g.Name
		}
	}
	return name
}

// GroupRank returns the rank for a canonical group name, or -1 if unknown.
func GroupRank(name string) int {
	for _, g := range GroupNames {
		if g.Name == name {
			return g.Rank
		}
	}
	return -1
}

// User represents an account that can upload and manage files.
//
// Authentication on the API is by the opaque Token value, not the
// password; the password is only exchanged for a token on login.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string `gorm:"column:password;not null" json:"-"`
	Token        string `gorm:"uniqueIndex;not null;size:64" json:"-"`
	Enabled      bool   `gorm:"default:true" json:"enabled"`

	// Permission is the group rank (RankUser .. RankSuperadmin).
	Permission int `gorm:"default:0" json:"permission"`

	// Timestamp is the token issue time in epoch seconds.
	Timestamp int64 `json:"timestamp"`

	// Registration is the account creation time in epoch seconds.
	Registration int64 `json:"registration"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Group returns the canonical group name for the user's permission rank.
func (u *User) Group() string {
	return GroupName(u.Permission)
}

// IsModerator reports whether the user may act on other users' uploads.
func (u *User) IsModerator() bool {
	return u.Permission >= RankModerator
}

// IsAdmin reports whether the user may manage accounts.
func (u *User) IsAdmin() bool {
	return u.Permission >= RankAdmin
}

// IsRoot reports whether this is the reserved root account.
func (u *User) IsRoot() bool {
	return u.Username == RootUsername
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Permission < RankUser || u.Permission > RankSuperadmin {
		return fmt.Errorf("invalid permission rank %d", u.Permission)
	}
	return nil
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// GenerateToken returns a new 64-character opaque API token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GeneratePassword returns a random 16-character hex password for the
// bootstrapped root account.
func GeneratePassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
