package models

import (
	"path"
	"strings"
)

// File represents a committed upload.
//
// A row exists only after the bytes are fully persisted on disk and the
// scan (when enabled) has passed. Name carries the public identifier plus
// extension and is globally unique. Hash is the lowercase hex BLAKE3
// digest of the content, or empty when hashing is disabled.
type File struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Original string `gorm:"size:255" json:"original"`
	Type     string `gorm:"size:255" json:"type"`
	Size     int64  `gorm:"not null" json:"size"`
	Hash     string `gorm:"index:idx_files_dedup;size:64" json:"hash"`

	// IP is the uploader address, nil when IP logging is disabled.
	IP *string `gorm:"size:45" json:"ip,omitempty"`

	// UserID is nil for anonymous uploads.
	UserID *uint `gorm:"column:userid;index:idx_files_dedup" json:"userid,omitempty"`

	// AlbumID is nil when the file does not belong to an album. When an
	// album is hard-deleted this is cleared, not cascaded.
	AlbumID *uint `gorm:"column:albumid;index" json:"albumid,omitempty"`

	// Timestamp is the commit time in epoch seconds.
	Timestamp int64 `gorm:"not null" json:"timestamp"`

	// ExpiryDate is the expiry in epoch seconds; nil means permanent.
	ExpiryDate *int64 `gorm:"column:expirydate;index" json:"expirydate,omitempty"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// Extension returns the file extension including the leading dot,
// honoring common double extensions such as .tar.gz.
func (f *File) Extension() string {
	return ExtensionOf(f.Name)
}

// Identifier returns the public identifier (name without extension).
func (f *File) Identifier() string {
	return strings.TrimSuffix(f.Name, f.Extension())
}

// Expired reports whether the file is past its expiry at the given
// epoch-second instant. Permanent files never expire.
func (f *File) Expired(now int64) bool {
	return f.ExpiryDate != nil && *f.ExpiryDate <= now
}

// doubleExtensions are suffixes treated as part of a compound extension.
var doubleExtensions = []string{".tar"}

// ExtensionOf returns the extension of name including the leading dot.
// Compound extensions keep their archive part: "x.tar.gz" -> ".tar.gz".
func ExtensionOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	base := strings.TrimSuffix(name, ext)
	for _, d := range doubleExtensions {
		if strings.HasSuffix(strings.ToLower(base), d) {
			return base[len(base)-len(d):] + ext
		}
	}
	return ext
}
