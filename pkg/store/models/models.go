// Package models defines the persistent entities of the safe file-hosting
// service: uploaded files, albums, and users. In-memory state (chunk
// sessions, the identifier on-hold set) lives with the packages that own
// it and is deliberately not modeled here.
package models

// AllModels returns all models for GORM auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Album{},
		&File{},
	}
}

// Statistics is the aggregate service snapshot served to admins. The
// counts are computed on demand and cached; SizeBytes sums every stored
// upload.
type Statistics struct {
	Users     int64 `json:"users"`
	Files     int64 `json:"files"`
	Albums    int64 `json:"albums"`
	SizeBytes int64 `json:"sizeBytes"`
}
