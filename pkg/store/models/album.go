package models

// Album groups uploads under a public identifier.
//
// Albums are soft-deleted by flipping Enabled; a hard delete removes the
// row, clears AlbumID on its files and unlinks the on-disk ZIP.
// EditedAt increases monotonically on any mutation or file-set change; a
// cached ZIP is fresh iff ZipGeneratedAt > EditedAt.
type Album struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"not null;size:255" json:"name"`
	Identifier string `gorm:"uniqueIndex;not null;size:64" json:"identifier"`
	UserID     uint   `gorm:"column:userid;index;not null" json:"userid"`
	Enabled    bool   `gorm:"default:true;index" json:"enabled"`

	// Public controls whether the album page and ZIP download are
	// reachable without authentication.
	Public   bool `gorm:"default:true" json:"public"`
	Download bool `gorm:"default:true" json:"download"`

	Description string `gorm:"size:4000" json:"description"`

	// Timestamp is the creation time in epoch seconds.
	Timestamp int64 `gorm:"not null" json:"timestamp"`

	// EditedAt is the last mutation time in epoch seconds.
	EditedAt int64 `gorm:"column:editedAt;not null" json:"editedAt"`

	// ZipGeneratedAt is when the cached ZIP was built, 0 if never.
	ZipGeneratedAt int64 `gorm:"column:zipGeneratedAt" json:"zipGeneratedAt"`
}

// TableName returns the table name for Album.
func (Album) TableName() string {
	return "albums"
}

// ZipFresh reports whether the on-disk ZIP can be served without a rebuild.
func (a *Album) ZipFresh() bool {
	return a.ZipGeneratedAt > a.EditedAt
}
