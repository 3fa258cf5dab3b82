package database

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. UploadDataSize is the cumulative number of
// bytes the user has ever uploaded; it is never decremented.
type User struct {
	ID             uuid.UUID
	Email          string
	Name           string
	PasswordHash   string
	UploadDataSize int64
	LastLoginDate  *time.Time // nil until the first logout
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionToken ties an opaque session hash to a user.
type SessionToken struct {
	SessionHash string
	UserID      uuid.UUID
	Username    string
	CreatedAt   time.Time
}

// FileRecord is the metadata of one stored upload.
type FileRecord struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	OriginalFileName string
	FileName         string // generated storage name, unique per upload
	FileType         string // lower-cased extension without the dot
	FileHash         string // hex SHA-256 of the content
	FileSize         int64
	FilePath         string // resolved storage location
	IsActive         bool
	CreatedAt        time.Time
}

// SharableLink marks a stored file as downloadable by any authenticated user.
type SharableLink struct {
	ID          uuid.UUID
	Path        string
	FileID      uuid.UUID
	OwnerID     uuid.UUID
	PublishedBy string // display name of the publisher
	CreatedAt   time.Time
}

// DownloadRecord is an append-only audit entry for one download.
type DownloadRecord struct {
	ID               uuid.UUID
	FileID           uuid.UUID
	OriginalFileName string
	UserID           uuid.UUID
	CreatedAt        time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalUsers     int64
	ActiveFiles    int64
	TotalDownloads int64
	StorageUsed    int64
}
