package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fileshare/internal/server/database"
)

// UserStore is the identity part of the persistent store.
type UserStore interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*database.User, error)
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
	AddUploadedBytes(ctx context.Context, id uuid.UUID, n, limit int64) (int64, bool, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, s *database.SessionToken) error
	GetSession(ctx context.Context, hash string) (*database.SessionToken, error)
	DeleteSession(ctx context.Context, hash string) error
}

// FileStore persists file records.
type FileStore interface {
	CreateFile(ctx context.Context, f *database.FileRecord) error
	ListActiveFiles(ctx context.Context, userID uuid.UUID) ([]*database.FileRecord, error)
	GetActiveFile(ctx context.Context, userID uuid.UUID, fileName string) (*database.FileRecord, error)
	GetFileByPath(ctx context.Context, path string) (*database.FileRecord, error)
	DeactivateFile(ctx context.Context, userID uuid.UUID, fileName string) (bool, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// LinkStore persists sharable links and the download audit trail.
type LinkStore interface {
	CreateLink(ctx context.Context, l *database.SharableLink) (bool, error)
	GetLinkByPath(ctx context.Context, path string) (*database.SharableLink, error)
	CreateDownload(ctx context.Context, d *database.DownloadRecord) error
}

// Repository is everything the services need from the persistent store.
// *database.Repository implements it.
type Repository interface {
	UserStore
	SessionStore
	FileStore
	LinkStore
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Repository = (*database.Repository)(nil)

// withTimeout bounds a group of store calls.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
