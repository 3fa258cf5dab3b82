package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectExists   = errors.New("object already exists")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Object describes one stored blob.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store defines the interface for file storage backends.
// Keys have the form "<ownerID>/<storageName>".
type Store interface {
	// EnsureRoot prepares the backend (root directory or bucket).
	EnsureRoot(ctx context.Context) error
	// EnsureUserDir prepares the namespace of one user.
	EnsureUserDir(ctx context.Context, ownerID string) error
	// Save writes data under key. It never overwrites: an existing key
	// yields ErrObjectExists.
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	// Open returns the content stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Locate resolves key to the backend-wide unique location that file
	// records and sharable links are keyed by.
	Locate(key string) string
	// Walk calls fn for every stored object.
	Walk(ctx context.Context, fn func(Object) error) error
}

// Key builds the storage key of a user's file.
func Key(ownerID, storageName string) string {
	return ownerID + "/" + storageName
}

// validKey accepts exactly "<owner>/<name>" with no traversal.
func validKey(key string) bool {
	owner, name, ok := strings.Cut(key, "/")
	return ok && validSegment(owner) && validSegment(name)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
