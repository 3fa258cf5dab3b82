package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore stores uploaded files on the local filesystem,
// one directory per user under basePath.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend. basePath is
// made absolute so that Locate yields stable, globally unique paths.
func NewFileSystemStore(basePath string) *FileSystemStore {
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	return &FileSystemStore{basePath: basePath}
}

// EnsureRoot creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureRoot(ctx context.Context) error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// EnsureUserDir creates the per-user upload directory.
func (fs *FileSystemStore) EnsureUserDir(ctx context.Context, ownerID string) error {
	if !validSegment(ownerID) {
		return ErrInvalidKey
	}
	dir := filepath.Join(fs.basePath, ownerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create user directory %s: %w", dir, err)
	}
	return nil
}

// Save writes data from a reader to a new file. Returns the number of bytes
// written. A partially written file is removed on error.
func (fs *FileSystemStore) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	if !validKey(key) {
		return 0, ErrInvalidKey
	}
	filePath := fs.Locate(key)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, ErrObjectExists
		}
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Open returns the stored file for reading.
func (fs *FileSystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	file, err := os.Open(fs.Locate(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file.
func (fs *FileSystemStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	filePath := fs.Locate(key)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Locate returns the absolute path of key on disk.
func (fs *FileSystemStore) Locate(key string) string {
	return filepath.Join(fs.basePath, filepath.FromSlash(key))
}

// Walk visits every file two levels below the root (<owner>/<name>).
func (fs *FileSystemStore) Walk(ctx context.Context, fn func(Object) error) error {
	err := filepath.WalkDir(fs.basePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(fs.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !validKey(key) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return fn(Object{Key: key, Size: info.Size(), ModTime: info.ModTime()})
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", fs.basePath, err)
	}
	return nil
}
