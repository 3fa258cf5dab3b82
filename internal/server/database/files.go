package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const fileColumns = `id, user_id, original_file_name, file_name, file_type,
	file_hash, file_size, file_path, is_active, created_at`

// CreateFile inserts a file record. Returns ErrDuplicate if the storage path
// is already recorded.
func (r *Repository) CreateFile(ctx context.Context, f *FileRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		f.ID,
		f.UserID,
		f.OriginalFileName,
		f.FileName,
		f.FileType,
		f.FileHash,
		f.FileSize,
		f.FilePath,
		f.IsActive,
		f.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// ListActiveFiles returns the user's active files, newest first.
func (r *Repository) ListActiveFiles(ctx context.Context, userID uuid.UUID) ([]*FileRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+fileColumns+`
		FROM files WHERE user_id = $1 AND is_active
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetActiveFile retrieves an active file by owner and storage name.
func (r *Repository) GetActiveFile(ctx context.Context, userID uuid.UUID, fileName string) (*FileRecord, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+fileColumns+`
		FROM files WHERE user_id = $1 AND file_name = $2 AND is_active
	`, userID, fileName)
	return scanFile(row)
}

// GetFileByPath retrieves a file by storage path regardless of its active flag.
func (r *Repository) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE file_path = $1`, path)
	return scanFile(row)
}

// FileExists reports whether any record, active or not, owns the storage
// name in the user's namespace.
func (r *Repository) FileExists(ctx context.Context, userID uuid.UUID, fileName string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE user_id = $1 AND file_name = $2)",
		userID, fileName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	return exists, nil
}

// DeactivateFile clears the active flag of the user's file. It reports false
// when no active file of that user has the given name.
func (r *Repository) DeactivateFile(ctx context.Context, userID uuid.UUID, fileName string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE files SET is_active = FALSE
		WHERE user_id = $1 AND file_name = $2 AND is_active
	`, userID, fileName)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate file: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanFile(row pgx.Row) (*FileRecord, error) {
	f := &FileRecord{}
	err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.OriginalFileName,
		&f.FileName,
		&f.FileType,
		&f.FileHash,
		&f.FileSize,
		&f.FilePath,
		&f.IsActive,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	return f, nil
}
