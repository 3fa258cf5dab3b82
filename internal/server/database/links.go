package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateLink inserts a sharable link unless one already exists for the same
// path. It reports whether a new link was created.
func (r *Repository) CreateLink(ctx context.Context, l *SharableLink) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sharable_links (id, path, file_id, owner_id, published_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (path) DO NOTHING
	`, l.ID, l.Path, l.FileID, l.OwnerID, l.PublishedBy, l.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create link: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLinkByPath retrieves the sharable link for a storage path.
func (r *Repository) GetLinkByPath(ctx context.Context, path string) (*SharableLink, error) {
	l := &SharableLink{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, path, file_id, owner_id, published_by, created_at
		FROM sharable_links WHERE path = $1
	`, path).Scan(&l.ID, &l.Path, &l.FileID, &l.OwnerID, &l.PublishedBy, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return l, nil
}

// CreateDownload appends a download audit record.
func (r *Repository) CreateDownload(ctx context.Context, d *DownloadRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO file_downloads (id, file_id, original_file_name, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.FileID, d.OriginalFileName, d.UserID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}
