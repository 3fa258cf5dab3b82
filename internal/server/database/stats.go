package database

import (
	"context"
	"fmt"
)

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM files WHERE is_active),
			(SELECT COUNT(*) FROM file_downloads),
			(SELECT COALESCE(SUM(file_size), 0) FROM files)
	`).Scan(
		&stats.TotalUsers,
		&stats.ActiveFiles,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
