package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fileshare/internal/server/database"
)

// FileSummary is one row of a user's file listing.
type FileSummary struct {
	OriginalFileName string    `json:"original_file_name"`
	FileName         string    `json:"file_name"`
	Size             string    `json:"size"`
	Bytes            int64     `json:"bytes"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Registry is the catalog of users' active files.
type Registry struct {
	files   FileStore
	timeout time.Duration
}

// NewRegistry creates a new registry.
func NewRegistry(files FileStore, timeout time.Duration) *Registry {
	return &Registry{files: files, timeout: timeout}
}

// ListActive returns the user's active files, newest first.
func (r *Registry) ListActive(ctx context.Context, userID uuid.UUID) ([]FileSummary, error) {
	dbCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.files.ListActiveFiles(dbCtx, userID)
	if err != nil {
		return nil, unavailable(err)
	}

	summaries := make([]FileSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, FileSummary{
			OriginalFileName: rec.OriginalFileName,
			FileName:         rec.FileName,
			Size:             FormatSize(rec.FileSize),
			Bytes:            rec.FileSize,
			UploadedAt:       rec.CreatedAt,
		})
	}
	return summaries, nil
}

// SoftDelete marks the user's active file inactive. It reports whether a
// record changed; deleting an already deleted or foreign file changes
// nothing and is not an error. Stored bytes and quota usage are kept.
func (r *Registry) SoftDelete(ctx context.Context, userID uuid.UUID, storageName string) (bool, error) {
	dbCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	changed, err := r.files.DeactivateFile(dbCtx, userID, storageName)
	if err != nil {
		return false, unavailable(err)
	}
	if changed {
		slog.Info("file deleted", "user_id", userID, "storage_name", storageName)
	}
	return changed, nil
}

// Stats returns aggregate server statistics.
func (r *Registry) Stats(ctx context.Context) (*database.Stats, error) {
	dbCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	stats, err := r.files.GetStats(dbCtx)
	if err != nil {
		return nil, unavailable(err)
	}
	return stats, nil
}

var sizeUnits = [...]string{"B", "KB", "MB"}

// FormatSize renders a byte count as B, KB or MB. Each promotion divides by
// 1024 and rounds to one decimal; MB is the largest unit.
func FormatSize(n int64) string {
	if n <= 1024 {
		return strconv.FormatInt(n, 10) + sizeUnits[0]
	}

	size := float64(n)
	unit := 0
	for unit < len(sizeUnits)-1 && size > 1024 {
		size = math.Round(size/1024*10) / 10
		unit++
	}
	return fmt.Sprintf("%.1f%s", size, sizeUnits[unit])
}
