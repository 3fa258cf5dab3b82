package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fileshare/internal/server/database"
)

// Ledger enforces the per-user upload quota. Totals only grow: deleting a
// file does not give its bytes back.
type Ledger struct {
	users UserStore
	limit int64
}

// NewLedger creates a ledger with the given per-user cap in bytes.
func NewLedger(users UserStore, limit int64) *Ledger {
	return &Ledger{users: users, limit: limit}
}

// Limit returns the per-user cap.
func (l *Ledger) Limit() int64 {
	return l.limit
}

// Check returns the total the user would reach by adding n bytes, or
// ErrQuotaExceeded if that total reaches the cap. It changes nothing.
func (l *Ledger) Check(ctx context.Context, userID uuid.UUID, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size", ErrValidation)
	}

	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, ErrAuthentication
		}
		return 0, err
	}

	total := user.UploadDataSize + n
	if total >= l.limit {
		return user.UploadDataSize, ErrQuotaExceeded
	}
	return total, nil
}

// Reserve adds n bytes to the user's total in a single conditional update
// and returns the new total. Concurrent reservations can never push a user
// to or past the cap.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size", ErrValidation)
	}

	total, applied, err := l.users.AddUploadedBytes(ctx, userID, n, l.limit)
	if err != nil {
		return 0, commitFailure(err)
	}
	if !applied {
		return 0, ErrQuotaExceeded
	}
	return total, nil
}

// Usage returns the user's committed upload total.
func (l *Ledger) Usage(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, ErrAuthentication
		}
		return 0, unavailable(err)
	}
	return user.UploadDataSize, nil
}
