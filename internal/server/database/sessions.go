package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateSession inserts a session token.
func (r *Repository) CreateSession(ctx context.Context, s *SessionToken) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO session_tokens (session_hash, user_id, username, created_at)
		VALUES ($1, $2, $3, $4)
	`, s.SessionHash, s.UserID, s.Username, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession looks a session up by its hash.
func (r *Repository) GetSession(ctx context.Context, hash string) (*SessionToken, error) {
	s := &SessionToken{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT session_hash, user_id, username, created_at
		FROM session_tokens WHERE session_hash = $1
	`, hash).Scan(&s.SessionHash, &s.UserID, &s.Username, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// DeleteSession removes a session token.
func (r *Repository) DeleteSession(ctx context.Context, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, "DELETE FROM session_tokens WHERE session_hash = $1", hash)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
