package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, password_hash, upload_data_size,
	last_login_date, created_at, updated_at`

// CreateUser inserts a new user. Returns ErrDuplicate if the email is taken.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.UploadDataSize,
		user.LastLoginDate,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by (lower-cased) email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// TouchLastLogin stamps the user's last_login_date with the current time.
func (r *Repository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		"UPDATE users SET last_login_date = NOW(), updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUploadedBytes atomically adds n to the user's upload counter, but only
// if the resulting total stays strictly below limit. It returns the new total
// and whether the increment was applied.
func (r *Repository) AddUploadedBytes(ctx context.Context, id uuid.UUID, n, limit int64) (int64, bool, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users
		SET upload_data_size = upload_data_size + $2, updated_at = NOW()
		WHERE id = $1 AND upload_data_size + $2 < $3
		RETURNING upload_data_size
	`, id, n, limit).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to add uploaded bytes: %w", err)
	}
	return total, true, nil
}

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.UploadDataSize,
		&user.LastLoginDate,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
