package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_users",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id               UUID         PRIMARY KEY,
				email            VARCHAR(320) NOT NULL,
				name             VARCHAR(255) NOT NULL,
				password_hash    VARCHAR(255) NOT NULL,
				upload_data_size BIGINT       NOT NULL DEFAULT 0 CHECK (upload_data_size >= 0),
				last_login_date  TIMESTAMPTZ,
				created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
		`,
	},
	{
		Version: "000002_create_session_tokens",
		SQL: `
			CREATE TABLE IF NOT EXISTS session_tokens (
				session_hash VARCHAR(64)  PRIMARY KEY,
				user_id      UUID         NOT NULL REFERENCES users(id),
				username     VARCHAR(255) NOT NULL,
				created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_session_tokens_user_id ON session_tokens(user_id);
		`,
	},
	{
		Version: "000003_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id                 UUID          PRIMARY KEY,
				user_id            UUID          NOT NULL REFERENCES users(id),
				original_file_name VARCHAR(255)  NOT NULL,
				file_name          VARCHAR(300)  NOT NULL,
				file_type          VARCHAR(16)   NOT NULL,
				file_hash          VARCHAR(64)   NOT NULL,
				file_size          BIGINT        NOT NULL,
				file_path          VARCHAR(1024) NOT NULL,
				is_active          BOOLEAN       NOT NULL DEFAULT TRUE,
				created_at         TIMESTAMPTZ   NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_files_file_path ON files(file_path);
			CREATE INDEX IF NOT EXISTS idx_files_user_active ON files(user_id, is_active, created_at DESC);
		`,
	},
	{
		Version: "000004_create_sharing",
		SQL: `
			CREATE TABLE IF NOT EXISTS sharable_links (
				id           UUID          PRIMARY KEY,
				path         VARCHAR(1024) NOT NULL,
				file_id      UUID          NOT NULL REFERENCES files(id),
				owner_id     UUID          NOT NULL REFERENCES users(id),
				published_by VARCHAR(255)  NOT NULL,
				created_at   TIMESTAMPTZ   NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_sharable_links_path ON sharable_links(path);

			CREATE TABLE IF NOT EXISTS file_downloads (
				id                 UUID         PRIMARY KEY,
				file_id            UUID         NOT NULL REFERENCES files(id),
				original_file_name VARCHAR(255) NOT NULL,
				user_id            UUID         NOT NULL REFERENCES users(id),
				created_at         TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_file_downloads_file_id ON file_downloads(file_id);
		`,
	},
	{
		Version: "000005_index_files_owner_name",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_files_user_file_name ON files(user_id, file_name);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool. connectTimeout bounds both the
// dial of every pooled connection and the initial ping.
func New(ctx context.Context, databaseURL string, connectTimeout time.Duration) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if connectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = connectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx := ctx
	if connectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
