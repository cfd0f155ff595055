package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/hrauth/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

func (m Migration) statement(d Dialect) string {
	if d.Name == Postgres.Name {
		return m.Postgres
	}
	return m.SQLite
}

// Migrations returns the credential schema in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					uuid UUID NOT NULL UNIQUE,
					username VARCHAR(150) NOT NULL,
					email VARCHAR(254) NOT NULL,
					password_hash VARCHAR(255) NOT NULL,
					first_name VARCHAR(150) NOT NULL DEFAULT '',
					last_name VARCHAR(150) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
					failed_login_attempts INT NOT NULL DEFAULT 0,
					locked_until TIMESTAMPTZ,
					last_login_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT users_username_key UNIQUE (username),
					CONSTRAINT users_email_key UNIQUE (email)
				);

				CREATE INDEX IF NOT EXISTS idx_users_locked_until ON users(locked_until) WHERE locked_until IS NOT NULL;
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					uuid TEXT NOT NULL UNIQUE,
					username TEXT NOT NULL UNIQUE,
					email TEXT NOT NULL UNIQUE,
					password_hash TEXT NOT NULL,
					first_name TEXT NOT NULL DEFAULT '',
					last_name TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					is_superuser BOOLEAN NOT NULL DEFAULT 0,
					failed_login_attempts INTEGER NOT NULL DEFAULT 0,
					locked_until TIMESTAMP,
					last_login_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_users_locked_until ON users(locked_until);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and user_roles tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT roles_name_key UNIQUE (name)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at TIMESTAMP NOT NULL,
					granted_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
					PRIMARY KEY (user_id, role_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create api_keys table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					key_hash VARCHAR(255) NOT NULL,
					key_prefix VARCHAR(32) NOT NULL,
					name VARCHAR(100) NOT NULL,
					scopes JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
				CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					key_hash TEXT NOT NULL,
					key_prefix TEXT NOT NULL,
					name TEXT NOT NULL,
					scopes TEXT NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
				CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id);
			`,
		},
	}
}

// Migrate applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.statement(d)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			d.rebind("INSERT INTO schema_migrations (version, description) VALUES (?, ?)"),
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		}).Info("applied migration")
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
