package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apversus/sauai/internal/logging"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Timestamps are
// stored as unix milliseconds.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create users",
		SQL: `
			CREATE TABLE users (
				username          TEXT PRIMARY KEY,
				platform_user_id  INTEGER,
				first_name        TEXT NOT NULL DEFAULT '',
				last_name         TEXT NOT NULL DEFAULT '',
				language_code     TEXT NOT NULL DEFAULT '',
				is_premium        INTEGER NOT NULL DEFAULT 0,
				email             TEXT NOT NULL DEFAULT '',
				personal_name     TEXT NOT NULL DEFAULT '',
				age               INTEGER,
				needs             TEXT NOT NULL DEFAULT '',
				favorite_topics   TEXT NOT NULL DEFAULT '[]',
				message_count     INTEGER NOT NULL DEFAULT 0,
				first_seen        INTEGER NOT NULL,
				last_seen         INTEGER NOT NULL
			);

			CREATE INDEX idx_users_platform ON users (platform_user_id);
			CREATE INDEX idx_users_last_seen ON users (last_seen);
		`,
	},
	{
		Version: 2,
		Name:    "create sessions and conversation messages",
		SQL: `
			CREATE TABLE sessions (
				session_id     TEXT PRIMARY KEY,
				username       TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
				created_at     INTEGER NOT NULL,
				last_activity  INTEGER NOT NULL,
				preferences    TEXT NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_sessions_user_activity ON sessions (username, last_activity);

			CREATE TABLE conversation_messages (
				message_id  INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
				created_at  INTEGER NOT NULL,
				content     TEXT NOT NULL,
				is_user     INTEGER NOT NULL
			);

			CREATE INDEX idx_messages_session ON conversation_messages (session_id, created_at, message_id);
		`,
	},
}

// migrate applies pending migrations, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB, log *logging.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
