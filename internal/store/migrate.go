package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. The SQL is shared by
// the sqlite and postgres dialects.
var migrations = []migration{
	{
		Version:     1,
		Description: "message_records with source-key uniqueness",
		SQL: `
		CREATE TABLE IF NOT EXISTS message_records (
			id                  TEXT PRIMARY KEY,
			collection          TEXT NOT NULL,
			channel_id          TEXT NOT NULL,
			source_message_id   TEXT NOT NULL DEFAULT '',
			sender_id           TEXT NOT NULL DEFAULT '',
			sender_name         TEXT NOT NULL DEFAULT '',
			sender_username     TEXT,
			text                TEXT NOT NULL DEFAULT '',
			created_at          BIGINT NOT NULL,
			origin              TEXT NOT NULL,
			synced_to_source    BOOLEAN NOT NULL DEFAULT FALSE,
			source_delivered_id TEXT,
			synced_at           BIGINT,
			media_url           TEXT,
			media_type          TEXT,
			relay_path          TEXT,
			original_file_name  TEXT,
			deleted             BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at          BIGINT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_records_source_key
			ON message_records(collection, source_message_id) WHERE origin = 'source';
		CREATE INDEX IF NOT EXISTS idx_records_pending
			ON message_records(collection, origin, synced_to_source);
		CREATE INDEX IF NOT EXISTS idx_records_age
			ON message_records(collection, deleted, created_at);
		`,
	},
	{
		Version:     2,
		Description: "sync_cursors for optional cursor persistence",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_cursors (
			channel_id      TEXT PRIMARY KEY,
			last_message_id BIGINT NOT NULL,
			updated_at      BIGINT NOT NULL
		);
		`,
	},
	{
		Version:     3,
		Description: "reply ids, delivery rejections and delete propagation",
		SQL: `
		ALTER TABLE message_records ADD COLUMN reply_to_id TEXT;
		ALTER TABLE message_records ADD COLUMN rejected_at BIGINT;
		ALTER TABLE message_records ADD COLUMN reject_reason TEXT;
		ALTER TABLE message_records ADD COLUMN delete_synced BOOLEAN NOT NULL DEFAULT FALSE;
		CREATE INDEX IF NOT EXISTS idx_records_app_deletes
			ON message_records(collection, origin, deleted, delete_synced);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
// It uses a schema_version table to track which migrations have been applied.
func RunMigrations(db *sql.DB, d dialect, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  BIGINT
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
		)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
			}
		}
		if _, err := tx.Exec(d.rebind(
			"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?) ON CONFLICT (version) DO NOTHING"),
			m.Version, m.Description, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

// GetSchemaVersion returns the highest applied migration.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

// splitSQL splits a multi-statement SQL string on semicolons.
func splitSQL(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
