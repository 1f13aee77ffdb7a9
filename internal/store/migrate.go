package store

import (
	"context"
	"fmt"
)

// migration is one declarative schema step. Steps are additive only:
// existing columns are never dropped or retyped, so any older database
// can be brought forward without data loss.
type migration struct {
	version    int
	statements []string
}

// migrations is the ordered schema history. PRAGMA user_version tracks
// which steps have been applied.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS call_records (
				id TEXT PRIMARY KEY,
				external_id TEXT NOT NULL DEFAULT '',
				contact_key TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				photo_ref TEXT NOT NULL DEFAULT '',
				direction TEXT NOT NULL DEFAULT 'unknown',
				occurred_at INTEGER NOT NULL,
				duration_seconds INTEGER NOT NULL DEFAULT 0,
				sim_id TEXT NOT NULL DEFAULT '',
				device_id TEXT NOT NULL DEFAULT '',
				note TEXT NOT NULL DEFAULT '',
				reviewed INTEGER NOT NULL DEFAULT 0,
				local_recording_path TEXT NOT NULL DEFAULT '',
				metadata_sync TEXT NOT NULL DEFAULT 'PENDING',
				recording_sync TEXT NOT NULL DEFAULT 'PENDING',
				server_updated_at INTEGER NOT NULL DEFAULT 0,
				sync_error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS contact_aggregates (
				contact_key TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				photo_ref TEXT NOT NULL DEFAULT '',
				note TEXT NOT NULL DEFAULT '',
				last_call_id TEXT NOT NULL DEFAULT '',
				last_call_direction TEXT NOT NULL DEFAULT 'unknown',
				last_call_at INTEGER NOT NULL DEFAULT 0,
				last_call_duration INTEGER NOT NULL DEFAULT 0,
				last_recording_path TEXT NOT NULL DEFAULT '',
				total_calls INTEGER NOT NULL DEFAULT 0,
				total_incoming INTEGER NOT NULL DEFAULT 0,
				total_outgoing INTEGER NOT NULL DEFAULT 0,
				total_missed INTEGER NOT NULL DEFAULT 0,
				total_duration_seconds INTEGER NOT NULL DEFAULT 0,
				needs_sync INTEGER NOT NULL DEFAULT 0,
				server_updated_at INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_records_occurred ON call_records(occurred_at)`,
			`CREATE INDEX IF NOT EXISTS idx_records_contact ON call_records(contact_key)`,
			`CREATE INDEX IF NOT EXISTS idx_records_metadata_sync
				ON call_records(metadata_sync, occurred_at)`,
			`CREATE INDEX IF NOT EXISTS idx_records_recording_sync
				ON call_records(recording_sync, metadata_sync, occurred_at)`,
		},
	},
	{
		// Per-contact exclusion flags: one suppresses sync queues, the
		// other only hides the contact from read views.
		version: 2,
		statements: []string{
			`ALTER TABLE contact_aggregates ADD COLUMN exclude_from_sync INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE contact_aggregates ADD COLUMN exclude_from_list INTEGER NOT NULL DEFAULT 0`,
		},
	},
	{
		// User-assigned contact label, synced alongside the note.
		version: 3,
		statements: []string{
			`ALTER TABLE contact_aggregates ADD COLUMN label TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// SchemaVersion is the version a fully migrated database reports.
const SchemaVersion = 3

// Migrate applies all pending schema steps. Safe to call on every open;
// a fully migrated database is a no-op.
func (db *DB) Migrate() error {
	return db.MigrateContext(context.Background())
}

// MigrateContext applies pending schema steps with context support.
// Each step runs in its own transaction and bumps user_version, so a
// crash between steps resumes cleanly.
func (db *DB) MigrateContext(ctx context.Context) error {
	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}

		// PRAGMA cannot be parameterized; version comes from the
		// static migration table above.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		current = m.version
	}

	return nil
}

// schemaVersion reads the applied schema version.
func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// MigrateTo applies schema steps up to and including the given version.
// Used by migration round-trip tests; production code calls Migrate.
func (db *DB) MigrateTo(ctx context.Context, version int) error {
	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current || m.version > version {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
