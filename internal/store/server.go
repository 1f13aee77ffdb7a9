package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// ApplyServerRecord applies a server-side edit to a record under
// last-writer-wins: the write lands only when the server's timestamp is
// newer than the last one this store has seen for the record. A record
// the store has never heard of is created in full, already SYNCED; an
// existing record converges to SYNCED with its sync error cleared.
// Returns whether anything was written.
func (db *DB) ApplyServerRecord(ctx context.Context, r *callrec.Record, serverTime int64) (bool, error) {
	var applied bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT server_updated_at FROM call_records WHERE id = ?`, r.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return db.insertServerRecord(ctx, tx, r, serverTime, &applied)
		}
		if err != nil {
			return fmt.Errorf("failed to read record %s: %w", r.ID, err)
		}

		// Stale or duplicate delivery; the local state is newer.
		if serverTime <= current {
			return nil
		}

		// Only the user-editable and caller-identity fields belong to
		// the server; call facts and the recording machine stay local.
		// The server's version is now the converged one, so the record
		// lands SYNCED whatever the push pipeline had it at, and any
		// stale push error is cleared.
		res, err := tx.ExecContext(ctx, `
			UPDATE call_records SET
				note = ?, reviewed = ?, display_name = ?, photo_ref = ?,
				metadata_sync = ?, sync_error = '',
				server_updated_at = ?, updated_at = ?
			WHERE id = ? AND server_updated_at < ?`,
			r.Note, boolToInt(r.Reviewed), r.DisplayName, r.PhotoRef,
			string(callrec.MetadataSynced),
			serverTime, nowMillis(), r.ID, serverTime)
		if err != nil {
			return fmt.Errorf("failed to apply server update to %s: %w", r.ID, err)
		}
		n, _ := res.RowsAffected()
		applied = n > 0
		return nil
	})
	return applied, err
}

func (db *DB) insertServerRecord(ctx context.Context, tx *sql.Tx, r *callrec.Record, serverTime int64, applied *bool) error {
	r.MetadataSync = callrec.MetadataSynced
	r.ServerUpdatedAt = serverTime
	r.SetDefaults()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid server record %s: %w", r.ID, err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO call_records (
			id, external_id, contact_key, display_name, photo_ref,
			direction, occurred_at, duration_seconds, sim_id, device_id,
			note, reviewed, local_recording_path,
			metadata_sync, recording_sync, server_updated_at, sync_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ExternalID, r.ContactKey, r.DisplayName, r.PhotoRef,
		string(r.Direction), r.OccurredAt, r.DurationSeconds, r.SimID, r.DeviceID,
		r.Note, boolToInt(r.Reviewed), r.LocalRecordingPath,
		string(r.MetadataSync), string(r.RecordingSync), r.ServerUpdatedAt, r.SyncError,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create server record %s: %w", r.ID, err)
	}
	*applied = true
	return nil
}

// ApplyServerContact applies a server-side contact edit under
// last-writer-wins. Nil fields were not touched on the server and keep
// their local value. The aggregate is created lazily for a contact this
// device has never called; on an existing one the outbound needs_sync
// flag is cleared, the server edit having superseded the queued push.
func (db *DB) ApplyServerContact(ctx context.Context, contactKey string, name, note, label *string, serverTime int64) (bool, error) {
	var applied bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT server_updated_at FROM contact_aggregates WHERE contact_key = ?`,
			contactKey).Scan(&current)
		switch {
		case err == sql.ErrNoRows:
			exists = false
		case err != nil:
			return fmt.Errorf("failed to read contact %s: %w", contactKey, err)
		default:
			exists = true
		}

		if exists && serverTime <= current {
			return nil
		}

		now := nowMillis()
		if !exists {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO contact_aggregates (contact_key, name, note, label, server_updated_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				contactKey, strOrEmpty(name), strOrEmpty(note), strOrEmpty(label),
				serverTime, now, now)
			if err != nil {
				return fmt.Errorf("failed to create server contact %s: %w", contactKey, err)
			}
			applied = true
			return nil
		}

		// A landed server update supersedes any outbound edit still
		// queued for this contact, so the needs_sync flag comes off.
		res, err := tx.ExecContext(ctx, `
			UPDATE contact_aggregates SET
				name = COALESCE(?, name),
				note = COALESCE(?, note),
				label = COALESCE(?, label),
				needs_sync = 0,
				server_updated_at = ?, updated_at = ?
			WHERE contact_key = ? AND server_updated_at < ?`,
			name, note, label, serverTime, now, contactKey, serverTime)
		if err != nil {
			return fmt.Errorf("failed to apply server update to contact %s: %w", contactKey, err)
		}
		n, _ := res.RowsAffected()
		applied = n > 0
		return nil
	})
	return applied, err
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
