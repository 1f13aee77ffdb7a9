package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// recordColumns is the canonical column list for call_records scans.
const recordColumns = `id, external_id, contact_key, display_name, photo_ref,
	direction, occurred_at, duration_seconds, sim_id, device_id,
	note, reviewed, local_recording_path,
	metadata_sync, recording_sync, server_updated_at, sync_error,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*callrec.Record, error) {
	var r callrec.Record
	var direction, metaSync, recSync string
	var reviewed int

	err := row.Scan(
		&r.ID, &r.ExternalID, &r.ContactKey, &r.DisplayName, &r.PhotoRef,
		&direction, &r.OccurredAt, &r.DurationSeconds, &r.SimID, &r.DeviceID,
		&r.Note, &reviewed, &r.LocalRecordingPath,
		&metaSync, &recSync, &r.ServerUpdatedAt, &r.SyncError,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Direction = callrec.ParseDirection(direction)
	r.MetadataSync = callrec.ParseMetadataSyncStatus(metaSync)
	r.RecordingSync = callrec.ParseRecordingSyncStatus(recSync)
	r.Reviewed = reviewed != 0
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*callrec.Record, error) {
	var records []*callrec.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// InsertRecords batch-inserts new records in one transaction. Rows that
// fail validation are skipped rather than aborting the batch; the
// returned count is the number of rows written. Insertion uses
// OR IGNORE on the primary key, so retrying after a partial failure is
// safe and idempotent.
func (db *DB) InsertRecords(ctx context.Context, records []*callrec.Record) (int, []error, error) {
	if len(records) == 0 {
		return 0, nil, nil
	}

	var inserted int
	var rowErrs []error

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO call_records (
				id, external_id, contact_key, display_name, photo_ref,
				direction, occurred_at, duration_seconds, sim_id, device_id,
				note, reviewed, local_recording_path,
				metadata_sync, recording_sync, server_updated_at, sync_error,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			r.SetDefaults()
			if err := r.Validate(); err != nil {
				rowErrs = append(rowErrs, fmt.Errorf("record %s: %w", r.ID, err))
				continue
			}

			res, err := stmt.ExecContext(ctx,
				r.ID, r.ExternalID, r.ContactKey, r.DisplayName, r.PhotoRef,
				string(r.Direction), r.OccurredAt, r.DurationSeconds, r.SimID, r.DeviceID,
				r.Note, boolToInt(r.Reviewed), r.LocalRecordingPath,
				string(r.MetadataSync), string(r.RecordingSync), r.ServerUpdatedAt, r.SyncError,
				r.CreatedAt, r.UpdatedAt,
			)
			if err != nil {
				rowErrs = append(rowErrs, fmt.Errorf("record %s: %w", r.ID, err))
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return inserted, rowErrs, nil
}

// GetRecord retrieves a record by composite id.
// Returns ErrNotFound if it doesn't exist.
func (db *DB) GetRecord(ctx context.Context, id string) (*callrec.Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM call_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return r, nil
}

// RecordsForContact returns all records sharing a contact key, newest
// first.
func (db *DB) RecordsForContact(ctx context.Context, contactKey string) ([]*callrec.Record, error) {
	return recordsForContact(ctx, db.conn, contactKey)
}

func recordsForContact(ctx context.Context, q querier, contactKey string) ([]*callrec.Record, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM call_records WHERE contact_key = ? ORDER BY occurred_at DESC`,
		contactKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", contactKey, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MaxOccurredAt returns the timestamp of the most recent known call, or
// 0 when the store is empty. Ingestion uses this to compute its safety
// rewind window.
func (db *DB) MaxOccurredAt(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(occurred_at) FROM call_records`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to query max occurred_at: %w", err)
	}
	return v.Int64, nil
}

// IDsSince returns the composite ids of all records at or after the
// given timestamp, for ingestion dedup.
func (db *DB) IDsSince(ctx context.Context, since int64) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM call_records WHERE occurred_at >= ?`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// DeleteBefore removes records older than the tracking-start boundary.
// It returns the distinct contact keys that lost records, so the caller
// can recompute their aggregates, and the number of rows deleted.
func (db *DB) DeleteBefore(ctx context.Context, boundary int64) ([]string, int64, error) {
	var keys []string
	var deleted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT contact_key FROM call_records WHERE occurred_at < ?`, boundary)
		if err != nil {
			return fmt.Errorf("failed to query affected contacts: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan contact key: %w", err)
			}
			keys = append(keys, k)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		res, err := tx.ExecContext(ctx,
			`DELETE FROM call_records WHERE occurred_at < ?`, boundary)
		if err != nil {
			return fmt.Errorf("failed to delete records before boundary: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return keys, deleted, nil
}

// UpdateNote stores a user edit to the call note. The edit always
// succeeds locally; if the record was already synced it moves to
// UPDATE_PENDING so the change propagates outbound.
func (db *DB) UpdateNote(ctx context.Context, id, note string) error {
	return db.markEdited(ctx, id, `note = ?`, note)
}

// UpdateReviewed stores a user edit to the reviewed flag.
func (db *DB) UpdateReviewed(ctx context.Context, id string, reviewed bool) error {
	return db.markEdited(ctx, id, `reviewed = ?`, boolToInt(reviewed))
}

// markEdited applies a single-field user edit and flips a SYNCED record
// to UPDATE_PENDING in the same transaction. Records still PENDING or
// FAILED keep their state; the pending push picks up the new value.
func (db *DB) markEdited(ctx context.Context, id, setClause string, value any) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE call_records SET `+setClause+`, updated_at = ? WHERE id = ?`,
			value, nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to update record %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET metadata_sync = ? WHERE id = ? AND metadata_sync = ?`,
			string(callrec.MetadataUpdatePending), id, string(callrec.MetadataSynced))
		if err != nil {
			return fmt.Errorf("failed to mark record %s for update sync: %w", id, err)
		}
		return nil
	})
}

// MarkAllReviewed flags every unreviewed call for a contact as reviewed
// and queues the affected records for metadata sync.
func (db *DB) MarkAllReviewed(ctx context.Context, contactKey string) (int64, error) {
	var n int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE call_records SET
				reviewed = 1,
				metadata_sync = CASE metadata_sync WHEN ? THEN ? ELSE metadata_sync END,
				updated_at = ?
			WHERE contact_key = ? AND reviewed = 0`,
			string(callrec.MetadataSynced), string(callrec.MetadataUpdatePending),
			nowMillis(), contactKey)
		if err != nil {
			return fmt.Errorf("failed to mark calls reviewed for %s: %w", contactKey, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// UpdateMetadataStatus transitions a record's metadata state machine.
// Illegal transitions are rejected with callrec.ErrIllegalTransition.
func (db *DB) UpdateMetadataStatus(ctx context.Context, id string, to callrec.MetadataSyncStatus) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := callrec.CheckMetadataTransition(cur.metadata, to); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET metadata_sync = ?, updated_at = ? WHERE id = ?`,
			string(to), nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to update metadata status for %s: %w", id, err)
		}
		return nil
	})
}

// MarkMetadataSynced records a confirmed push: state SYNCED, the
// server's authoritative timestamp stored, and any stale sync error
// cleared, all in one transaction.
func (db *DB) MarkMetadataSynced(ctx context.Context, id string, serverUpdatedAt int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := callrec.CheckMetadataTransition(cur.metadata, callrec.MetadataSynced); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE call_records SET
				metadata_sync = ?, server_updated_at = ?, sync_error = '', updated_at = ?
			WHERE id = ?`,
			string(callrec.MetadataSynced), serverUpdatedAt, nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to mark record %s synced: %w", id, err)
		}
		return nil
	})
}

// MarkMetadataFailed moves a record to FAILED with the failure
// description, after a rejected push.
func (db *DB) MarkMetadataFailed(ctx context.Context, id, syncErr string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := callrec.CheckMetadataTransition(cur.metadata, callrec.MetadataFailed); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET metadata_sync = ?, sync_error = ?, updated_at = ? WHERE id = ?`,
			string(callrec.MetadataFailed), syncErr, nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to mark record %s failed: %w", id, err)
		}
		return nil
	})
}

// UpdateRecordingStatus transitions a record's recording state machine.
// Moving to UPLOADING or COMPLETED additionally requires the metadata
// machine to be SYNCED (metadata-before-recording ordering) and, for
// UPLOADING, a resolved recording path.
func (db *DB) UpdateRecordingStatus(ctx context.Context, id string, to callrec.RecordingSyncStatus) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := callrec.CheckRecordingTransition(cur.recording, to); err != nil {
			return err
		}
		if (to == callrec.RecordingUploading || to == callrec.RecordingCompleted) &&
			cur.metadata != callrec.MetadataSynced {
			return fmt.Errorf("%w: recording %s -> %s while metadata is %s",
				callrec.ErrIllegalTransition, cur.recording, to, cur.metadata)
		}
		if to == callrec.RecordingUploading && cur.recordingPath == "" {
			return fmt.Errorf("%w: recording %s -> UPLOADING with no local path",
				callrec.ErrIllegalTransition, cur.recording)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET recording_sync = ?, updated_at = ? WHERE id = ?`,
			string(to), nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to update recording status for %s: %w", id, err)
		}
		return nil
	})
}

// MarkRecordingFailed moves the recording machine to FAILED with a
// failure description, leaving the record retryable.
func (db *DB) MarkRecordingFailed(ctx context.Context, id, syncErr string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := callrec.CheckRecordingTransition(cur.recording, callrec.RecordingFailed); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET recording_sync = ?, sync_error = ?, updated_at = ? WHERE id = ?`,
			string(callrec.RecordingFailed), syncErr, nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to mark recording %s failed: %w", id, err)
		}
		return nil
	})
}

// AttachRecording associates a resolved audio file with a record. The
// write re-checks eligibility inside the transaction: a record that
// already has a path, or whose recording state left the searchable set
// since the resolver snapshotted it, is left untouched. A NOT_FOUND
// record found on rescan moves back to PENDING. Returns whether the
// path was written.
func (db *DB) AttachRecording(ctx context.Context, id, path string) (bool, error) {
	var attached bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := currentStatuses(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.recordingPath != "" {
			return nil
		}
		switch cur.recording {
		case callrec.RecordingPending, callrec.RecordingFailed, callrec.RecordingNotFound:
			// still eligible
		default:
			return nil
		}

		newStatus := cur.recording
		if cur.recording == callrec.RecordingNotFound {
			newStatus = callrec.RecordingPending
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE call_records SET local_recording_path = ?, recording_sync = ?, updated_at = ? WHERE id = ?`,
			path, string(newStatus), nowMillis(), id)
		if err != nil {
			return fmt.Errorf("failed to attach recording to %s: %w", id, err)
		}
		attached = true
		return nil
	})
	return attached, err
}

// MarkRecordingsNotFound moves the given records to NOT_FOUND in one
// transaction. Only records still in a searchable state without a path
// are affected; a competing write wins.
func (db *DB) MarkRecordingsNotFound(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE call_records SET recording_sync = ?, updated_at = ?
			WHERE id = ?
			  AND local_recording_path = ''
			  AND recording_sync IN (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare not-found update: %w", err)
		}
		defer stmt.Close()

		now := nowMillis()
		for _, id := range ids {
			res, err := stmt.ExecContext(ctx,
				string(callrec.RecordingNotFound), now, id,
				string(callrec.RecordingPending), string(callrec.RecordingFailed))
			if err != nil {
				return fmt.Errorf("failed to mark %s not found: %w", id, err)
			}
			if rows, _ := res.RowsAffected(); rows > 0 {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ResetSyncState is the manual full-resync reset: every record returns
// to PENDING (recordings only where a recording can exist) and sync
// errors are cleared. This deliberately bypasses the per-record
// transition validation; it is the single sanctioned escape hatch from
// the terminal policy states.
func (db *DB) ResetSyncState(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowMillis()
		if _, err := tx.ExecContext(ctx, `
			UPDATE call_records SET
				metadata_sync = ?,
				recording_sync = CASE WHEN duration_seconds > 0 THEN ? ELSE ? END,
				sync_error = '',
				updated_at = ?`,
			string(callrec.MetadataPending),
			string(callrec.RecordingPending), string(callrec.RecordingNotApplicable),
			now); err != nil {
			return fmt.Errorf("failed to reset record sync state: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE contact_aggregates SET needs_sync = 1, updated_at = ? WHERE note != '' OR label != '' OR name != ''`,
			now); err != nil {
			return fmt.Errorf("failed to reset contact sync state: %w", err)
		}
		return nil
	})
}

// DeleteAll wipes both tables. Explicit data wipe only.
func (db *DB) DeleteAll(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM call_records`); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_aggregates`); err != nil {
			return fmt.Errorf("failed to delete contacts: %w", err)
		}
		return nil
	})
}

// statusSnapshot is the per-record state a transition check needs.
type statusSnapshot struct {
	metadata      callrec.MetadataSyncStatus
	recording     callrec.RecordingSyncStatus
	recordingPath string
}

func currentStatuses(ctx context.Context, tx *sql.Tx, id string) (statusSnapshot, error) {
	var s statusSnapshot
	var meta, rec string
	err := tx.QueryRowContext(ctx,
		`SELECT metadata_sync, recording_sync, local_recording_path FROM call_records WHERE id = ?`,
		id).Scan(&meta, &rec, &s.recordingPath)
	if err == sql.ErrNoRows {
		return s, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return s, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	s.metadata = callrec.ParseMetadataSyncStatus(meta)
	s.recording = callrec.ParseRecordingSyncStatus(rec)
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
