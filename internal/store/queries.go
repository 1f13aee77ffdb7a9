package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// The list queries and their badge counters must agree, so both are
// built from the same WHERE fragments.
const (
	// notExcludedFromSync joins each record against its contact
	// aggregate; records without an aggregate row sync normally.
	notExcludedFromSync = `(p.exclude_from_sync IS NULL OR p.exclude_from_sync = 0)`

	notExcludedFromList = `(p.exclude_from_list IS NULL OR p.exclude_from_list = 0)`

	needsMetadataSync = `c.metadata_sync IN ('PENDING', 'UPDATE_PENDING', 'FAILED')
		AND c.occurred_at >= ?
		AND ` + notExcludedFromSync

	// UPLOADING is included so uploads interrupted by a crash or
	// cancelled by the driver are re-queued.
	needsRecordingSync = `c.recording_sync IN ('PENDING', 'UPLOADING', 'FAILED')
		AND c.metadata_sync = 'SYNCED'
		AND c.local_recording_path != ''
		AND c.occurred_at >= ?
		AND ` + notExcludedFromSync

	recordJoin = `FROM call_records c
		LEFT JOIN contact_aggregates p ON c.contact_key = p.contact_key`
)

func prefixedRecordColumns() string {
	return `c.id, c.external_id, c.contact_key, c.display_name, c.photo_ref,
		c.direction, c.occurred_at, c.duration_seconds, c.sim_id, c.device_id,
		c.note, c.reviewed, c.local_recording_path,
		c.metadata_sync, c.recording_sync, c.server_updated_at, c.sync_error,
		c.created_at, c.updated_at`
}

// NeedingMetadataSync returns records whose cheap fields still have to
// be pushed, newest first, honoring the exclusion flags and the
// tracking boundary.
func (db *DB) NeedingMetadataSync(ctx context.Context, boundary int64) ([]*callrec.Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+prefixedRecordColumns()+` `+recordJoin+`
		 WHERE `+needsMetadataSync+`
		 ORDER BY c.occurred_at DESC`, boundary)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata sync queue: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// NeedingRecordingSync returns records whose audio still has to be
// uploaded. Oldest first: old recordings are at risk of being rotated
// away by the recorder app, so the backlog is drained from the back.
// Only records whose metadata is already SYNCED qualify.
func (db *DB) NeedingRecordingSync(ctx context.Context, boundary int64) ([]*callrec.Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+prefixedRecordColumns()+` `+recordJoin+`
		 WHERE `+needsRecordingSync+`
		 ORDER BY c.occurred_at ASC`, boundary)
	if err != nil {
		return nil, fmt.Errorf("failed to query recording sync queue: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MissingRecordings returns records eligible for the resolver: a
// recording should exist but no local file has been matched yet.
// Newest first, which is the order the tiered search consumes.
func (db *DB) MissingRecordings(ctx context.Context, boundary int64, limit int) ([]*callrec.Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+prefixedRecordColumns()+` `+recordJoin+`
		 WHERE c.recording_sync IN ('PENDING', 'FAILED')
		   AND c.local_recording_path = ''
		   AND c.occurred_at >= ?
		   AND `+notExcludedFromSync+`
		 ORDER BY c.occurred_at DESC
		 LIMIT ?`, boundary, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records missing recordings: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecords returns the read view of call records, newest first.
// Contacts flagged exclude_from_list are hidden; their records still
// appear in the sync queues.
func (db *DB) ListRecords(ctx context.Context, limit int) ([]*callrec.Record, error) {
	query := `SELECT ` + prefixedRecordColumns() + ` ` + recordJoin + `
		WHERE ` + notExcludedFromList + `
		ORDER BY c.occurred_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Breakdown is the full per-state census of both sync machines.
type Breakdown struct {
	TotalRecords  int64
	TotalContacts int64
	Metadata      map[callrec.MetadataSyncStatus]int64
	Recording     map[callrec.RecordingSyncStatus]int64
}

// CountByStatus returns the per-state census from one read transaction.
func (db *DB) CountByStatus(ctx context.Context) (Breakdown, error) {
	b := Breakdown{
		Metadata:  make(map[callrec.MetadataSyncStatus]int64),
		Recording: make(map[callrec.RecordingSyncStatus]int64),
	}

	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return b, fmt.Errorf("failed to begin census transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT metadata_sync, COUNT(*) FROM call_records GROUP BY metadata_sync`)
	if err != nil {
		return b, fmt.Errorf("failed to count metadata states: %w", err)
	}
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return b, fmt.Errorf("failed to scan census row: %w", err)
		}
		b.Metadata[callrec.ParseMetadataSyncStatus(s)] += n
		b.TotalRecords += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT recording_sync, COUNT(*) FROM call_records GROUP BY recording_sync`)
	if err != nil {
		return b, fmt.Errorf("failed to count recording states: %w", err)
	}
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return b, fmt.Errorf("failed to scan census row: %w", err)
		}
		b.Recording[callrec.ParseRecordingSyncStatus(s)] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, err
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_aggregates`).Scan(&b.TotalContacts); err != nil {
		return b, fmt.Errorf("failed to count contacts: %w", err)
	}

	return b, nil
}

// AttachedRecordingPaths returns the set of recording files already
// associated with a record, so a directory sweep can skip them.
func (db *DB) AttachedRecordingPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT local_recording_path FROM call_records WHERE local_recording_path != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attached recordings: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan recording path: %w", err)
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// PendingCounts is the live badge breakdown of outstanding sync work.
type PendingCounts struct {
	// NewCalls is records never pushed (metadata PENDING).
	NewCalls int64 `json:"new_calls"`
	// MetadataUpdates is records edited after a successful push.
	MetadataUpdates int64 `json:"metadata_updates"`
	// MetadataFailed is records whose last push was rejected.
	MetadataFailed int64 `json:"metadata_failed"`
	// Recordings is records with an audio file waiting for upload.
	Recordings int64 `json:"recordings"`
	// ContactUpdates is aggregates with pending note/label/name edits.
	ContactUpdates int64 `json:"contact_updates"`
}

// Total is the combined pending-change count shown on the main badge.
func (pc PendingCounts) Total() int64 {
	return pc.NewCalls + pc.MetadataUpdates + pc.MetadataFailed + pc.Recordings + pc.ContactUpdates
}

// CountPending computes every badge counter from one read transaction,
// so the counts are a coherent snapshot and match the list queries
// (same predicates by construction).
func (db *DB) CountPending(ctx context.Context, boundary int64) (PendingCounts, error) {
	var pc PendingCounts

	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return pc, fmt.Errorf("failed to begin count transaction: %w", err)
	}
	defer tx.Rollback()

	metaCount := func(status string) (int64, error) {
		var n int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) `+recordJoin+`
			 WHERE c.metadata_sync = ?
			   AND c.occurred_at >= ?
			   AND `+notExcludedFromSync,
			status, boundary).Scan(&n)
		return n, err
	}

	if pc.NewCalls, err = metaCount(string(callrec.MetadataPending)); err != nil {
		return pc, fmt.Errorf("failed to count new calls: %w", err)
	}
	if pc.MetadataUpdates, err = metaCount(string(callrec.MetadataUpdatePending)); err != nil {
		return pc, fmt.Errorf("failed to count metadata updates: %w", err)
	}
	if pc.MetadataFailed, err = metaCount(string(callrec.MetadataFailed)); err != nil {
		return pc, fmt.Errorf("failed to count failed pushes: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) `+recordJoin+` WHERE `+needsRecordingSync, boundary).
		Scan(&pc.Recordings); err != nil {
		return pc, fmt.Errorf("failed to count pending recordings: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_aggregates WHERE needs_sync = 1 AND exclude_from_sync = 0`).
		Scan(&pc.ContactUpdates); err != nil {
		return pc, fmt.Errorf("failed to count contact updates: %w", err)
	}

	return pc, nil
}
