package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miniclick/calltrackd/internal/callrec"
)

const contactColumns = `contact_key, name, photo_ref, note, label,
	last_call_id, last_call_direction, last_call_at, last_call_duration, last_recording_path,
	total_calls, total_incoming, total_outgoing, total_missed, total_duration_seconds,
	exclude_from_sync, exclude_from_list, needs_sync, server_updated_at,
	created_at, updated_at`

func scanContact(row rowScanner) (*callrec.Contact, error) {
	var c callrec.Contact
	var direction string
	var exSync, exList, needsSync int

	err := row.Scan(
		&c.ContactKey, &c.Name, &c.PhotoRef, &c.Note, &c.Label,
		&c.LastCallID, &direction, &c.LastCallAt, &c.LastCallDuration, &c.LastRecordingPath,
		&c.TotalCalls, &c.TotalIncoming, &c.TotalOutgoing, &c.TotalMissed, &c.TotalDurationSeconds,
		&exSync, &exList, &needsSync, &c.ServerUpdatedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.LastCallDirection = callrec.ParseDirection(direction)
	c.ExcludeFromSync = exSync != 0
	c.ExcludeFromList = exList != 0
	c.NeedsSync = needsSync != 0
	return &c, nil
}

// GetContact retrieves an aggregate by contact key.
// Returns ErrNotFound if it doesn't exist.
func (db *DB) GetContact(ctx context.Context, contactKey string) (*callrec.Contact, error) {
	return getContact(ctx, db.conn, contactKey)
}

func getContact(ctx context.Context, q querier, contactKey string) (*callrec.Contact, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contact_aggregates WHERE contact_key = ?`, contactKey)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("contact %s: %w", contactKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact %s: %w", contactKey, err)
	}
	return c, nil
}

// ListContacts returns aggregates ordered by most recent call. Contacts
// flagged exclude_from_list are hidden from this read view but keep
// syncing.
func (db *DB) ListContacts(ctx context.Context, includeHidden bool) ([]*callrec.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contact_aggregates`
	if !includeHidden {
		query += ` WHERE exclude_from_list = 0`
	}
	query += ` ORDER BY last_call_at DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*callrec.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// UpsertContact writes a recomputed aggregate. User-owned fields must
// already be carried over from the prior row; RecomputeAggregate is the
// usual entry point.
func (db *DB) UpsertContact(ctx context.Context, c *callrec.Contact) error {
	return upsertContact(ctx, db.conn, c)
}

func upsertContact(ctx context.Context, q querier, c *callrec.Contact) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid contact: %w", err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO contact_aggregates (
			contact_key, name, photo_ref, note, label,
			last_call_id, last_call_direction, last_call_at, last_call_duration, last_recording_path,
			total_calls, total_incoming, total_outgoing, total_missed, total_duration_seconds,
			exclude_from_sync, exclude_from_list, needs_sync, server_updated_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_key) DO UPDATE SET
			name = excluded.name,
			photo_ref = excluded.photo_ref,
			note = excluded.note,
			label = excluded.label,
			last_call_id = excluded.last_call_id,
			last_call_direction = excluded.last_call_direction,
			last_call_at = excluded.last_call_at,
			last_call_duration = excluded.last_call_duration,
			last_recording_path = excluded.last_recording_path,
			total_calls = excluded.total_calls,
			total_incoming = excluded.total_incoming,
			total_outgoing = excluded.total_outgoing,
			total_missed = excluded.total_missed,
			total_duration_seconds = excluded.total_duration_seconds,
			exclude_from_sync = excluded.exclude_from_sync,
			exclude_from_list = excluded.exclude_from_list,
			needs_sync = excluded.needs_sync,
			server_updated_at = excluded.server_updated_at,
			updated_at = excluded.updated_at`,
		c.ContactKey, c.Name, c.PhotoRef, c.Note, c.Label,
		c.LastCallID, string(c.LastCallDirection), c.LastCallAt, c.LastCallDuration, c.LastRecordingPath,
		c.TotalCalls, c.TotalIncoming, c.TotalOutgoing, c.TotalMissed, c.TotalDurationSeconds,
		boolToInt(c.ExcludeFromSync), boolToInt(c.ExcludeFromList), boolToInt(c.NeedsSync), c.ServerUpdatedAt,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", c.ContactKey, err)
	}
	return nil
}

// RecomputeAggregate rebuilds one contact's aggregate atomically: the
// record snapshot, the prior row, and the write share a transaction, so
// an ingest landing mid-recompute cannot make a stale snapshot the last
// writer. build derives the new row from the records (newest first) and
// the prior aggregate, nil when the contact is unknown.
func (db *DB) RecomputeAggregate(ctx context.Context, contactKey string,
	build func(records []*callrec.Record, prior *callrec.Contact) *callrec.Contact) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		records, err := recordsForContact(ctx, tx, contactKey)
		if err != nil {
			return err
		}
		prior, err := getContact(ctx, tx, contactKey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return upsertContact(ctx, tx, build(records, prior))
	})
}

// UpdateContactNote stores a user edit to the contact note, creating
// the aggregate lazily for a number that has no calls yet. The edit
// always succeeds locally and flags the contact for outbound sync.
func (db *DB) UpdateContactNote(ctx context.Context, contactKey, note string) error {
	return db.editContactField(ctx, contactKey, "note", note)
}

// UpdateContactLabel stores a user edit to the contact label.
func (db *DB) UpdateContactLabel(ctx context.Context, contactKey, label string) error {
	return db.editContactField(ctx, contactKey, "label", label)
}

// UpdateContactName stores a user-assigned display name.
func (db *DB) UpdateContactName(ctx context.Context, contactKey, name string) error {
	return db.editContactField(ctx, contactKey, "name", name)
}

// editContactField upserts a single user-owned field and sets
// needs_sync, leaving every derived field untouched.
func (db *DB) editContactField(ctx context.Context, contactKey, column, value string) error {
	now := nowMillis()
	_, err := db.conn.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO contact_aggregates (contact_key, %s, needs_sync, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(contact_key) DO UPDATE SET
			%s = excluded.%s,
			needs_sync = 1,
			updated_at = excluded.updated_at`, column, column, column),
		contactKey, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to update contact %s %s: %w", contactKey, column, err)
	}
	return nil
}

// SetExclusion updates the two independent exclusion flags, creating
// the aggregate if needed. Exclusion is a local preference and is not
// propagated to the server.
func (db *DB) SetExclusion(ctx context.Context, contactKey string, fromSync, fromList bool) error {
	now := nowMillis()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO contact_aggregates (contact_key, exclude_from_sync, exclude_from_list, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(contact_key) DO UPDATE SET
			exclude_from_sync = excluded.exclude_from_sync,
			exclude_from_list = excluded.exclude_from_list,
			updated_at = excluded.updated_at`,
		contactKey, boolToInt(fromSync), boolToInt(fromList), now, now)
	if err != nil {
		return fmt.Errorf("failed to update exclusion for %s: %w", contactKey, err)
	}
	return nil
}

// ClearContactNeedsSync clears the outbound flag after a confirmed push
// and stores the server's timestamp.
func (db *DB) ClearContactNeedsSync(ctx context.Context, contactKey string, serverUpdatedAt int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE contact_aggregates SET needs_sync = 0, server_updated_at = ?, updated_at = ?
		WHERE contact_key = ?`,
		serverUpdatedAt, nowMillis(), contactKey)
	if err != nil {
		return fmt.Errorf("failed to clear needs_sync for %s: %w", contactKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contact %s: %w", contactKey, ErrNotFound)
	}
	return nil
}

// ContactsNeedingSync returns aggregates with pending outbound edits,
// honoring the exclude_from_sync flag.
func (db *DB) ContactsNeedingSync(ctx context.Context) ([]*callrec.Contact, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contact_aggregates
		 WHERE needs_sync = 1 AND exclude_from_sync = 0
		 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts needing sync: %w", err)
	}
	defer rows.Close()

	var contacts []*callrec.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
