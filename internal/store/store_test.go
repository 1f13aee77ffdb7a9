package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// openTestDB opens and fully migrates a throwaway database
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return db
}

// testRecord builds a valid record with sensible defaults; mutate the
// returned value for per-test variations.
func testRecord(id, contactKey string, occurredAt int64) *callrec.Record {
	r := &callrec.Record{
		ID:              id,
		ContactKey:      contactKey,
		Direction:       callrec.DirectionIncoming,
		OccurredAt:      occurredAt,
		DurationSeconds: 42,
		DeviceID:        "dev1",
	}
	r.SetDefaults()
	return r
}

func mustInsert(t *testing.T, db *DB, records ...*callrec.Record) {
	t.Helper()
	n, rowErrs, err := db.InsertRecords(context.Background(), records)
	if err != nil {
		t.Fatalf("InsertRecords() failed: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("InsertRecords() row errors: %v", rowErrs)
	}
	if n != len(records) {
		t.Fatalf("InsertRecords() inserted %d, want %d", n, len(records))
	}
}

// TestOpen_Success tests database creation and initialization
func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

// TestMigrate_Fresh tests that a fresh database reaches the current
// schema version and has both tables
func TestMigrate_Fresh(t *testing.T) {
	db := openTestDB(t)

	v, err := db.schemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schemaVersion() failed: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}

	for _, table := range []string{"call_records", "contact_aggregates"} {
		var count int
		err := db.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestMigrate_Idempotent tests that migration is a no-op on a current
// database
func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Errorf("Second Migrate() failed: %v", err)
	}
}

// TestMigrate_Stepwise tests that a database stopped at each historical
// version migrates forward with existing rows preserved
func TestMigrate_Stepwise(t *testing.T) {
	ctx := context.Background()

	for from := 1; from < SchemaVersion; from++ {
		db, err := Open(testDBPath(t))
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}

		if err := db.MigrateTo(ctx, from); err != nil {
			t.Fatalf("MigrateTo(%d) failed: %v", from, err)
		}

		// Seed a row under the old schema, then migrate forward.
		_, err = db.conn.ExecContext(ctx, `
			INSERT INTO call_records (id, contact_key, occurred_at, created_at, updated_at)
			VALUES ('old-row', '+15550001111', 1000, 1000, 1000)`)
		if err != nil {
			t.Fatalf("seed insert at v%d failed: %v", from, err)
		}

		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate() from v%d failed: %v", from, err)
		}

		r, err := db.GetRecord(ctx, "old-row")
		if err != nil {
			t.Fatalf("GetRecord() after migrating from v%d failed: %v", from, err)
		}
		if r.ContactKey != "+15550001111" {
			t.Errorf("migrated row contact_key = %q", r.ContactKey)
		}

		db.Close()
	}
}

// TestInsertRecords_Idempotent tests that re-inserting the same batch
// writes nothing new
func TestInsertRecords_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	batch := []*callrec.Record{
		testRecord("incoming-dev1-+15550001111-1000", "+15550001111", 1000),
		testRecord("incoming-dev1-+15550002222-2000", "+15550002222", 2000),
	}
	mustInsert(t, db, batch...)

	n, rowErrs, err := db.InsertRecords(ctx, batch)
	if err != nil {
		t.Fatalf("second InsertRecords() failed: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("second InsertRecords() row errors: %v", rowErrs)
	}
	if n != 0 {
		t.Errorf("second InsertRecords() inserted %d, want 0", n)
	}
}

// TestInsertRecords_SkipsInvalid tests that an invalid row is reported
// but does not abort the batch
func TestInsertRecords_SkipsInvalid(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	good := testRecord("incoming-dev1-+15550001111-1000", "+15550001111", 1000)
	bad := testRecord("incoming-dev1-+15550002222-2000", "", 2000) // no contact key

	n, rowErrs, err := db.InsertRecords(ctx, []*callrec.Record{bad, good})
	if err != nil {
		t.Fatalf("InsertRecords() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted %d, want 1", n)
	}
	if len(rowErrs) != 1 {
		t.Errorf("row errors = %v, want exactly one", rowErrs)
	}

	if _, err := db.GetRecord(ctx, good.ID); err != nil {
		t.Errorf("valid record missing after batch: %v", err)
	}
}

// TestInsertRecords_ZeroDurationDefaults tests that a zero-duration
// call is stored with recording NOT_APPLICABLE
func TestInsertRecords_ZeroDurationDefaults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := &callrec.Record{
		ID:         "missed-dev1-+15550001111-1000",
		ContactKey: "+15550001111",
		Direction:  callrec.DirectionMissed,
		OccurredAt: 1000,
	}
	mustInsert(t, db, r)

	got, err := db.GetRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if got.RecordingSync != callrec.RecordingNotApplicable {
		t.Errorf("recording status = %s, want %s", got.RecordingSync, callrec.RecordingNotApplicable)
	}
	if got.MetadataSync != callrec.MetadataPending {
		t.Errorf("metadata status = %s, want %s", got.MetadataSync, callrec.MetadataPending)
	}
}

// TestGetRecord_NotFound tests ErrNotFound wrapping
func TestGetRecord_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetRecord(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

// TestMaxOccurredAt_Empty tests that an empty store reports zero
func TestMaxOccurredAt_Empty(t *testing.T) {
	db := openTestDB(t)

	v, err := db.MaxOccurredAt(context.Background())
	if err != nil {
		t.Fatalf("MaxOccurredAt() failed: %v", err)
	}
	if v != 0 {
		t.Errorf("MaxOccurredAt() = %d, want 0", v)
	}
}

// TestIDsSince tests the ingestion dedup snapshot
func TestIDsSince(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db,
		testRecord("a", "+15550001111", 1000),
		testRecord("b", "+15550001111", 2000),
		testRecord("c", "+15550002222", 3000),
	)

	ids, err := db.IDsSince(ctx, 2000)
	if err != nil {
		t.Fatalf("IDsSince() failed: %v", err)
	}
	if len(ids) != 2 || !ids["b"] || !ids["c"] {
		t.Errorf("IDsSince(2000) = %v, want {b, c}", ids)
	}
}

// TestDeleteBefore tests boundary cleanup and affected-contact reporting
func TestDeleteBefore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db,
		testRecord("a", "+15550001111", 1000),
		testRecord("b", "+15550002222", 2000),
		testRecord("c", "+15550002222", 5000),
	)

	keys, deleted, err := db.DeleteBefore(ctx, 3000)
	if err != nil {
		t.Fatalf("DeleteBefore() failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("affected contacts = %v, want 2 keys", keys)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2 rows", deleted)
	}

	if _, err := db.GetRecord(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record a should be deleted, got err %v", err)
	}
	if _, err := db.GetRecord(ctx, "c"); err != nil {
		t.Errorf("record c should survive: %v", err)
	}
}

// TestUpdateNote_FlipsSyncedToUpdatePending tests that editing a synced
// record queues it for re-push
func TestUpdateNote_FlipsSyncedToUpdatePending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := testRecord("a", "+15550001111", 1000)
	mustInsert(t, db, r)
	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}

	if err := db.UpdateNote(ctx, "a", "call back tomorrow"); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	got, err := db.GetRecord(ctx, "a")
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if got.Note != "call back tomorrow" {
		t.Errorf("note = %q", got.Note)
	}
	if got.MetadataSync != callrec.MetadataUpdatePending {
		t.Errorf("metadata status = %s, want %s", got.MetadataSync, callrec.MetadataUpdatePending)
	}
}

// TestUpdateNote_PendingStaysPending tests that editing an unsynced
// record never moves it to UPDATE_PENDING
func TestUpdateNote_PendingStaysPending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))

	if err := db.UpdateNote(ctx, "a", "note"); err != nil {
		t.Fatalf("UpdateNote() failed: %v", err)
	}

	got, _ := db.GetRecord(ctx, "a")
	if got.MetadataSync != callrec.MetadataPending {
		t.Errorf("metadata status = %s, want %s", got.MetadataSync, callrec.MetadataPending)
	}
}

// TestMarkAllReviewed tests the bulk reviewed flip for one contact
func TestMarkAllReviewed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db,
		testRecord("a", "+15550001111", 1000),
		testRecord("b", "+15550001111", 2000),
		testRecord("c", "+15550002222", 3000),
	)
	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}

	n, err := db.MarkAllReviewed(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("MarkAllReviewed() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("MarkAllReviewed() = %d, want 2", n)
	}

	a, _ := db.GetRecord(ctx, "a")
	if !a.Reviewed || a.MetadataSync != callrec.MetadataUpdatePending {
		t.Errorf("record a: reviewed=%v status=%s", a.Reviewed, a.MetadataSync)
	}
	b, _ := db.GetRecord(ctx, "b")
	if !b.Reviewed || b.MetadataSync != callrec.MetadataPending {
		t.Errorf("record b: reviewed=%v status=%s", b.Reviewed, b.MetadataSync)
	}
	c, _ := db.GetRecord(ctx, "c")
	if c.Reviewed {
		t.Error("record c of another contact was touched")
	}
}

// TestUpdateMetadataStatus_RejectsIllegal tests in-transaction
// transition validation
func TestUpdateMetadataStatus_RejectsIllegal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))

	// PENDING -> UPDATE_PENDING is never legal.
	err := db.UpdateMetadataStatus(ctx, "a", callrec.MetadataUpdatePending)
	if !errors.Is(err, callrec.ErrIllegalTransition) {
		t.Errorf("error = %v, want ErrIllegalTransition", err)
	}

	got, _ := db.GetRecord(ctx, "a")
	if got.MetadataSync != callrec.MetadataPending {
		t.Errorf("status changed to %s despite rejection", got.MetadataSync)
	}
}

// TestMarkMetadataSynced tests the synced write and error clearing
func TestMarkMetadataSynced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))
	if err := db.MarkMetadataFailed(ctx, "a", "server 500"); err != nil {
		t.Fatalf("MarkMetadataFailed() failed: %v", err)
	}
	if err := db.MarkMetadataSynced(ctx, "a", 12345); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}

	got, _ := db.GetRecord(ctx, "a")
	if got.MetadataSync != callrec.MetadataSynced {
		t.Errorf("status = %s, want SYNCED", got.MetadataSync)
	}
	if got.ServerUpdatedAt != 12345 {
		t.Errorf("server_updated_at = %d, want 12345", got.ServerUpdatedAt)
	}
	if got.SyncError != "" {
		t.Errorf("sync_error = %q, want cleared", got.SyncError)
	}
}

// TestUpdateRecordingStatus_RequiresMetadataSynced tests the
// metadata-before-recording ordering invariant
func TestUpdateRecordingStatus_RequiresMetadataSynced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))
	if _, err := db.AttachRecording(ctx, "a", "/rec/a.m4a"); err != nil {
		t.Fatalf("AttachRecording() failed: %v", err)
	}

	err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingUploading)
	if !errors.Is(err, callrec.ErrIllegalTransition) {
		t.Errorf("UPLOADING before metadata SYNCED: error = %v, want ErrIllegalTransition", err)
	}

	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}
	if err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingUploading); err != nil {
		t.Errorf("UPLOADING after metadata SYNCED failed: %v", err)
	}
	if err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingCompleted); err != nil {
		t.Errorf("COMPLETED failed: %v", err)
	}
}

// TestUpdateRecordingStatus_UploadRequiresPath tests that UPLOADING is
// rejected without a resolved file
func TestUpdateRecordingStatus_UploadRequiresPath(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))
	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}

	err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingUploading)
	if !errors.Is(err, callrec.ErrIllegalTransition) {
		t.Errorf("error = %v, want ErrIllegalTransition", err)
	}
}

// TestAttachRecording_NoOverwrite tests that a second match never
// replaces an existing path
func TestAttachRecording_NoOverwrite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))

	ok, err := db.AttachRecording(ctx, "a", "/rec/first.m4a")
	if err != nil || !ok {
		t.Fatalf("first AttachRecording() = %v, %v", ok, err)
	}

	ok, err = db.AttachRecording(ctx, "a", "/rec/second.m4a")
	if err != nil {
		t.Fatalf("second AttachRecording() failed: %v", err)
	}
	if ok {
		t.Error("second AttachRecording() overwrote existing path")
	}

	got, _ := db.GetRecord(ctx, "a")
	if got.LocalRecordingPath != "/rec/first.m4a" {
		t.Errorf("path = %q, want first match kept", got.LocalRecordingPath)
	}
}

// TestAttachRecording_RevivesNotFound tests that a late match moves a
// NOT_FOUND record back to PENDING
func TestAttachRecording_RevivesNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))
	if n, err := db.MarkRecordingsNotFound(ctx, []string{"a"}); err != nil || n != 1 {
		t.Fatalf("MarkRecordingsNotFound() = %d, %v", n, err)
	}

	ok, err := db.AttachRecording(ctx, "a", "/rec/a.m4a")
	if err != nil || !ok {
		t.Fatalf("AttachRecording() = %v, %v", ok, err)
	}

	got, _ := db.GetRecord(ctx, "a")
	if got.RecordingSync != callrec.RecordingPending {
		t.Errorf("status = %s, want PENDING after revival", got.RecordingSync)
	}
}

// TestAttachRecording_SkipsCompleted tests that terminal records are
// not touched by a stale resolver match
func TestAttachRecording_SkipsCompleted(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, testRecord("a", "+15550001111", 1000))
	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}
	if err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingDisabled); err != nil {
		t.Fatalf("UpdateRecordingStatus(DISABLED) failed: %v", err)
	}

	ok, err := db.AttachRecording(ctx, "a", "/rec/a.m4a")
	if err != nil {
		t.Fatalf("AttachRecording() failed: %v", err)
	}
	if ok {
		t.Error("AttachRecording() wrote to a DISABLED record")
	}
}

// TestResetSyncState tests the bulk full-resync escape hatch
func TestResetSyncState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	missed := &callrec.Record{
		ID: "b", ContactKey: "+15550002222",
		Direction: callrec.DirectionMissed, OccurredAt: 2000,
	}
	mustInsert(t, db, testRecord("a", "+15550001111", 1000), missed)

	if err := db.MarkMetadataSynced(ctx, "a", 9000); err != nil {
		t.Fatalf("MarkMetadataSynced() failed: %v", err)
	}
	if err := db.UpdateRecordingStatus(ctx, "a", callrec.RecordingNotAllowed); err != nil {
		t.Fatalf("UpdateRecordingStatus() failed: %v", err)
	}
	if err := db.UpdateContactNote(ctx, "+15550001111", "vip"); err != nil {
		t.Fatalf("UpdateContactNote() failed: %v", err)
	}
	if err := db.ClearContactNeedsSync(ctx, "+15550001111", 9000); err != nil {
		t.Fatalf("ClearContactNeedsSync() failed: %v", err)
	}

	if err := db.ResetSyncState(ctx); err != nil {
		t.Fatalf("ResetSyncState() failed: %v", err)
	}

	a, _ := db.GetRecord(ctx, "a")
	if a.MetadataSync != callrec.MetadataPending || a.RecordingSync != callrec.RecordingPending {
		t.Errorf("record a after reset: metadata=%s recording=%s", a.MetadataSync, a.RecordingSync)
	}
	b, _ := db.GetRecord(ctx, "b")
	if b.RecordingSync != callrec.RecordingNotApplicable {
		t.Errorf("zero-duration record after reset: recording=%s, want NOT_APPLICABLE", b.RecordingSync)
	}

	c, err := db.GetContact(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if !c.NeedsSync {
		t.Error("contact with a note should be re-flagged after reset")
	}
}
