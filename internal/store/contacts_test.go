package store

import (
	"context"
	"errors"
	"testing"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// TestUpsertContact_RoundTrip tests a full aggregate write and read
func TestUpsertContact_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := &callrec.Contact{
		ContactKey:           "+15550001111",
		Name:                 "Ada",
		Note:                 "vip",
		LastCallID:           "incoming-dev1-+15550001111-2000",
		LastCallDirection:    callrec.DirectionIncoming,
		LastCallAt:           2000,
		LastCallDuration:     42,
		TotalCalls:           2,
		TotalIncoming:        1,
		TotalOutgoing:        1,
		TotalDurationSeconds: 80,
		CreatedAt:            1000,
		UpdatedAt:            2000,
	}
	if err := db.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact() failed: %v", err)
	}

	got, err := db.GetContact(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if got.Name != "Ada" || got.TotalCalls != 2 || got.LastCallAt != 2000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.LastCallDirection != callrec.DirectionIncoming {
		t.Errorf("direction = %s", got.LastCallDirection)
	}
}

// TestGetContact_NotFound tests ErrNotFound wrapping
func TestGetContact_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetContact(context.Background(), "+15559999999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContact() error = %v, want ErrNotFound", err)
	}
}

// TestEditContactField_LazyCreate tests that a note edit creates the
// aggregate for a contact with no calls yet
func TestEditContactField_LazyCreate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpdateContactNote(ctx, "+15550001111", "met at conference"); err != nil {
		t.Fatalf("UpdateContactNote() failed: %v", err)
	}

	got, err := db.GetContact(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if got.Note != "met at conference" {
		t.Errorf("note = %q", got.Note)
	}
	if !got.NeedsSync {
		t.Error("edit did not flag contact for sync")
	}
	if got.TotalCalls != 0 {
		t.Errorf("lazily created aggregate has counters: %+v", got)
	}
}

// TestEditContactField_PreservesDerived tests that a user edit leaves
// aggregator-owned fields untouched
func TestEditContactField_PreservesDerived(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := &callrec.Contact{
		ContactKey: "+15550001111",
		TotalCalls: 5,
		LastCallAt: 2000,
		CreatedAt:  1000,
		UpdatedAt:  1000,
	}
	if err := db.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact() failed: %v", err)
	}

	if err := db.UpdateContactLabel(ctx, "+15550001111", "client"); err != nil {
		t.Fatalf("UpdateContactLabel() failed: %v", err)
	}

	got, _ := db.GetContact(ctx, "+15550001111")
	if got.Label != "client" {
		t.Errorf("label = %q", got.Label)
	}
	if got.TotalCalls != 5 || got.LastCallAt != 2000 {
		t.Errorf("derived fields changed: %+v", got)
	}
}

// countingBuild is a minimal aggregate builder for recompute tests: it
// carries the prior row forward and counts the records.
func countingBuild(contactKey string) func([]*callrec.Record, *callrec.Contact) *callrec.Contact {
	return func(records []*callrec.Record, prior *callrec.Contact) *callrec.Contact {
		c := &callrec.Contact{ContactKey: contactKey, CreatedAt: 1000, UpdatedAt: 1000}
		if prior != nil {
			*c = *prior
		}
		c.TotalCalls = int64(len(records))
		return c
	}
}

// TestRecomputeAggregate tests the snapshot-and-write round trip
func TestRecomputeAggregate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert(t, db,
		testRecord("a", "+15550001111", 1000),
		testRecord("b", "+15550001111", 2000),
	)

	if err := db.RecomputeAggregate(ctx, "+15550001111", countingBuild("+15550001111")); err != nil {
		t.Fatalf("RecomputeAggregate() failed: %v", err)
	}

	got, err := db.GetContact(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if got.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", got.TotalCalls)
	}
}

// TestRecomputeAggregate_StaleSnapshotNotLastWriter tests that a
// recompute overlapping a competing insert-and-recompute cannot commit
// counters taken from the snapshot the competitor made stale
func TestRecomputeAggregate_StaleSnapshotNotLastWriter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := "+15550001111"
	build := countingBuild(key)

	mustInsert(t, db, testRecord("a", key, 1000))
	if err := db.RecomputeAggregate(ctx, key, build); err != nil {
		t.Fatalf("RecomputeAggregate() failed: %v", err)
	}

	// The competitor lands between this pass's snapshot and its write.
	// The overlapped pass may fail its commit; what must not happen is
	// its stale counter becoming the last write.
	raced := false
	staleErr := db.RecomputeAggregate(ctx, key,
		func(records []*callrec.Record, prior *callrec.Contact) *callrec.Contact {
			if !raced {
				raced = true
				mustInsert(t, db, testRecord("b", key, 2000))
				if err := db.RecomputeAggregate(ctx, key, build); err != nil {
					t.Fatalf("competing RecomputeAggregate() failed: %v", err)
				}
			}
			return build(records, prior)
		})
	t.Logf("overlapped recompute: %v", staleErr)

	got, err := db.GetContact(ctx, key)
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}
	if got.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2 (stale snapshot must not win)", got.TotalCalls)
	}
}

// TestClearContactNeedsSync tests the post-push acknowledgment
func TestClearContactNeedsSync(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpdateContactName(ctx, "+15550001111", "Ada"); err != nil {
		t.Fatalf("UpdateContactName() failed: %v", err)
	}
	if err := db.ClearContactNeedsSync(ctx, "+15550001111", 7777); err != nil {
		t.Fatalf("ClearContactNeedsSync() failed: %v", err)
	}

	got, _ := db.GetContact(ctx, "+15550001111")
	if got.NeedsSync {
		t.Error("needs_sync not cleared")
	}
	if got.ServerUpdatedAt != 7777 {
		t.Errorf("server_updated_at = %d, want 7777", got.ServerUpdatedAt)
	}

	err := db.ClearContactNeedsSync(ctx, "+15559999999", 7777)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("clearing unknown contact: error = %v, want ErrNotFound", err)
	}
}

// TestContactsNeedingSync tests queue membership and exclusion
func TestContactsNeedingSync(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpdateContactNote(ctx, "+15550001111", "a"); err != nil {
		t.Fatalf("UpdateContactNote() failed: %v", err)
	}
	if err := db.UpdateContactNote(ctx, "+15550002222", "b"); err != nil {
		t.Fatalf("UpdateContactNote() failed: %v", err)
	}
	if err := db.SetExclusion(ctx, "+15550002222", true, false); err != nil {
		t.Fatalf("SetExclusion() failed: %v", err)
	}

	got, err := db.ContactsNeedingSync(ctx)
	if err != nil {
		t.Fatalf("ContactsNeedingSync() failed: %v", err)
	}
	if len(got) != 1 || got[0].ContactKey != "+15550001111" {
		t.Errorf("queue = %+v, want only +15550001111", got)
	}
}

// TestListContacts_HidesExcluded tests the read-view exclusion flag
func TestListContacts_HidesExcluded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, key := range []string{"+15550001111", "+15550002222"} {
		c := &callrec.Contact{ContactKey: key, CreatedAt: 1000, UpdatedAt: 1000}
		if err := db.UpsertContact(ctx, c); err != nil {
			t.Fatalf("UpsertContact() failed: %v", err)
		}
	}
	if err := db.SetExclusion(ctx, "+15550002222", false, true); err != nil {
		t.Fatalf("SetExclusion() failed: %v", err)
	}

	visible, err := db.ListContacts(ctx, false)
	if err != nil {
		t.Fatalf("ListContacts() failed: %v", err)
	}
	if len(visible) != 1 || visible[0].ContactKey != "+15550001111" {
		t.Errorf("visible = %+v, want only +15550001111", visible)
	}

	all, err := db.ListContacts(ctx, true)
	if err != nil {
		t.Fatalf("ListContacts(includeHidden) failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d contacts, want 2", len(all))
	}
}
