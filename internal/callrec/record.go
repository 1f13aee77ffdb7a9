package callrec

import (
	"fmt"
	"time"
)

// Record is one phone call observed on the device. The composite ID is
// derived from (direction, device, contact key, timestamp) and is stable
// across re-ingestion; it is never reassigned after creation.
type Record struct {
	// ===== Identity =====
	ID         string // composite id, primary key
	ExternalID string // source system's own row id, for cross-referencing only
	ContactKey string // normalized number shared by all calls with the same party

	// ===== Caller identity at ingestion time (mutable) =====
	DisplayName string
	PhotoRef    string

	// ===== Call facts (immutable) =====
	Direction       Direction
	OccurredAt      int64 // epoch millis of call start
	DurationSeconds int64
	SimID           string // subscription identifier the call arrived on
	DeviceID        string

	// ===== User-editable =====
	Note     string
	Reviewed bool

	// ===== Recording =====
	LocalRecordingPath string

	// ===== Sync bookkeeping =====
	MetadataSync    MetadataSyncStatus
	RecordingSync   RecordingSyncStatus
	ServerUpdatedAt int64 // 0 = server has never confirmed this record
	SyncError       string

	CreatedAt int64
	UpdatedAt int64
}

// Validate checks the invariants a record must satisfy before it may be
// persisted.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.ContactKey == "" {
		return fmt.Errorf("contact key is required")
	}
	if r.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at is required")
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("duration must be >= 0 (got %d)", r.DurationSeconds)
	}
	if r.DurationSeconds == 0 && r.RecordingSync != RecordingNotApplicable {
		return fmt.Errorf("zero-duration call must have recording status %s (got %s)",
			RecordingNotApplicable, r.RecordingSync)
	}
	return nil
}

// SetDefaults fills in initial sync states and timestamps for a freshly
// ingested record.
func (r *Record) SetDefaults() {
	now := time.Now().UnixMilli()
	if r.MetadataSync == "" {
		r.MetadataSync = MetadataPending
	}
	if r.RecordingSync == "" {
		r.RecordingSync = InitialRecordingStatus(r.DurationSeconds)
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	if r.UpdatedAt == 0 {
		r.UpdatedAt = now
	}
}

// Contact is the denormalized per-contact rollup of all records sharing
// a contact key. Counters and lastCall fields are derived by the
// aggregator; Note, Label, Name edits and the exclusion flags are user
// state and survive recomputation.
type Contact struct {
	ContactKey string // primary key

	Name     string
	PhotoRef string
	Note     string
	Label    string

	// Mirror of the most recent record by OccurredAt.
	LastCallID        string
	LastCallDirection Direction
	LastCallAt        int64
	LastCallDuration  int64
	LastRecordingPath string

	TotalCalls           int64
	TotalIncoming        int64
	TotalOutgoing        int64
	TotalMissed          int64
	TotalDurationSeconds int64

	// ExcludeFromSync suppresses this contact's records from every sync
	// queue. ExcludeFromList only hides them from read views; they keep
	// syncing.
	ExcludeFromSync bool
	ExcludeFromList bool

	// NeedsSync flags outbound propagation of note/label/name edits.
	NeedsSync       bool
	ServerUpdatedAt int64

	CreatedAt int64
	UpdatedAt int64
}

// Validate checks the invariants an aggregate must satisfy.
func (c *Contact) Validate() error {
	if c.ContactKey == "" {
		return fmt.Errorf("contact key is required")
	}
	if c.TotalCalls < 0 || c.TotalDurationSeconds < 0 {
		return fmt.Errorf("counters must be non-negative")
	}
	return nil
}
