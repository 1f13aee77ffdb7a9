// Package callrec defines the core data model for the call-record sync
// engine: call records, contact aggregates, and the two per-record sync
// state machines (metadata and recording).
package callrec

// Direction classifies a call as seen by the device call log.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionMissed   Direction = "missed"
	DirectionRejected Direction = "rejected"
	DirectionBlocked  Direction = "blocked"
	DirectionUnknown  Direction = "unknown"
)

// ParseDirection maps a raw direction string to a Direction.
// Unrecognized values map to DirectionUnknown rather than failing,
// so one malformed row cannot abort an ingestion batch.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionIncoming, DirectionOutgoing, DirectionMissed,
		DirectionRejected, DirectionBlocked:
		return Direction(s)
	default:
		return DirectionUnknown
	}
}

// MetadataSyncStatus tracks propagation of the cheap textual fields
// (note, reviewed, display name) to the server.
type MetadataSyncStatus string

const (
	// MetadataPending is the only legal initial state: the record has
	// never been pushed.
	MetadataPending MetadataSyncStatus = "PENDING"
	// MetadataUpdatePending marks a record that was synced and then
	// edited locally.
	MetadataUpdatePending MetadataSyncStatus = "UPDATE_PENDING"
	MetadataSynced        MetadataSyncStatus = "SYNCED"
	MetadataFailed        MetadataSyncStatus = "FAILED"
)

// ParseMetadataSyncStatus maps a stored status string to a
// MetadataSyncStatus, defaulting to MetadataPending for unknown values.
func ParseMetadataSyncStatus(s string) MetadataSyncStatus {
	switch MetadataSyncStatus(s) {
	case MetadataPending, MetadataUpdatePending, MetadataSynced, MetadataFailed:
		return MetadataSyncStatus(s)
	default:
		return MetadataPending
	}
}

// RecordingSyncStatus tracks the expensive audio-upload pipeline.
type RecordingSyncStatus string

const (
	// RecordingNotApplicable is terminal and initial for zero-duration
	// calls: no recording can exist.
	RecordingNotApplicable RecordingSyncStatus = "NOT_APPLICABLE"
	// RecordingNotAllowed and RecordingDisabled are authoritative
	// policy decisions applied from outside the engine.
	RecordingNotAllowed RecordingSyncStatus = "NOT_ALLOWED"
	RecordingDisabled   RecordingSyncStatus = "DISABLED"
	// RecordingNotFound means the resolver exhausted its search without
	// a match. Expected outcome, not an error.
	RecordingNotFound  RecordingSyncStatus = "NOT_FOUND"
	RecordingPending   RecordingSyncStatus = "PENDING"
	RecordingUploading RecordingSyncStatus = "UPLOADING"
	RecordingCompleted RecordingSyncStatus = "COMPLETED"
	RecordingFailed    RecordingSyncStatus = "FAILED"
)

// ParseRecordingSyncStatus maps a stored status string to a
// RecordingSyncStatus, defaulting to RecordingPending for unknown values.
func ParseRecordingSyncStatus(s string) RecordingSyncStatus {
	switch RecordingSyncStatus(s) {
	case RecordingNotApplicable, RecordingNotAllowed, RecordingDisabled,
		RecordingNotFound, RecordingPending, RecordingUploading,
		RecordingCompleted, RecordingFailed:
		return RecordingSyncStatus(s)
	default:
		return RecordingPending
	}
}

// InitialRecordingStatus returns the initial recording state for a call
// of the given duration. Zero-duration calls can never have a recording.
func InitialRecordingStatus(durationSeconds int64) RecordingSyncStatus {
	if durationSeconds <= 0 {
		return RecordingNotApplicable
	}
	return RecordingPending
}
