package callrec

import "fmt"

// ErrIllegalTransition is returned when a requested state change is not
// permitted by the corresponding state machine.
var ErrIllegalTransition = fmt.Errorf("illegal sync status transition")

// metadataTransitions is the full transition relation for the metadata
// state machine. A record starts PENDING; UPDATE_PENDING is reachable
// only from SYNCED (a fresh record that was edited before its first
// push stays PENDING) and from FAILED (retry after a rejected update).
var metadataTransitions = map[MetadataSyncStatus][]MetadataSyncStatus{
	MetadataPending:       {MetadataSynced, MetadataFailed},
	MetadataSynced:        {MetadataUpdatePending, MetadataFailed},
	MetadataUpdatePending: {MetadataSynced, MetadataFailed},
	MetadataFailed:        {MetadataPending, MetadataUpdatePending, MetadataSynced},
}

// recordingTransitions is the transition relation for the recording
// state machine. NOT_APPLICABLE and COMPLETED are terminal; NOT_ALLOWED
// and DISABLED are policy states the engine never leaves automatically
// (a bulk reset is the only way out, see store.ResetSyncState). A
// failed upload retries through PENDING, never straight to UPLOADING.
var recordingTransitions = map[RecordingSyncStatus][]RecordingSyncStatus{
	RecordingNotApplicable: {},
	RecordingPending:       {RecordingUploading, RecordingNotFound, RecordingNotAllowed, RecordingDisabled, RecordingFailed},
	RecordingUploading:     {RecordingCompleted, RecordingFailed, RecordingNotAllowed, RecordingDisabled},
	RecordingCompleted:     {},
	RecordingFailed:        {RecordingPending, RecordingNotFound, RecordingNotAllowed, RecordingDisabled},
	RecordingNotFound:      {RecordingPending},
	RecordingNotAllowed:    {},
	RecordingDisabled:      {},
}

// CanTransitionMetadata reports whether the metadata machine permits
// moving from one state to another. Same-state writes are permitted as
// no-ops so that retried status updates stay idempotent.
func CanTransitionMetadata(from, to MetadataSyncStatus) bool {
	if from == to {
		return true
	}
	for _, next := range metadataTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionRecording reports whether the recording machine permits
// moving from one state to another.
func CanTransitionRecording(from, to RecordingSyncStatus) bool {
	if from == to {
		return true
	}
	for _, next := range recordingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckMetadataTransition validates a metadata transition, returning a
// wrapped ErrIllegalTransition describing the rejected edge.
func CheckMetadataTransition(from, to MetadataSyncStatus) error {
	if !CanTransitionMetadata(from, to) {
		return fmt.Errorf("%w: metadata %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// CheckRecordingTransition validates a recording transition.
func CheckRecordingTransition(from, to RecordingSyncStatus) error {
	if !CanTransitionRecording(from, to) {
		return fmt.Errorf("%w: recording %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
