// Package status reports outstanding sync work. The engine produces
// point-in-time snapshots of the pending counters and state census, and
// a polling notifier that emits whenever the counters change, which
// feeds the dashboard broadcast.
package status

import (
	"context"
	"log"
	"time"

	"github.com/miniclick/calltrackd/internal/store"
)

// Snapshot is one observation of the store's sync state.
type Snapshot struct {
	TakenAt int64               `json:"taken_at"` // epoch millis
	Pending store.PendingCounts `json:"pending"`

	TotalRecords  int64 `json:"total_records"`
	TotalContacts int64 `json:"total_contacts"`

	Metadata  map[string]int64 `json:"metadata"`
	Recording map[string]int64 `json:"recording"`
}

// Engine computes sync status snapshots.
type Engine struct {
	db  *store.DB
	log *log.Logger
}

// New creates a status engine over the given store.
func New(db *store.DB, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[status] ", log.LstdFlags)
	}
	return &Engine{db: db, log: logger}
}

// Snapshot reads the pending counters and the per-state census.
func (e *Engine) Snapshot(ctx context.Context, boundary int64) (Snapshot, error) {
	var s Snapshot

	pending, err := e.db.CountPending(ctx, boundary)
	if err != nil {
		return s, err
	}
	census, err := e.db.CountByStatus(ctx)
	if err != nil {
		return s, err
	}

	s.TakenAt = time.Now().UnixMilli()
	s.Pending = pending
	s.TotalRecords = census.TotalRecords
	s.TotalContacts = census.TotalContacts
	s.Metadata = make(map[string]int64, len(census.Metadata))
	for k, v := range census.Metadata {
		s.Metadata[string(k)] = v
	}
	s.Recording = make(map[string]int64, len(census.Recording))
	for k, v := range census.Recording {
		s.Recording[string(k)] = v
	}
	return s, nil
}

// Watch polls the pending counters at the given interval and emits a
// snapshot whenever they change. The first snapshot is emitted
// immediately. The channel closes when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, boundary int64, interval time.Duration) <-chan Snapshot {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		var last *store.PendingCounts
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		emit := func() {
			snap, err := e.Snapshot(ctx, boundary)
			if err != nil {
				if ctx.Err() == nil {
					e.log.Printf("snapshot failed: %v", err)
				}
				return
			}
			if last != nil && snap.Pending == *last {
				return
			}
			last = &snap.Pending

			select {
			case out <- snap:
			case <-ctx.Done():
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out
}
