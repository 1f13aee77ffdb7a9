// Package aggregate maintains the per-contact rollups derived from call
// records. Counters and last-call fields are recomputed from scratch on
// every change; user-owned fields (note, label, assigned name, exclusion
// flags) are carried over untouched.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/miniclick/calltrackd/internal/callrec"
	"github.com/miniclick/calltrackd/internal/store"
)

// Aggregator recomputes contact rollups from the record table.
type Aggregator struct {
	db  *store.DB
	log *log.Logger
}

// New creates an aggregator over the given store.
func New(db *store.DB, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.Writer(), "[aggregate] ", log.LstdFlags)
	}
	return &Aggregator{db: db, log: logger}
}

// Recompute rebuilds one contact's aggregate from its records. The
// snapshot and the write run in one store transaction, so a concurrent
// ingest cannot slip between them and lose its counts. A contact whose
// last record was deleted keeps its row with zeroed counters, so user
// notes and exclusion flags survive history cleanup.
func (a *Aggregator) Recompute(ctx context.Context, contactKey string) error {
	err := a.db.RecomputeAggregate(ctx, contactKey,
		func(records []*callrec.Record, prior *callrec.Contact) *callrec.Contact {
			return buildAggregate(contactKey, records, prior)
		})
	if err != nil {
		return fmt.Errorf("failed to recompute aggregate for %s: %w", contactKey, err)
	}
	return nil
}

// buildAggregate derives the new aggregate row from a record snapshot
// (newest first) and the prior row, nil for an unknown contact.
func buildAggregate(contactKey string, records []*callrec.Record, prior *callrec.Contact) *callrec.Contact {
	now := time.Now().UnixMilli()
	c := &callrec.Contact{
		ContactKey: contactKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prior != nil {
		// User-owned state survives recomputation.
		c.Name = prior.Name
		c.Note = prior.Note
		c.Label = prior.Label
		c.PhotoRef = prior.PhotoRef
		c.ExcludeFromSync = prior.ExcludeFromSync
		c.ExcludeFromList = prior.ExcludeFromList
		c.NeedsSync = prior.NeedsSync
		c.ServerUpdatedAt = prior.ServerUpdatedAt
		c.CreatedAt = prior.CreatedAt
	}

	for _, r := range records {
		c.TotalCalls++
		c.TotalDurationSeconds += r.DurationSeconds
		switch r.Direction {
		case callrec.DirectionIncoming:
			c.TotalIncoming++
		case callrec.DirectionOutgoing:
			c.TotalOutgoing++
		case callrec.DirectionMissed, callrec.DirectionRejected, callrec.DirectionBlocked:
			c.TotalMissed++
		}
	}

	if len(records) > 0 {
		// RecordsForContact returns newest first.
		latest := records[0]
		c.LastCallID = latest.ID
		c.LastCallDirection = latest.Direction
		c.LastCallAt = latest.OccurredAt
		c.LastCallDuration = latest.DurationSeconds

		// The device contact name wins only when the user has not
		// assigned one.
		if c.Name == "" {
			c.Name = latest.DisplayName
		}
		if c.PhotoRef == "" {
			c.PhotoRef = latest.PhotoRef
		}
		for _, r := range records {
			if r.LocalRecordingPath != "" {
				c.LastRecordingPath = r.LocalRecordingPath
				break
			}
		}
	}

	return c
}

// RecomputeMany rebuilds a batch of contacts, continuing past individual
// failures. Returns the first error encountered, if any.
func (a *Aggregator) RecomputeMany(ctx context.Context, contactKeys []string) error {
	var firstErr error
	for _, key := range contactKeys {
		if err := a.Recompute(ctx, key); err != nil {
			a.log.Printf("recompute failed for %s: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
