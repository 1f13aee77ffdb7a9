// Package reconcile applies server-side changes to the local store.
// Conflicts resolve by last writer wins on the server's per-row
// timestamp: an update older than what the store has already seen is
// dropped, so replayed or out-of-order deliveries are harmless.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/callrec"
	"github.com/miniclick/calltrackd/internal/store"
)

// RecordUpdate is one server-side record change.
type RecordUpdate struct {
	ID          string `json:"id"`
	ContactKey  string `json:"contact_key"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoRef    string `json:"photo_ref,omitempty"`
	Direction   string `json:"direction,omitempty"`
	OccurredAt  int64  `json:"occurred_at,omitempty"`
	DurationSec int64  `json:"duration_seconds,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Note        string `json:"note"`
	Reviewed    bool   `json:"reviewed"`
	UpdatedAt   int64  `json:"updated_at"` // server clock, epoch millis
}

// ContactUpdate is one server-side contact change. Nil fields were not
// modified on the server.
type ContactUpdate struct {
	ContactKey string  `json:"contact_key"`
	Name       *string `json:"name,omitempty"`
	Note       *string `json:"note,omitempty"`
	Label      *string `json:"label,omitempty"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Result summarizes one reconciliation batch.
type Result struct {
	// Applied is updates that changed local state.
	Applied int
	// Dropped is updates older than the local server timestamp.
	Dropped int
	// Errors holds per-update failures that did not abort the batch.
	Errors []error
}

// Reconciler folds server updates into the store.
type Reconciler struct {
	db  *store.DB
	agg *aggregate.Aggregator
	log *log.Logger
}

// New creates a reconciler over the given store.
func New(db *store.DB, agg *aggregate.Aggregator, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(log.Writer(), "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{db: db, agg: agg, log: logger}
}

// ApplyRecords folds a batch of record updates into the store,
// continuing past individual failures. Records unknown locally are
// created (calls observed by another device on the same account), and
// touched contacts get their rollups recomputed.
func (r *Reconciler) ApplyRecords(ctx context.Context, updates []RecordUpdate) (Result, error) {
	var res Result
	touched := make(map[string]bool)

	for _, upd := range updates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if upd.ID == "" || upd.UpdatedAt <= 0 {
			res.Errors = append(res.Errors, fmt.Errorf("record update missing id or timestamp: %+v", upd))
			continue
		}

		rec := &callrec.Record{
			ID:              upd.ID,
			ContactKey:      upd.ContactKey,
			DisplayName:     upd.DisplayName,
			PhotoRef:        upd.PhotoRef,
			Direction:       callrec.ParseDirection(upd.Direction),
			OccurredAt:      upd.OccurredAt,
			DurationSeconds: upd.DurationSec,
			DeviceID:        upd.DeviceID,
			Note:            upd.Note,
			Reviewed:        upd.Reviewed,
		}

		applied, err := r.db.ApplyServerRecord(ctx, rec, upd.UpdatedAt)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("record %s: %w", upd.ID, err))
			continue
		}
		if applied {
			res.Applied++
			if upd.ContactKey != "" {
				touched[upd.ContactKey] = true
			}
		} else {
			res.Dropped++
		}
	}

	if len(touched) > 0 {
		keys := make([]string, 0, len(touched))
		for k := range touched {
			keys = append(keys, k)
		}
		if err := r.agg.RecomputeMany(ctx, keys); err != nil {
			return res, fmt.Errorf("aggregate recompute after reconcile failed: %w", err)
		}
	}

	if res.Applied > 0 || res.Dropped > 0 {
		r.log.Printf("applied %d record updates, dropped %d stale", res.Applied, res.Dropped)
	}
	return res, nil
}

// ApplyContacts folds a batch of contact updates into the store.
func (r *Reconciler) ApplyContacts(ctx context.Context, updates []ContactUpdate) (Result, error) {
	var res Result

	for _, upd := range updates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if upd.ContactKey == "" || upd.UpdatedAt <= 0 {
			res.Errors = append(res.Errors, fmt.Errorf("contact update missing key or timestamp: %+v", upd))
			continue
		}

		applied, err := r.db.ApplyServerContact(ctx, upd.ContactKey, upd.Name, upd.Note, upd.Label, upd.UpdatedAt)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("contact %s: %w", upd.ContactKey, err))
			continue
		}
		if applied {
			res.Applied++
		} else {
			res.Dropped++
		}
	}

	if res.Applied > 0 || res.Dropped > 0 {
		r.log.Printf("applied %d contact updates, dropped %d stale", res.Applied, res.Dropped)
	}
	return res, nil
}
