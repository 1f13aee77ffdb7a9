// Package ingest pulls new calls from a call-log source into the local
// store. Each run re-reads the tracking policy, rewinds a safety window
// behind the newest known call to catch late edits, deduplicates against
// existing composite ids, and recomputes the touched contact rollups.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/callrec"
	"github.com/miniclick/calltrackd/internal/config"
	"github.com/miniclick/calltrackd/internal/identity"
	"github.com/miniclick/calltrackd/internal/store"
)

// RewindWindow is how far behind the newest known call each run
// re-reads the source. The device call log can backfill or correct
// entries shortly after a call ends; two days covers every observed
// case.
const RewindWindow = 48 * time.Hour

// Result summarizes one ingestion run.
type Result struct {
	// Disabled is true when the SIM policy turned tracking off; no
	// source read happened.
	Disabled bool

	// Scanned is the number of source entries considered.
	Scanned int
	// Inserted is the number of new records written.
	Inserted int
	// SkippedExisting is entries already known by composite id.
	SkippedExisting int
	// SkippedPolicy is entries dropped by the SIM or boundary filter.
	SkippedPolicy int
	// Deleted is records removed by tracking-boundary cleanup.
	Deleted int

	// RowErrors holds per-entry failures that did not abort the run.
	RowErrors []error
}

// Pipeline ingests calls from a source into the store.
type Pipeline struct {
	db     *store.DB
	agg    *aggregate.Aggregator
	source Source
	log    *log.Logger
}

// New creates an ingestion pipeline.
func New(db *store.DB, agg *aggregate.Aggregator, source Source, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}
	return &Pipeline{db: db, agg: agg, source: source, log: logger}
}

// Run executes one ingestion pass under the given policy. The policy is
// passed per run rather than held by the pipeline so the daemon can
// reload configuration between ticks.
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) (Result, error) {
	var res Result

	// Boundary cleanup happens even when tracking is off, so moving the
	// tracking start forward takes effect immediately.
	if cfg.TrackingStart > 0 {
		keys, deleted, err := p.db.DeleteBefore(ctx, cfg.TrackingStart)
		if err != nil {
			return res, fmt.Errorf("boundary cleanup failed: %w", err)
		}
		if len(keys) > 0 {
			res.Deleted = int(deleted)
			p.log.Printf("boundary cleanup removed %d records for %d contacts", deleted, len(keys))
			if err := p.agg.RecomputeMany(ctx, keys); err != nil {
				return res, fmt.Errorf("aggregate recompute after cleanup failed: %w", err)
			}
		}
	}

	if cfg.SIMs == config.SIMOff {
		res.Disabled = true
		return res, nil
	}

	since := p.sinceTimestamp(ctx, cfg.TrackingStart)

	calls, err := p.source.CallsSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("source read failed: %w", err)
	}
	res.Scanned = len(calls)

	known, err := p.db.IDsSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("dedup snapshot failed: %w", err)
	}

	region := identity.Region{Country: cfg.Region}
	var batch []*callrec.Record
	touched := make(map[string]bool)

	for _, raw := range calls {
		if !cfg.SIMs.Allows(raw.SimSlot) {
			res.SkippedPolicy++
			continue
		}
		if cfg.TrackingStart > 0 && raw.OccurredAt < cfg.TrackingStart {
			res.SkippedPolicy++
			continue
		}

		contactKey := identity.Normalize(raw.Number, region)
		if contactKey == "" {
			res.RowErrors = append(res.RowErrors,
				fmt.Errorf("call %s has no usable number", raw.ExternalID))
			continue
		}

		direction := callrec.ParseDirection(raw.Direction)
		id := identity.CompositeID(direction, cfg.DeviceID, contactKey, raw.OccurredAt)
		if known[id] {
			res.SkippedExisting++
			continue
		}
		known[id] = true

		r := &callrec.Record{
			ID:              id,
			ExternalID:      raw.ExternalID,
			ContactKey:      contactKey,
			DisplayName:     raw.DisplayName,
			PhotoRef:        raw.PhotoRef,
			Direction:       direction,
			OccurredAt:      raw.OccurredAt,
			DurationSeconds: raw.DurationSeconds,
			SimID:           raw.SimID,
			DeviceID:        cfg.DeviceID,
			RecordingSync:   initialRecordingStatus(raw.DurationSeconds, cfg),
		}
		batch = append(batch, r)
		touched[contactKey] = true
	}

	inserted, rowErrs, err := p.db.InsertRecords(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("batch insert failed: %w", err)
	}
	res.Inserted = inserted
	res.RowErrors = append(res.RowErrors, rowErrs...)

	if inserted > 0 {
		keys := make([]string, 0, len(touched))
		for k := range touched {
			keys = append(keys, k)
		}
		if err := p.agg.RecomputeMany(ctx, keys); err != nil {
			return res, fmt.Errorf("aggregate recompute failed: %w", err)
		}
	}

	if inserted > 0 || res.Deleted > 0 {
		p.log.Printf("ingested %d new calls (%d scanned, %d known, %d filtered)",
			inserted, res.Scanned, res.SkippedExisting, res.SkippedPolicy)
	}
	return res, nil
}

// sinceTimestamp computes where the source read starts: the rewind
// window behind the newest known call, clamped to the tracking start.
func (p *Pipeline) sinceTimestamp(ctx context.Context, trackingStart int64) int64 {
	latest, err := p.db.MaxOccurredAt(ctx)
	if err != nil {
		p.log.Printf("max timestamp lookup failed, scanning full source: %v", err)
		return trackingStart
	}

	since := latest - RewindWindow.Milliseconds()
	if since < trackingStart {
		since = trackingStart
	}
	if since < 0 {
		since = 0
	}
	return since
}

// initialRecordingStatus derives the recording state for a fresh
// record. Zero-duration calls never have audio; otherwise the platform
// permission and the user toggle decide whether a file search is ever
// attempted.
func initialRecordingStatus(durationSeconds int64, cfg *config.Config) callrec.RecordingSyncStatus {
	if durationSeconds <= 0 {
		return callrec.RecordingNotApplicable
	}
	if !cfg.RecordingAllowed {
		return callrec.RecordingNotAllowed
	}
	if !cfg.RecordingEnabled {
		return callrec.RecordingDisabled
	}
	return callrec.RecordingPending
}
