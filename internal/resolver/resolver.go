// Package resolver associates call records with the audio files a
// recorder app writes. Recorder filenames are not standardized, so
// matching is fuzzy: the file's mtime must fall inside the call window,
// and the filename's embedded phone number or contact name breaks ties.
//
// Matching a single new file searches progressively larger batches of
// recent unmatched calls, so the common case (the file belongs to a
// call that just ended) stays cheap even with a large backlog.
package resolver

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/config"
	"github.com/miniclick/calltrackd/internal/store"
)

// searchTiers are the candidate batch sizes tried in order when
// matching one file. Each tier re-queries the most recent unmatched
// calls; the search stops at the first tier that produces a match.
var searchTiers = []int{20, 50, 100, 300, 700, 1000, 3000, 5000}

// notFoundAfter is how old an unmatched call must be before a full
// sweep gives up on it and marks the recording NOT_FOUND. Younger calls
// stay PENDING since their file may simply not be flushed yet.
const notFoundAfter = 48 * time.Hour

// Result summarizes one resolver pass.
type Result struct {
	// FilesScanned is the number of recording files considered.
	FilesScanned int
	// Matched is the number of files attached to a record.
	Matched int
	// MarkedNotFound is records the sweep gave up on.
	MarkedNotFound int
}

// Resolver matches recording files to call records.
type Resolver struct {
	db  *store.DB
	agg *aggregate.Aggregator
	log *log.Logger
}

// New creates a resolver over the given store.
func New(db *store.DB, agg *aggregate.Aggregator, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[resolver] ", log.LstdFlags)
	}
	return &Resolver{db: db, agg: agg, log: logger}
}

// ResolveFile matches one recording file against recent unmatched
// calls, widening the candidate batch tier by tier. Returns the id of
// the matched record, or "" when nothing matched.
func (r *Resolver) ResolveFile(ctx context.Context, cfg *config.Config, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat recording %s: %w", path, err)
	}
	f := candidateFile{path: path, modTime: info.ModTime().UnixMilli()}

	for _, tier := range searchTiers {
		candidates, err := r.db.MissingRecordings(ctx, cfg.TrackingStart, tier)
		if err != nil {
			return "", err
		}

		if match := bestMatch(f, candidates); match != nil {
			attached, err := r.db.AttachRecording(ctx, match.ID, path)
			if err != nil {
				return "", err
			}
			if !attached {
				// Lost the race to a concurrent attach; the next tier
				// would return the same candidates minus this record,
				// so retry the whole search once from the top.
				return r.ResolveFile(ctx, cfg, path)
			}
			if err := r.agg.Recompute(ctx, match.ContactKey); err != nil {
				return "", err
			}
			r.log.Printf("matched %s to call %s", filepath.Base(path), match.ID)
			return match.ID, nil
		}

		// The tier was not full, so widening cannot add candidates.
		if len(candidates) < tier {
			break
		}
	}

	return "", nil
}

// Sweep scans the recording directory and tries to match every file not
// yet attached to a record. Unmatched calls older than the give-up age
// are moved to NOT_FOUND so they stop occupying the search set; a file
// appearing later revives them through AttachRecording.
func (r *Resolver) Sweep(ctx context.Context, cfg *config.Config) (Result, error) {
	var res Result
	if cfg.RecordingDir == "" || !cfg.RecordingAllowed || !cfg.RecordingEnabled {
		return res, nil
	}

	entries, err := os.ReadDir(cfg.RecordingDir)
	if err != nil {
		return res, fmt.Errorf("failed to read recording directory: %w", err)
	}

	attached, err := r.db.AttachedRecordingPaths(ctx)
	if err != nil {
		return res, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.IsDir() || !IsAudioFile(entry.Name()) {
			continue
		}
		path := filepath.Join(cfg.RecordingDir, entry.Name())
		if attached[path] {
			continue
		}
		res.FilesScanned++

		id, err := r.ResolveFile(ctx, cfg, path)
		if err != nil {
			r.log.Printf("match failed for %s: %v", entry.Name(), err)
			continue
		}
		if id != "" {
			res.Matched++
		}
	}

	n, err := r.expireUnmatched(ctx, cfg)
	if err != nil {
		return res, err
	}
	res.MarkedNotFound = n

	if res.Matched > 0 || res.MarkedNotFound > 0 {
		r.log.Printf("sweep matched %d of %d files, gave up on %d calls",
			res.Matched, res.FilesScanned, res.MarkedNotFound)
	}
	return res, nil
}

// expireUnmatched marks old unmatched calls NOT_FOUND after a full
// directory sweep found nothing for them.
func (r *Resolver) expireUnmatched(ctx context.Context, cfg *config.Config) (int, error) {
	cutoff := time.Now().Add(-notFoundAfter).UnixMilli()

	candidates, err := r.db.MissingRecordings(ctx, cfg.TrackingStart, searchTiers[len(searchTiers)-1])
	if err != nil {
		return 0, err
	}

	var expired []string
	for _, rec := range candidates {
		if rec.OccurredAt < cutoff {
			expired = append(expired, rec.ID)
		}
	}
	return r.db.MarkRecordingsNotFound(ctx, expired)
}
