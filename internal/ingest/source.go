package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// RawCall is one entry of the device call log as reported by a source,
// before normalization and identity assignment.
type RawCall struct {
	ExternalID      string `json:"external_id"`
	Number          string `json:"number"`
	DisplayName     string `json:"display_name,omitempty"`
	PhotoRef        string `json:"photo_ref,omitempty"`
	Direction       string `json:"direction"`
	OccurredAt      int64  `json:"occurred_at"` // epoch millis
	DurationSeconds int64  `json:"duration_seconds"`
	SimSlot         int    `json:"sim_slot,omitempty"`
	SimID           string `json:"sim_id,omitempty"`
}

// Source provides call-log entries to the ingestion pipeline.
type Source interface {
	// CallsSince returns all calls at or after the given epoch-millis
	// timestamp. Sources may return extra older entries; the pipeline
	// filters and deduplicates.
	CallsSince(ctx context.Context, since int64) ([]RawCall, error)
}

// JSONLSource reads a call-log export with one JSON call per line, the
// format produced by the on-device exporter.
type JSONLSource struct {
	path string
}

// NewJSONLSource creates a source over the given export file.
func NewJSONLSource(path string) *JSONLSource {
	return &JSONLSource{path: path}
}

// CallsSince reads the export and returns calls at or after since.
func (s *JSONLSource) CallsSince(ctx context.Context, since int64) ([]RawCall, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log export: %w", err)
	}
	defer file.Close()

	var calls []RawCall
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var call RawCall
		if err := decoder.Decode(&call); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid call log entry at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if call.OccurredAt >= since {
			calls = append(calls, call)
		}
	}

	return calls, nil
}
