package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_Defaults tests that a missing config file yields a usable
// default configuration
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DatabasePath != "calltrack.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.SIMs != SIMBoth {
		t.Errorf("SIMs = %s, want both", cfg.SIMs)
	}
	if cfg.IngestInterval != time.Minute {
		t.Errorf("IngestInterval = %s, want 1m", cfg.IngestInterval)
	}
	if !cfg.RecordingAllowed || !cfg.RecordingEnabled {
		t.Error("recording should default to allowed and enabled")
	}
}

// TestLoad_File tests reading a YAML config file
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database: /var/lib/calltrackd/calls.db
device_id: pixel-7a
region: de
sims: sim2
tracking_start: 1700000000000
recording:
  dir: /sdcard/Recordings
  enabled: false
ingest_interval: 30s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DatabasePath != "/var/lib/calltrackd/calls.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.DeviceID != "pixel-7a" {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
	if cfg.Region != "DE" {
		t.Errorf("Region = %q, want upper-cased DE", cfg.Region)
	}
	if cfg.SIMs != SIMTwo {
		t.Errorf("SIMs = %s", cfg.SIMs)
	}
	if cfg.TrackingStart != 1700000000000 {
		t.Errorf("TrackingStart = %d", cfg.TrackingStart)
	}
	if cfg.RecordingDir != "/sdcard/Recordings" {
		t.Errorf("RecordingDir = %q", cfg.RecordingDir)
	}
	if cfg.RecordingEnabled {
		t.Error("RecordingEnabled should be false")
	}
	if cfg.IngestInterval != 30*time.Second {
		t.Errorf("IngestInterval = %s", cfg.IngestInterval)
	}
}

// TestLoad_BadSIMPolicy tests that an unknown policy value is rejected
func TestLoad_BadSIMPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sims: sim9\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unknown sim policy")
	}
}

// TestSIMPolicy_Allows tests slot filtering per policy
func TestSIMPolicy_Allows(t *testing.T) {
	tests := []struct {
		policy SIMPolicy
		slot   int
		want   bool
	}{
		{SIMOff, 1, false},
		{SIMOff, 0, false},
		{SIMOne, 1, true},
		{SIMOne, 2, false},
		{SIMOne, 0, true},
		{SIMTwo, 2, true},
		{SIMTwo, 1, false},
		{SIMBoth, 1, true},
		{SIMBoth, 2, true},
		{SIMBoth, 0, true},
	}
	for _, tt := range tests {
		if got := tt.policy.Allows(tt.slot); got != tt.want {
			t.Errorf("%s.Allows(%d) = %v, want %v", tt.policy, tt.slot, got, tt.want)
		}
	}
}

// TestParseSIMPolicy_Default tests that empty input means both
func TestParseSIMPolicy_Default(t *testing.T) {
	p, err := ParseSIMPolicy("")
	if err != nil {
		t.Fatalf("ParseSIMPolicy() failed: %v", err)
	}
	if p != SIMBoth {
		t.Errorf("ParseSIMPolicy(\"\") = %s, want both", p)
	}
}
