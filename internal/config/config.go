// Package config loads daemon configuration from a YAML file with
// environment overrides. The ingestion policy values (SIM selection,
// tracking start, recording permissions) are re-read on every ingestion
// run so policy changes take effect without a restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SIMPolicy selects which SIM slots are tracked.
type SIMPolicy string

const (
	// SIMOff disables call tracking entirely.
	SIMOff  SIMPolicy = "off"
	SIMOne  SIMPolicy = "sim1"
	SIMTwo  SIMPolicy = "sim2"
	SIMBoth SIMPolicy = "both"
)

// ParseSIMPolicy maps a raw policy string, defaulting to both.
func ParseSIMPolicy(s string) (SIMPolicy, error) {
	switch SIMPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case SIMOff:
		return SIMOff, nil
	case SIMOne:
		return SIMOne, nil
	case SIMTwo:
		return SIMTwo, nil
	case SIMBoth, "":
		return SIMBoth, nil
	default:
		return SIMBoth, fmt.Errorf("unknown sim policy %q (want off, sim1, sim2, or both)", s)
	}
}

// Allows reports whether calls on the given SIM slot are tracked.
// Slot 0 means the source did not report a slot; those calls are kept
// under every policy except off.
func (p SIMPolicy) Allows(slot int) bool {
	switch p {
	case SIMOff:
		return false
	case SIMOne:
		return slot == 1 || slot == 0
	case SIMTwo:
		return slot == 2 || slot == 0
	default:
		return true
	}
}

// Config is the full daemon configuration.
type Config struct {
	// DatabasePath is the SQLite file holding records and aggregates.
	DatabasePath string

	// DeviceID identifies this device in composite record ids.
	DeviceID string

	// Region is the ISO country code used for phone normalization.
	Region string

	// SIMs selects which SIM slots are tracked.
	SIMs SIMPolicy

	// TrackingStart is the epoch-millis boundary before which calls are
	// neither ingested nor synced. Zero tracks all history.
	TrackingStart int64

	// SourcePath is the call-log export consumed by ingestion.
	SourcePath string

	// RecordingDir is the directory scanned for call recordings.
	RecordingDir string

	// RecordingAllowed is false when the platform denies recording
	// access outright; RecordingEnabled is the user toggle.
	RecordingAllowed bool
	RecordingEnabled bool

	// IngestInterval is how often the daemon polls the source.
	IngestInterval time.Duration

	// ResolveInterval is how often unmatched recordings are searched.
	ResolveInterval time.Duration

	// DashboardAddr is the listen address of the status dashboard;
	// empty disables it.
	DashboardAddr string

	// LogFile enables rotating file logging when set.
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads configuration from the given file (optional) plus
// CALLTRACKD_* environment overrides. Call again to pick up policy
// changes; Load never caches.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database", "calltrack.db")
	v.SetDefault("device_id", "")
	v.SetDefault("region", "US")
	v.SetDefault("sims", string(SIMBoth))
	v.SetDefault("tracking_start", int64(0))
	v.SetDefault("source", "")
	v.SetDefault("recording.dir", "")
	v.SetDefault("recording.allowed", true)
	v.SetDefault("recording.enabled", true)
	v.SetDefault("ingest_interval", "1m")
	v.SetDefault("resolve_interval", "5m")
	v.SetDefault("dashboard_addr", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetEnvPrefix("CALLTRACKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	sims, err := ParseSIMPolicy(v.GetString("sims"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabasePath:     v.GetString("database"),
		DeviceID:         v.GetString("device_id"),
		Region:           strings.ToUpper(v.GetString("region")),
		SIMs:             sims,
		TrackingStart:    v.GetInt64("tracking_start"),
		SourcePath:       v.GetString("source"),
		RecordingDir:     v.GetString("recording.dir"),
		RecordingAllowed: v.GetBool("recording.allowed"),
		RecordingEnabled: v.GetBool("recording.enabled"),
		IngestInterval:   v.GetDuration("ingest_interval"),
		ResolveInterval:  v.GetDuration("resolve_interval"),
		DashboardAddr:    v.GetString("dashboard_addr"),
		LogFile:          v.GetString("log.file"),
		LogMaxSizeMB:     v.GetInt("log.max_size_mb"),
		LogMaxBackups:    v.GetInt("log.max_backups"),
		LogMaxAgeDays:    v.GetInt("log.max_age_days"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.TrackingStart < 0 {
		return fmt.Errorf("tracking_start must be >= 0")
	}
	if c.IngestInterval <= 0 {
		return fmt.Errorf("ingest_interval must be positive")
	}
	if c.ResolveInterval <= 0 {
		return fmt.Errorf("resolve_interval must be positive")
	}
	return nil
}
