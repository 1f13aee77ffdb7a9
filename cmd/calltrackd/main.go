// calltrackd keeps a local database of phone calls in sync with a
// device call log and matches call recordings to their calls.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/miniclick/calltrackd/internal/config"
	"github.com/miniclick/calltrackd/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "calltrackd",
	Short: "Local-first call record sync daemon",
	Long: `calltrackd maintains a local SQLite database of phone calls.

It ingests new calls from a call-log export, tracks per-record sync
state for metadata and recordings, matches recording files to calls,
and reconciles edits arriving from the server.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus CALLTRACKD_* env)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the database named by the config.
func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// newLogger builds the shared logger. With log.file configured, output
// goes to a size-rotated file; otherwise to stderr.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
