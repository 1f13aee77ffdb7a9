package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/daemon"
	"github.com/miniclick/calltrackd/internal/dashboard"
	"github.com/miniclick/calltrackd/internal/ingest"
	"github.com/miniclick/calltrackd/internal/resolver"
	"github.com/miniclick/calltrackd/internal/status"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the long-lived sync process.

The daemon periodically ingests new calls from the configured source,
watches the recording directory for finished files, and serves the
status dashboard when dashboard_addr is configured. Configuration is
re-read on every ingestion tick, so policy changes apply without a
restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if cfg.SourcePath == "" {
			fatalf("no call-log source configured (set source in the config file)")
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		logger := newLogger(cfg, "[daemon] ")
		agg := aggregate.New(db, newLogger(cfg, "[aggregate] "))
		pipeline := ingest.New(db, agg, ingest.NewJSONLSource(cfg.SourcePath), newLogger(cfg, "[ingest] "))
		res := resolver.New(db, agg, newLogger(cfg, "[resolver] "))
		statusEn := status.New(db, newLogger(cfg, "[status] "))

		var dash *dashboard.Server
		if cfg.DashboardAddr != "" {
			dash = dashboard.NewServer(cfg.DashboardAddr, newLogger(cfg, "[dashboard] "))
			if err := dash.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer dash.Stop()
		}

		opts := daemon.DefaultOptions()
		opts.Logger = logger

		d, err := daemon.New(cfgFile, cfg, pipeline, res, statusEn, dash, opts)
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatalf("daemon failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
