package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass",
	Long: `Pull new calls from the configured call-log source.

This performs a single pass:
  1. Removes records older than the tracking start, if one is set
  2. Re-reads the source from two days before the newest known call
  3. Inserts calls not yet known, applying the SIM policy
  4. Recomputes the contact rollups that gained calls`,
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

		agg := aggregate.New(db, newLogger(cfg, "[aggregate] "))
		pipeline := ingest.New(db, agg, ingest.NewJSONLSource(cfg.SourcePath), newLogger(cfg, "[ingest] "))

		res, err := pipeline.Run(context.Background(), cfg)
		if err != nil {
			fatalf("ingest failed: %v", err)
		}

		if res.Disabled {
			fmt.Println("Tracking is off (sims: off); nothing ingested.")
			return
		}

		fmt.Printf("Scanned %d calls: %d new, %d known, %d filtered\n",
			res.Scanned, res.Inserted, res.SkippedExisting, res.SkippedPolicy)
		if res.Deleted > 0 {
			fmt.Printf("Removed %d records older than the tracking start\n", res.Deleted)
		}
		for _, rowErr := range res.RowErrors {
			fmt.Printf("Warning: %v\n", rowErr)
		}
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
