package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Match recording files to calls",
	Long: `Sweep the recording directory and attach unmatched audio files.

A file matches a call when its modification time falls inside the call
window (padded by one minute) and, preferably, its name embeds the
call's phone number or contact name. Calls older than two days with no
matching file are marked NOT_FOUND; a file appearing later revives
them.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if cfg.RecordingDir == "" {
			fatalf("no recording directory configured (set recording.dir in the config file)")
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		agg := aggregate.New(db, newLogger(cfg, "[aggregate] "))
		res, err := resolver.New(db, agg, newLogger(cfg, "[resolver] ")).Sweep(context.Background(), cfg)
		if err != nil {
			fatalf("sweep failed: %v", err)
		}

		fmt.Printf("Scanned %d files: %d matched\n", res.FilesScanned, res.Matched)
		if res.MarkedNotFound > 0 {
			fmt.Printf("Gave up on %d calls (no file after two days)\n", res.MarkedNotFound)
		}
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
