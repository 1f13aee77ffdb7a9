package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outstanding sync work",
	Long: `Show the pending-change counters and the per-state census.

The counters use the same filters as the sync queues, so the numbers
here are exactly what a sync pass would pick up.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		snap, err := status.New(db, newLogger(cfg, "[status] ")).Snapshot(context.Background(), cfg.TrackingStart)
		if err != nil {
			fatalf("status failed: %v", err)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap); err != nil {
				fatalf("failed to encode status: %v", err)
			}
			return
		}

		fmt.Printf("Records: %d   Contacts: %d\n\n", snap.TotalRecords, snap.TotalContacts)
		fmt.Printf("Pending changes: %d\n", snap.Pending.Total())
		fmt.Printf("  new calls:        %d\n", snap.Pending.NewCalls)
		fmt.Printf("  metadata updates: %d\n", snap.Pending.MetadataUpdates)
		fmt.Printf("  failed pushes:    %d\n", snap.Pending.MetadataFailed)
		fmt.Printf("  recordings:       %d\n", snap.Pending.Recordings)
		fmt.Printf("  contact updates:  %d\n", snap.Pending.ContactUpdates)

		fmt.Println("\nMetadata states:")
		printCensus(snap.Metadata)
		fmt.Println("Recording states:")
		printCensus(snap.Recording)
	},
}

func printCensus(census map[string]int64) {
	keys := make([]string, 0, len(census))
	for k := range census {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %d\n", k, census[k])
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
