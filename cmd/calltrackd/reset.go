package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Queue everything for a full re-sync",
	Long: `Reset every record's sync state to PENDING.

All records are pushed again on the next sync pass, and recordings are
re-queued where a file can exist. Contacts with notes, labels, or
assigned names are flagged for re-push as well. Local data is not
modified; this only resets the sync bookkeeping.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		if !resetYes {
			fmt.Print("Re-queue every record for sync? [y/N] ")
			reply, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "y") {
				fmt.Println("Aborted.")
				return
			}
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		if err := db.ResetSyncState(context.Background()); err != nil {
			fatalf("reset failed: %v", err)
		}
		fmt.Println("Sync state reset; the next pass will push everything.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
