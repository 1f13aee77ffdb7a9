package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/aggregate"
	"github.com/miniclick/calltrackd/internal/reconcile"
)

// serverUpdate is one line of an update feed: exactly one of Record or
// Contact is set.
type serverUpdate struct {
	Record  *reconcile.RecordUpdate  `json:"record,omitempty"`
	Contact *reconcile.ContactUpdate `json:"contact,omitempty"`
}

var applyCmd = &cobra.Command{
	Use:   "apply <updates.jsonl>",
	Short: "Apply server-side updates to the local store",
	Long: `Apply a feed of server-side edits, one JSON update per line.

Each line carries either a record update or a contact update with the
server's timestamp. Conflicts resolve by last writer wins: updates older
than what this store has already seen are dropped, so replaying a feed
is harmless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		records, contacts, err := readUpdateFeed(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		agg := aggregate.New(db, newLogger(cfg, "[aggregate] "))
		rec := reconcile.New(db, agg, newLogger(cfg, "[reconcile] "))
		ctx := context.Background()

		recRes, err := rec.ApplyRecords(ctx, records)
		if err != nil {
			fatalf("record updates failed: %v", err)
		}
		conRes, err := rec.ApplyContacts(ctx, contacts)
		if err != nil {
			fatalf("contact updates failed: %v", err)
		}

		fmt.Printf("Records:  %d applied, %d stale\n", recRes.Applied, recRes.Dropped)
		fmt.Printf("Contacts: %d applied, %d stale\n", conRes.Applied, conRes.Dropped)
		for _, e := range append(recRes.Errors, conRes.Errors...) {
			fmt.Printf("Warning: %v\n", e)
		}
	},
}

// readUpdateFeed parses the JSONL update feed.
func readUpdateFeed(path string) ([]reconcile.RecordUpdate, []reconcile.ContactUpdate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open update feed: %w", err)
	}
	defer file.Close()

	var records []reconcile.RecordUpdate
	var contacts []reconcile.ContactUpdate

	decoder := json.NewDecoder(file)
	lineNum := 0
	for {
		var upd serverUpdate
		if err := decoder.Decode(&upd); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("invalid update at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch {
		case upd.Record != nil:
			records = append(records, *upd.Record)
		case upd.Contact != nil:
			contacts = append(contacts, *upd.Contact)
		default:
			return nil, nil, fmt.Errorf("update at line %d has neither record nor contact", lineNum)
		}
	}

	return records, contacts, nil
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
