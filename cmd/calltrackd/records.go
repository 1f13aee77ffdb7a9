package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/callrec"
)

var listLimit int
var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List call records",
	Long: `List call records, newest first.

Records of contacts hidden with 'contact exclude --list' are omitted
unless --all is given.`,
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

		ctx := context.Background()
		var records []*callrec.Record
		if listAll {
			// The unfiltered view goes through the contact listing to
			// keep exclusion handling in one place.
			contacts, err := db.ListContacts(ctx, true)
			if err != nil {
				fatalf("list failed: %v", err)
			}
			for _, c := range contacts {
				rs, err := db.RecordsForContact(ctx, c.ContactKey)
				if err != nil {
					fatalf("list failed: %v", err)
				}
				records = append(records, rs...)
			}
		} else {
			records, err = db.ListRecords(ctx, listLimit)
			if err != nil {
				fatalf("list failed: %v", err)
			}
		}

		if len(records) == 0 {
			fmt.Println("No records.")
			return
		}
		for _, r := range records {
			printRecord(r)
		}
	},
}

func printRecord(r *callrec.Record) {
	when := time.UnixMilli(r.OccurredAt).Format("2006-01-02 15:04")
	name := r.DisplayName
	if name == "" {
		name = r.ContactKey
	}

	reviewed := " "
	if r.Reviewed {
		reviewed = "*"
	}
	recording := ""
	if r.LocalRecordingPath != "" {
		recording = " [rec]"
	}

	fmt.Printf("%s %s  %-8s %4ds  %-20s %s/%s%s\n",
		reviewed, when, r.Direction, r.DurationSeconds, name,
		r.MetadataSync, r.RecordingSync, recording)
	if r.Note != "" {
		fmt.Printf("    note: %s\n", r.Note)
	}
}

var noteCmd = &cobra.Command{
	Use:   "note <record-id> <text>",
	Short: "Set the note on a call record",
	Args:  cobra.ExactArgs(2),
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

		if err := db.UpdateNote(context.Background(), args[0], args[1]); err != nil {
			fatalf("note failed: %v", err)
		}
		fmt.Println("Note saved; the record will be re-pushed.")
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <record-id> [true|false]",
	Short: "Mark a call record reviewed",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		reviewed := true
		if len(args) == 2 {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				fatalf("invalid reviewed value %q", args[1])
			}
			reviewed = v
		}

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		db, err := openStore(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		if err := db.UpdateReviewed(context.Background(), args[0], reviewed); err != nil {
			fatalf("review failed: %v", err)
		}
		fmt.Printf("Reviewed set to %v.\n", reviewed)
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum records to show (0 = all)")
	listCmd.Flags().BoolVar(&listAll, "all", false, "include hidden contacts")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(reviewCmd)
}
