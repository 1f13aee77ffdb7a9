package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrackd/internal/store"
)

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Inspect and edit contact rollups",
}

var contactAll bool

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts by most recent call",
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		contacts, err := db.ListContacts(context.Background(), contactAll)
		if err != nil {
			fatalf("list failed: %v", err)
		}
		if len(contacts) == 0 {
			fmt.Println("No contacts.")
			return
		}

		for _, c := range contacts {
			name := c.Name
			if name == "" {
				name = c.ContactKey
			}
			last := "never"
			if c.LastCallAt > 0 {
				last = time.UnixMilli(c.LastCallAt).Format("2006-01-02 15:04")
			}

			flags := ""
			if c.ExcludeFromSync {
				flags += " [no-sync]"
			}
			if c.ExcludeFromList {
				flags += " [hidden]"
			}
			if c.NeedsSync {
				flags += " [pending]"
			}

			fmt.Printf("%-20s %-16s calls:%-4d last:%s%s\n", name, c.ContactKey, c.TotalCalls, last, flags)
			if c.Note != "" {
				fmt.Printf("    note: %s\n", c.Note)
			}
			if c.Label != "" {
				fmt.Printf("    label: %s\n", c.Label)
			}
		}
	},
}

var contactNoteCmd = &cobra.Command{
	Use:   "note <contact-key> <text>",
	Short: "Set the note on a contact",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		if err := db.UpdateContactNote(context.Background(), args[0], args[1]); err != nil {
			fatalf("note failed: %v", err)
		}
		fmt.Println("Note saved; the contact will be re-pushed.")
	},
}

var contactLabelCmd = &cobra.Command{
	Use:   "label <contact-key> <text>",
	Short: "Set the label on a contact",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		if err := db.UpdateContactLabel(context.Background(), args[0], args[1]); err != nil {
			fatalf("label failed: %v", err)
		}
		fmt.Println("Label saved.")
	},
}

var contactNameCmd = &cobra.Command{
	Use:   "name <contact-key> <name>",
	Short: "Assign a display name to a contact",
	Long: `Assign a display name to a contact.

An assigned name wins over whatever the call log reports and survives
aggregate recomputation.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		if err := db.UpdateContactName(context.Background(), args[0], args[1]); err != nil {
			fatalf("name failed: %v", err)
		}
		fmt.Println("Name saved.")
	},
}

var excludeSync, excludeList bool

var contactExcludeCmd = &cobra.Command{
	Use:   "exclude <contact-key>",
	Short: "Set a contact's exclusion flags",
	Long: `Set a contact's exclusion flags.

--sync keeps the contact's records out of every sync queue; --list only
hides the contact from listings while it keeps syncing. Both flags are
local preferences and are never pushed. Run with neither flag to clear
both.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		if err := db.SetExclusion(context.Background(), args[0], excludeSync, excludeList); err != nil {
			fatalf("exclude failed: %v", err)
		}
		fmt.Printf("Exclusion set: sync=%v list=%v\n", excludeSync, excludeList)
	},
}

var reviewAllCmd = &cobra.Command{
	Use:   "review-all <contact-key>",
	Short: "Mark every call of a contact reviewed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpen()
		defer db.Close()

		n, err := db.MarkAllReviewed(context.Background(), args[0])
		if err != nil {
			fatalf("review-all failed: %v", err)
		}
		fmt.Printf("Marked %d calls reviewed.\n", n)
	},
}

// mustOpen loads config and opens the store, exiting on failure.
func mustOpen() *store.DB {
	cfg, err := loadConfig()
	if err != nil {
		fatalf("%v", err)
	}
	db, err := openStore(cfg)
	if err != nil {
		fatalf("%v", err)
	}
	return db
}

func init() {
	contactListCmd.Flags().BoolVar(&contactAll, "all", false, "include hidden contacts")
	contactExcludeCmd.Flags().BoolVar(&excludeSync, "sync", false, "exclude from sync queues")
	contactExcludeCmd.Flags().BoolVar(&excludeList, "list", false, "hide from listings")

	contactCmd.AddCommand(contactListCmd)
	contactCmd.AddCommand(contactNoteCmd)
	contactCmd.AddCommand(contactLabelCmd)
	contactCmd.AddCommand(contactNameCmd)
	contactCmd.AddCommand(contactExcludeCmd)
	contactCmd.AddCommand(reviewAllCmd)
	rootCmd.AddCommand(contactCmd)
}
