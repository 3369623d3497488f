package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/protocol"
)

var journalCmd = &cobra.Command{
	Use:     "journal",
	Short:   "Print a session's recorded transcript",
	GroupID: "collab",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := requireSession()
		if err != nil {
			return err
		}
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := pvpClient.Journal(context.Background(), sid, after, limit)
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if jsonOutput {
			return printJSON(entries)
		}
		for _, e := range entries {
			var env protocol.Envelope
			if err := json.Unmarshal(e.Envelope, &env); err != nil {
				fmt.Fprintf(os.Stderr, "entry %d: %v\n", e.ID, err)
				continue
			}
			printEnvelope(os.Stdout, &env)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the pvp server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := pvpClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	journalCmd.Flags().Int64("after", 0, "only entries after this journal id")
	journalCmd.Flags().Int("limit", 100, "maximum entries (1-1000)")
}
