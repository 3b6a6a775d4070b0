package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/user/soulsync/internal/state"
	"github.com/user/soulsync/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
	sessionShowCmd.Flags().Int("limit", 50, "number of events to show")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tID\tSTATUS\tMESSAGES\tEVENTS\tUPDATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.SessionKey,
				s.SessionID,
				s.Status,
				s.Messages,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a session and its recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		idx, err := sessions.Get(ctx, types.SessionKey(args[0]))
		if errors.Is(err, state.ErrSessionNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key:      %s\n", idx.SessionKey)
		fmt.Fprintf(out, "ID:       %s\n", idx.SessionID)
		fmt.Fprintf(out, "Source:   %s\n", idx.Source)
		fmt.Fprintf(out, "Status:   %s\n", idx.Status)
		fmt.Fprintf(out, "Messages: %d\n", idx.Messages)
		fmt.Fprintf(out, "Created:  %s\n", idx.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Updated:  %s\n\n", idx.UpdatedAt.Format("2006-01-02 15:04:05"))

		tail, err := events.Tail(ctx, idx.SessionID, limit)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tPAYLOAD")
		for _, ev := range tail {
			payload, _ := json.Marshal(ev.Payload)
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.At.Format("15:04:05"), ev.Type, truncate(string(payload), 80))
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
