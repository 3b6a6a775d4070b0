package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/prompt"
	"github.com/user/soulsync/internal/session"
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryStatsCmd, memorySearchCmd, memoryPatternsCmd, memoryCrisisCmd, memoryClearCmd)

	memorySearchCmd.Flags().Int("k", session.DefaultRecall, "number of results")
	memoryPatternsCmd.Flags().Int("days", 30, "lookback window in days")
	memoryClearCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
}

// withMemory opens the memory store without requiring an LLM client.
func withMemory(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect long-term memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(_ context.Context, a *app) error {
			st := a.mem.Stats()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Path:\t%s\n", st.Path)
			fmt.Fprintf(w, "Index:\t%s\n", st.Backend)
			fmt.Fprintf(w, "Sessions:\t%d\n", st.Sessions)
			fmt.Fprintf(w, "Entries:\t%d\n", st.Entries)
			fmt.Fprintf(w, "Indexed:\t%d\n", st.Indexed)
			fmt.Fprintf(w, "Next index id:\t%d\n", st.NextIndexID)
			return w.Flush()
		})
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Retrieve memories relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		return withMemory(func(ctx context.Context, a *app) error {
			results := a.mem.Retrieve(ctx, strings.Join(args, " "), k)
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No relevant memories.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s\n", i+1, r)
			}
			return nil
		})
	},
}

var memoryPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show emotion and technique patterns across recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		days = min(max(days, 0), memory.MaxLookbackDays)
		return withMemory(func(_ context.Context, a *app) error {
			p := a.mem.AggregatePatterns(memory.LookbackWindow(days))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sessions in the last %d days: %d\n", days, p.TotalSessions)
			if p.TotalSessions == 0 {
				return nil
			}

			fmt.Fprintln(out, "\nEmotions:")
			for _, e := range prompt.TopPatterns(p.EmotionsFrequency, len(p.EmotionsFrequency)) {
				fmt.Fprintf(out, "  %-16s %d\n", e.Name, e.Count)
			}
			fmt.Fprintln(out, "\nTechniques:")
			for _, t := range prompt.TopPatterns(p.TechniquesFrequency, len(p.TechniquesFrequency)) {
				fmt.Fprintf(out, "  %-16s %d\n", t.Name, t.Count)
			}
			return nil
		})
	},
}

var memoryCrisisCmd = &cobra.Command{
	Use:   "crisis",
	Short: "List past crisis flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(_ context.Context, a *app) error {
			history := a.mem.CrisisHistory()
			if len(history) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No crisis history.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tDATE\tLEVEL\tTYPE")
			for _, h := range history {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
					h.SessionID,
					h.Timestamp.Format("2006-01-02 15:04:05"),
					h.Level,
					h.Type,
				)
			}
			return w.Flush()
		})
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored session and memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Fprint(cmd.OutOrStdout(), "This permanently deletes all memories. Type 'yes' to continue: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}
		return withMemory(func(ctx context.Context, a *app) error {
			if err := a.mem.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory cleared.")
			return nil
		})
	},
}
