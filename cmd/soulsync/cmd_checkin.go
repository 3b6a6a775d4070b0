package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/soulsync/internal/scheduler"
	"github.com/user/soulsync/internal/state"
)

func init() {
	rootCmd.AddCommand(checkinCmd)
	checkinCmd.AddCommand(checkinAddCmd, checkinListCmd, checkinRemoveCmd, checkinEnableCmd, checkinDisableCmd)

	checkinAddCmd.Flags().String("name", "", "check-in name (required)")
	checkinAddCmd.Flags().String("message", "", "message sent to the user (required)")
	checkinAddCmd.Flags().String("schedule", "", "cron schedule expression; empty fires only on demand")
	checkinAddCmd.Flags().String("session-key", "", "session key to deliver to (required)")
	_ = checkinAddCmd.MarkFlagRequired("name")
	_ = checkinAddCmd.MarkFlagRequired("message")
	_ = checkinAddCmd.MarkFlagRequired("session-key")
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Manage scheduled check-ins",
}

var checkinAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new check-in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		message, _ := cmd.Flags().GetString("message")
		schedule, _ := cmd.Flags().GetString("schedule")
		sessionKey, _ := cmd.Flags().GetString("session-key")

		if schedule != "" {
			if err := scheduler.Validate(schedule); err != nil {
				return err
			}
		}

		store := checkInStore(loadConfig().DataDir)
		if err := store.Add(&state.CheckIn{
			Name:       name,
			Message:    message,
			Schedule:   schedule,
			SessionKey: sessionKey,
			Enabled:    true,
		}); err != nil {
			return fmt.Errorf("add check-in: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Check-in %q added. Restart the daemon to schedule it.\n", name)
		return nil
	},
}

var checkinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all check-ins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := checkInStore(loadConfig().DataDir).List()
		if err != nil {
			return fmt.Errorf("list check-ins: %w", err)
		}

		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No check-ins configured.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tSESSION KEY\tMESSAGE")
		for _, c := range list {
			schedule := c.Schedule
			if schedule == "" {
				schedule = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", c.Name, schedule, c.Enabled, c.SessionKey, truncate(c.Message, 40))
		}
		return w.Flush()
	},
}

var checkinRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a check-in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkInStore(loadConfig().DataDir).Remove(args[0]); err != nil {
			return fmt.Errorf("remove check-in: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Check-in %q removed.\n", args[0])
		return nil
	},
}

var checkinEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a check-in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkInStore(loadConfig().DataDir).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable check-in: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Check-in %q enabled.\n", args[0])
		return nil
	},
}

var checkinDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a check-in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkInStore(loadConfig().DataDir).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable check-in: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Check-in %q disabled.\n", args[0])
		return nil
	},
}
