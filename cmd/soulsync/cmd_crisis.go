package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/soulsync/internal/crisis"
)

func init() {
	rootCmd.AddCommand(crisisCmd)
	crisisCmd.AddCommand(crisisResourcesCmd, crisisPlanCmd, crisisCopingCmd)
	crisisResourcesCmd.Flags().String("level", "", "show the response tier for a crisis level (1-5)")
}

var crisisCmd = &cobra.Command{
	Use:   "crisis",
	Short: "Crisis resources and coping techniques",
}

var crisisResourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Show emergency hotlines and online support",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := crisis.New()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		levelStr, _ := cmd.Flags().GetString("level")
		if levelStr == "" {
			fmt.Fprintln(out, crisis.FormatResources(d.EmergencyResources()))
			return nil
		}
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			return fmt.Errorf("invalid level %q", levelStr)
		}
		level = crisis.Clamp(level)
		r := d.GetCrisisResponse(level)
		fmt.Fprintf(out, "Level %d (%s)\n", r.Level, crisis.Tier(level))
		if r.ImmediateAction != "" {
			fmt.Fprintf(out, "\nImmediate action: %s\n", r.ImmediateAction)
		}
		printList(cmd, "Resources", r.Resources)
		printList(cmd, "Safety plan", r.SafetyPlan)
		fmt.Fprintf(out, "\n%s\n", r.FollowUp)
		return nil
	},
}

var crisisPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the personal safety plan template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := crisis.New()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), crisis.FormatSafetyPlan(d.CreateSafetyPlan()))
		return nil
	},
}

var crisisCopingCmd = &cobra.Command{
	Use:   "coping [type]",
	Short: "Show immediate coping techniques",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := crisis.New()
		if err != nil {
			return err
		}
		crisisType := "general"
		if len(args) == 1 {
			crisisType = args[0]
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, crisis.FormatCoping(crisisType, d.GetImmediateCopingTechniques(crisisType)))
		fmt.Fprintf(out, "\nTypes: %s\n", strings.Join(d.CopingTypes(), ", "))
		return nil
	},
}

func printList(cmd *cobra.Command, title string, items []string) {
	if len(items) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  • %s\n", item)
	}
}
