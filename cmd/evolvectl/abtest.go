package main

import (
	"github.com/spf13/cobra"
)

// --- A/B test commands ---

func newABTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abtest",
		Short: "Manage evolution A/B tests",
	}
	cmd.AddCommand(newABTestCreateCommand())
	cmd.AddCommand(newABTestActiveCommand())
	cmd.AddCommand(newABTestAssignCommand())
	cmd.AddCommand(newABTestRecordCommand())
	cmd.AddCommand(newABTestReportCommand())
	cmd.AddCommand(newABTestFinalizeCommand())
	return cmd
}

func newABTestCreateCommand() *cobra.Command {
	var (
		role          string
		evolutionID   string
		durationHours int
		trafficSplit  float64
	)
	cmd := &cobra.Command{
		Use:     "create <team>",
		Short:   "Start an A/B test for an evolution",
		Args:    cobra.ExactArgs(1),
		Example: `  evolvectl abtest create marketing-team --role=developer --evolution=abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"agent_role":     role,
				"evolution_id":   evolutionID,
				"duration_hours": durationHours,
				"traffic_split":  trafficSplit,
			}
			data, err := newClient().post("/api/v1/teams/"+args[0]+"/abtests", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role under test")
	cmd.Flags().StringVar(&evolutionID, "evolution", "", "Evolution ID to test")
	cmd.Flags().IntVar(&durationHours, "duration-hours", 48, "Test duration in hours")
	cmd.Flags().Float64Var(&trafficSplit, "traffic-split", 0.5, "Fraction of traffic routed to the treatment")
	cmd.MarkFlagRequired("role")
	cmd.MarkFlagRequired("evolution")
	return cmd
}

func newABTestActiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active <team>",
		Short: "List active A/B tests for a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/teams/"+args[0]+"/abtests/active", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func newABTestAssignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <test-id>",
		Short: "Draw a group assignment for the next task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/abtests/"+args[0]+"/assignment", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func newABTestRecordCommand() *cobra.Command {
	var (
		group    string
		success  bool
		duration float64
		errMsg   string
	)
	cmd := &cobra.Command{
		Use:   "record <test-id>",
		Short: "Record a task outcome for a test group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"group":            group,
				"success":          success,
				"duration_seconds": duration,
				"error":            errMsg,
			}
			data, err := newClient().post("/api/v1/abtests/"+args[0]+"/results", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Group name (control or treatment)")
	cmd.Flags().BoolVar(&success, "success", false, "Whether the task succeeded")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Task duration in seconds")
	cmd.Flags().StringVar(&errMsg, "error", "", "Error message for failed tasks")
	cmd.MarkFlagRequired("group")
	return cmd
}

func newABTestReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <test-id>",
		Short: "Show the statistical report for a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/abtests/"+args[0]+"/report", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func newABTestFinalizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <test-id>",
		Short: "Complete a test and record its final recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/abtests/"+args[0]+"/finalize", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}
