package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// --- Evolution commands ---

func newEvolutionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evolution",
		Short: "Manage agent evolutions",
	}
	cmd.AddCommand(newEvolutionHistoryCommand())
	cmd.AddCommand(newEvolutionEnhanceCommand())
	cmd.AddCommand(newEvolutionPromptCommand())
	cmd.AddCommand(newEvolutionConfigCommand())
	cmd.AddCommand(newEvolutionRollbackCommand())
	cmd.AddCommand(newEvolutionImpactCommand())
	cmd.AddCommand(newEvolutionApplyCommand())
	return cmd
}

func newEvolutionHistoryCommand() *cobra.Command {
	var (
		role  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history <team>",
		Short: "List evolutions for a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if role != "" {
				params.Set("role", role)
			}
			params.Set("limit", strconv.Itoa(limit))

			data, err := newClient().get("/api/v1/teams/"+args[0]+"/evolutions", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Filter by agent role")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum evolutions to return")
	return cmd
}

func newEvolutionEnhanceCommand() *cobra.Command {
	var (
		role     string
		prompt   string
		taskType string
	)
	cmd := &cobra.Command{
		Use:     "enhance <team>",
		Short:   "Enhance an agent prompt with proven strategies",
		Args:    cobra.ExactArgs(1),
		Example: `  evolvectl evolution enhance marketing-team --role=developer --prompt="You are a developer."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"agent_role":  role,
				"base_prompt": prompt,
				"task_type":   taskType,
			}
			data, err := newClient().post("/api/v1/teams/"+args[0]+"/evolutions/enhance", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Base prompt")
	cmd.Flags().StringVar(&taskType, "task-type", "", "Task type for strategy selection")
	cmd.MarkFlagRequired("role")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func newEvolutionPromptCommand() *cobra.Command {
	var (
		role   string
		prompt string
	)
	cmd := &cobra.Command{
		Use:   "prompt <team>",
		Short: "Show the current evolved prompt for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"agent_role":  role,
				"base_prompt": prompt,
			}
			data, err := newClient().post("/api/v1/teams/"+args[0]+"/evolutions/prompt", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Base prompt fallback")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newEvolutionConfigCommand() *cobra.Command {
	var (
		role string
		file string
	)
	cmd := &cobra.Command{
		Use:   "config <team>",
		Short: "Load the evolved configuration for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := map[string]interface{}{"role": role}
			if file != "" {
				data, err := readFileOrStdin(file)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &base); err != nil {
					return fmt.Errorf("invalid base config JSON: %w", err)
				}
			}

			body := map[string]interface{}{
				"agent_role": role,
				"base":       base,
			}
			data, err := newClient().post("/api/v1/teams/"+args[0]+"/evolutions/config", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Base agent config JSON file (- for stdin)")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newEvolutionRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <evolution-id>",
		Short: "Roll back an evolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/evolutions/"+args[0]+"/rollback", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func newEvolutionImpactCommand() *cobra.Command {
	var successRate float64
	cmd := &cobra.Command{
		Use:   "impact <evolution-id>",
		Short: "Measure the impact of an evolution from observed metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]float64{"success_rate": successRate}
			data, err := newClient().post("/api/v1/evolutions/"+args[0]+"/impact", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().Float64Var(&successRate, "success-rate", 0, "Observed success rate since the evolution")
	cmd.MarkFlagRequired("success-rate")
	return cmd
}

func newEvolutionApplyCommand() *cobra.Command {
	var delta float64
	cmd := &cobra.Command{
		Use:   "apply <evolution-id>",
		Short: "Mark an evolution as applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]float64{"delta": delta}
			data, err := newClient().post("/api/v1/evolutions/"+args[0]+"/apply", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().Float64Var(&delta, "delta", 0, "Performance delta to record")
	return cmd
}
