package main

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// --- Learning commands ---

func newLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Strategies, predictions and recommendations",
	}
	cmd.AddCommand(newStrategyCommand())
	cmd.AddCommand(newPredictCommand())
	cmd.AddCommand(newRecommendCommand())
	return cmd
}

func newStrategyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "strategy <team> <task-type>",
		Short:   "Show the synthesized strategy for a task type",
		Args:    cobra.ExactArgs(2),
		Example: `  evolvectl learning strategy marketing-team development`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/teams/"+args[0]+"/strategy/"+url.PathEscape(args[1]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func newPredictCommand() *cobra.Command {
	var (
		agents  string
		actions string
	)
	cmd := &cobra.Command{
		Use:     "predict <team> <task-description>",
		Short:   "Predict success probability for a planned approach",
		Args:    cobra.ExactArgs(2),
		Example: `  evolvectl learning predict marketing-team "create landing page" --agents=developer,designer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"task_description": args[1],
				"approach": map[string]interface{}{
					"agents":  splitList(agents),
					"actions": splitList(actions),
				},
			}
			data, err := newClient().post("/api/v1/teams/"+args[0]+"/predict", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&agents, "agents", "", "Comma-separated agents in the planned approach")
	cmd.Flags().StringVar(&actions, "actions", "", "Comma-separated planned actions")
	return cmd
}

func newRecommendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend <team>",
		Short: "Show improvement recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/teams/"+args[0]+"/recommendations", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	return cmd
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
