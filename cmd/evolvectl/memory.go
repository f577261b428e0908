package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// --- Memory commands ---

func newMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage team episodic memory",
	}
	cmd.AddCommand(newEpisodeStoreCommand())
	cmd.AddCommand(newRecallCommand())
	cmd.AddCommand(newPatternsCommand())
	cmd.AddCommand(newPerformanceCommand())
	cmd.AddCommand(newConsolidateCommand())
	cmd.AddCommand(newPruneCommand())
	cmd.AddCommand(newLearningsCommand())
	return cmd
}

func newEpisodeStoreCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "store <team>",
		Short:   "Store an episode from a JSON file (or stdin with -f -)",
		Args:    cobra.ExactArgs(1),
		Example: `  evolvectl memory store marketing-team -f episode.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFileOrStdin(file)
			if err != nil {
				return fmt.Errorf("failed to read episode: %w", err)
			}

			var episode map[string]interface{}
			if err := json.Unmarshal(data, &episode); err != nil {
				return fmt.Errorf("invalid episode JSON: %w", err)
			}

			resp, err := newClient().post("/api/v1/teams/"+args[0]+"/episodes", episode)
			if err != nil {
				return err
			}
			outputJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Episode JSON file (- for stdin)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRecallCommand() *cobra.Command {
	var (
		limit    int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:     "recall <team> <query>",
		Short:   "Recall episodes similar to a task description",
		Args:    cobra.ExactArgs(2),
		Example: `  evolvectl memory recall marketing-team "create a blog post"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("q", args[1])
			params.Set("limit", strconv.Itoa(limit))
			params.Set("min_score", strconv.FormatFloat(minScore, 'f', -1, 64))

			data, err := newClient().get("/api/v1/teams/"+args[0]+"/episodes/similar", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum episodes to return")
	cmd.Flags().Float64Var(&minScore, "min-score", 0.7, "Minimum similarity score")
	return cmd
}

func newPatternsCommand() *cobra.Command {
	var (
		taskType string
		daysBack int
	)
	cmd := &cobra.Command{
		Use:   "patterns <team>",
		Short: "Show successful agent patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if taskType != "" {
				params.Set("task_type", taskType)
			}
			params.Set("days_back", strconv.Itoa(daysBack))

			data, err := newClient().get("/api/v1/teams/"+args[0]+"/patterns", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskType, "task-type", "", "Filter by task type")
	cmd.Flags().IntVar(&daysBack, "days-back", 30, "Lookback window in days")
	return cmd
}

func newPerformanceCommand() *cobra.Command {
	var daysBack int
	cmd := &cobra.Command{
		Use:   "performance <team>",
		Short: "Show team performance metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("days_back", strconv.Itoa(daysBack))

			data, err := newClient().get("/api/v1/teams/"+args[0]+"/performance", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&daysBack, "days-back", 30, "Lookback window in days")
	return cmd
}

func newConsolidateCommand() *cobra.Command {
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "consolidate <team>",
		Short: "Consolidate old episodes into learnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("older_than_days", strconv.Itoa(olderThanDays))

			data, err := newClient().postParams("/api/v1/teams/"+args[0]+"/consolidate", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "Consolidate episodes older than this")
	return cmd
}

func newPruneCommand() *cobra.Command {
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "prune <team>",
		Short: "Delete episodes older than the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("older_than_days", strconv.Itoa(olderThanDays))

			data, err := newClient().postParams("/api/v1/teams/"+args[0]+"/prune", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "Delete episodes older than this")
	return cmd
}

func newLearningsCommand() *cobra.Command {
	var (
		role          string
		taskType      string
		minConfidence float64
		limit         int
	)
	cmd := &cobra.Command{
		Use:   "learnings <team>",
		Short: "List stored learnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if role != "" {
				params.Set("role", role)
			}
			if taskType != "" {
				params.Set("task_type", taskType)
			}
			params.Set("min_confidence", strconv.FormatFloat(minConfidence, 'f', -1, 64))
			params.Set("limit", strconv.Itoa(limit))

			data, err := newClient().get("/api/v1/teams/"+args[0]+"/learnings", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Filter by agent role")
	cmd.Flags().StringVar(&taskType, "task-type", "", "Filter by task type")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Minimum confidence")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum learnings to return")
	return cmd
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
