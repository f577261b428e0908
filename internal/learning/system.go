package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/elfworks/evolve/internal/memory"
	"github.com/elfworks/evolve/pkg/models"
)

// minPatternsForStrategy is the floor below which SynthesizeStrategy
// declines to produce a result.
const minPatternsForStrategy = 5

// taskCategory pairs a category name with its trigger keywords. Categories
// are held in a slice, not a map, so classification order is fixed.
type taskCategory struct {
	name     string
	keywords []string
}

var taskCategories = []taskCategory{
	{"development", []string{"create", "build", "implement", "develop", "code"}},
	{"analysis", []string{"analyze", "investigate", "research", "study", "examine"}},
	{"debugging", []string{"fix", "debug", "resolve", "troubleshoot", "repair"}},
	{"design", []string{"design", "architect", "plan", "structure", "layout"}},
	{"documentation", []string{"document", "write", "describe", "explain"}},
	{"testing", []string{"test", "verify", "validate", "check", "ensure"}},
	{"deployment", []string{"deploy", "release", "launch", "publish"}},
	{"optimization", []string{"optimize", "improve", "enhance", "refactor"}},
}

// expectedAgents maps a task category to the roles expected to contribute.
var expectedAgents = map[string][]string{
	"development":   {"developer", "architect", "tester"},
	"analysis":      {"analyst", "researcher", "strategist"},
	"debugging":     {"developer", "tester", "analyst"},
	"design":        {"designer", "architect", "strategist"},
	"documentation": {"writer", "analyst", "reviewer"},
	"testing":       {"tester", "developer", "analyst"},
	"deployment":    {"devops", "developer", "tester"},
	"optimization":  {"developer", "analyst", "architect"},
}

var defaultExpectedAgents = []string{"manager", "analyst", "developer"}

// PlannedApproach describes a proposed way to execute a task, used for
// success prediction.
type PlannedApproach struct {
	Agents      []string `json:"agents,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Description string   `json:"description,omitempty"`
}

// System derives learnings from episodes, classifies tasks, synthesizes
// strategies and predicts success probability. All results are advisory;
// data-access failures degrade to empty results at the call sites that
// choose to.
type System struct {
	memory *memory.TeamMemory
	// roster is the full set of team agents, used to spot underutilized
	// ones. Injected so it reflects the real team registry.
	roster []string
}

// NewSystem creates a learning system over a team's memory. roster may be
// empty, which disables the utilization check.
func NewSystem(tm *memory.TeamMemory, roster []string) *System {
	return &System{memory: tm, roster: roster}
}

// CategorizeTask buckets a task description into a coarse category by
// keyword membership. First matching category in fixed order wins; "general"
// when nothing matches.
func CategorizeTask(description string) string {
	lower := strings.ToLower(description)
	for _, cat := range taskCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				return cat.name
			}
		}
	}
	return "general"
}

// ExpectedAgents returns the roles expected to contribute to a task.
func ExpectedAgents(description string) []string {
	if agents, ok := expectedAgents[CategorizeTask(description)]; ok {
		return agents
	}
	return defaultExpectedAgents
}

// LearnFromEpisode extracts and persists learnings from one completed
// episode: success factors for successful episodes, failure causes
// otherwise.
func (s *System) LearnFromEpisode(ctx context.Context, ep *models.Episode) ([]*models.Learning, error) {
	if ep == nil {
		return nil, fmt.Errorf("episode cannot be nil")
	}

	var learnings []*models.Learning
	if ep.Success {
		learnings = s.successFactors(ctx, ep)
	} else {
		learnings = s.failureCauses(ep)
	}

	for _, l := range learnings {
		if _, err := s.memory.StoreLearning(ctx, l); err != nil {
			return nil, fmt.Errorf("failed to store learning: %w", err)
		}
	}

	log.Printf("Extracted %d learnings from episode %s", len(learnings), ep.ID)
	return learnings, nil
}

func (s *System) successFactors(ctx context.Context, ep *models.Episode) []*models.Learning {
	taskType := CategorizeTask(ep.TaskDescription)
	var learnings []*models.Learning

	agents := make([]string, 0, len(ep.AgentContributions))
	for agent := range ep.AgentContributions {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	for _, agent := range agents {
		actions := ep.AgentContributions[agent]
		if len(actions) == 0 {
			continue
		}
		sample := actions
		if len(sample) > 3 {
			sample = sample[:3]
		}
		learnings = append(learnings, &models.Learning{
			Insight: fmt.Sprintf("Success factor: %s effectively performed %d actions", agent, len(actions)),
			Context: models.LearningContext{
				TaskType: taskType,
				Role:     agent,
				Extra: map[string]string{
					"action_count": strconv.Itoa(len(actions)),
					"actions":      strings.Join(sample, "; "),
				},
			},
			Evidence:   []string{ep.ID},
			Confidence: 0.8,
		})
	}

	// A run at least 20% faster than the category average is itself a
	// success factor.
	if ep.DurationSeconds > 0 {
		similar, err := s.recentEpisodes(ctx, taskType, 90)
		if err != nil {
			log.Printf("Failed to fetch similar episodes for timing comparison: %v", err)
			similar = nil
		}
		if len(similar) > 0 {
			var sum float64
			for _, e := range similar {
				sum += e.DurationSeconds
			}
			avg := sum / float64(len(similar))
			if avg > 0 && ep.DurationSeconds < avg*0.8 {
				learnings = append(learnings, &models.Learning{
					Insight: "Success factor: Task completed faster than average",
					Context: models.LearningContext{
						TaskType: taskType,
						Extra: map[string]string{
							"duration":         fmt.Sprintf("%.1f", ep.DurationSeconds),
							"average_duration": fmt.Sprintf("%.1f", avg),
							"improvement":      fmt.Sprintf("%.2f", (avg-ep.DurationSeconds)/avg),
						},
					},
					Evidence:   []string{ep.ID},
					Confidence: 0.9,
				})
			}
		}
	}

	return learnings
}

func (s *System) failureCauses(ep *models.Episode) []*models.Learning {
	taskType := CategorizeTask(ep.TaskDescription)
	var learnings []*models.Learning

	if ep.Error != nil {
		msg := ep.Error.Message
		if len(msg) > 100 {
			msg = msg[:100]
		}
		errType := ep.Error.Type
		if errType == "" {
			errType = "Unknown"
		}
		learnings = append(learnings, &models.Learning{
			Insight: fmt.Sprintf("Failure cause: Error encountered: %s", errType),
			Context: models.LearningContext{
				TaskType: taskType,
				Extra: map[string]string{
					"error_type":    errType,
					"error_message": msg,
				},
			},
			Evidence:   []string{ep.ID},
			Confidence: 0.9,
		})
	}

	var missing []string
	for _, expected := range ExpectedAgents(ep.TaskDescription) {
		if _, ok := ep.AgentContributions[expected]; !ok {
			missing = append(missing, expected)
		}
	}
	if len(missing) > 0 {
		participating := make([]string, 0, len(ep.AgentContributions))
		for agent := range ep.AgentContributions {
			participating = append(participating, agent)
		}
		sort.Strings(participating)
		learnings = append(learnings, &models.Learning{
			Insight: fmt.Sprintf("Failure cause: Missing contributions from: %s", strings.Join(missing, ", ")),
			Context: models.LearningContext{
				TaskType: taskType,
				Extra: map[string]string{
					"missing_agents":       strings.Join(missing, ", "),
					"participating_agents": strings.Join(participating, ", "),
				},
			},
			Evidence:   []string{ep.ID},
			Confidence: 0.8,
		})
	}

	return learnings
}

// SynthesizeStrategy builds a recommended strategy for a task type from
// mined patterns and stored learnings. Returns nil when fewer than 5
// supporting patterns exist.
func (s *System) SynthesizeStrategy(ctx context.Context, taskType string) (*models.Strategy, error) {
	patterns, err := s.memory.SuccessfulPatterns(ctx, taskType, 30)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize strategy: %w", err)
	}
	if len(patterns) < minPatternsForStrategy {
		log.Printf("Insufficient data for strategy synthesis (%d patterns)", len(patterns))
		return nil, nil
	}

	learnings, err := s.memory.RelevantLearnings(ctx, models.LearningContext{TaskType: taskType})
	if err != nil {
		log.Printf("Failed to fetch learnings for strategy: %v", err)
		learnings = nil
	}

	strategy := &models.Strategy{TaskType: taskType}

	// Top 3 agents by total successes.
	sorted := make([]models.AgentPattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalSuccesses > sorted[j].TotalSuccesses
	})
	for i := 0; i < len(sorted) && i < 3; i++ {
		strategy.RecommendedAgents = append(strategy.RecommendedAgents, sorted[i].Agent)
	}

	// Top 5 actions by aggregate frequency across all patterns.
	actionFreq := make(map[string]int)
	for _, p := range patterns {
		for _, a := range p.TopActions {
			actionFreq[a.Action] += a.Frequency
		}
	}
	actions := make([]models.ActionFrequency, 0, len(actionFreq))
	for action, freq := range actionFreq {
		actions = append(actions, models.ActionFrequency{Action: action, Frequency: freq})
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Frequency != actions[j].Frequency {
			return actions[i].Frequency > actions[j].Frequency
		}
		return actions[i].Action < actions[j].Action
	})
	for i := 0; i < len(actions) && i < 5; i++ {
		strategy.KeyActions = append(strategy.KeyActions, actions[i].Action)
	}

	for _, l := range learnings {
		switch {
		case strings.Contains(l.Insight, "Success factor"):
			strategy.SuccessFactors = append(strategy.SuccessFactors, l.Insight)
		case strings.Contains(l.Insight, "Failure cause"):
			strategy.Avoid = append(strategy.Avoid, l.Insight)
		}
	}

	recent, err := s.recentEpisodes(ctx, taskType, 30)
	if err != nil {
		log.Printf("Failed to fetch recent episodes for duration estimate: %v", err)
		recent = nil
	}
	var successDurations []float64
	recentSuccesses := 0
	for _, ep := range recent {
		if !ep.Success {
			continue
		}
		recentSuccesses++
		if ep.DurationSeconds > 0 {
			successDurations = append(successDurations, ep.DurationSeconds)
		}
	}
	if len(successDurations) > 0 {
		strategy.EstimatedDuration = int(median(successDurations))
	}

	strategy.Confidence = math.Min(0.95, 0.5+float64(len(patterns)+recentSuccesses)/100)

	log.Printf("Synthesized strategy for %s with confidence %.2f", taskType, strategy.Confidence)
	return strategy, nil
}

// PredictSuccessProbability estimates how likely a planned approach is to
// succeed, always within [0.1, 0.95].
func (s *System) PredictSuccessProbability(ctx context.Context, taskDescription string, approach PlannedApproach) (float64, error) {
	taskType := CategorizeTask(taskDescription)

	recent, err := s.recentEpisodes(ctx, taskType, 90)
	if err != nil {
		return 0, fmt.Errorf("failed to predict success probability: %w", err)
	}
	if len(recent) == 0 {
		return 0.5, nil
	}

	successes := 0
	for _, ep := range recent {
		if ep.Success {
			successes++
		}
	}
	baseRate := float64(successes) / float64(len(recent))

	adjustment := 0.0
	strategy, err := s.SynthesizeStrategy(ctx, taskType)
	if err != nil {
		log.Printf("Failed to synthesize strategy for prediction: %v", err)
		strategy = nil
	}
	if strategy != nil {
		recommended := make(map[string]struct{}, len(strategy.RecommendedAgents))
		for _, a := range strategy.RecommendedAgents {
			recommended[a] = struct{}{}
		}
		for _, a := range approach.Agents {
			if _, ok := recommended[a]; ok {
				adjustment += 0.1
				break
			}
		}

		approachJSON, _ := json.Marshal(approach)
		approachText := strings.ToLower(string(approachJSON))
		avoidingFailures := true
		for _, avoid := range strategy.Avoid {
			if strings.Contains(approachText, strings.ToLower(avoid)) {
				avoidingFailures = false
				break
			}
		}
		if avoidingFailures {
			adjustment += 0.05
		}
	}

	if weekMetrics, err := s.memory.PerformanceMetrics(ctx, 7); err == nil && weekMetrics != nil {
		if weekMetrics.SuccessRate > 0.8 {
			adjustment += 0.05
		} else if weekMetrics.SuccessRate < 0.5 {
			adjustment -= 0.05
		}
	}

	probability := math.Max(0.1, math.Min(0.95, baseRate+adjustment))
	return probability, nil
}

// RecommendImprovements derives rule-based improvement suggestions from the
// last 30 days of performance.
func (s *System) RecommendImprovements(ctx context.Context) ([]models.Recommendation, error) {
	m, err := s.memory.PerformanceMetrics(ctx, 30)
	if err != nil {
		return nil, fmt.Errorf("failed to recommend improvements: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	var recommendations []models.Recommendation

	if m.ImprovementTrend < 0 {
		recommendations = append(recommendations, models.Recommendation{
			Type:           "performance",
			Priority:       "high",
			Recommendation: "Success rate declining. Review recent failures and adjust strategies.",
			Evidence: map[string]string{
				"current_success_rate": fmt.Sprintf("%.2f", m.SuccessRate),
				"trend":                fmt.Sprintf("%.2f", m.ImprovementTrend),
			},
		})
	}

	if m.AverageDurationSeconds > 300 {
		recommendations = append(recommendations, models.Recommendation{
			Type:           "efficiency",
			Priority:       "medium",
			Recommendation: "Average task duration is high. Consider parallelizing work or optimizing workflows.",
			Evidence: map[string]string{
				"average_duration": fmt.Sprintf("%.1f", m.AverageDurationSeconds),
			},
		})
	}

	if len(s.roster) > 0 {
		patterns, err := s.memory.SuccessfulPatterns(ctx, "", 30)
		if err != nil {
			log.Printf("Failed to fetch patterns for utilization check: %v", err)
		} else {
			active := make(map[string]struct{}, len(patterns))
			for _, p := range patterns {
				active[p.Agent] = struct{}{}
			}
			var inactive []string
			for _, agent := range s.roster {
				if _, ok := active[agent]; !ok {
					inactive = append(inactive, agent)
				}
			}
			if len(inactive) > 0 {
				recommendations = append(recommendations, models.Recommendation{
					Type:     "utilization",
					Priority: "low",
					Recommendation: fmt.Sprintf(
						"Agents not contributing to recent successes: %s. Consider task redistribution.",
						strings.Join(inactive, ", ")),
					Evidence: map[string]string{
						"inactive_agents": strings.Join(inactive, ", "),
					},
				})
			}
		}
	}

	return recommendations, nil
}

// recentEpisodes returns the team's episodes within the window whose task
// description classifies to taskType.
func (s *System) recentEpisodes(ctx context.Context, taskType string, days int) ([]*models.Episode, error) {
	episodes, err := s.memory.EpisodesSince(ctx, days, false)
	if err != nil {
		return nil, err
	}
	var matched []*models.Episode
	for _, ep := range episodes {
		if CategorizeTask(ep.TaskDescription) == taskType {
			matched = append(matched, ep)
		}
	}
	return matched, nil
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
