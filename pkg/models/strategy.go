package models

// ActionFrequency is one action and how often it appeared across successful
// episodes.
type ActionFrequency struct {
	Action    string `json:"action"`
	Frequency int    `json:"frequency"`
}

// AgentPattern aggregates what a single agent did across successful
// episodes: total successes and the top actions ranked by frequency.
type AgentPattern struct {
	Agent          string            `json:"agent"`
	TotalSuccesses int               `json:"total_successes"`
	TopActions     []ActionFrequency `json:"top_actions"`
}

// Strategy is a synthesized recommendation for a task type. It is computed
// on demand from patterns and learnings, not persisted as its own entity.
type Strategy struct {
	TaskType          string   `json:"task_type"`
	RecommendedAgents []string `json:"recommended_agents"`
	KeyActions        []string `json:"key_actions"`
	SuccessFactors    []string `json:"success_factors"`
	Avoid             []string `json:"avoid"`
	// EstimatedDuration is the median duration in seconds of recent
	// successful episodes, 0 when unknown.
	EstimatedDuration int     `json:"estimated_duration,omitempty"`
	Confidence        float64 `json:"confidence"`
}

// WeekStats is the per-ISO-week episode tally used for trend calculation.
type WeekStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}

// PerformanceMetrics summarizes a team's episodes over a window.
type PerformanceMetrics struct {
	TotalEpisodes          int               `json:"total_episodes"`
	SuccessRate            float64           `json:"success_rate"`
	AverageDurationSeconds float64           `json:"average_duration_seconds"`
	ImprovementTrend       float64           `json:"improvement_trend"`
	WeeklyPerformance      map[int]WeekStats `json:"weekly_performance"`
}

// Recommendation is a rule-derived improvement suggestion.
type Recommendation struct {
	Type           string            `json:"type"`     // performance, efficiency, utilization
	Priority       string            `json:"priority"` // high, medium, low
	Recommendation string            `json:"recommendation"`
	Evidence       map[string]string `json:"evidence,omitempty"`
}
