package models

import "time"

// EvolutionType identifies which part of an agent's configuration an
// evolution revises.
type EvolutionType string

const (
	EvolutionPrompt   EvolutionType = "prompt"
	EvolutionWorkflow EvolutionType = "workflow"
	EvolutionTrait    EvolutionType = "trait"
)

// AgentEvolution is a proposed or applied revision to an agent's
// configuration. AppliedAt is nil while the evolution is pending; a pending
// evolution is eligible for A/B testing.
type AgentEvolution struct {
	ID               string        `json:"id"`
	TeamID           string        `json:"team_id"`
	AgentRole        string        `json:"agent_role"`
	Type             EvolutionType `json:"evolution_type"`
	OriginalVersion  string        `json:"original_version"`
	EvolvedVersion   string        `json:"evolved_version"`
	ConfidenceScore  float64       `json:"confidence_score"`
	PerformanceDelta float64       `json:"performance_delta"`
	AppliedAt        *time.Time    `json:"applied_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// AgentConfig is the base configuration an agent is constructed from.
type AgentConfig struct {
	Role              string            `json:"role"`
	Backstory         string            `json:"backstory"`
	PersonalityTraits map[string]string `json:"personality_traits,omitempty"`
}

// LearnedStrategy is a proven pattern attached to an evolved agent.
type LearnedStrategy struct {
	Pattern     string          `json:"pattern"`
	SuccessRate float64         `json:"success_rate"`
	UsageCount  int             `json:"usage_count"`
	Context     LearningContext `json:"context"`
}

// ToolPreference ranks a tool by its observed success rate.
type ToolPreference struct {
	Tool         string   `json:"tool"`
	SuccessRate  float64  `json:"success_rate"`
	PreferredFor []string `json:"preferred_for,omitempty"`
}

// EvolvedAgentConfig is the merged configuration produced by the
// evolved-agent loader: base config plus every enhancement that cleared its
// confidence floor.
type EvolvedAgentConfig struct {
	Role                  string            `json:"role"`
	BasePrompt            string            `json:"base_prompt"`
	EvolvedPrompt         string            `json:"evolved_prompt"`
	EvolutionConfidence   float64           `json:"evolution_confidence"`
	PersonalityTraits     map[string]string `json:"personality_traits,omitempty"`
	LearnedStrategies     []LearnedStrategy `json:"learned_strategies,omitempty"`
	WorkflowModifications map[string]any    `json:"workflow_modifications,omitempty"`
	ToolPreferences       []ToolPreference  `json:"tool_preferences,omitempty"`
}
