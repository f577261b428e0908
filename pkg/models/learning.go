package models

import (
	"strings"
	"time"
)

// PatternType classifies a learning by what kind of signal it carries.
type PatternType string

const (
	PatternSuccess      PatternType = "success"
	PatternFailure      PatternType = "failure"
	PatternOptimization PatternType = "optimization"
	PatternInsight      PatternType = "insight"
)

// ClassifyInsight derives a pattern type from the insight text. The check is
// a plain substring match on the lowercased insight, in fixed order.
func ClassifyInsight(insight string) PatternType {
	lower := strings.ToLower(insight)
	switch {
	case strings.Contains(lower, "success"):
		return PatternSuccess
	case strings.Contains(lower, "fail"):
		return PatternFailure
	case strings.Contains(lower, "optim"):
		return PatternOptimization
	default:
		return PatternInsight
	}
}

// TraitImpact records that a learning adjusts a personality trait.
type TraitImpact struct {
	Name     string `json:"name"`
	Modifier string `json:"modifier"`
}

// ToolUsage records that a learning concerns a specific tool.
type ToolUsage struct {
	Name      string   `json:"name"`
	TaskTypes []string `json:"task_types,omitempty"`
}

// LearningContext is the structured context a learning applies to. Known
// shapes (trait adjustments, tool usage) are explicit fields; anything
// genuinely free-form goes in Extra.
type LearningContext struct {
	TaskType string            `json:"task_type,omitempty"`
	Role     string            `json:"role,omitempty"`
	Action   string            `json:"action,omitempty"`
	Trait    *TraitImpact      `json:"trait,omitempty"`
	Tool     *ToolUsage        `json:"tool,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Learning is a distilled, confidence-scored insight derived from one or
// more episodes. Learnings are immutable; superseding insights are stored
// as fresh rows.
type Learning struct {
	ID          string          `json:"id"`
	TeamName    string          `json:"team_name"`
	Insight     string          `json:"insight"`
	Description string          `json:"description,omitempty"`
	Pattern     string          `json:"pattern,omitempty"`
	PatternType PatternType     `json:"pattern_type"`
	Category    string          `json:"category"`
	Context     LearningContext `json:"context"`
	Evidence    []string        `json:"evidence,omitempty"`
	Confidence  float64         `json:"confidence"`
	SuccessRate float64         `json:"success_rate"`
	UsageCount  int             `json:"usage_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LearningFilter selects learnings from the relational store.
type LearningFilter struct {
	TeamName       string
	Role           string
	TaskType       string
	TraitImpact    bool
	ToolUsage      bool
	MinConfidence  float64
	MinSuccessRate float64
	OrderBySuccess bool
	Limit          int
}
