package models

import (
	"encoding/json"
	"time"
)

// Episode is one recorded task execution by a team of agents. Episodes are
// write-once: once stored they are never updated, only consolidated into
// learnings and eventually pruned.
type Episode struct {
	ID                 string              `json:"id"`
	TeamName           string              `json:"team_name"`
	TaskDescription    string              `json:"task_description"`
	Context            map[string]string   `json:"context,omitempty"`
	Actions            []ActionRecord      `json:"actions,omitempty"`
	AgentContributions map[string][]string `json:"agent_contributions,omitempty"`
	Success            bool                `json:"success"`
	DurationSeconds    float64             `json:"duration_seconds"`
	Error              *TaskError          `json:"error,omitempty"`
	Result             json.RawMessage     `json:"result,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	ImportanceScore    float64             `json:"importance_score"`
	CreatedAt          time.Time           `json:"created_at"`
}

// ActionRecord is a single action taken by an agent during an episode.
type ActionRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Agent     string            `json:"agent"`
	Action    string            `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
}

// TaskError describes a structured failure attached to an episode.
type TaskError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ScoredEpisode is an episode returned from similarity recall, annotated
// with its cosine similarity to the query.
type ScoredEpisode struct {
	Episode
	SimilarityScore float64 `json:"similarity_score"`
}

// EpisodeFilter selects episodes from the relational store.
type EpisodeFilter struct {
	TeamName      string
	Since         time.Time
	Before        time.Time
	SuccessOnly   bool
	TitleContains string
	Tags          []string
	Limit         int
}
