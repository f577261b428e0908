package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/elfworks/evolve/internal/evolution"
	"github.com/elfworks/evolve/internal/learning"
	"github.com/elfworks/evolve/internal/memory"
	"github.com/elfworks/evolve/internal/vector"
	"github.com/elfworks/evolve/pkg/models"
)

// Protocol errors. The four episode calls must run in order, exactly once
// per task; misuse is surfaced instead of silently dropped.
var (
	ErrEpisodeInProgress = errors.New("an episode is already in progress")
	ErrNoEpisode         = errors.New("no episode in progress")
)

// Recorder wraps an agent with episode recording. It is an explicit
// composition around the agent, not a mixin: memory and learning
// operations are named methods and the underlying agent is reached only
// through the evolution.Agent interface.
type Recorder struct {
	agent    evolution.Agent
	memory   *memory.TeamMemory
	learning *learning.System
	embedder vector.Embedder

	mu      sync.Mutex
	episode *currentEpisode
	now     func() time.Time
}

type currentEpisode struct {
	taskDescription     string
	context             map[string]string
	startedAt           time.Time
	actions             []models.ActionRecord
	contributions       map[string][]string
	intermediateResults []intermediateResult
}

type intermediateResult struct {
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// New wraps an agent with episode recording. embedder may be nil to skip
// vector writes.
func New(agent evolution.Agent, tm *memory.TeamMemory, ls *learning.System, embedder vector.Embedder) *Recorder {
	return &Recorder{
		agent:    agent,
		memory:   tm,
		learning: ls,
		embedder: embedder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Agent returns the wrapped agent.
func (r *Recorder) Agent() evolution.Agent {
	return r.agent
}

// StartEpisode begins recording a task. Starting a second episode before
// completing the first returns ErrEpisodeInProgress.
func (r *Recorder) StartEpisode(ctx context.Context, taskDescription string, taskContext map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.episode != nil {
		return ErrEpisodeInProgress
	}

	r.episode = &currentEpisode{
		taskDescription: taskDescription,
		context:         taskContext,
		startedAt:       r.now(),
		contributions:   make(map[string][]string),
	}

	r.recallRelevantExperiences(ctx, taskDescription)
	r.applyLearnedStrategy(ctx, taskDescription)

	log.Printf("Started episode: %s", taskDescription)
	return nil
}

// RecordAction appends one action by the wrapped agent to the running
// episode.
func (r *Recorder) RecordAction(action string, details map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.episode == nil {
		return ErrNoEpisode
	}

	role := r.agent.Role()
	r.episode.actions = append(r.episode.actions, models.ActionRecord{
		Timestamp: r.now(),
		Agent:     role,
		Action:    action,
		Details:   details,
	})
	r.episode.contributions[role] = append(r.episode.contributions[role], action)
	return nil
}

// RecordIntermediateResult attaches an intermediate result to the running
// episode.
func (r *Recorder) RecordIntermediateResult(result json.RawMessage, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.episode == nil {
		return ErrNoEpisode
	}

	r.episode.intermediateResults = append(r.episode.intermediateResults, intermediateResult{
		Timestamp:   r.now(),
		Description: description,
		Result:      result,
	})
	return nil
}

// CompleteEpisode stores the running episode and derives learnings from it.
// The recorder is ready for a new episode afterwards even when storage
// fails partway.
func (r *Recorder) CompleteEpisode(ctx context.Context, success bool, result json.RawMessage, taskErr *models.TaskError) (string, error) {
	r.mu.Lock()
	current := r.episode
	r.episode = nil
	r.mu.Unlock()
	if current == nil {
		return "", ErrNoEpisode
	}

	ep := &models.Episode{
		TaskDescription:    current.taskDescription,
		Context:            current.context,
		Actions:            current.actions,
		AgentContributions: current.contributions,
		Success:            success,
		DurationSeconds:    r.now().Sub(current.startedAt).Seconds(),
		Error:              taskErr,
		Result:             result,
	}

	var embedding []float32
	if r.embedder != nil {
		var err error
		embedding, err = r.embedder.Embed(ctx, current.taskDescription)
		if err != nil {
			log.Printf("Failed to embed episode: %v", err)
			embedding = nil
		}
	}

	episodeID, err := r.memory.StoreEpisode(ctx, ep, embedding)
	if err != nil {
		return "", fmt.Errorf("failed to complete episode: %w", err)
	}

	learnings, err := r.learning.LearnFromEpisode(ctx, ep)
	if err != nil {
		// Learning is advisory; the episode itself is already durable.
		log.Printf("Failed to learn from episode %s: %v", episodeID, err)
	}

	log.Printf("Completed episode %s: success=%v, duration=%.1fs, learnings=%d",
		episodeID, success, ep.DurationSeconds, len(learnings))
	return episodeID, nil
}

// recallRelevantExperiences surfaces similar past episodes at task start.
// Purely informational; failures are invisible to the caller.
func (r *Recorder) recallRelevantExperiences(ctx context.Context, taskDescription string) {
	if r.embedder == nil {
		return
	}
	queryEmbedding, err := r.embedder.Embed(ctx, taskDescription)
	if err != nil {
		return
	}
	similar := r.memory.RecallSimilarEpisodes(ctx, queryEmbedding, 3, 0.7)
	for _, ep := range similar {
		if ep.Success {
			log.Printf("Similar successful approach: %.100s (similarity: %.2f)",
				ep.TaskDescription, ep.SimilarityScore)
		}
	}
}

// applyLearnedStrategy attaches a high-confidence synthesized strategy to
// the agent's context at task start.
func (r *Recorder) applyLearnedStrategy(ctx context.Context, taskDescription string) {
	taskType := learning.CategorizeTask(taskDescription)
	strategy, err := r.learning.SynthesizeStrategy(ctx, taskType)
	if err != nil || strategy == nil || strategy.Confidence <= 0.7 {
		return
	}

	strategyJSON, err := json.Marshal(strategy)
	if err != nil {
		return
	}
	r.agent.SetContext("learned_strategy", string(strategyJSON))
	log.Printf("Applying learned strategy for %s tasks (confidence: %.2f)", taskType, strategy.Confidence)
}

// PerformanceInsights bundles the team's recent metrics, improvement
// recommendations and the agent's top relevant learnings.
type PerformanceInsights struct {
	Metrics         *models.PerformanceMetrics `json:"metrics,omitempty"`
	Recommendations []models.Recommendation    `json:"recommendations,omitempty"`
	RecentLearnings []*models.Learning         `json:"recent_learnings,omitempty"`
}

// GetPerformanceInsights returns the operational view for this agent.
func (r *Recorder) GetPerformanceInsights(ctx context.Context) (*PerformanceInsights, error) {
	m, err := r.memory.PerformanceMetrics(ctx, 30)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance insights: %w", err)
	}
	recommendations, err := r.learning.RecommendImprovements(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance insights: %w", err)
	}
	learnings, err := r.memory.RelevantLearnings(ctx, models.LearningContext{Role: r.agent.Role()})
	if err != nil {
		return nil, fmt.Errorf("failed to get performance insights: %w", err)
	}
	if len(learnings) > 5 {
		learnings = learnings[:5]
	}

	return &PerformanceInsights{
		Metrics:         m,
		Recommendations: recommendations,
		RecentLearnings: learnings,
	}, nil
}

// ShareKnowledge stores an insight from this agent as a team learning.
func (r *Recorder) ShareKnowledge(ctx context.Context, insight string, learningContext models.LearningContext, confidence float64) (string, error) {
	if confidence <= 0 {
		confidence = 0.8
	}
	if learningContext.Role == "" {
		learningContext.Role = r.agent.Role()
	}

	id, err := r.memory.StoreLearning(ctx, &models.Learning{
		Insight:    insight,
		Context:    learningContext,
		Confidence: confidence,
	})
	if err != nil {
		return "", fmt.Errorf("failed to share knowledge: %w", err)
	}
	log.Printf("Shared knowledge: %s (id: %s)", insight, id)
	return id, nil
}
