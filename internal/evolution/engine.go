package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/events"
	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/pkg/models"
)

// promptConfidenceThreshold gates whether a stored prompt evolution is
// considered ready to replace the base prompt.
const promptConfidenceThreshold = 0.7

// impactBaseline is the assumed pre-evolution performance level that
// MeasureEvolutionImpact compares against.
const impactBaseline = 0.7

// Engine proposes, applies and tracks agent evolutions.
type Engine struct {
	store     database.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// NewEngine creates an evolution engine. publisher may be nil.
func NewEngine(store database.Store, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		metrics:   metrics.NewMetrics(),
	}
}

// GetEvolvedPrompt returns the evolved prompt for (team, role) when the
// latest stored prompt evolution clears the confidence threshold, and the
// base prompt otherwise. This is a pure read: calling it twice with no
// intervening writes returns identical text.
func (e *Engine) GetEvolvedPrompt(ctx context.Context, teamID, agentRole, basePrompt string) (string, error) {
	ev, err := e.store.LatestEvolution(ctx, teamID, agentRole, models.EvolutionPrompt)
	if err != nil {
		return basePrompt, fmt.Errorf("failed to get evolved prompt: %w", err)
	}
	if ev == nil || ev.ConfidenceScore < promptConfidenceThreshold {
		return basePrompt, nil
	}
	log.Printf("Using evolved prompt for %s (confidence: %.2f)", agentRole, ev.ConfidenceScore)
	return ev.EvolvedVersion, nil
}

// EnhancePromptWithStrategies builds an evolved prompt from the team's
// proven strategies for a role and stores it as a fresh prompt evolution.
// When no qualifying strategies exist the base prompt is returned unchanged
// and nothing is stored.
func (e *Engine) EnhancePromptWithStrategies(ctx context.Context, teamID, agentRole, basePrompt, taskType string) (string, error) {
	strategies, err := e.provenStrategies(ctx, teamID, agentRole, taskType)
	if err != nil {
		return basePrompt, fmt.Errorf("failed to enhance prompt: %w", err)
	}
	if len(strategies) == 0 {
		return basePrompt, nil
	}

	evolved := basePrompt + "\n\nBased on experience and proven patterns:"
	for _, s := range strategies {
		successPct := s.SuccessRate * 100
		if s.Context.Action != "" {
			evolved += fmt.Sprintf("\n- %s (%.0f%% success rate, used %d times)",
				s.Context.Action, successPct, s.UsageCount)
		} else {
			evolved += fmt.Sprintf("\n- %s (%.0f%% success rate)", s.Pattern, successPct)
		}
	}
	evolved += "\n\nPrioritize these proven approaches when applicable."

	ev := &models.AgentEvolution{
		TeamID:          teamID,
		AgentRole:       agentRole,
		Type:            models.EvolutionPrompt,
		OriginalVersion: basePrompt,
		EvolvedVersion:  evolved,
		ConfidenceScore: strategyConfidence(strategies),
	}
	if err := e.store.InsertEvolution(ctx, ev); err != nil {
		return basePrompt, fmt.Errorf("failed to store evolution: %w", err)
	}
	e.metrics.EvolutionsCreated.WithLabelValues(teamID, string(models.EvolutionPrompt)).Inc()
	e.publisher.PublishEvolution(teamID, ev)

	log.Printf("Stored prompt evolution for %s (confidence: %.2f)", agentRole, ev.ConfidenceScore)
	return evolved, nil
}

// provenStrategies returns the top learnings for a role with high enough
// confidence and success rate to drive a prompt revision.
func (e *Engine) provenStrategies(ctx context.Context, teamID, agentRole, taskType string) ([]*models.Learning, error) {
	return e.store.ListLearnings(ctx, models.LearningFilter{
		TeamName:       teamID,
		Role:           agentRole,
		TaskType:       taskType,
		MinConfidence:  0.8,
		MinSuccessRate: 0.85,
		OrderBySuccess: true,
		Limit:          5,
	})
}

// strategyConfidence is the success-rate average weighted by usage.
func strategyConfidence(strategies []*models.Learning) float64 {
	var weightedScore, totalWeight float64
	for _, s := range strategies {
		weight := float64(s.UsageCount) * s.SuccessRate
		weightedScore += s.SuccessRate * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedScore / totalWeight
}

// WorkflowNode is one step in a workflow definition.
type WorkflowNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// WorkflowDefinition is the evolvable shape of a team workflow.
type WorkflowDefinition struct {
	Name  string         `json:"name,omitempty"`
	Nodes []WorkflowNode `json:"nodes,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// EvolveWorkflow injects validation and review nodes into a workflow when
// high-confidence learnings call for them. The evolved workflow and a
// confidence score (modifications per learning) are returned; when any
// modification was made the evolution is stored under the synthetic role
// "team_workflow".
func (e *Engine) EvolveWorkflow(ctx context.Context, teamID string, def WorkflowDefinition, learnings []*models.Learning) (WorkflowDefinition, float64, error) {
	evolved := def
	evolved.Nodes = append([]WorkflowNode(nil), def.Nodes...)

	hasNodeType := func(typ string) bool {
		for _, n := range evolved.Nodes {
			if n.Type == typ {
				return true
			}
		}
		return false
	}

	var modifications []string
	for _, l := range learnings {
		if l.Confidence < 0.9 {
			continue
		}
		if strings.Contains(l.Pattern, "validation_prevents_errors") && !hasNodeType("validation") {
			evolved.Nodes = append(evolved.Nodes, WorkflowNode{
				ID:     "validate_before_execute",
				Type:   "validation",
				Config: map[string]any{"strict": true, "fail_fast": false},
			})
			modifications = append(modifications, "Added validation step")
		}
		if strings.Contains(l.Pattern, "review_improves_quality") && !hasNodeType("review") {
			evolved.Nodes = append(evolved.Nodes, WorkflowNode{
				ID:     "quality_review",
				Type:   "review",
				Config: map[string]any{"criteria": l.Context.Extra["criteria"]},
			})
			modifications = append(modifications, "Added quality review step")
		}
	}

	confidence := 0.0
	if len(learnings) > 0 {
		confidence = float64(len(modifications)) / float64(len(learnings))
	}

	if len(modifications) > 0 {
		originalJSON, err := json.Marshal(def)
		if err != nil {
			return def, 0, fmt.Errorf("failed to marshal workflow: %w", err)
		}
		evolvedJSON, err := json.Marshal(evolved)
		if err != nil {
			return def, 0, fmt.Errorf("failed to marshal evolved workflow: %w", err)
		}
		ev := &models.AgentEvolution{
			TeamID:          teamID,
			AgentRole:       "team_workflow",
			Type:            models.EvolutionWorkflow,
			OriginalVersion: string(originalJSON),
			EvolvedVersion:  string(evolvedJSON),
			ConfidenceScore: confidence,
		}
		if err := e.store.InsertEvolution(ctx, ev); err != nil {
			return def, 0, fmt.Errorf("failed to store workflow evolution: %w", err)
		}
		e.metrics.EvolutionsCreated.WithLabelValues(teamID, string(models.EvolutionWorkflow)).Inc()
		e.publisher.PublishEvolution(teamID, ev)
		log.Printf("Evolved workflow with %d modifications", len(modifications))
	}

	return evolved, confidence, nil
}

// EvolutionHistory returns past evolutions for a team, optionally scoped to
// one role, newest first.
func (e *Engine) EvolutionHistory(ctx context.Context, teamID, agentRole string, limit int) ([]*models.AgentEvolution, error) {
	if limit <= 0 {
		limit = 10
	}
	evolutions, err := e.store.ListEvolutions(ctx, teamID, agentRole, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get evolution history: %w", err)
	}
	return evolutions, nil
}

// RollbackEvolution creates a new evolution that reverts an earlier one:
// the evolved version becomes the original and vice versa, with full
// confidence and the performance delta negated.
func (e *Engine) RollbackEvolution(ctx context.Context, evolutionID string) (*models.AgentEvolution, error) {
	ev, err := e.store.GetEvolution(ctx, evolutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to roll back evolution: %w", err)
	}

	rollback := &models.AgentEvolution{
		TeamID:           ev.TeamID,
		AgentRole:        ev.AgentRole,
		Type:             ev.Type,
		OriginalVersion:  ev.EvolvedVersion,
		EvolvedVersion:   ev.OriginalVersion,
		ConfidenceScore:  1.0,
		PerformanceDelta: -ev.PerformanceDelta,
	}
	if err := e.store.InsertEvolution(ctx, rollback); err != nil {
		return nil, fmt.Errorf("failed to store rollback evolution: %w", err)
	}
	e.publisher.PublishEvolution(ev.TeamID, rollback)

	log.Printf("Rolled back evolution for %s", ev.AgentRole)
	return rollback, nil
}

// MeasureEvolutionImpact computes the relative performance delta of an
// evolution against the assumed baseline and records it.
func (e *Engine) MeasureEvolutionImpact(ctx context.Context, evolutionID string, performanceMetrics map[string]float64) (float64, error) {
	if len(performanceMetrics) == 0 {
		return 0, fmt.Errorf("no performance metrics provided")
	}

	var sum float64
	for _, v := range performanceMetrics {
		sum += v
	}
	current := sum / float64(len(performanceMetrics))
	delta := (current - impactBaseline) / impactBaseline

	if err := e.store.SetEvolutionDelta(ctx, evolutionID, delta); err != nil {
		return 0, fmt.Errorf("failed to record evolution impact: %w", err)
	}

	log.Printf("Evolution %s impact: %.2f%%", evolutionID, delta*100)
	return delta, nil
}

// MarkApplied stamps an evolution as applied with its measured delta.
func (e *Engine) MarkApplied(ctx context.Context, evolutionID string, delta float64) error {
	ev, err := e.store.GetEvolution(ctx, evolutionID)
	if err != nil {
		return err
	}
	if err := e.store.MarkEvolutionApplied(ctx, evolutionID, delta, time.Now().UTC()); err != nil {
		return err
	}
	e.metrics.EvolutionsApplied.WithLabelValues(ev.TeamID, string(ev.Type)).Inc()
	return nil
}
