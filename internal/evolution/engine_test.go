package evolution

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/pkg/models"
)

func TestGetEvolvedPrompt(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	base := "You are an analyst."

	t.Run("no evolution falls back to base", func(t *testing.T) {
		prompt, err := engine.GetEvolvedPrompt(ctx, "team-a", "analyst", base)
		require.NoError(t, err)
		assert.Equal(t, base, prompt)
	})

	t.Run("confident evolution wins", func(t *testing.T) {
		require.NoError(t, store.InsertEvolution(ctx, &models.AgentEvolution{
			TeamID:          "team-a",
			AgentRole:       "analyst",
			Type:            models.EvolutionPrompt,
			OriginalVersion: base,
			EvolvedVersion:  "You are a meticulous analyst.",
			ConfidenceScore: 0.9,
		}))

		prompt, err := engine.GetEvolvedPrompt(ctx, "team-a", "analyst", base)
		require.NoError(t, err)
		assert.Equal(t, "You are a meticulous analyst.", prompt)

		// A pure read: repeating the call changes nothing.
		again, err := engine.GetEvolvedPrompt(ctx, "team-a", "analyst", base)
		require.NoError(t, err)
		assert.Equal(t, prompt, again)

		history, err := engine.EvolutionHistory(ctx, "team-a", "analyst", 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("low confidence ignored", func(t *testing.T) {
		require.NoError(t, store.InsertEvolution(ctx, &models.AgentEvolution{
			TeamID:          "team-a",
			AgentRole:       "writer",
			Type:            models.EvolutionPrompt,
			EvolvedVersion:  "ignore me",
			ConfidenceScore: 0.4,
		}))
		prompt, err := engine.GetEvolvedPrompt(ctx, "team-a", "writer", base)
		require.NoError(t, err)
		assert.Equal(t, base, prompt)
	})
}

func TestEnhancePromptWithStrategies(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	base := "You are a developer."

	t.Run("no strategies leaves prompt unchanged", func(t *testing.T) {
		prompt, err := engine.EnhancePromptWithStrategies(ctx, "team-a", "developer", base, "")
		require.NoError(t, err)
		assert.Equal(t, base, prompt)

		history, err := engine.EvolutionHistory(ctx, "team-a", "developer", 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	require.NoError(t, store.InsertLearning(ctx, &models.Learning{
		TeamName:    "team-a",
		Insight:     "tests first pays off",
		Pattern:     "write tests before code",
		Context:     models.LearningContext{Role: "developer", Action: "write tests first"},
		Confidence:  0.9,
		SuccessRate: 0.92,
		UsageCount:  12,
	}))

	prompt, err := engine.EnhancePromptWithStrategies(ctx, "team-a", "developer", base, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, base))
	assert.Contains(t, prompt, "Based on experience and proven patterns:")
	assert.Contains(t, prompt, "write tests first (92% success rate, used 12 times)")
	assert.Contains(t, prompt, "Prioritize these proven approaches when applicable.")

	history, err := engine.EvolutionHistory(ctx, "team-a", "developer", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.EvolutionPrompt, history[0].Type)
	assert.Equal(t, base, history[0].OriginalVersion)
	assert.InDelta(t, 0.92, history[0].ConfidenceScore, 1e-9)

	t.Run("evolved prompt now served", func(t *testing.T) {
		served, err := engine.GetEvolvedPrompt(ctx, "team-a", "developer", base)
		require.NoError(t, err)
		assert.Equal(t, prompt, served)
	})
}

func TestEvolveWorkflow(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	def := WorkflowDefinition{
		Name:  "publish",
		Nodes: []WorkflowNode{{ID: "draft", Type: "task"}},
	}
	learnings := []*models.Learning{
		{Pattern: "validation_prevents_errors", Confidence: 0.95},
		{Pattern: "review_improves_quality", Confidence: 0.95, Context: models.LearningContext{Extra: map[string]string{"criteria": "clarity"}}},
		{Pattern: "validation_prevents_errors", Confidence: 0.5},
	}

	evolved, confidence, err := engine.EvolveWorkflow(ctx, "team-a", def, learnings)
	require.NoError(t, err)

	require.Len(t, evolved.Nodes, 3)
	assert.Equal(t, "validate_before_execute", evolved.Nodes[1].ID)
	assert.Equal(t, "quality_review", evolved.Nodes[2].ID)
	// Two modifications over three learnings.
	assert.InDelta(t, 2.0/3.0, confidence, 1e-9)
	// Input untouched.
	assert.Len(t, def.Nodes, 1)

	history, err := engine.EvolutionHistory(ctx, "team-a", "team_workflow", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.EvolutionWorkflow, history[0].Type)

	t.Run("no duplicate nodes", func(t *testing.T) {
		again, confidence, err := engine.EvolveWorkflow(ctx, "team-a", evolved, learnings)
		require.NoError(t, err)
		assert.Len(t, again.Nodes, 3)
		assert.Zero(t, confidence)
	})

	t.Run("no learnings", func(t *testing.T) {
		same, confidence, err := engine.EvolveWorkflow(ctx, "team-a", def, nil)
		require.NoError(t, err)
		assert.Len(t, same.Nodes, 1)
		assert.Zero(t, confidence)
	})
}

func TestRollbackEvolution(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	original := &models.AgentEvolution{
		TeamID:           "team-a",
		AgentRole:        "developer",
		Type:             models.EvolutionPrompt,
		OriginalVersion:  "old prompt",
		EvolvedVersion:   "new prompt",
		ConfidenceScore:  0.8,
		PerformanceDelta: 0.12,
	}
	require.NoError(t, store.InsertEvolution(ctx, original))

	rollback, err := engine.RollbackEvolution(ctx, original.ID)
	require.NoError(t, err)

	assert.Equal(t, "new prompt", rollback.OriginalVersion)
	assert.Equal(t, "old prompt", rollback.EvolvedVersion)
	assert.Equal(t, 1.0, rollback.ConfidenceScore)
	assert.InDelta(t, -0.12, rollback.PerformanceDelta, 1e-9)

	t.Run("unknown id", func(t *testing.T) {
		_, err := engine.RollbackEvolution(ctx, "missing")
		assert.Error(t, err)
	})
}

func TestMeasureEvolutionImpact(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	ev := &models.AgentEvolution{TeamID: "team-a", AgentRole: "developer", Type: models.EvolutionPrompt}
	require.NoError(t, store.InsertEvolution(ctx, ev))

	delta, err := engine.MeasureEvolutionImpact(ctx, ev.ID, map[string]float64{
		"success_rate": 0.84,
	})
	require.NoError(t, err)
	// (0.84 - 0.7) / 0.7
	assert.InDelta(t, 0.2, delta, 1e-9)

	stored, err := store.GetEvolution(ctx, ev.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, stored.PerformanceDelta, 1e-9)

	t.Run("no metrics", func(t *testing.T) {
		_, err := engine.MeasureEvolutionImpact(ctx, ev.ID, nil)
		assert.Error(t, err)
	})
}

func TestMarkApplied(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	engine := NewEngine(store, nil)

	ev := &models.AgentEvolution{TeamID: "team-a", AgentRole: "developer", Type: models.EvolutionPrompt}
	require.NoError(t, store.InsertEvolution(ctx, ev))

	require.NoError(t, engine.MarkApplied(ctx, ev.ID, 0.05))

	stored, err := store.GetEvolution(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AppliedAt)
	assert.InDelta(t, 0.05, stored.PerformanceDelta, 1e-9)
}
