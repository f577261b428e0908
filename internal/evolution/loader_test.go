package evolution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/pkg/models"
)

type fakeAgent struct {
	role      string
	backstory string
	tools     []string
	context   map[string]string
}

func newFakeAgent(role, backstory string, tools []string) *fakeAgent {
	return &fakeAgent{role: role, backstory: backstory, tools: tools, context: make(map[string]string)}
}

func (a *fakeAgent) Role() string { return a.role }

func (a *fakeAgent) Backstory() string { return a.backstory }

func (a *fakeAgent) SetBackstory(b string) { a.backstory = b }

func (a *fakeAgent) Tools() []string { return a.tools }

func (a *fakeAgent) SetTools(tools []string) { a.tools = tools }

func (a *fakeAgent) SetContext(k, v string) { a.context[k] = v }

func newTestLoader() (*Loader, *database.MemStore) {
	store := database.NewMemStore()
	return NewLoader(store, NewEngine(store, nil)), store
}

func TestLoadEvolvedAgentConfigBaseline(t *testing.T) {
	ctx := context.Background()
	loader, _ := newTestLoader()

	base := models.AgentConfig{
		Role:              "developer",
		Backstory:         "You are a developer.",
		PersonalityTraits: map[string]string{"rigor": "high"},
	}
	cfg := loader.LoadEvolvedAgentConfig(ctx, "team-a", "developer", base)

	assert.Equal(t, "developer", cfg.Role)
	assert.Equal(t, base.Backstory, cfg.BasePrompt)
	assert.Equal(t, base.Backstory, cfg.EvolvedPrompt)
	assert.Zero(t, cfg.EvolutionConfidence)
	assert.Equal(t, base.PersonalityTraits, cfg.PersonalityTraits)
	assert.Empty(t, cfg.LearnedStrategies)
	assert.Empty(t, cfg.ToolPreferences)
}

func TestLoadEvolvedAgentConfigFull(t *testing.T) {
	ctx := context.Background()
	loader, store := newTestLoader()

	base := models.AgentConfig{
		Role:              "developer",
		Backstory:         "You are a developer.",
		PersonalityTraits: map[string]string{"thoroughness": "Always double check outputs."},
	}

	require.NoError(t, store.InsertEvolution(ctx, &models.AgentEvolution{
		TeamID:          "team-a",
		AgentRole:       "developer",
		Type:            models.EvolutionPrompt,
		EvolvedVersion:  "You are a battle-tested developer.",
		ConfidenceScore: 0.9,
	}))

	workflowJSON, err := json.Marshal(map[string]any{"nodes": []string{"validate"}})
	require.NoError(t, err)
	require.NoError(t, store.InsertEvolution(ctx, &models.AgentEvolution{
		TeamID:          "team-a",
		AgentRole:       "developer",
		Type:            models.EvolutionWorkflow,
		EvolvedVersion:  string(workflowJSON),
		ConfidenceScore: 0.8,
	}))

	require.NoError(t, store.InsertLearning(ctx, &models.Learning{
		TeamName:   "team-a",
		Insight:    "be careful with migrations",
		Confidence: 0.9,
		Context: models.LearningContext{
			Role:  "developer",
			Trait: &models.TraitImpact{Name: "caution", Modifier: "Review schema changes twice."},
		},
	}))
	require.NoError(t, store.InsertLearning(ctx, &models.Learning{
		TeamName:    "team-a",
		Insight:     "tests first",
		Pattern:     "write tests before code",
		SuccessRate: 0.9,
		UsageCount:  8,
		Context:     models.LearningContext{Role: "developer"},
	}))
	require.NoError(t, store.InsertLearning(ctx, &models.Learning{
		TeamName:    "team-a",
		Insight:     "grep beats guessing",
		SuccessRate: 0.88,
		Context: models.LearningContext{
			Role: "developer",
			Tool: &models.ToolUsage{Name: "search", TaskTypes: []string{"debugging"}},
		},
	}))

	cfg := loader.LoadEvolvedAgentConfig(ctx, "team-a", "developer", base)

	assert.Equal(t, "You are a battle-tested developer.", cfg.EvolvedPrompt)
	assert.Equal(t, "Review schema changes twice.", cfg.PersonalityTraits["caution"])
	assert.Equal(t, "Always double check outputs.", cfg.PersonalityTraits["thoroughness"])
	require.Len(t, cfg.LearnedStrategies, 2)
	assert.Equal(t, "write tests before code", cfg.LearnedStrategies[0].Pattern)
	assert.NotNil(t, cfg.WorkflowModifications)
	require.Len(t, cfg.ToolPreferences, 1)
	assert.Equal(t, "search", cfg.ToolPreferences[0].Tool)
	// All four enhancement signals present.
	assert.Equal(t, 1.0, cfg.EvolutionConfidence)
}

func TestMergeTraitModifiers(t *testing.T) {
	assert.Equal(t, "a", mergeTraitModifiers("", "a"))
	assert.Equal(t, "a", mergeTraitModifiers("a", ""))
	assert.Equal(t, "a\nb", mergeTraitModifiers("a", "b"))
	// A modifier already present as a substring is not appended again.
	assert.Equal(t, "stay focused", mergeTraitModifiers("stay focused", "focused"))
}

func TestApplyEvolutionToAgent(t *testing.T) {
	loader, _ := newTestLoader()

	agent := newFakeAgent("developer", "base", []string{"browser", "search", "calculator"})
	cfg := models.EvolvedAgentConfig{
		Role:          "developer",
		EvolvedPrompt: "evolved",
		LearnedStrategies: []models.LearnedStrategy{
			{Pattern: "write tests before code", SuccessRate: 0.9},
		},
		ToolPreferences: []models.ToolPreference{
			{Tool: "search", SuccessRate: 0.95},
			{Tool: "browser", SuccessRate: 0.2},
		},
	}

	loader.ApplyEvolutionToAgent(agent, cfg)

	assert.Equal(t, "evolved", agent.backstory)
	// search (0.95) first, calculator defaults to 0.5, browser (0.2) last.
	assert.Equal(t, []string{"search", "calculator", "browser"}, agent.tools)
	assert.Contains(t, agent.context["learned_strategies"], "write tests before code")
	assert.Contains(t, agent.context["learned_strategies"], "90% success")
}
