package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/pkg/models"
)

// Loader composes an agent's base configuration with every stored
// enhancement: evolved prompt, trait adjustments, learned strategies,
// workflow modifications and tool preferences.
type Loader struct {
	store  database.Store
	engine *Engine
}

// NewLoader creates a loader sharing the engine's store.
func NewLoader(store database.Store, engine *Engine) *Loader {
	return &Loader{store: store, engine: engine}
}

// LoadEvolvedAgentConfig merges stored evolutions and learnings onto a base
// agent configuration. A failure fetching any piece falls back to the base
// value for that piece and is logged; agent construction must never be
// blocked by evolution data.
func (l *Loader) LoadEvolvedAgentConfig(ctx context.Context, teamID, agentRole string, base models.AgentConfig) models.EvolvedAgentConfig {
	basePrompt := base.Backstory

	evolvedPrompt, err := l.engine.GetEvolvedPrompt(ctx, teamID, agentRole, basePrompt)
	if err != nil {
		log.Printf("Error getting evolved prompt: %v", err)
		evolvedPrompt = basePrompt
	}

	evolvedTraits := l.evolveTraits(ctx, teamID, agentRole, base.PersonalityTraits)
	strategies := l.agentStrategies(ctx, teamID, agentRole)
	workflowMods := l.workflowModifications(ctx, teamID, agentRole)
	toolPrefs := l.toolPreferences(ctx, teamID, agentRole)

	confidence := evolutionConfidence(
		evolvedPrompt != basePrompt,
		!traitsEqual(evolvedTraits, base.PersonalityTraits),
		len(strategies) > 0,
		len(workflowMods) > 0,
	)

	return models.EvolvedAgentConfig{
		Role:                  agentRole,
		BasePrompt:            basePrompt,
		EvolvedPrompt:         evolvedPrompt,
		EvolutionConfidence:   confidence,
		PersonalityTraits:     evolvedTraits,
		LearnedStrategies:     strategies,
		WorkflowModifications: workflowMods,
		ToolPreferences:       toolPrefs,
	}
}

// evolveTraits merges trait-impact learnings above the confidence floor
// into the base trait map. New traits are added; existing ones get the
// modifier appended unless it is already a substring.
func (l *Loader) evolveTraits(ctx context.Context, teamID, agentRole string, baseTraits map[string]string) map[string]string {
	evolved := make(map[string]string, len(baseTraits))
	for k, v := range baseTraits {
		evolved[k] = v
	}

	learnings, err := l.store.ListLearnings(ctx, models.LearningFilter{
		TeamName:      teamID,
		Role:          agentRole,
		TraitImpact:   true,
		MinConfidence: 0.85,
	})
	if err != nil {
		log.Printf("Error evolving personality traits: %v", err)
		return baseTraits
	}

	for _, learning := range learnings {
		trait := learning.Context.Trait
		if trait == nil || trait.Name == "" || trait.Modifier == "" {
			continue
		}
		existing, ok := evolved[trait.Name]
		if !ok {
			evolved[trait.Name] = trait.Modifier
			log.Printf("Added evolved trait %q to %s", trait.Name, agentRole)
			continue
		}
		evolved[trait.Name] = mergeTraitModifiers(existing, trait.Modifier)
	}
	return evolved
}

func mergeTraitModifiers(existing, next string) string {
	if existing == "" {
		return next
	}
	if next == "" || strings.Contains(existing, next) {
		return existing
	}
	return existing + "\n" + next
}

// agentStrategies returns up to 10 proven strategies for the role, best
// success rate first.
func (l *Loader) agentStrategies(ctx context.Context, teamID, agentRole string) []models.LearnedStrategy {
	learnings, err := l.store.ListLearnings(ctx, models.LearningFilter{
		TeamName:       teamID,
		Role:           agentRole,
		MinSuccessRate: 0.85,
		OrderBySuccess: true,
		Limit:          10,
	})
	if err != nil {
		log.Printf("Error getting agent strategies: %v", err)
		return nil
	}

	strategies := make([]models.LearnedStrategy, 0, len(learnings))
	for _, learning := range learnings {
		strategies = append(strategies, models.LearnedStrategy{
			Pattern:     learning.Pattern,
			SuccessRate: learning.SuccessRate,
			UsageCount:  learning.UsageCount,
			Context:     learning.Context,
		})
	}
	return strategies
}

// workflowModifications returns the most recent workflow evolution's
// evolved definition for the role, decoded from JSON.
func (l *Loader) workflowModifications(ctx context.Context, teamID, agentRole string) map[string]any {
	ev, err := l.store.LatestEvolution(ctx, teamID, agentRole, models.EvolutionWorkflow)
	if err != nil {
		log.Printf("Error getting workflow modifications: %v", err)
		return nil
	}
	if ev == nil {
		return nil
	}

	var mods map[string]any
	if err := json.Unmarshal([]byte(ev.EvolvedVersion), &mods); err != nil {
		log.Printf("Error decoding workflow modifications: %v", err)
		return nil
	}
	return mods
}

// toolPreferences ranks tools by observed success rate from tool-usage
// learnings above the floor.
func (l *Loader) toolPreferences(ctx context.Context, teamID, agentRole string) []models.ToolPreference {
	learnings, err := l.store.ListLearnings(ctx, models.LearningFilter{
		TeamName:       teamID,
		Role:           agentRole,
		ToolUsage:      true,
		MinSuccessRate: 0.8,
		OrderBySuccess: true,
	})
	if err != nil {
		log.Printf("Error getting tool preferences: %v", err)
		return nil
	}

	var prefs []models.ToolPreference
	for _, learning := range learnings {
		tool := learning.Context.Tool
		if tool == nil || tool.Name == "" {
			continue
		}
		prefs = append(prefs, models.ToolPreference{
			Tool:         tool.Name,
			SuccessRate:  learning.SuccessRate,
			PreferredFor: tool.TaskTypes,
		})
	}
	return prefs
}

// evolutionConfidence is the fraction of enhancement signals present, in
// steps of 0.25.
func evolutionConfidence(promptChanged, traitsChanged, hasStrategies, hasWorkflowMods bool) float64 {
	count := 0
	for _, b := range []bool{promptChanged, traitsChanged, hasStrategies, hasWorkflowMods} {
		if b {
			count++
		}
	}
	return float64(count) / 4
}

func traitsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// ApplyEvolutionToAgent mutates a live agent with its evolved
// configuration: replaces the backstory, attaches learned-strategy context
// and reorders the tool list by descending preference score. Tools without
// a stored preference score 0.5, so they sort stably into the middle.
func (l *Loader) ApplyEvolutionToAgent(agent Agent, cfg models.EvolvedAgentConfig) Agent {
	agent.SetBackstory(cfg.EvolvedPrompt)

	if len(cfg.LearnedStrategies) > 0 {
		agent.SetContext("learned_strategies", formatStrategies(cfg.LearnedStrategies))
	}

	if len(cfg.ToolPreferences) > 0 {
		scores := make(map[string]float64, len(cfg.ToolPreferences))
		for _, pref := range cfg.ToolPreferences {
			scores[pref.Tool] = pref.SuccessRate
		}
		tools := append([]string(nil), agent.Tools()...)
		sort.SliceStable(tools, func(i, j int) bool {
			return toolScore(scores, tools[i]) > toolScore(scores, tools[j])
		})
		agent.SetTools(tools)
	}

	log.Printf("Applied evolution to %s (confidence: %.2f)", cfg.Role, cfg.EvolutionConfidence)
	return agent
}

func toolScore(scores map[string]float64, tool string) float64 {
	if s, ok := scores[tool]; ok {
		return s
	}
	return 0.5
}

func formatStrategies(strategies []models.LearnedStrategy) string {
	var b strings.Builder
	b.WriteString("Proven strategies from experience:\n")
	for i, s := range strategies {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%d. %s (%.0f%% success)\n", i+1, s.Pattern, s.SuccessRate*100)
	}
	return b.String()
}
