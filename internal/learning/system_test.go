package learning

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/memory"
	"github.com/elfworks/evolve/pkg/models"
)

func newTestSystem(t *testing.T, roster []string) (*System, *memory.TeamMemory, *database.MemStore) {
	t.Helper()
	store := database.NewMemStore()
	tm := memory.New("test-team", store, nil, nil)
	return NewSystem(tm, roster), tm, store
}

func TestCategorizeTask(t *testing.T) {
	cases := []struct {
		description string
		want        string
	}{
		{"Create a new landing page", "development"},
		{"Implement the billing service", "development"},
		{"Analyze last month's churn", "analysis"},
		{"Fix the broken importer", "debugging"},
		{"Design the onboarding flow", "design"},
		{"Document the public API", "documentation"},
		{"Verify the release candidate", "testing"},
		{"Deploy to staging", "deployment"},
		{"Optimize the query planner", "optimization"},
		{"Miscellaneous chores", "general"},
		// First category in fixed order wins on overlap.
		{"Create and test the parser", "development"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, CategorizeTask(tc.description))
		})
	}
}

func TestExpectedAgents(t *testing.T) {
	assert.Equal(t, []string{"developer", "architect", "tester"}, ExpectedAgents("build the parser"))
	assert.Equal(t, []string{"manager", "analyst", "developer"}, ExpectedAgents("miscellaneous chores"))
}

func TestLearnFromEpisodeSuccess(t *testing.T) {
	ctx := context.Background()
	s, tm, _ := newTestSystem(t, nil)

	// Prior development episodes establish the duration baseline.
	for i := 0; i < 3; i++ {
		_, err := tm.StoreEpisode(ctx, &models.Episode{
			TaskDescription: "Implement a feature",
			Success:         true,
			DurationSeconds: 100,
		}, nil)
		require.NoError(t, err)
	}

	ep := &models.Episode{
		ID:              "ep-new",
		TaskDescription: "Implement the dashboard",
		Success:         true,
		DurationSeconds: 50,
		AgentContributions: map[string][]string{
			"developer": {"wrote code", "ran tests"},
			"reviewer":  {"approved pr"},
		},
	}
	learnings, err := s.LearnFromEpisode(ctx, ep)
	require.NoError(t, err)
	require.Len(t, learnings, 3)

	for _, l := range learnings {
		assert.True(t, strings.HasPrefix(l.Insight, "Success factor"), "insight %q", l.Insight)
		assert.Equal(t, []string{"ep-new"}, l.Evidence)
	}

	assert.Equal(t, "Success factor: developer effectively performed 2 actions", learnings[0].Insight)
	assert.Equal(t, 0.8, learnings[0].Confidence)
	assert.Equal(t, "developer", learnings[0].Context.Role)
	assert.Equal(t, "2", learnings[0].Context.Extra["action_count"])

	timing := learnings[2]
	assert.Equal(t, "Success factor: Task completed faster than average", timing.Insight)
	assert.Equal(t, 0.9, timing.Confidence)
}

func TestLearnFromEpisodeFailure(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSystem(t, nil)

	ep := &models.Episode{
		ID:              "ep-fail",
		TaskDescription: "Build the exporter",
		Success:         false,
		Error:           &models.TaskError{Type: "Timeout", Message: "deadline exceeded"},
		AgentContributions: map[string][]string{
			"developer": {"started work"},
		},
	}
	learnings, err := s.LearnFromEpisode(ctx, ep)
	require.NoError(t, err)
	require.Len(t, learnings, 2)

	for _, l := range learnings {
		assert.True(t, strings.HasPrefix(l.Insight, "Failure cause"), "insight %q", l.Insight)
	}
	assert.Equal(t, "Failure cause: Error encountered: Timeout", learnings[0].Insight)
	assert.Equal(t, 0.9, learnings[0].Confidence)
	assert.Equal(t, "Failure cause: Missing contributions from: architect, tester", learnings[1].Insight)
	assert.Equal(t, 0.8, learnings[1].Confidence)

	t.Run("untyped error", func(t *testing.T) {
		learnings, err := s.LearnFromEpisode(ctx, &models.Episode{
			TaskDescription: "Build the importer",
			Error:           &models.TaskError{Message: "boom"},
			AgentContributions: map[string][]string{
				"developer": {"x"}, "architect": {"y"}, "tester": {"z"},
			},
		})
		require.NoError(t, err)
		require.Len(t, learnings, 1)
		assert.Equal(t, "Failure cause: Error encountered: Unknown", learnings[0].Insight)
	})
}

// storeDevEpisodes seeds successful development episodes across enough
// distinct agents to clear the pattern floor. The developer performs
// "write unit tests" in four of the five.
func storeDevEpisodes(t *testing.T, tm *memory.TeamMemory) {
	t.Helper()
	ctx := context.Background()
	others := []string{"architect", "tester", "analyst", "reviewer"}
	for i := 0; i < 5; i++ {
		actions := []string{"write code"}
		if i < 4 {
			actions = append(actions, "write unit tests")
		}
		other := others[i%len(others)]
		_, err := tm.StoreEpisode(ctx, &models.Episode{
			TaskDescription: fmt.Sprintf("Implement development task %d", i),
			Success:         true,
			DurationSeconds: float64(100 + i*10),
			AgentContributions: map[string][]string{
				"developer": actions,
				other:       {"supported"},
			},
		}, nil)
		require.NoError(t, err)
	}
	_, err := tm.StoreEpisode(ctx, &models.Episode{
		TaskDescription:    "Implement development task that failed",
		Success:            false,
		DurationSeconds:    300,
		AgentContributions: map[string][]string{"developer": {"write code"}},
	}, nil)
	require.NoError(t, err)
}

func TestSynthesizeStrategy(t *testing.T) {
	ctx := context.Background()
	s, tm, _ := newTestSystem(t, nil)

	t.Run("below pattern floor", func(t *testing.T) {
		_, err := tm.StoreEpisode(ctx, &models.Episode{
			TaskDescription: "Implement development warmup",
			Success:         true,
			AgentContributions: map[string][]string{
				"developer": {"a"}, "tester": {"b"}, "analyst": {"c"}, "reviewer": {"d"},
			},
		}, nil)
		require.NoError(t, err)

		strategy, err := s.SynthesizeStrategy(ctx, "development")
		require.NoError(t, err)
		assert.Nil(t, strategy)
	})

	storeDevEpisodes(t, tm)

	strategy, err := s.SynthesizeStrategy(ctx, "development")
	require.NoError(t, err)
	require.NotNil(t, strategy)

	assert.Equal(t, "development", strategy.TaskType)
	assert.Contains(t, strategy.RecommendedAgents, "developer")
	assert.Len(t, strategy.RecommendedAgents, 3)
	assert.Contains(t, strategy.KeyActions, "write unit tests")
	assert.Contains(t, strategy.KeyActions, "write code")
	assert.Greater(t, strategy.Confidence, 0.5)
	assert.LessOrEqual(t, strategy.Confidence, 0.95)
	assert.Greater(t, strategy.EstimatedDuration, 0)
}

func TestPredictSuccessProbability(t *testing.T) {
	ctx := context.Background()

	t.Run("no history", func(t *testing.T) {
		s, _, _ := newTestSystem(t, nil)
		p, err := s.PredictSuccessProbability(ctx, "implement something", PlannedApproach{})
		require.NoError(t, err)
		assert.Equal(t, 0.5, p)
	})

	t.Run("clamped low", func(t *testing.T) {
		s, tm, _ := newTestSystem(t, nil)
		for i := 0; i < 5; i++ {
			_, err := tm.StoreEpisode(ctx, &models.Episode{
				TaskDescription: "Implement doomed feature",
				Success:         false,
			}, nil)
			require.NoError(t, err)
		}
		p, err := s.PredictSuccessProbability(ctx, "implement another feature", PlannedApproach{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.1)
		assert.Less(t, p, 0.5)
	})

	t.Run("clamped high", func(t *testing.T) {
		s, tm, _ := newTestSystem(t, nil)
		storeDevEpisodes(t, tm)
		p, err := s.PredictSuccessProbability(ctx, "implement a new page", PlannedApproach{
			Agents: []string{"developer"},
		})
		require.NoError(t, err)
		assert.Greater(t, p, 0.5)
		assert.LessOrEqual(t, p, 0.95)
	})
}

func TestRecommendImprovements(t *testing.T) {
	ctx := context.Background()
	s, _, store := newTestSystem(t, []string{"developer", "analyst"})

	t.Run("no data", func(t *testing.T) {
		recs, err := s.RecommendImprovements(ctx)
		require.NoError(t, err)
		assert.Nil(t, recs)
	})

	now := time.Now().UTC()
	insert := func(createdAt time.Time, success bool) {
		tag := "failure"
		if success {
			tag = "success"
		}
		require.NoError(t, store.InsertEpisode(ctx, &models.Episode{
			TeamName:           "test-team",
			TaskDescription:    "task",
			Success:            success,
			DurationSeconds:    400,
			CreatedAt:          createdAt,
			Tags:               []string{tag},
			AgentContributions: map[string][]string{"developer": {"did work"}},
		}))
	}
	// Older week succeeded, recent week failing: a negative trend.
	insert(now.AddDate(0, 0, -14), true)
	insert(now.AddDate(0, 0, -14), true)
	insert(now, false)
	insert(now, false)

	recs, err := s.RecommendImprovements(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "performance", recs[0].Type)
	assert.Equal(t, "high", recs[0].Priority)
	assert.Equal(t, "Success rate declining. Review recent failures and adjust strategies.", recs[0].Recommendation)

	assert.Equal(t, "efficiency", recs[1].Type)
	assert.Equal(t, "medium", recs[1].Priority)

	assert.Equal(t, "utilization", recs[2].Type)
	assert.Equal(t, "low", recs[2].Priority)
	assert.Contains(t, recs[2].Recommendation, "analyst")
	assert.NotContains(t, recs[2].Evidence["inactive_agents"], "developer")
}
