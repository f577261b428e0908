package recorder

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/learning"
	"github.com/elfworks/evolve/internal/memory"
	"github.com/elfworks/evolve/internal/vector"
	"github.com/elfworks/evolve/pkg/models"
)

type stubAgent struct {
	role      string
	backstory string
	tools     []string
	context   map[string]string
}

func (a *stubAgent) Role() string { return a.role }

func (a *stubAgent) Backstory() string { return a.backstory }

func (a *stubAgent) SetBackstory(b string) { a.backstory = b }

func (a *stubAgent) Tools() []string { return a.tools }

func (a *stubAgent) SetTools(tools []string) { a.tools = tools }

func (a *stubAgent) SetContext(k, v string) { a.context[k] = v }

func newTestRecorder(t *testing.T) (*Recorder, *database.MemStore) {
	t.Helper()
	store := database.NewMemStore()
	tm := memory.New("test-team", store, vector.NewMemoryIndex(), nil)
	ls := learning.NewSystem(tm, nil)
	embedder, err := vector.NewHashingEmbedder(64)
	require.NoError(t, err)
	agent := &stubAgent{role: "developer", context: make(map[string]string)}
	return New(agent, tm, ls, embedder), store
}

func TestEpisodeLifecycle(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRecorder(t)

	require.NoError(t, r.StartEpisode(ctx, "Implement the signup flow", map[string]string{"sprint": "12"}))
	require.NoError(t, r.RecordAction("wrote handler", map[string]string{"file": "signup.go"}))
	require.NoError(t, r.RecordAction("added tests", nil))
	require.NoError(t, r.RecordIntermediateResult(json.RawMessage(`{"draft":true}`), "first draft"))

	id, err := r.CompleteEpisode(ctx, true, json.RawMessage(`{"done":true}`), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	episodes, err := store.ListEpisodes(ctx, models.EpisodeFilter{TeamName: "test-team"})
	require.NoError(t, err)
	require.Len(t, episodes, 1)

	ep := episodes[0]
	assert.Equal(t, "Implement the signup flow", ep.TaskDescription)
	assert.True(t, ep.Success)
	assert.Len(t, ep.Actions, 2)
	assert.Equal(t, "developer", ep.Actions[0].Agent)
	assert.Equal(t, []string{"wrote handler", "added tests"}, ep.AgentContributions["developer"])
	assert.Equal(t, map[string]string{"sprint": "12"}, ep.Context)

	// The success learning derived from the episode is stored too.
	learnings, err := store.ListLearnings(ctx, models.LearningFilter{TeamName: "test-team"})
	require.NoError(t, err)
	require.NotEmpty(t, learnings)
	assert.Contains(t, learnings[0].Insight, "Success factor")

	t.Run("ready for next episode", func(t *testing.T) {
		require.NoError(t, r.StartEpisode(ctx, "Fix the signup flow", nil))
		_, err := r.CompleteEpisode(ctx, false, nil, &models.TaskError{Type: "Panic", Message: "nil deref"})
		require.NoError(t, err)
	})
}

func TestEpisodeProtocolErrors(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t)

	t.Run("no episode", func(t *testing.T) {
		assert.ErrorIs(t, r.RecordAction("x", nil), ErrNoEpisode)
		assert.ErrorIs(t, r.RecordIntermediateResult(json.RawMessage(`{}`), ""), ErrNoEpisode)
		_, err := r.CompleteEpisode(ctx, true, nil, nil)
		assert.ErrorIs(t, err, ErrNoEpisode)
	})

	t.Run("double start", func(t *testing.T) {
		require.NoError(t, r.StartEpisode(ctx, "task one", nil))
		assert.ErrorIs(t, r.StartEpisode(ctx, "task two", nil), ErrEpisodeInProgress)

		_, err := r.CompleteEpisode(ctx, true, nil, nil)
		require.NoError(t, err)
	})
}

func TestShareKnowledge(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRecorder(t)

	id, err := r.ShareKnowledge(ctx, "Batch API calls where possible", models.LearningContext{TaskType: "optimization"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	learnings, err := store.ListLearnings(ctx, models.LearningFilter{TeamName: "test-team"})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	// Defaults fill in: confidence 0.8 and the wrapped agent's role.
	assert.Equal(t, 0.8, learnings[0].Confidence)
	assert.Equal(t, "developer", learnings[0].Context.Role)
}

func TestGetPerformanceInsights(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t)

	require.NoError(t, r.StartEpisode(ctx, "Implement a widget", nil))
	require.NoError(t, r.RecordAction("built widget", nil))
	_, err := r.CompleteEpisode(ctx, true, nil, nil)
	require.NoError(t, err)

	insights, err := r.GetPerformanceInsights(ctx)
	require.NoError(t, err)
	require.NotNil(t, insights)
	require.NotNil(t, insights.Metrics)
	assert.Equal(t, 1, insights.Metrics.TotalEpisodes)
	assert.LessOrEqual(t, len(insights.RecentLearnings), 5)
}
