package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/internal/cache"
	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/vector"
	"github.com/elfworks/evolve/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *database.MemStore) {
	t.Helper()
	store := database.NewMemStore()
	embedder, err := vector.NewHashingEmbedder(64)
	require.NoError(t, err)
	s := NewServer(Options{
		Store:    store,
		Index:    vector.NewMemoryIndex(),
		Embedder: embedder,
		Cache:    cache.NewMemoryCache(time.Minute),
		Roster:   []string{"developer", "analyst"},
	})
	return s, store
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEpisodeEndpoints(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/teams/team-a/episodes", map[string]interface{}{
		"task_description": "Create the pricing page",
		"success":          true,
		"duration_seconds": 42.0,
		"agent_contributions": map[string][]string{
			"developer": {"wrote page"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created["id"])

	episodes, err := store.ListEpisodes(context.Background(), models.EpisodeFilter{TeamName: "team-a"})
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "team-a", episodes[0].TeamName)

	t.Run("missing description", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/teams/team-a/episodes", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("similar recall", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/teams/team-a/episodes/similar?q=Create+the+pricing+page", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Episodes []models.ScoredEpisode `json:"episodes"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Episodes)
		assert.Equal(t, "Create the pricing page", resp.Episodes[0].TaskDescription)
	})

	t.Run("missing query", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/teams/team-a/episodes/similar", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStrategyNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/teams/team-a/strategy/development", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/teams/team-a/predict", map[string]interface{}{
		"task_description": "implement a new feature",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TaskType    string  `json:"task_type"`
		Probability float64 `json:"probability"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "development", resp.TaskType)
	assert.Equal(t, 0.5, resp.Probability)
}

func TestEvolutionEndpoints(t *testing.T) {
	s, store := newTestServer(t)

	ev := &models.AgentEvolution{
		TeamID:          "team-a",
		AgentRole:       "analyst",
		Type:            models.EvolutionPrompt,
		OriginalVersion: "You are an analyst.",
		EvolvedVersion:  "You are a meticulous analyst.",
		ConfidenceScore: 0.9,
	}
	require.NoError(t, store.InsertEvolution(context.Background(), ev))

	t.Run("evolved prompt", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/teams/team-a/evolutions/prompt", map[string]string{
			"agent_role":  "analyst",
			"base_prompt": "You are an analyst.",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "You are a meticulous analyst.", resp["prompt"])
	})

	t.Run("history", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/teams/team-a/evolutions?role=analyst", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Evolutions []*models.AgentEvolution `json:"evolutions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Evolutions, 1)
	})

	t.Run("rollback", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evolutions/"+ev.ID+"/rollback", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rollback models.AgentEvolution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rollback))
		assert.Equal(t, "You are a meticulous analyst.", rollback.OriginalVersion)
		assert.Equal(t, "You are an analyst.", rollback.EvolvedVersion)
	})
}

func TestABTestEndpoints(t *testing.T) {
	s, store := newTestServer(t)

	ev := &models.AgentEvolution{
		TeamID:          "team-a",
		AgentRole:       "developer",
		Type:            models.EvolutionPrompt,
		OriginalVersion: "base",
		EvolvedVersion:  "evolved",
	}
	require.NoError(t, store.InsertEvolution(context.Background(), ev))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/teams/team-a/abtests", map[string]interface{}{
		"agent_role":     "developer",
		"evolution_id":   ev.ID,
		"duration_hours": 24,
		"traffic_split":  0.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var test models.ABTest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &test))
	require.NotEmpty(t, test.ID)

	t.Run("assignment", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/abtests/"+test.ID+"/assignment", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			UseTreatment bool               `json:"use_treatment"`
			Assignment   *models.Assignment `json:"assignment"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Assignment)
		assert.Equal(t, test.ID, resp.Assignment.TestID)
	})

	t.Run("record and report", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/abtests/"+test.ID+"/results", map[string]interface{}{
			"group":            "control",
			"success":          true,
			"duration_seconds": 10.0,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/abtests/"+test.ID+"/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report models.ABTestReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, "Continue testing - insufficient data", report.Recommendation)
	})

	t.Run("active tests", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/teams/team-a/abtests/active", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Tests []*models.ABTest `json:"tests"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Tests, 1)
	})
}
