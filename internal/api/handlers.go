package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elfworks/evolve/internal/evolution"
	"github.com/elfworks/evolve/internal/learning"
	"github.com/elfworks/evolve/pkg/models"
)

// handleStoreEpisode stores a completed episode reported by a team and
// derives learnings from it. The strategy cache for the team is
// invalidated so the next synthesis sees the new episode.
func (s *Server) handleStoreEpisode(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var ep models.Episode
	if err := decodeBody(r, &ep); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if ep.TaskDescription == "" {
		errorResponse(w, http.StatusBadRequest, "task_description is required")
		return
	}

	var embedding []float32
	if s.embedder != nil {
		var err error
		embedding, err = s.embedder.Embed(r.Context(), ep.TaskDescription)
		if err != nil {
			log.Printf("Failed to embed episode: %v", err)
			embedding = nil
		}
	}

	tm := s.teamMemory(team)
	id, err := tm.StoreEpisode(r.Context(), &ep, embedding)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := s.learningSystem(team).LearnFromEpisode(r.Context(), &ep); err != nil {
		log.Printf("Failed to learn from episode %s: %v", id, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(r.Context(), team)
	}

	successResponse(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRecallSimilar(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	query := r.URL.Query().Get("q")
	if query == "" {
		errorResponse(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	if s.embedder == nil {
		errorResponse(w, http.StatusServiceUnavailable, "similarity search unavailable")
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), query)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := queryInt(r, "limit", 5)
	minScore := queryFloat(r, "min_score", 0.7)
	results := s.teamMemory(team).RecallSimilarEpisodes(r.Context(), embedding, limit, minScore)
	successResponse(w, http.StatusOK, map[string]interface{}{"episodes": results})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	taskType := r.URL.Query().Get("task_type")
	daysBack := queryInt(r, "days_back", 30)

	patterns, err := s.teamMemory(team).SuccessfulPatterns(r.Context(), taskType, daysBack)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{"patterns": patterns})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	daysBack := queryInt(r, "days_back", 30)

	m, err := s.teamMemory(team).PerformanceMetrics(r.Context(), daysBack)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		errorResponse(w, http.StatusNotFound, "no episodes in window")
		return
	}
	successResponse(w, http.StatusOK, m)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	recommendations, err := s.learningSystem(team).RecommendImprovements(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{"recommendations": recommendations})
}

// handleStrategy serves the synthesized strategy for a task type, cached
// within the configured TTL.
func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	taskType := chi.URLParam(r, "taskType")

	if s.cache != nil {
		if strategy, ok := s.cache.Get(r.Context(), team, taskType); ok {
			successResponse(w, http.StatusOK, strategy)
			return
		}
	}

	strategy, err := s.learningSystem(team).SynthesizeStrategy(r.Context(), taskType)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if strategy == nil {
		errorResponse(w, http.StatusNotFound, "not enough successful episodes to synthesize a strategy")
		return
	}

	if s.cache != nil {
		s.cache.Set(r.Context(), team, taskType, strategy)
	}
	successResponse(w, http.StatusOK, strategy)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		TaskDescription string                   `json:"task_description"`
		Approach        learning.PlannedApproach `json:"approach"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TaskDescription == "" {
		errorResponse(w, http.StatusBadRequest, "task_description is required")
		return
	}

	probability, err := s.learningSystem(team).PredictSuccessProbability(r.Context(), req.TaskDescription, req.Approach)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{
		"task_type":   learning.CategorizeTask(req.TaskDescription),
		"probability": probability,
	})
}

func (s *Server) handleStoreLearning(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var l models.Learning
	if err := decodeBody(r, &l); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if l.Insight == "" {
		errorResponse(w, http.StatusBadRequest, "insight is required")
		return
	}

	id, err := s.teamMemory(team).StoreLearning(r.Context(), &l)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListLearnings(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	learnings, err := s.store.ListLearnings(r.Context(), models.LearningFilter{
		TeamName:      team,
		Role:          r.URL.Query().Get("role"),
		TaskType:      r.URL.Query().Get("task_type"),
		MinConfidence: queryFloat(r, "min_confidence", 0),
		Limit:         queryInt(r, "limit", 50),
	})
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{"learnings": learnings})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	olderThanDays := queryInt(r, "older_than_days", 90)

	count, err := s.teamMemory(team).ConsolidateMemories(r.Context(), olderThanDays)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]int{"consolidated": count})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	olderThanDays := queryInt(r, "older_than_days", 90)

	count, err := s.teamMemory(team).PruneEpisodes(r.Context(), olderThanDays)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]int{"pruned": count})
}

func (s *Server) handleEvolutionHistory(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	history, err := s.engine.EvolutionHistory(r.Context(), team,
		r.URL.Query().Get("role"), queryInt(r, "limit", 10))
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{"evolutions": history})
}

// handleEnhancePrompt builds and persists a prompt evolution from proven
// strategies. Returns the base prompt unchanged when there is nothing to
// add.
func (s *Server) handleEnhancePrompt(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		AgentRole  string `json:"agent_role"`
		BasePrompt string `json:"base_prompt"`
		TaskType   string `json:"task_type"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentRole == "" || req.BasePrompt == "" {
		errorResponse(w, http.StatusBadRequest, "agent_role and base_prompt are required")
		return
	}

	prompt, err := s.engine.EnhancePromptWithStrategies(r.Context(), team, req.AgentRole, req.BasePrompt, req.TaskType)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]string{"prompt": prompt})
}

// handleEvolvedPrompt is the read-only lookup of the current evolved
// prompt. It never writes.
func (s *Server) handleEvolvedPrompt(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		AgentRole  string `json:"agent_role"`
		BasePrompt string `json:"base_prompt"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentRole == "" {
		errorResponse(w, http.StatusBadRequest, "agent_role is required")
		return
	}

	prompt, err := s.engine.GetEvolvedPrompt(r.Context(), team, req.AgentRole, req.BasePrompt)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleEvolvedConfig(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		AgentRole string             `json:"agent_role"`
		Base      models.AgentConfig `json:"base"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentRole == "" {
		errorResponse(w, http.StatusBadRequest, "agent_role is required")
		return
	}

	cfg := s.loader.LoadEvolvedAgentConfig(r.Context(), team, req.AgentRole, req.Base)
	successResponse(w, http.StatusOK, cfg)
}

func (s *Server) handleRollbackEvolution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rollback, err := s.engine.RollbackEvolution(r.Context(), id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, rollback)
}

func (s *Server) handleMeasureImpact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var performanceMetrics map[string]float64
	if err := decodeBody(r, &performanceMetrics); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	impact, err := s.engine.MeasureEvolutionImpact(r.Context(), id, performanceMetrics)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]float64{"impact": impact})
}

func (s *Server) handleMarkApplied(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Delta float64 `json:"delta"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.MarkApplied(r.Context(), id, req.Delta); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleCreateABTest(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		AgentRole     string  `json:"agent_role"`
		EvolutionID   string  `json:"evolution_id"`
		DurationHours int     `json:"duration_hours"`
		TrafficSplit  float64 `json:"traffic_split"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentRole == "" || req.EvolutionID == "" {
		errorResponse(w, http.StatusBadRequest, "agent_role and evolution_id are required")
		return
	}

	test, err := s.harness.CreateTest(r.Context(), team, req.AgentRole, req.EvolutionID, req.DurationHours, req.TrafficSplit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusCreated, test)
}

func (s *Server) handleActiveABTests(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	tests, err := s.harness.ActiveTests(r.Context(), team)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{"tests": tests})
}

func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	useTreatment, assignment, err := s.harness.ShouldUseTreatment(r.Context(), id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{
		"use_treatment": useTreatment,
		"assignment":    assignment,
	})
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Group           string  `json:"group"`
		Success         bool    `json:"success"`
		DurationSeconds float64 `json:"duration_seconds"`
		Error           string  `json:"error"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.harness.RecordResult(r.Context(), id, req.Group, req.Success, req.DurationSeconds, req.Error); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleABTestReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.harness.Report(r.Context(), id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, report)
}

func (s *Server) handleFinalizeABTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.harness.FinalizeTest(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	test, err := s.store.GetABTest(r.Context(), id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, test)
}

// handleEvolveWorkflow applies high-confidence learnings to a workflow
// definition and persists the evolution when anything changed.
func (s *Server) handleEvolveWorkflow(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req struct {
		Definition evolution.WorkflowDefinition `json:"definition"`
		Learnings  []*models.Learning           `json:"learnings"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	evolved, confidence, err := s.engine.EvolveWorkflow(r.Context(), team, req.Definition, req.Learnings)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(w, http.StatusOK, map[string]interface{}{
		"definition": evolved,
		"confidence": confidence,
	})
}
