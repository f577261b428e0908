// Package api exposes the learning service over HTTP for operational
// tooling and for teams that record episodes remotely.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elfworks/evolve/internal/abtest"
	"github.com/elfworks/evolve/internal/cache"
	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/events"
	"github.com/elfworks/evolve/internal/evolution"
	"github.com/elfworks/evolve/internal/learning"
	"github.com/elfworks/evolve/internal/memory"
	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/internal/vector"
)

// Server is the HTTP API server. Team-scoped components are constructed
// per request on top of the shared store, index and publisher, so one
// server instance serves every team.
type Server struct {
	store     database.Store
	index     vector.Index
	embedder  vector.Embedder
	cache     cache.StrategyCache
	publisher events.Publisher
	engine    *evolution.Engine
	loader    *evolution.Loader
	harness   *abtest.Harness
	roster    []string
	metrics   *metrics.Metrics
	router    *chi.Mux
}

// Options carries the shared dependencies for NewServer.
type Options struct {
	Store     database.Store
	Index     vector.Index
	Embedder  vector.Embedder
	Cache     cache.StrategyCache
	Publisher events.Publisher
	Harness   *abtest.Harness
	// Roster lists the agents expected on each team, used by the
	// utilization recommendation.
	Roster []string
}

// NewServer creates the API server and sets up its routes.
func NewServer(opts Options) *Server {
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Harness == nil {
		opts.Harness = abtest.NewHarness(opts.Store)
	}
	engine := evolution.NewEngine(opts.Store, opts.Publisher)

	s := &Server{
		store:     opts.Store,
		index:     opts.Index,
		embedder:  opts.Embedder,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		engine:    engine,
		loader:    evolution.NewLoader(opts.Store, engine),
		harness:   opts.Harness,
		roster:    opts.Roster,
		metrics:   metrics.NewMetrics(),
	}
	s.setupRouter()
	return s
}

// Router returns the HTTP handler for this server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/teams/{team}", func(r chi.Router) {
			r.Post("/episodes", s.handleStoreEpisode)
			r.Get("/episodes/similar", s.handleRecallSimilar)
			r.Get("/patterns", s.handlePatterns)
			r.Get("/performance", s.handlePerformance)
			r.Get("/recommendations", s.handleRecommendations)
			r.Get("/strategy/{taskType}", s.handleStrategy)
			r.Post("/predict", s.handlePredict)
			r.Post("/learnings", s.handleStoreLearning)
			r.Get("/learnings", s.handleListLearnings)
			r.Post("/consolidate", s.handleConsolidate)
			r.Post("/prune", s.handlePrune)

			r.Get("/evolutions", s.handleEvolutionHistory)
			r.Post("/evolutions/enhance", s.handleEnhancePrompt)
			r.Post("/evolutions/prompt", s.handleEvolvedPrompt)
			r.Post("/evolutions/config", s.handleEvolvedConfig)
			r.Post("/evolutions/workflow", s.handleEvolveWorkflow)

			r.Post("/abtests", s.handleCreateABTest)
			r.Get("/abtests/active", s.handleActiveABTests)
		})

		r.Route("/evolutions/{id}", func(r chi.Router) {
			r.Post("/rollback", s.handleRollbackEvolution)
			r.Post("/impact", s.handleMeasureImpact)
			r.Post("/apply", s.handleMarkApplied)
		})

		r.Route("/abtests/{id}", func(r chi.Router) {
			r.Get("/assignment", s.handleAssignment)
			r.Post("/results", s.handleRecordResult)
			r.Get("/report", s.handleABTestReport)
			r.Post("/finalize", s.handleFinalizeABTest)
		})
	})

	s.router = r
}

// teamMemory builds the memory view for one team over the shared store.
func (s *Server) teamMemory(team string) *memory.TeamMemory {
	return memory.New(team, s.store, s.index, s.publisher)
}

func (s *Server) learningSystem(team string) *learning.System {
	return learning.NewSystem(s.teamMemory(team), s.roster)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	successResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		s.metrics.RecordHTTPRequest(r.Method, pattern,
			strconv.Itoa(ww.Status()), time.Since(start).Seconds())
	})
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func successResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode response: %v", err)
		}
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryFloat(r *http.Request, name string, fallback float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
