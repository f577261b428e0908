package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the learning subsystem
type Metrics struct {
	// Episode metrics
	EpisodesStored    *prometheus.CounterVec
	EpisodeDuration   *prometheus.HistogramVec
	VectorWriteErrors *prometheus.CounterVec
	RecallRequests    *prometheus.CounterVec

	// Learning metrics
	LearningsStored   *prometheus.CounterVec
	StrategyDuration  *prometheus.HistogramVec
	StrategySynthesis *prometheus.CounterVec

	// Evolution metrics
	EvolutionsCreated *prometheus.CounterVec
	EvolutionsApplied *prometheus.CounterVec

	// A/B test metrics
	TestAssignments *prometheus.CounterVec
	TestResults     *prometheus.CounterVec

	// System metrics
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			EpisodesStored: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_episodes_stored_total",
					Help: "Total number of episodes stored",
				},
				[]string{"team", "result"},
			),
			EpisodeDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "evolve_episode_duration_seconds",
					Help:    "Recorded task duration per episode in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"team", "success"},
			),
			VectorWriteErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_vector_write_errors_total",
					Help: "Total number of failed vector index writes",
				},
				[]string{"team"},
			),
			RecallRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_recall_requests_total",
					Help: "Total number of similarity recall requests",
				},
				[]string{"team", "result"},
			),
			LearningsStored: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_learnings_stored_total",
					Help: "Total number of learnings stored",
				},
				[]string{"team", "pattern_type"},
			),
			StrategyDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "evolve_strategy_synthesis_duration_seconds",
					Help:    "Strategy synthesis duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"team"},
			),
			StrategySynthesis: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_strategy_synthesis_total",
					Help: "Total number of strategy synthesis calls",
				},
				[]string{"team", "task_type", "result"},
			),
			EvolutionsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_evolutions_created_total",
					Help: "Total number of agent evolutions created",
				},
				[]string{"team", "evolution_type"},
			),
			EvolutionsApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_evolutions_applied_total",
					Help: "Total number of agent evolutions applied",
				},
				[]string{"team", "evolution_type"},
			),
			TestAssignments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_ab_assignments_total",
					Help: "Total number of A/B test group assignments",
				},
				[]string{"team", "group"},
			),
			TestResults: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_ab_results_total",
					Help: "Total number of A/B test results recorded",
				},
				[]string{"team", "group", "success"},
			),
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "evolve_cache_hits_total",
					Help: "Total number of cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "evolve_cache_misses_total",
					Help: "Total number of cache misses",
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_events_published_total",
					Help: "Total number of events published",
				},
				[]string{"event_type", "team"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evolve_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "evolve_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordEpisode records a stored episode
func (m *Metrics) RecordEpisode(team string, success bool, durationSeconds float64) {
	result := "failure"
	if success {
		result = "success"
	}
	m.EpisodesStored.WithLabelValues(team, result).Inc()
	m.EpisodeDuration.WithLabelValues(team, boolLabel(success)).Observe(durationSeconds)
}

// RecordAssignment records an A/B test group assignment
func (m *Metrics) RecordAssignment(team, group string) {
	m.TestAssignments.WithLabelValues(team, group).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
