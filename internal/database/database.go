package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/elfworks/evolve/pkg/models"
)

// Store is the persistence surface the learning subsystem depends on. It is
// implemented by Database (Postgres) and MemStore (in-process); components
// take it by injection so tests can substitute the in-memory form.
type Store interface {
	// Episodes
	InsertEpisode(ctx context.Context, ep *models.Episode) error
	ListEpisodes(ctx context.Context, filter models.EpisodeFilter) ([]*models.Episode, error)
	DeleteEpisodesBefore(ctx context.Context, teamName string, cutoff time.Time) (int, error)

	// Learnings
	InsertLearning(ctx context.Context, l *models.Learning) error
	ListLearnings(ctx context.Context, filter models.LearningFilter) ([]*models.Learning, error)

	// Evolutions
	InsertEvolution(ctx context.Context, ev *models.AgentEvolution) error
	GetEvolution(ctx context.Context, id string) (*models.AgentEvolution, error)
	LatestEvolution(ctx context.Context, teamID, agentRole string, typ models.EvolutionType) (*models.AgentEvolution, error)
	ListEvolutions(ctx context.Context, teamID, agentRole string, limit int) ([]*models.AgentEvolution, error)
	SetEvolutionDelta(ctx context.Context, id string, delta float64) error
	MarkEvolutionApplied(ctx context.Context, id string, delta float64, appliedAt time.Time) error

	// A/B tests
	InsertABTest(ctx context.Context, t *models.ABTest) error
	GetABTest(ctx context.Context, id string) (*models.ABTest, error)
	CompleteABTest(ctx context.Context, id, recommendation string, completedAt time.Time) error
	InsertABTestResult(ctx context.Context, r *models.ABTestObservation) error
	ListABTestResults(ctx context.Context, testID string) ([]*models.ABTestObservation, error)
	ListActiveABTests(ctx context.Context, teamID string) ([]*models.ABTest, error)

	Close() error
}

var _ Store = (*Database)(nil)

// Database is the Postgres-backed store.
type Database struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection and initializes the schema.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// DB exposes the underlying handle for collaborators that share the
// connection, such as the vector index.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

func (d *Database) initSchema() error {
	schema := `
	-- Write-once episode records
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		team_name TEXT NOT NULL,
		task_description TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		error_type TEXT,
		error_message TEXT,
		result_json TEXT,
		context_json TEXT,
		actions_json TEXT,
		contributions_json TEXT,
		tags TEXT[],
		importance_score REAL NOT NULL DEFAULT 0.5,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Confidence-scored insights distilled from episodes
	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		team_name TEXT NOT NULL,
		insight TEXT NOT NULL,
		description TEXT,
		pattern TEXT,
		pattern_type TEXT NOT NULL,
		category TEXT NOT NULL,
		context JSONB,
		evidence TEXT[],
		confidence_score REAL NOT NULL,
		success_rate REAL NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Proposed and applied agent configuration revisions
	CREATE TABLE IF NOT EXISTS agent_evolutions (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		evolution_type TEXT NOT NULL,
		original_version TEXT NOT NULL,
		evolved_version TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		performance_delta REAL NOT NULL DEFAULT 0,
		applied_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ab_tests (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		evolution_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		traffic_split REAL NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		control_config TEXT NOT NULL,
		treatment_config TEXT NOT NULL,
		final_recommendation TEXT,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ab_test_results (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		group_name TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		duration_seconds REAL NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_team_created ON episodes(team_name, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_episodes_tags ON episodes USING GIN(tags);
	CREATE INDEX IF NOT EXISTS idx_learnings_team ON learnings(team_name);
	CREATE INDEX IF NOT EXISTS idx_learnings_context ON learnings USING GIN(context);
	CREATE INDEX IF NOT EXISTS idx_evolutions_team_role ON agent_evolutions(team_id, agent_role, evolution_type, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ab_tests_team_status ON ab_tests(team_id, status);
	CREATE INDEX IF NOT EXISTS idx_ab_test_results_test ON ab_test_results(test_id);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
