package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elfworks/evolve/pkg/models"
)

// InsertEvolution writes one agent evolution row.
func (d *Database) InsertEvolution(ctx context.Context, ev *models.AgentEvolution) error {
	if ev == nil {
		return fmt.Errorf("evolution cannot be nil")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO agent_evolutions (id, team_id, agent_role, evolution_type,
			original_version, evolved_version, confidence_score, performance_delta,
			applied_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.TeamID, ev.AgentRole, string(ev.Type),
		ev.OriginalVersion, ev.EvolvedVersion, ev.ConfidenceScore, ev.PerformanceDelta,
		ev.AppliedAt, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evolution: %w", err)
	}
	return nil
}

// GetEvolution retrieves a single evolution by ID.
func (d *Database) GetEvolution(ctx context.Context, id string) (*models.AgentEvolution, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, team_id, agent_role, evolution_type, original_version, evolved_version,
		       confidence_score, performance_delta, applied_at, created_at
		FROM agent_evolutions
		WHERE id = $1`, id)

	ev, err := scanEvolution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evolution not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evolution: %w", err)
	}
	return ev, nil
}

// LatestEvolution returns the most recent evolution for a (team, role, type)
// triple, or nil when none exists. Last write wins; no version chain is
// maintained beyond creation time.
func (d *Database) LatestEvolution(ctx context.Context, teamID, agentRole string, typ models.EvolutionType) (*models.AgentEvolution, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, team_id, agent_role, evolution_type, original_version, evolved_version,
		       confidence_score, performance_delta, applied_at, created_at
		FROM agent_evolutions
		WHERE team_id = $1 AND agent_role = $2 AND evolution_type = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		teamID, agentRole, string(typ))

	ev, err := scanEvolution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest evolution: %w", err)
	}
	return ev, nil
}

// ListEvolutions returns evolution history for a team, optionally filtered
// by role, newest first.
func (d *Database) ListEvolutions(ctx context.Context, teamID, agentRole string, limit int) ([]*models.AgentEvolution, error) {
	query := `
		SELECT id, team_id, agent_role, evolution_type, original_version, evolved_version,
		       confidence_score, performance_delta, applied_at, created_at
		FROM agent_evolutions
		WHERE team_id = $1`
	args := []interface{}{teamID}
	argIdx := 2

	if agentRole != "" {
		query += fmt.Sprintf(" AND agent_role = $%d", argIdx)
		args = append(args, agentRole)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evolutions: %w", err)
	}
	defer rows.Close()

	var evolutions []*models.AgentEvolution
	for rows.Next() {
		ev, err := scanEvolutionRows(rows)
		if err != nil {
			return nil, err
		}
		evolutions = append(evolutions, ev)
	}
	return evolutions, rows.Err()
}

// SetEvolutionDelta updates the measured performance delta on an evolution.
func (d *Database) SetEvolutionDelta(ctx context.Context, id string, delta float64) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE agent_evolutions SET performance_delta = $1 WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("failed to set evolution delta: %w", err)
	}
	return requireRow(result, "evolution", id)
}

// MarkEvolutionApplied stamps an evolution as applied with its measured
// delta, typically after a favorable A/B test.
func (d *Database) MarkEvolutionApplied(ctx context.Context, id string, delta float64, appliedAt time.Time) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE agent_evolutions SET performance_delta = $1, applied_at = $2 WHERE id = $3`,
		delta, appliedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark evolution applied: %w", err)
	}
	return requireRow(result, "evolution", id)
}

func requireRow(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvolution(row rowScanner) (*models.AgentEvolution, error) {
	ev := &models.AgentEvolution{}
	var typ string
	var appliedAt sql.NullTime
	err := row.Scan(&ev.ID, &ev.TeamID, &ev.AgentRole, &typ, &ev.OriginalVersion,
		&ev.EvolvedVersion, &ev.ConfidenceScore, &ev.PerformanceDelta, &appliedAt, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Type = models.EvolutionType(typ)
	if appliedAt.Valid {
		t := appliedAt.Time
		ev.AppliedAt = &t
	}
	return ev, nil
}

func scanEvolutionRows(rows *sql.Rows) (*models.AgentEvolution, error) {
	ev, err := scanEvolution(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan evolution: %w", err)
	}
	return ev, nil
}
