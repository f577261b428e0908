package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elfworks/evolve/pkg/models"
)

// InsertABTest writes one A/B test row.
func (d *Database) InsertABTest(ctx context.Context, t *models.ABTest) error {
	if t == nil {
		return fmt.Errorf("test cannot be nil")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO ab_tests (id, team_id, agent_role, evolution_id, status, traffic_split,
			start_time, end_time, control_config, treatment_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.TeamID, t.AgentRole, t.EvolutionID, string(t.Status), t.TrafficSplit,
		t.StartTime, t.EndTime, t.ControlConfig, t.TreatmentConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ab test: %w", err)
	}
	return nil
}

// GetABTest retrieves a test by ID.
func (d *Database) GetABTest(ctx context.Context, id string) (*models.ABTest, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, team_id, agent_role, evolution_id, status, traffic_split,
		       start_time, end_time, control_config, treatment_config,
		       final_recommendation, completed_at
		FROM ab_tests
		WHERE id = $1`, id)

	t := &models.ABTest{}
	var status string
	var finalRec sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.TeamID, &t.AgentRole, &t.EvolutionID, &status, &t.TrafficSplit,
		&t.StartTime, &t.EndTime, &t.ControlConfig, &t.TreatmentConfig, &finalRec, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ab test not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ab test: %w", err)
	}
	t.Status = models.ABTestStatus(status)
	t.FinalRecommendation = finalRec.String
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return t, nil
}

// CompleteABTest marks a test completed with its final recommendation.
func (d *Database) CompleteABTest(ctx context.Context, id, recommendation string, completedAt time.Time) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE ab_tests
		SET status = $1, final_recommendation = $2, completed_at = $3
		WHERE id = $4`,
		string(models.ABTestCompleted), recommendation, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete ab test: %w", err)
	}
	return requireRow(result, "ab test", id)
}

// InsertABTestResult appends one observation row. No aggregation happens at
// write time.
func (d *Database) InsertABTestResult(ctx context.Context, r *models.ABTestObservation) error {
	if r == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO ab_test_results (id, test_id, group_name, success, duration_seconds, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.TestID, r.Group, r.Success, r.DurationSeconds, r.Error, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ab test result: %w", err)
	}
	return nil
}

// ListABTestResults returns every observation for a test, oldest first.
func (d *Database) ListABTestResults(ctx context.Context, testID string) ([]*models.ABTestObservation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, test_id, group_name, success, duration_seconds, error, created_at
		FROM ab_test_results
		WHERE test_id = $1
		ORDER BY created_at ASC`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ab test results: %w", err)
	}
	defer rows.Close()

	var results []*models.ABTestObservation
	for rows.Next() {
		r := &models.ABTestObservation{}
		var errStr sql.NullString
		err := rows.Scan(&r.ID, &r.TestID, &r.Group, &r.Success, &r.DurationSeconds, &errStr, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ab test result: %w", err)
		}
		r.Error = errStr.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListActiveABTests returns all active tests for a team.
func (d *Database) ListActiveABTests(ctx context.Context, teamID string) ([]*models.ABTest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, team_id, agent_role, evolution_id, status, traffic_split,
		       start_time, end_time, control_config, treatment_config,
		       final_recommendation, completed_at
		FROM ab_tests
		WHERE team_id = $1 AND status = $2
		ORDER BY start_time DESC`,
		teamID, string(models.ABTestActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active ab tests: %w", err)
	}
	defer rows.Close()

	var tests []*models.ABTest
	for rows.Next() {
		t := &models.ABTest{}
		var status string
		var finalRec sql.NullString
		var completedAt sql.NullTime
		err := rows.Scan(&t.ID, &t.TeamID, &t.AgentRole, &t.EvolutionID, &status, &t.TrafficSplit,
			&t.StartTime, &t.EndTime, &t.ControlConfig, &t.TreatmentConfig, &finalRec, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ab test: %w", err)
		}
		t.Status = models.ABTestStatus(status)
		t.FinalRecommendation = finalRec.String
		if completedAt.Valid {
			at := completedAt.Time
			t.CompletedAt = &at
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}
