package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/elfworks/evolve/pkg/models"
)

// InsertLearning writes one learning row. Learnings are never edited in
// place; superseding insights are stored fresh.
func (d *Database) InsertLearning(ctx context.Context, l *models.Learning) error {
	if l == nil {
		return fmt.Errorf("learning cannot be nil")
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.PatternType == "" {
		l.PatternType = models.ClassifyInsight(l.Insight)
	}
	if l.Category == "" {
		l.Category = "general"
	}

	contextJSON, err := json.Marshal(l.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal learning context: %w", err)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO learnings (id, team_name, insight, description, pattern, pattern_type,
			category, context, evidence, confidence_score, success_rate, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.TeamName, l.Insight, l.Description, l.Pattern, string(l.PatternType),
		l.Category, string(contextJSON), pq.Array(l.Evidence), l.Confidence,
		l.SuccessRate, l.UsageCount, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning: %w", err)
	}
	return nil
}

// ListLearnings returns learnings matching the filter. Context-shape filters
// (role, task type, trait, tool) use JSONB operators against the context
// column.
func (d *Database) ListLearnings(ctx context.Context, filter models.LearningFilter) ([]*models.Learning, error) {
	query := `
		SELECT id, team_name, insight, description, pattern, pattern_type,
		       category, context, evidence, confidence_score, success_rate, usage_count, created_at
		FROM learnings
		WHERE team_name = $1`
	args := []interface{}{filter.TeamName}
	argIdx := 2

	if filter.Role != "" {
		query += fmt.Sprintf(" AND context->>'role' = $%d", argIdx)
		args = append(args, filter.Role)
		argIdx++
	}
	if filter.TaskType != "" {
		query += fmt.Sprintf(" AND context->>'task_type' = $%d", argIdx)
		args = append(args, filter.TaskType)
		argIdx++
	}
	if filter.TraitImpact {
		query += " AND context ? 'trait'"
	}
	if filter.ToolUsage {
		query += " AND context ? 'tool'"
	}
	if filter.MinConfidence > 0 {
		query += fmt.Sprintf(" AND confidence_score >= $%d", argIdx)
		args = append(args, filter.MinConfidence)
		argIdx++
	}
	if filter.MinSuccessRate > 0 {
		query += fmt.Sprintf(" AND success_rate >= $%d", argIdx)
		args = append(args, filter.MinSuccessRate)
		argIdx++
	}

	if filter.OrderBySuccess {
		query += " ORDER BY success_rate DESC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()

	var learnings []*models.Learning
	for rows.Next() {
		l := &models.Learning{}
		var patternType, contextJSON string
		var evidence pq.StringArray
		err := rows.Scan(&l.ID, &l.TeamName, &l.Insight, &l.Description, &l.Pattern, &patternType,
			&l.Category, &contextJSON, &evidence, &l.Confidence, &l.SuccessRate, &l.UsageCount, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		l.PatternType = models.PatternType(patternType)
		l.Evidence = []string(evidence)
		if contextJSON != "" {
			// Rows with malformed context are kept with an empty context
			// rather than failing the query.
			_ = json.Unmarshal([]byte(contextJSON), &l.Context)
		}
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}
