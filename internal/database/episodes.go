package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/elfworks/evolve/pkg/models"
)

// InsertEpisode writes one episode row. Episodes are immutable so there is
// no update path.
func (d *Database) InsertEpisode(ctx context.Context, ep *models.Episode) error {
	if ep == nil {
		return fmt.Errorf("episode cannot be nil")
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	var errType, errMessage sql.NullString
	if ep.Error != nil {
		errType = sql.NullString{String: ep.Error.Type, Valid: true}
		errMessage = sql.NullString{String: ep.Error.Message, Valid: true}
	}

	contextJSON, err := json.Marshal(ep.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal episode context: %w", err)
	}
	actionsJSON, err := json.Marshal(ep.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal episode actions: %w", err)
	}
	contribJSON, err := json.Marshal(ep.AgentContributions)
	if err != nil {
		return fmt.Errorf("failed to marshal agent contributions: %w", err)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO episodes (id, team_name, task_description, success, duration_seconds,
			error_type, error_message, result_json, context_json, actions_json,
			contributions_json, tags, importance_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ep.ID, ep.TeamName, ep.TaskDescription, ep.Success, ep.DurationSeconds,
		errType, errMessage, string(ep.Result), string(contextJSON), string(actionsJSON),
		string(contribJSON), pq.Array(ep.Tags), ep.ImportanceScore, ep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// ListEpisodes returns episodes matching the filter, newest first.
func (d *Database) ListEpisodes(ctx context.Context, filter models.EpisodeFilter) ([]*models.Episode, error) {
	query := `
		SELECT id, team_name, task_description, success, duration_seconds,
		       error_type, error_message, result_json, context_json, actions_json,
		       contributions_json, tags, importance_score, created_at
		FROM episodes
		WHERE team_name = $1`
	args := []interface{}{filter.TeamName}
	argIdx := 2

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Before.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, filter.Before)
		argIdx++
	}
	if filter.SuccessOnly {
		query += " AND success = true"
	}
	if filter.TitleContains != "" {
		query += fmt.Sprintf(" AND task_description ILIKE $%d", argIdx)
		args = append(args, "%"+filter.TitleContains+"%")
		argIdx++
	}
	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(" AND tags @> $%d", argIdx)
		args = append(args, pq.Array(filter.Tags))
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// DeleteEpisodesBefore prunes episodes older than cutoff, returning how many
// rows were removed. Used after consolidation.
func (d *Database) DeleteEpisodesBefore(ctx context.Context, teamName string, cutoff time.Time) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM episodes WHERE team_name = $1 AND created_at < $2`,
		teamName, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete episodes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func scanEpisode(rows *sql.Rows) (*models.Episode, error) {
	ep := &models.Episode{}
	var errType, errMessage, resultJSON, contextJSON, actionsJSON, contribJSON sql.NullString
	var tags pq.StringArray

	err := rows.Scan(&ep.ID, &ep.TeamName, &ep.TaskDescription, &ep.Success, &ep.DurationSeconds,
		&errType, &errMessage, &resultJSON, &contextJSON, &actionsJSON,
		&contribJSON, &tags, &ep.ImportanceScore, &ep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan episode: %w", err)
	}

	if errType.Valid {
		ep.Error = &models.TaskError{Type: errType.String, Message: errMessage.String}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		ep.Result = json.RawMessage(resultJSON.String)
	}
	ep.Tags = []string(tags)

	// Malformed JSON in persisted rows is skipped per-field, not fatal to
	// the whole query.
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &ep.Context)
	}
	if actionsJSON.Valid && actionsJSON.String != "" {
		_ = json.Unmarshal([]byte(actionsJSON.String), &ep.Actions)
	}
	if contribJSON.Valid && contribJSON.String != "" {
		_ = json.Unmarshal([]byte(contribJSON.String), &ep.AgentContributions)
	}
	return ep, nil
}
