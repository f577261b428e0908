package vector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// candidateLimit bounds how many recent rows a search scans. Similarity is
// computed in Go over the candidates since plain Postgres has no vector
// extension.
const candidateLimit = 500

// PostgresIndex stores embeddings in an episode_vectors table and ranks
// candidates by cosine similarity computed in Go. Collection scoping keeps
// each team's episodes separate.
type PostgresIndex struct {
	db         *sql.DB
	collection string
}

// NewPostgresIndex creates the backing table if needed and returns an index
// scoped to collection.
func NewPostgresIndex(db *sql.DB, collection string) (*PostgresIndex, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS episode_vectors (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		embedding BYTEA NOT NULL,
		payload JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_episode_vectors_collection ON episode_vectors(collection);
	CREATE INDEX IF NOT EXISTS idx_episode_vectors_created_at ON episode_vectors(created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create episode_vectors schema: %w", err)
	}
	return &PostgresIndex{db: db, collection: collection}, nil
}

// Upsert implements Index.
func (p *PostgresIndex) Upsert(ctx context.Context, doc Document) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO episode_vectors (id, collection, embedding, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET embedding = excluded.embedding, payload = excluded.payload`,
		doc.ID, p.collection, EncodeEmbedding(doc.Embedding), doc.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", doc.ID, err)
	}
	return nil
}

// Search implements Index.
func (p *PostgresIndex) Search(ctx context.Context, query []float32, limit int, minScore float64) ([]SearchResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, embedding, payload
		FROM episode_vectors
		WHERE collection = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		p.collection, candidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id string
		var embBytes, payload []byte
		if err := rows.Scan(&id, &embBytes, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		score := CosineSimilarity(query, DecodeEmbedding(embBytes))
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close implements Index. The *sql.DB is owned by the caller.
func (p *PostgresIndex) Close() error {
	return nil
}
