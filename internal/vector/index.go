package vector

import "context"

// Document is one payload keyed by an embedding in the index.
type Document struct {
	ID        string
	Embedding []float32
	Payload   []byte
}

// SearchResult is a document matched by a similarity search.
type SearchResult struct {
	ID      string
	Score   float64
	Payload []byte
}

// Index is a nearest-neighbor store scoped to a single collection. Upsert
// and Search are safe for concurrent use.
type Index interface {
	Upsert(ctx context.Context, doc Document) error
	// Search returns documents with cosine similarity >= minScore, ordered
	// descending by score, at most limit entries.
	Search(ctx context.Context, query []float32, limit int, minScore float64) ([]SearchResult, error)
	Close() error
}
