package vector

import (
	"context"
	"math"
	"testing"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out := DecodeEmbedding(EncodeEmbedding(in))

	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if DecodeEmbedding(nil) != nil {
		t.Error("DecodeEmbedding(nil) should be nil")
	}
	if DecodeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("truncated input should decode to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}

func TestHashingEmbedder(t *testing.T) {
	e, err := NewHashingEmbedder(64)
	if err != nil {
		t.Fatalf("NewHashingEmbedder: %v", err)
	}

	t.Run("deterministic", func(t *testing.T) {
		a, _ := e.Embed(context.Background(), "create a blog post")
		b, _ := e.Embed(context.Background(), "create a blog post")
		if CosineSimilarity(a, b) < 0.999999 {
			t.Error("same text should embed identically")
		}
	})

	t.Run("normalized", func(t *testing.T) {
		v, _ := e.Embed(context.Background(), "anything")
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-4 {
			t.Errorf("norm = %v, want 1", math.Sqrt(sum))
		}
	})

	t.Run("dimension", func(t *testing.T) {
		if e.Dimension() != 64 {
			t.Errorf("Dimension() = %d, want 64", e.Dimension())
		}
		v, _ := e.Embed(context.Background(), "x")
		if len(v) != 64 {
			t.Errorf("len = %d, want 64", len(v))
		}
	})

	if _, err := NewHashingEmbedder(0); err == nil {
		t.Error("zero dimension should be rejected")
	}
}

func TestMemoryIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	docs := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0.9, 0.1, 0},
		"c": {0, 1, 0},
	}
	for id, emb := range docs {
		if err := idx.Upsert(ctx, Document{ID: id, Embedding: emb, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("Upsert(%s): %v", id, err)
		}
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results must be ordered by descending score")
	}

	t.Run("limit", func(t *testing.T) {
		results, _ := idx.Search(ctx, []float32{1, 0, 0}, 1, 0)
		if len(results) != 1 {
			t.Errorf("got %d results, want 1", len(results))
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		idx.Upsert(ctx, Document{ID: "a", Embedding: []float32{0, 0, 1}})
		results, _ := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.99)
		if len(results) != 0 {
			t.Errorf("got %d results after replacing a, want 0", len(results))
		}
	})
}
