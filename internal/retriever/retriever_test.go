// File path: internal/retriever/retriever_test.go
package retriever

import (
	"context"
	"fmt"
	"testing"

	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/vector"
)

// canned answers per shard; a nil entry means the shard query fails.
type cannedStore struct {
	hits map[string][]vector.SearchResult
	fail map[string]bool
}

func (c *cannedStore) Available() bool                                  { return true }
func (c *cannedStore) EnsureShard(ctx context.Context, s string) error  { return nil }
func (c *cannedStore) DeleteShard(ctx context.Context, s string) error  { return nil }
func (c *cannedStore) AddTexts(ctx context.Context, s string, texts []string, metadatas []map[string]interface{}, ids []string, vectors [][]float32) error {
	return nil
}

func (c *cannedStore) Query(ctx context.Context, shard string, vec []float32, limit int) ([]vector.SearchResult, error) {
	if c.fail[shard] {
		return nil, fmt.Errorf("shard %s unavailable", shard)
	}
	hits := c.hits[shard]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type unitEmbedder struct{ fail bool }

func (u unitEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if u.fail {
		return nil, fmt.Errorf("embedder offline")
	}
	out := make([][]float32, len(input))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// newShardedDatabase registers n shards for one database and returns the
// handle plus the shard IDs in registration order.
func newShardedDatabase(t *testing.T, name string, n int) (*registry.Database, []string) {
	t.Helper()
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()
	db, err := reg.CreateDatabase(ctx, name, "/docs/"+name+".md")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	ids := make([]string, 0, n)
	for batch := 0; batch < n; batch++ {
		shard, err := reg.AddShard(ctx, db, batch, 1)
		if err != nil {
			t.Fatalf("add shard: %v", err)
		}
		ids = append(ids, shard.ID)
	}
	return db, ids
}

func hit(id, doc string, score float64) vector.SearchResult {
	return vector.SearchResult{ID: id, Document: doc, Score: score, Metadata: map[string]interface{}{"source": "/docs/a.md", "chunk_index": 7}}
}

func TestSearchMergesAscendingByScore(t *testing.T) {
	db, shards := newShardedDatabase(t, "merge_db", 3)
	store := &cannedStore{hits: map[string][]vector.SearchResult{
		shards[0]: {hit("a", "medium", 0.2)},
		shards[1]: {hit("b", "far", 0.5)},
		shards[2]: {hit("c", "near", 0.1)},
	}}
	retr, err := New(store, unitEmbedder{}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	results, err := retr.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Document != "near" || results[1].Document != "medium" {
		t.Fatalf("expected [near medium], got [%s %s]", results[0].Document, results[1].Document)
	}
	if results[0].Score != 0.1 || results[1].Score != 0.2 {
		t.Fatalf("unexpected scores %v %v", results[0].Score, results[1].Score)
	}
	if results[0].Source != "/docs/a.md" || results[0].ChunkIndex != 7 {
		t.Fatalf("metadata not carried through: %+v", results[0])
	}
}

func TestSearchTiesBreakByShardOrder(t *testing.T) {
	db, shards := newShardedDatabase(t, "tie_db", 2)
	store := &cannedStore{hits: map[string][]vector.SearchResult{
		shards[0]: {hit("a", "from-first", 0.3)},
		shards[1]: {hit("b", "from-second", 0.3)},
	}}
	retr, err := New(store, unitEmbedder{}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	for i := 0; i < 5; i++ {
		results, err := retr.Search(context.Background(), "query", 2)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if results[0].Document != "from-first" || results[1].Document != "from-second" {
			t.Fatalf("tie broke out of shard order on run %d: %+v", i, results)
		}
	}
}

func TestSearchToleratesFailedShard(t *testing.T) {
	db, shards := newShardedDatabase(t, "flaky_db", 3)
	store := &cannedStore{
		hits: map[string][]vector.SearchResult{
			shards[0]: {hit("a", "first", 0.4)},
			shards[2]: {hit("c", "third", 0.2)},
		},
		fail: map[string]bool{shards[1]: true},
	}
	retr, err := New(store, unitEmbedder{}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	results, err := retr.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected survivors from 2 shards, got %d", len(results))
	}
	if results[0].Document != "third" {
		t.Fatalf("expected best surviving hit first, got %s", results[0].Document)
	}
}

func TestSearchAllShardsFailed(t *testing.T) {
	db, shards := newShardedDatabase(t, "dead_db", 2)
	store := &cannedStore{fail: map[string]bool{shards[0]: true, shards[1]: true}}
	retr, err := New(store, unitEmbedder{}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	results, err := retr.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty merge, got %d results", len(results))
	}
}

func TestSearchValidation(t *testing.T) {
	db, _ := newShardedDatabase(t, "val_db", 1)
	retr, err := New(&cannedStore{}, unitEmbedder{}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	if _, err := retr.Search(context.Background(), "   ", 3); err == nil {
		t.Fatal("expected error for blank query")
	}
	retr.Use()
	results, err := retr.Search(context.Background(), "query", 3)
	if err != nil || results != nil {
		t.Fatalf("expected nil results with no databases, got %v %v", results, err)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	db, _ := newShardedDatabase(t, "embed_db", 1)
	retr, err := New(&cannedStore{}, unitEmbedder{fail: true}, db)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	if _, err := retr.Search(context.Background(), "query", 3); err == nil {
		t.Fatal("expected embed failure to propagate")
	}
}
