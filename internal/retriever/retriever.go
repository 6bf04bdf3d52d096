// File path: internal/retriever/retriever.go
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ragworks/shardchat/internal/common"
	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/vector"
)

// Embedder describes the minimal contract needed to generate vectors for
// queries against the shard indexes.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

const (
	// defaultLimit is the result count used when the caller passes k <= 0.
	defaultLimit = 5
	// overFetchFactor widens each per-shard query so the merged ranking is
	// not starved by shards holding many strong matches.
	overFetchFactor = 2
)

// Result is one merged search hit. Score is the raw vector distance; lower
// means more relevant.
type Result struct {
	Document   string  `json:"document"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
	ChunkIndex int     `json:"chunk_index,omitempty"`
	Shard      string  `json:"shard,omitempty"`
}

// Retriever fans a query out across every shard of its attached databases
// and merges the per-shard rankings into one global top-k list.
type Retriever struct {
	store    vector.Store
	embedder Embedder

	mu        sync.RWMutex
	databases []*registry.Database
}

func New(store vector.Store, embedder Embedder, databases ...*registry.Database) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("retriever: vector store required")
	}
	if embedder == nil {
		return nil, errors.New("retriever: embedder required")
	}
	return &Retriever{store: store, embedder: embedder, databases: databases}, nil
}

// Use replaces the set of databases the retriever searches. Shard order
// follows database order, then batch order within each database.
func (r *Retriever) Use(databases ...*registry.Database) {
	r.mu.Lock()
	r.databases = databases
	r.mu.Unlock()
}

// Databases returns the currently attached database handles.
func (r *Retriever) Databases() []*registry.Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registry.Database, len(r.databases))
	copy(out, r.databases)
	return out
}

// Search embeds the query once, queries every shard concurrently with an
// over-fetched limit, and merges the pooled results by ascending score.
// A failing shard is logged and excluded; if every shard fails the merged
// result is simply empty, and the caller decides whether to proceed without
// retrieval.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("retriever: query required")
	}
	if k <= 0 {
		k = defaultLimit
	}
	shards := r.shardList()
	if len(shards) == 0 {
		return nil, nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("retriever: embedder returned no vector")
	}
	queryVector := vectors[0]

	logger := common.Logger()
	perShard := make([][]Result, len(shards))
	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func(slot int, shard registry.Shard) {
			defer wg.Done()
			hits, err := r.store.Query(ctx, shard.ID, queryVector, k*overFetchFactor)
			if err != nil {
				logger.Warn("retriever: shard query failed", "shard", shard.ID, "error", err)
				return
			}
			results := make([]Result, 0, len(hits))
			for _, hit := range hits {
				results = append(results, resultFromHit(shard.ID, hit))
			}
			perShard[slot] = results
		}(i, shard)
	}
	wg.Wait()

	// Flatten in shard registration order before sorting: the stable sort
	// then breaks score ties by shard order, then intra-shard rank.
	var pooled []Result
	for _, results := range perShard {
		pooled = append(pooled, results...)
	}
	sort.SliceStable(pooled, func(i, j int) bool {
		return pooled[i].Score < pooled[j].Score
	})
	if len(pooled) > k {
		pooled = pooled[:k]
	}
	return pooled, nil
}

func (r *Retriever) shardList() []registry.Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var shards []registry.Shard
	for _, db := range r.databases {
		if db == nil {
			continue
		}
		shards = append(shards, db.Shards()...)
	}
	return shards
}

func resultFromHit(shardID string, hit vector.SearchResult) Result {
	result := Result{
		Document: hit.Document,
		Score:    hit.Score,
		Shard:    shardID,
	}
	if hit.Metadata != nil {
		if source, ok := hit.Metadata["source"].(string); ok {
			result.Source = source
		}
		switch idx := hit.Metadata["chunk_index"].(type) {
		case float64:
			result.ChunkIndex = int(idx)
		case int:
			result.ChunkIndex = idx
		}
	}
	return result
}
