// File path: internal/vector/store.go
package vector

import "context"

// SearchResult is a single ranked match from one shard. Score is the raw
// vector distance: lower means more relevant. Any Store implementation must
// preserve that convention, since the multi-shard merge sorts ascending.
type SearchResult struct {
	ID       string                 `json:"id"`
	Document string                 `json:"document"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Store is the opaque vector index service consumed by the ingestion
// pipeline and the multi-shard retriever. Each shard is an independent,
// append-only index addressed by its identifier; shards are never mutated
// in place after an ingestion run completes.
type Store interface {
	Available() bool
	EnsureShard(ctx context.Context, shard string) error
	AddTexts(ctx context.Context, shard string, texts []string, metadatas []map[string]interface{}, ids []string, vectors [][]float32) error
	Query(ctx context.Context, shard string, vector []float32, limit int) ([]SearchResult, error)
	DeleteShard(ctx context.Context, shard string) error
}
