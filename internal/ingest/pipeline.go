// File path: internal/ingest/pipeline.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ragworks/shardchat/internal/common"
	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/splitter"
	"github.com/ragworks/shardchat/internal/vector"
)

// Embedder generates vectors for chunk batches before they are committed to
// a shard.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// FileReport carries the per-source outcome of one ingestion run.
type FileReport struct {
	Path     string `json:"path"`
	Database string `json:"database"`
	Chunks   int    `json:"chunks"`
	Shards   int    `json:"shards"`
}

// Report summarizes one ingestion run.
type Report struct {
	// Databases created during the run, one per successfully read source.
	Databases []string `json:"databases"`
	// Files breaks the totals down per source path.
	Files []FileReport `json:"files,omitempty"`
	// TotalChunks counts chunks committed to shards across all files.
	TotalChunks int `json:"total_chunks"`
	// Shards counts the vector shards created.
	Shards int `json:"shards"`
	// Failed lists source paths that could not be read or split.
	Failed []string `json:"failed,omitempty"`
}

// Pipeline splits documents into chunks, groups the chunks into fixed-size
// batches and commits one vector shard per batch, registering each shard as
// it lands.
type Pipeline struct {
	splitter splitter.Splitter
	store    vector.Store
	registry *registry.Registry
	embedder Embedder
	cfg      Config
	now      func() time.Time
}

func NewPipeline(split splitter.Splitter, store vector.Store, reg *registry.Registry, embedder Embedder, cfg Config) (*Pipeline, error) {
	if split == nil {
		return nil, errors.New("ingest: splitter required")
	}
	if store == nil {
		return nil, errors.New("ingest: vector store required")
	}
	if reg == nil {
		return nil, errors.New("ingest: shard registry required")
	}
	return &Pipeline{
		splitter: split,
		store:    store,
		registry: reg,
		embedder: embedder,
		cfg:      DefaultConfig().Merge(cfg),
		now:      time.Now,
	}, nil
}

// ProcessDocuments ingests each path independently. A file that cannot be
// read or split is logged and skipped; a batch whose shard cannot be created
// is logged and skipped without aborting the file. Every run creates fresh
// timestamped databases, never mutating the output of a previous run, so a
// failed run can simply be retried.
//
// The run succeeds iff at least one chunk was committed to at least one
// shard; the report carries the totals either way.
func (p *Pipeline) ProcessDocuments(ctx context.Context, paths []string) (Report, error) {
	logger := common.Logger()
	report := Report{}
	if len(paths) == 0 {
		return report, errors.New("ingest: no documents to process")
	}
	for _, path := range paths {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("ingest: read failed, skipping file", "path", path, "error", err)
			report.Failed = append(report.Failed, path)
			continue
		}
		chunks, err := p.splitter.Split(string(content))
		if err != nil {
			logger.Warn("ingest: split failed, skipping file", "path", path, "error", err)
			report.Failed = append(report.Failed, path)
			continue
		}
		if len(chunks) == 0 {
			logger.Warn("ingest: no chunks produced, skipping file", "path", path)
			report.Failed = append(report.Failed, path)
			continue
		}
		db, err := p.createDatabase(ctx, path)
		if err != nil {
			logger.Warn("ingest: database creation failed, skipping file", "path", path, "error", err)
			report.Failed = append(report.Failed, path)
			continue
		}
		report.Databases = append(report.Databases, db.Name())
		committed, shards := p.processChunks(ctx, db, path, chunks)
		report.Files = append(report.Files, FileReport{Path: path, Database: db.Name(), Chunks: committed, Shards: shards})
		report.TotalChunks += committed
		report.Shards += shards
		logger.Info("ingest: file processed", "path", path, "database", db.Name(), "chunks", committed, "shards", shards)
	}
	if report.TotalChunks == 0 {
		return report, errors.New("ingest: no chunks committed")
	}
	return report, nil
}

// createDatabase allocates a fresh timestamped database for one source
// file, suffixing the name when two runs of the same source land within the
// timestamp resolution.
func (p *Pipeline) createDatabase(ctx context.Context, path string) (*registry.Database, error) {
	name := registry.DatabaseName(path, p.now())
	for attempt := 0; ; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_%d", name, attempt)
		}
		db, err := p.registry.CreateDatabase(ctx, candidate, path)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, registry.ErrAlreadyExists) || attempt >= 10 {
			return nil, err
		}
	}
}

// processChunks walks the file's chunks in batches, creating one shard per
// batch. Chunk indices run across the whole file, not per batch.
func (p *Pipeline) processChunks(ctx context.Context, db *registry.Database, path string, chunks []string) (int, int) {
	logger := common.Logger()
	committed := 0
	shards := 0
	batchSize := p.cfg.BatchSize
	numBatches := (len(chunks) + batchSize - 1) / batchSize
	for batch := 0; batch < numBatches; batch++ {
		start := batch * batchSize
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := chunks[start:end]
		ids := make([]string, len(texts))
		metadatas := make([]map[string]interface{}, len(texts))
		for idx := range texts {
			ids[idx] = fmt.Sprintf("doc_%d_%d", batch, idx)
			metadatas[idx] = map[string]interface{}{
				"source":      path,
				"chunk_index": start + idx,
			}
		}
		var vectors [][]float32
		if p.embedder != nil {
			embedded, err := p.embedder.Embed(ctx, texts)
			if err != nil {
				logger.Warn("ingest: embedding failed, skipping batch", "database", db.Name(), "batch", batch, "error", err)
				continue
			}
			vectors = embedded
		}
		shardID := registry.ShardID(db.Name(), batch)
		if err := p.store.EnsureShard(ctx, shardID); err != nil {
			logger.Warn("ingest: shard creation failed, skipping batch", "database", db.Name(), "batch", batch, "error", err)
			continue
		}
		if err := p.store.AddTexts(ctx, shardID, texts, metadatas, ids, vectors); err != nil {
			logger.Warn("ingest: shard write failed, skipping batch", "database", db.Name(), "batch", batch, "error", err)
			continue
		}
		if _, err := p.registry.AddShard(ctx, db, batch, len(texts)); err != nil {
			logger.Warn("ingest: shard registration failed", "database", db.Name(), "batch", batch, "error", err)
			continue
		}
		committed += len(texts)
		shards++
	}
	return committed, shards
}
