// File path: internal/ingest/pipeline_test.go
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/vector"
)

// stubSplitter hands back a fixed number of chunks regardless of content.
type stubSplitter struct {
	chunks int
	err    error
}

func (s stubSplitter) Split(text string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]string, s.chunks)
	for i := range out {
		out[i] = fmt.Sprintf("chunk-%d", i)
	}
	return out, nil
}

type addCall struct {
	shard     string
	texts     []string
	metadatas []map[string]interface{}
	ids       []string
}

// memoryVector records shard operations and can be told to fail specific
// shards.
type memoryVector struct {
	mu         sync.Mutex
	failEnsure map[int]bool
	ensured    []string
	adds       []addCall
}

func (m *memoryVector) Available() bool { return true }

func (m *memoryVector) EnsureShard(ctx context.Context, shard string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for batch := range m.failEnsure {
		if strings.HasSuffix(shard, fmt.Sprintf("_shard_%d", batch)) {
			return fmt.Errorf("ensure %s: boom", shard)
		}
	}
	m.ensured = append(m.ensured, shard)
	return nil
}

func (m *memoryVector) AddTexts(ctx context.Context, shard string, texts []string, metadatas []map[string]interface{}, ids []string, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds = append(m.adds, addCall{shard: shard, texts: texts, metadatas: metadatas, ids: ids})
	return nil
}

func (m *memoryVector) Query(ctx context.Context, shard string, vec []float32, limit int) ([]vector.SearchResult, error) {
	return nil, nil
}

func (m *memoryVector) DeleteShard(ctx context.Context, shard string) error { return nil }

func newTestPipeline(t *testing.T, split stubSplitter, store *memoryVector, cfg Config) (*Pipeline, *registry.Registry) {
	t.Helper()
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	pipeline, err := NewPipeline(split, store, reg, nil, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline, reg
}

func writeDoc(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("document body"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestProcessDocumentsBatching(t *testing.T) {
	ctx := context.Background()
	store := &memoryVector{}
	pipeline, reg := newTestPipeline(t, stubSplitter{chunks: 100}, store, Config{BatchSize: 20})
	path := writeDoc(t, "guide.md")

	report, err := pipeline.ProcessDocuments(ctx, []string{path})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.TotalChunks != 100 {
		t.Fatalf("expected 100 chunks committed, got %d", report.TotalChunks)
	}
	if report.Shards != 5 {
		t.Fatalf("expected ceil(100/20)=5 shards, got %d", report.Shards)
	}
	if len(report.Databases) != 1 {
		t.Fatalf("expected one database, got %v", report.Databases)
	}
	if len(report.Files) != 1 || report.Files[0].Chunks != 100 || report.Files[0].Shards != 5 {
		t.Fatalf("unexpected per-file breakdown %+v", report.Files)
	}
	if len(store.adds) != 5 {
		t.Fatalf("expected 5 shard writes, got %d", len(store.adds))
	}
	// Chunk indices run across the whole file; ids restart per batch.
	second := store.adds[1]
	if second.ids[0] != "doc_1_0" {
		t.Fatalf("expected batch-local id doc_1_0, got %s", second.ids[0])
	}
	if got := second.metadatas[0]["chunk_index"]; got != 20 {
		t.Fatalf("expected global chunk_index 20, got %v", got)
	}
	if got := second.metadatas[0]["source"]; got != path {
		t.Fatalf("expected source %s, got %v", path, got)
	}

	db, err := reg.LoadDatabase(ctx, report.Databases[0])
	if err != nil {
		t.Fatalf("load database: %v", err)
	}
	if len(db.Shards()) != 5 {
		t.Fatalf("expected 5 registered shards, got %d", len(db.Shards()))
	}
}

func TestProcessDocumentsUnevenFinalBatch(t *testing.T) {
	store := &memoryVector{}
	pipeline, _ := newTestPipeline(t, stubSplitter{chunks: 45}, store, Config{BatchSize: 20})
	report, err := pipeline.ProcessDocuments(context.Background(), []string{writeDoc(t, "short.md")})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Shards != 3 {
		t.Fatalf("expected 3 shards for 45 chunks, got %d", report.Shards)
	}
	last := store.adds[len(store.adds)-1]
	if len(last.texts) != 5 {
		t.Fatalf("expected final batch of 5 chunks, got %d", len(last.texts))
	}
}

func TestProcessDocumentsSkipsFailedBatch(t *testing.T) {
	store := &memoryVector{failEnsure: map[int]bool{1: true}}
	pipeline, _ := newTestPipeline(t, stubSplitter{chunks: 60}, store, Config{BatchSize: 20})
	report, err := pipeline.ProcessDocuments(context.Background(), []string{writeDoc(t, "flaky.md")})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Shards != 2 {
		t.Fatalf("expected 2 committed shards around the failure, got %d", report.Shards)
	}
	if report.TotalChunks != 40 {
		t.Fatalf("expected 40 committed chunks, got %d", report.TotalChunks)
	}
}

func TestProcessDocumentsSkipsUnreadableFile(t *testing.T) {
	store := &memoryVector{}
	pipeline, _ := newTestPipeline(t, stubSplitter{chunks: 10}, store, Config{BatchSize: 5})
	good := writeDoc(t, "good.md")
	missing := filepath.Join(t.TempDir(), "missing.md")

	report, err := pipeline.ProcessDocuments(context.Background(), []string{missing, good})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != missing {
		t.Fatalf("expected the missing path reported failed, got %v", report.Failed)
	}
	if len(report.Databases) != 1 {
		t.Fatalf("expected the readable file to still be ingested, got %v", report.Databases)
	}
}

func TestProcessDocumentsNoInput(t *testing.T) {
	pipeline, _ := newTestPipeline(t, stubSplitter{chunks: 1}, &memoryVector{}, Config{})
	if _, err := pipeline.ProcessDocuments(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestProcessDocumentsNothingCommitted(t *testing.T) {
	pipeline, _ := newTestPipeline(t, stubSplitter{err: fmt.Errorf("bad encoding")}, &memoryVector{}, Config{})
	report, err := pipeline.ProcessDocuments(context.Background(), []string{writeDoc(t, "bad.md")})
	if err == nil {
		t.Fatal("expected error when no chunks commit")
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected one failed path, got %v", report.Failed)
	}
}
