// File path: internal/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragworks/shardchat/internal/common"
)

var (
	ErrNotFound      = errors.New("registry: database not found")
	ErrAlreadyExists = errors.New("registry: database already exists")
)

// Metadata is the per-database record persisted inside the database
// directory.
type Metadata struct {
	FileName         string    `json:"file_name"`
	DBName           string    `json:"db_name"`
	OriginalFilePath string    `json:"original_file_path"`
	CreationDate     time.Time `json:"creation_date"`
}

// Shard identifies one batch shard of a database. ID addresses the vector
// index; Dir is the on-disk shard directory named by the batch number.
type Shard struct {
	ID     string `json:"id"`
	Dir    string `json:"-"`
	Batch  int    `json:"batch"`
	Chunks int    `json:"chunks"`
}

// Database is a handle to one named collection of ingestion shards. A
// database accepts new shards only during the ingestion run that created it;
// loaded databases are read-only.
type Database struct {
	meta Metadata
	dir  string

	mu     sync.RWMutex
	shards []Shard
}

func (d *Database) Name() string       { return d.meta.DBName }
func (d *Database) Dir() string        { return d.dir }
func (d *Database) Metadata() Metadata { return d.meta }

// Shards returns the registered shards in batch order.
func (d *Database) Shards() []Shard {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Shard, len(d.shards))
	copy(out, d.shards)
	return out
}

const metadataFile = "metadata.json"

// Mirror receives best-effort write-through of registry state, typically the
// SQLite catalog.
type Mirror interface {
	RecordDatabase(ctx context.Context, name, fileName, originalPath string, createdAt time.Time) error
	RecordShard(ctx context.Context, dbName string, batch, chunks int) error
	ForgetDatabase(ctx context.Context, name string) error
}

// Registry tracks ingestion databases under one base directory.
type Registry struct {
	baseDir string
	mirror  Mirror
}

// Option customizes a Registry.
type Option func(*Registry)

// WithMirror attaches a catalog mirror.
func WithMirror(mirror Mirror) Option {
	return func(r *Registry) { r.mirror = mirror }
}

func NewRegistry(baseDir string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("registry: base dir required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	registry := &Registry{baseDir: baseDir}
	for _, opt := range opts {
		opt(registry)
	}
	return registry, nil
}

// DatabaseName derives the timestamped database name for a source file. The
// timestamp sorts lexicographically, so name order tracks creation order for
// databases of the same source.
func DatabaseName(sourcePath string, now time.Time) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%s", sanitize(base), now.UTC().Format("20060102_150405"))
}

// ShardID derives the vector index identifier for one batch shard.
func ShardID(dbName string, batch int) string {
	return fmt.Sprintf("%s_shard_%d", dbName, batch)
}

// CreateDatabase allocates the directory and metadata for a new database.
// It fails with ErrAlreadyExists when the name is registered; a new
// ingestion run should derive a fresh timestamped name instead of reusing
// one.
func (r *Registry) CreateDatabase(ctx context.Context, name, sourcePath string) (*Database, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("registry: database name required")
	}
	dir := filepath.Join(r.baseDir, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	meta := Metadata{
		FileName:         filepath.Base(sourcePath),
		DBName:           name,
		OriginalFilePath: sourcePath,
		CreationDate:     time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode database metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write database metadata: %w", err)
	}
	if r.mirror != nil {
		if err := r.mirror.RecordDatabase(ctx, meta.DBName, meta.FileName, meta.OriginalFilePath, meta.CreationDate); err != nil {
			common.Logger().Warn("registry: catalog mirror failed", "database", name, "error", err)
		}
	}
	return &Database{meta: meta, dir: dir}, nil
}

// AddShard registers one batch shard after its vector index was committed:
// it creates the shard directory, records the shard marker, and mirrors the
// registration.
func (r *Registry) AddShard(ctx context.Context, db *Database, batch, chunks int) (Shard, error) {
	if db == nil {
		return Shard{}, errors.New("registry: database handle required")
	}
	shard := Shard{
		ID:     ShardID(db.meta.DBName, batch),
		Dir:    filepath.Join(db.dir, strconv.Itoa(batch)),
		Batch:  batch,
		Chunks: chunks,
	}
	if err := os.MkdirAll(shard.Dir, 0o755); err != nil {
		return Shard{}, fmt.Errorf("create shard dir: %w", err)
	}
	data, err := json.Marshal(shard)
	if err != nil {
		return Shard{}, fmt.Errorf("encode shard marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(shard.Dir, "shard.json"), data, 0o644); err != nil {
		return Shard{}, fmt.Errorf("write shard marker: %w", err)
	}
	db.mu.Lock()
	db.shards = append(db.shards, shard)
	db.mu.Unlock()
	if r.mirror != nil {
		if err := r.mirror.RecordShard(ctx, db.meta.DBName, batch, chunks); err != nil {
			common.Logger().Warn("registry: shard mirror failed", "database", db.meta.DBName, "batch", batch, "error", err)
		}
	}
	return shard, nil
}

// LoadDatabase opens an existing database read-only, failing with
// ErrNotFound when absent.
func (r *Registry) LoadDatabase(ctx context.Context, name string) (*Database, error) {
	name = strings.TrimSpace(name)
	dir := filepath.Join(r.baseDir, name)
	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read database dir: %w", err)
	}
	var shards []Shard
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		batch, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		shard := Shard{
			ID:    ShardID(meta.DBName, batch),
			Dir:   filepath.Join(dir, entry.Name()),
			Batch: batch,
		}
		if data, err := os.ReadFile(filepath.Join(shard.Dir, "shard.json")); err == nil {
			var marker Shard
			if json.Unmarshal(data, &marker) == nil {
				shard.Chunks = marker.Chunks
			}
		}
		shards = append(shards, shard)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].Batch < shards[j].Batch })
	return &Database{meta: meta, dir: dir, shards: shards}, nil
}

// ListDatabases returns metadata for every registered database, in no
// particular order. Callers wanting most-recent semantics sort by
// CreationDate; Latest does exactly that.
func (r *Registry) ListDatabases(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}
	metas := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		meta, err := readMetadata(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Latest loads the most recently created database.
func (r *Registry) Latest(ctx context.Context) (*Database, error) {
	metas, err := r.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreationDate.Equal(metas[j].CreationDate) {
			return metas[i].DBName < metas[j].DBName
		}
		return metas[i].CreationDate.Before(metas[j].CreationDate)
	})
	return r.LoadDatabase(ctx, metas[len(metas)-1].DBName)
}

// DeleteDatabase removes the database directory and all child shards.
// Deletion is idempotent: an unknown name reports false, not an error.
func (r *Registry) DeleteDatabase(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	dir := filepath.Join(r.baseDir, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat database: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete database: %w", err)
	}
	if r.mirror != nil {
		if err := r.mirror.ForgetDatabase(ctx, name); err != nil {
			common.Logger().Warn("registry: catalog forget failed", "database", name, "error", err)
		}
	}
	return true, nil
}

func readMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse database metadata: %w", err)
	}
	return meta, nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "db"
	}
	return out
}
