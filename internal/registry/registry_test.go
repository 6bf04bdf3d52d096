// File path: internal/registry/registry_test.go
package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDatabaseName(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 30, 5, 0, time.UTC)
	got := DatabaseName("/docs/user guide.md", now)
	want := "user_guide_20260829_143005"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestShardID(t *testing.T) {
	if got := ShardID("guide_20260829_143005", 3); got != "guide_20260829_143005_shard_3" {
		t.Fatalf("unexpected shard id %q", got)
	}
}

func TestCreateDatabaseConflict(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.CreateDatabase(ctx, "guide_20260829_143005", "/docs/guide.md"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.CreateDatabase(ctx, "guide_20260829_143005", "/docs/guide.md"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddShardAndLoadDatabase(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	db, err := reg.CreateDatabase(ctx, "guide_20260829_143005", "/docs/guide.md")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Register out of order to exercise the batch sort on load.
	for _, batch := range []int{1, 0, 2} {
		if _, err := reg.AddShard(ctx, db, batch, 32); err != nil {
			t.Fatalf("add shard %d: %v", batch, err)
		}
	}
	loaded, err := reg.LoadDatabase(ctx, "guide_20260829_143005")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	shards := loaded.Shards()
	if len(shards) != 3 {
		t.Fatalf("expected 3 shards, got %d", len(shards))
	}
	for i, shard := range shards {
		if shard.Batch != i {
			t.Fatalf("expected shard %d at position %d, got batch %d", i, i, shard.Batch)
		}
		if shard.Chunks != 32 {
			t.Fatalf("shard %d lost its chunk count: %d", i, shard.Chunks)
		}
		if shard.ID != ShardID("guide_20260829_143005", i) {
			t.Fatalf("unexpected shard id %q", shard.ID)
		}
	}
	meta := loaded.Metadata()
	if meta.FileName != "guide.md" || meta.OriginalFilePath != "/docs/guide.md" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestLoadDatabaseMissing(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.LoadDatabase(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestPicksNewestDatabase(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.CreateDatabase(ctx, "old_db", "/docs/a.md"); err != nil {
		t.Fatalf("create old: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := reg.CreateDatabase(ctx, "new_db", "/docs/b.md"); err != nil {
		t.Fatalf("create new: %v", err)
	}
	latest, err := reg.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Name() != "new_db" {
		t.Fatalf("expected new_db, got %s", latest.Name())
	}
}

func TestLatestEmptyRegistry(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.Latest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDatabaseIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	db, err := reg.CreateDatabase(ctx, "doomed", "/docs/doomed.md")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.AddShard(ctx, db, 0, 8); err != nil {
		t.Fatalf("add shard: %v", err)
	}
	deleted, err := reg.DeleteDatabase(ctx, "doomed")
	if err != nil || !deleted {
		t.Fatalf("expected first delete true, got %v %v", deleted, err)
	}
	deleted, err = reg.DeleteDatabase(ctx, "doomed")
	if err != nil || deleted {
		t.Fatalf("expected repeat delete false, got %v %v", deleted, err)
	}
}
