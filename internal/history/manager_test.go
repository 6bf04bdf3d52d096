// File path: internal/history/manager_test.go
package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir(), wordCounter{}, Config{}, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestManagerCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	store, err := manager.Create(ctx, "support")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Append(RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := manager.Create(ctx, "support"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	loaded, err := manager.Load(ctx, "support")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.Messages(); len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("unexpected history after load: %+v", got)
	}
}

func TestManagerLoadMissing(t *testing.T) {
	manager := newTestManager(t)
	if _, err := manager.Load(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerEnsureCreatesOnce(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	first, err := manager.Ensure(ctx, "notes")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := first.Append(RoleUser, "kept"); err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := manager.Ensure(ctx, "notes")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if got := second.Messages(); len(got) != 1 {
		t.Fatalf("ensure must reopen existing conversation, got %+v", got)
	}
}

func TestManagerListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	manager := newTestManager(t, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := manager.Create(ctx, name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	metas, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(metas))
	}
	if metas[0].Name != "gamma" || metas[2].Name != "alpha" {
		t.Fatalf("expected most recent first, got %s..%s", metas[0].Name, metas[2].Name)
	}
}

func TestManagerDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	if _, err := manager.Create(ctx, "scratch"); err != nil {
		t.Fatalf("create: %v", err)
	}
	deleted, err := manager.Delete(ctx, "scratch")
	if err != nil || !deleted {
		t.Fatalf("expected first delete to report true, got %v %v", deleted, err)
	}
	deleted, err = manager.Delete(ctx, "scratch")
	if err != nil || deleted {
		t.Fatalf("expected repeat delete to report false, got %v %v", deleted, err)
	}
	if _, err := manager.Load(ctx, "scratch"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestManagerRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	for _, name := range []string{"", "  ", "a/b", `a\b`, ".", ".."} {
		if _, err := manager.Create(ctx, name); err == nil {
			t.Fatalf("expected create %q to fail", name)
		}
	}
}

type recordingRecorder struct {
	records int
	forgets int
}

func (r *recordingRecorder) RecordConversation(ctx context.Context, meta Metadata, messages, shards int) error {
	r.records++
	return nil
}

func (r *recordingRecorder) ForgetConversation(ctx context.Context, name string) error {
	r.forgets++
	return nil
}

func TestManagerMirrorsToRecorder(t *testing.T) {
	ctx := context.Background()
	recorder := &recordingRecorder{}
	manager := newTestManager(t, WithRecorder(recorder))
	store, err := manager.Create(ctx, "mirrored")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Append(RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if recorder.records == 0 {
		t.Fatal("expected conversation to be mirrored")
	}
	if _, err := manager.Delete(ctx, "mirrored"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if recorder.forgets != 1 {
		t.Fatalf("expected one forget, got %d", recorder.forgets)
	}
}
