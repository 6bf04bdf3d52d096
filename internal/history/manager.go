// File path: internal/history/manager.go
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ragworks/shardchat/internal/common"
	"github.com/ragworks/shardchat/internal/token"
)

// Metadata is the conversation-level record persisted next to the shards.
type Metadata struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

const metadataFile = "metadata.json"

// Recorder mirrors conversation state into a secondary catalog. Mirror
// failures are logged, never propagated; the filesystem layout stays the
// source of truth.
type Recorder interface {
	RecordConversation(ctx context.Context, meta Metadata, messages, shards int) error
	ForgetConversation(ctx context.Context, name string) error
}

// Manager owns the directory of named conversations and hands out store
// handles. There is no ambient current conversation; callers keep the handle.
type Manager struct {
	baseDir  string
	counter  token.Counter
	cfg      Config
	recorder Recorder
	now      func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRecorder attaches a catalog mirror.
func WithRecorder(recorder Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = recorder }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(baseDir string, counter token.Counter, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if baseDir == "" {
		return nil, errors.New("history: base dir required")
	}
	if counter == nil {
		return nil, errors.New("history: token counter required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history base dir: %w", err)
	}
	manager := &Manager{
		baseDir: baseDir,
		counter: counter,
		cfg:     DefaultConfig().Merge(cfg),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// Create allocates a new named conversation. It fails with ErrAlreadyExists
// when the name is taken; callers that want open-or-create use Ensure.
func (m *Manager) Create(ctx context.Context, name string) (*Store, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	dir := m.conversationDir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat conversation: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	now := m.now().UTC()
	meta := Metadata{Name: name, CreatedAt: now, LastModified: now}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	return m.open(ctx, dir, meta)
}

// Load opens an existing conversation, failing with ErrNotFound when absent.
func (m *Manager) Load(ctx context.Context, name string) (*Store, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	dir := m.conversationDir(name)
	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return m.open(ctx, dir, meta)
}

// Ensure loads the named conversation, creating it on first use.
func (m *Manager) Ensure(ctx context.Context, name string) (*Store, error) {
	store, err := m.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return m.Create(ctx, name)
	}
	return store, err
}

// List returns metadata for every stored conversation, most recent first.
func (m *Manager) List(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read history base dir: %w", err)
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
		meta, err := readMetadata(filepath.Join(m.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastModified.After(metas[j].LastModified)
	})
	return metas, nil
}

// Delete removes a conversation with all its shards and metadata. Deletion
// is idempotent: a missing name reports false, not an error.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	dir := m.conversationDir(name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat conversation: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	if m.recorder != nil {
		if err := m.recorder.ForgetConversation(ctx, name); err != nil {
			common.Logger().Warn("history: catalog forget failed", "conversation", name, "error", err)
		}
	}
	return true, nil
}

func (m *Manager) open(ctx context.Context, dir string, meta Metadata) (*Store, error) {
	store, err := OpenStore(dir, m.counter, m.cfg)
	if err != nil {
		return nil, err
	}
	store.onPersist = func(messages, shards int) {
		meta.LastModified = m.now().UTC()
		if err := writeMetadata(dir, meta); err != nil {
			common.Logger().Warn("history: metadata update failed", "conversation", meta.Name, "error", err)
		}
		if m.recorder != nil {
			if err := m.recorder.RecordConversation(context.Background(), meta, messages, shards); err != nil {
				common.Logger().Warn("history: catalog mirror failed", "conversation", meta.Name, "error", err)
			}
		}
	}
	if m.recorder != nil {
		if err := m.recorder.RecordConversation(ctx, meta, len(store.Messages()), store.Shards()); err != nil {
			common.Logger().Warn("history: catalog mirror failed", "conversation", meta.Name, "error", err)
		}
	}
	return store, nil
}

func (m *Manager) conversationDir(name string) string {
	return filepath.Join(m.baseDir, name)
}

func cleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("history: conversation name required")
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("history: invalid conversation name %q", trimmed)
	}
	return trimmed, nil
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func readMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}
