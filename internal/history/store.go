// File path: internal/history/store.go
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ragworks/shardchat/internal/token"
)

// Store persists one conversation as an ordered sequence of token-bounded
// shard files named chat_0.json, chat_1.json, ... with contiguous indices.
//
// Every append re-derives the shard boundaries over the entire history and
// rewrites the shard files. The rewrite is staged to temporary files and
// renamed into place so a failed append never changes what Load returns.
type Store struct {
	dir     string
	counter token.Counter
	cfg     Config

	mu       sync.RWMutex
	messages []Message
	shards   int

	onPersist func(messages, shards int)
}

// OpenStore opens (or initializes) the conversation stored in dir and loads
// the existing history into memory.
func OpenStore(dir string, counter token.Counter, cfg Config) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history: store dir required")
	}
	if counter == nil {
		return nil, errors.New("history: token counter required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	cfg = DefaultConfig().Merge(cfg)
	store := &Store{dir: dir, counter: counter, cfg: cfg}
	messages, shards, err := readShards(dir)
	if err != nil {
		return nil, err
	}
	store.messages = messages
	store.shards = shards
	return store, nil
}

// Append validates and appends a message, then rewrites the shard files. On
// any failure the in-memory and persisted history are left untouched.
func (s *Store) Append(role, content string) error {
	if err := validateMessage(role, content); err != nil {
		return err
	}
	tokens := s.counter.Count(content)
	if tokens > s.cfg.MaxMessageTokens {
		return fmt.Errorf("%w: %d tokens (limit %d)", ErrMessageTooLong, tokens, s.cfg.MaxMessageTokens)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, Message{Role: role, Content: content})
	shards, err := s.persistLocked(next)
	if err != nil {
		return err
	}
	s.messages = next
	s.shards = shards
	if s.onPersist != nil {
		s.onPersist(len(s.messages), s.shards)
	}
	return nil
}

// Messages returns a copy of the in-memory history in append order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Load re-reads the shard files from disk in index order and returns the
// concatenated history. A malformed shard surfaces as a parse error; it is
// never skipped, since that would corrupt ordering for every later shard.
func (s *Store) Load() ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, _, err := readShards(s.dir)
	return messages, err
}

// Clear empties the in-memory history and removes all persisted shards.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.persistLocked(nil); err != nil {
		return err
	}
	s.messages = nil
	s.shards = 0
	if s.onPersist != nil {
		s.onPersist(0, 0)
	}
	return nil
}

// TokenCount reports the summed content token count of the stored history.
func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, msg := range s.messages {
		total += s.counter.Count(msg.Content)
	}
	return total
}

// Shards reports the current number of persisted shard files.
func (s *Store) Shards() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shards
}

// persistLocked writes the shard layout for messages and returns the shard
// count. All shard payloads are marshaled and staged before the first rename
// so a failure part-way cannot leave a mixed layout behind.
func (s *Store) persistLocked(messages []Message) (int, error) {
	plan := s.planShards(messages)
	staged := make([]string, 0, len(plan))
	cleanup := func() {
		for _, path := range staged {
			os.Remove(path)
		}
	}
	for _, shard := range plan {
		data, err := json.MarshalIndent(shard, "", "  ")
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("encode shard: %w", err)
		}
		tmp, err := os.CreateTemp(s.dir, "shard-*.tmp")
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("stage shard: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			cleanup()
			return 0, fmt.Errorf("stage shard: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			cleanup()
			return 0, fmt.Errorf("stage shard: %w", err)
		}
		staged = append(staged, tmp.Name())
	}
	for idx, path := range staged {
		if err := os.Rename(path, s.shardPath(idx)); err != nil {
			cleanup()
			return 0, fmt.Errorf("persist shard %d: %w", idx, err)
		}
	}
	// Drop stale shard files left over from a previously longer layout.
	for idx := len(plan); ; idx++ {
		err := os.Remove(s.shardPath(idx))
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("remove stale shard %d: %w", idx, err)
		}
	}
	return len(plan), nil
}

// planShards walks the history oldest to newest, closing the current shard
// whenever adding the next message would exceed the shard token budget. A
// message is never split across shards.
func (s *Store) planShards(messages []Message) [][]Message {
	var plan [][]Message
	var current []Message
	used := 0
	for _, msg := range messages {
		tokens := s.counter.Count(msg.Content)
		if len(current) > 0 && used+tokens > s.cfg.ShardTokenBudget {
			plan = append(plan, current)
			current = nil
			used = 0
		}
		current = append(current, msg)
		used += tokens
	}
	if len(current) > 0 {
		plan = append(plan, current)
	}
	return plan
}

func (s *Store) shardPath(idx int) string {
	return filepath.Join(s.dir, shardFileName(idx))
}

func shardFileName(idx int) string {
	return fmt.Sprintf("chat_%d.json", idx)
}

// readShards reads shard files in index order starting at 0, stopping at the
// first missing index.
func readShards(dir string) ([]Message, int, error) {
	var all []Message
	shards := 0
	for idx := 0; ; idx++ {
		data, err := os.ReadFile(filepath.Join(dir, shardFileName(idx)))
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read shard %d: %w", idx, err)
		}
		var messages []Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, 0, fmt.Errorf("parse shard %d: %w", idx, err)
		}
		all = append(all, messages...)
		shards++
	}
	return all, shards, nil
}
