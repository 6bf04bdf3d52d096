// File path: internal/context/window_test.go
package context

import (
	"errors"
	"strings"
	"testing"

	"github.com/ragworks/shardchat/internal/history"
)

// mapCounter returns fixed counts for known texts and a word count otherwise.
type mapCounter map[string]int

func (m mapCounter) Count(text string) int {
	if n, ok := m[text]; ok {
		return n
	}
	return len(strings.Fields(text))
}

func newTestBuilder(t *testing.T, counter mapCounter, opts Options) *Builder {
	t.Helper()
	builder, err := NewBuilder(counter, opts)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return builder
}

func TestBuildKeepsNewestMessagesWithinBudget(t *testing.T) {
	counter := mapCounter{"preamble": 10, "old": 30, "mid": 30, "new": 30}
	builder := newTestBuilder(t, counter, Options{})
	messages := []history.Message{
		{Role: history.RoleUser, Content: "old"},
		{Role: history.RoleAssistant, Content: "mid"},
		{Role: history.RoleUser, Content: "new"},
	}
	// max 100, reserved 20, preamble 10: 70 available, fits two messages.
	window, err := builder.Build(messages, "preamble", 100, 20)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected system + 2 messages, got %d", len(window))
	}
	if window[0].Role != history.RoleSystem || window[0].Content != "preamble" {
		t.Fatalf("expected system preamble first, got %+v", window[0])
	}
	if window[1].Content != "mid" || window[2].Content != "new" {
		t.Fatalf("expected chronological tail [mid new], got [%s %s]", window[1].Content, window[2].Content)
	}
}

func TestBuildStopsAtFirstExclusion(t *testing.T) {
	counter := mapCounter{"preamble": 0, "tiny-old": 5, "huge": 100, "tiny-new": 5}
	builder := newTestBuilder(t, counter, Options{})
	messages := []history.Message{
		{Role: history.RoleUser, Content: "tiny-old"},
		{Role: history.RoleAssistant, Content: "huge"},
		{Role: history.RoleUser, Content: "tiny-new"},
	}
	// 50 available: the huge message is excluded and the walk stops, even
	// though the older tiny message would have fit.
	window, err := builder.Build(messages, "preamble", 50, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected system + newest only, got %d entries", len(window))
	}
	if window[1].Content != "tiny-new" {
		t.Fatalf("expected newest message kept, got %s", window[1].Content)
	}
}

func TestBuildPreambleOverBudget(t *testing.T) {
	counter := mapCounter{"giant preamble": 2048}
	builder := newTestBuilder(t, counter, Options{})
	_, err := builder.Build(nil, "giant preamble", 2048, 500)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	builder := newTestBuilder(t, mapCounter{}, Options{})
	window, err := builder.Build(nil, "be helpful", 100, 10)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(window) != 1 || window[0].Role != history.RoleSystem {
		t.Fatalf("expected lone system message, got %+v", window)
	}
}

func TestWindowUsesConfiguredBudgets(t *testing.T) {
	counter := mapCounter{"sys": 1, "a": 4, "b": 4}
	builder := newTestBuilder(t, counter, Options{MaxTokens: 10, ReservedTokens: 5})
	messages := []history.Message{
		{Role: history.RoleUser, Content: "a"},
		{Role: history.RoleAssistant, Content: "b"},
	}
	// 10 - 5 - 1 = 4 available: only the newest 4-token message fits.
	window, err := builder.Window(messages, "sys")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 2 || window[1].Content != "b" {
		t.Fatalf("expected [sys b], got %+v", window)
	}
}

func TestLoadOptionsOverrides(t *testing.T) {
	t.Setenv("SHARDCHAT_WINDOW_TOKENS", "4096")
	t.Setenv("SHARDCHAT_RESERVED_TOKENS", "256")
	opts, err := LoadOptions()
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if opts.MaxTokens != 4096 || opts.ReservedTokens != 256 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	t.Setenv("SHARDCHAT_WINDOW_TOKENS", "not-a-number")
	if _, err := LoadOptions(); err == nil {
		t.Fatal("expected parse error")
	}
}
