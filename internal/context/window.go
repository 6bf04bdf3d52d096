// File path: internal/context/window.go
package context

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ragworks/shardchat/internal/history"
	"github.com/ragworks/shardchat/internal/token"
)

// ErrBudgetExceeded reports a preamble that already consumes the whole token
// budget, leaving no room for a context window.
var ErrBudgetExceeded = errors.New("context: preamble exceeds token budget")

// Options control the default window budgets used by Window.
type Options struct {
	// MaxTokens bounds the total token count of an assembled window.
	MaxTokens int
	// ReservedTokens is held back from the budget for the model's reply.
	ReservedTokens int
}

// DefaultOptions returns the reference window budgets.
func DefaultOptions() Options {
	return Options{MaxTokens: 2048, ReservedTokens: 500}
}

// LoadOptions reads budget overrides from the environment.
func LoadOptions() (Options, error) {
	opts := DefaultOptions()
	if raw := strings.TrimSpace(os.Getenv("SHARDCHAT_WINDOW_TOKENS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Options{}, fmt.Errorf("parse SHARDCHAT_WINDOW_TOKENS: %w", err)
		}
		if value > 0 {
			opts.MaxTokens = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SHARDCHAT_RESERVED_TOKENS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Options{}, fmt.Errorf("parse SHARDCHAT_RESERVED_TOKENS: %w", err)
		}
		if value >= 0 {
			opts.ReservedTokens = value
		}
	}
	return opts, nil
}

// Builder assembles the exact message sequence sent to the generation
// service for one turn.
type Builder struct {
	counter token.Counter
	opts    Options
}

func NewBuilder(counter token.Counter, opts Options) (*Builder, error) {
	if counter == nil {
		return nil, errors.New("context: token counter required")
	}
	defaults := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.ReservedTokens < 0 {
		opts.ReservedTokens = defaults.ReservedTokens
	}
	return &Builder{counter: counter, opts: opts}, nil
}

// Window assembles a context window using the builder's configured budgets.
func (b *Builder) Window(messages []history.Message, preamble string) ([]history.Message, error) {
	return b.Build(messages, preamble, b.opts.MaxTokens, b.opts.ReservedTokens)
}

// Build walks the history newest to oldest, including messages until the
// next one would overflow the available budget. The first exclusion ends the
// walk: an over-budget message is never skipped in favor of an older,
// smaller one, which would tear a hole in the middle of the conversation.
// The returned sequence starts with a synthetic system message holding the
// preamble and is otherwise in chronological order; its total token count is
// at most maxTokens.
func (b *Builder) Build(messages []history.Message, preamble string, maxTokens, reservedTokens int) ([]history.Message, error) {
	preambleTokens := b.counter.Count(preamble)
	if preambleTokens >= maxTokens {
		return nil, fmt.Errorf("%w: %d tokens (budget %d)", ErrBudgetExceeded, preambleTokens, maxTokens)
	}
	available := maxTokens - reservedTokens - preambleTokens
	var included []history.Message
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := b.counter.Count(messages[i].Content)
		if used+tokens > available {
			break
		}
		included = append(included, messages[i])
		used += tokens
	}
	window := make([]history.Message, 0, len(included)+1)
	window = append(window, history.Message{Role: history.RoleSystem, Content: preamble})
	for i := len(included) - 1; i >= 0; i-- {
		window = append(window, included[i])
	}
	return window, nil
}
