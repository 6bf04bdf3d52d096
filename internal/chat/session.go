// File path: internal/chat/session.go
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragworks/shardchat/internal/common"
	ctxwindow "github.com/ragworks/shardchat/internal/context"
	"github.com/ragworks/shardchat/internal/history"
	"github.com/ragworks/shardchat/internal/llm"
	"github.com/ragworks/shardchat/internal/retriever"
	"github.com/ragworks/shardchat/internal/token"
)

// Config carries the per-session prompting parameters.
type Config struct {
	// Preamble is the system instruction for plain chat turns.
	Preamble string
	// RAGPreamble prefixes the retrieved context block on augmented turns.
	RAGPreamble string
	// MaxContextTokens caps the token count of the retrieved context block.
	MaxContextTokens int
	// MaxResponseTokens is handed to the generation service.
	MaxResponseTokens int
	Temperature       float64
	// TopK is the merged result count requested from the retriever.
	TopK int
}

// DefaultConfig returns the reference session parameters.
func DefaultConfig() Config {
	return Config{
		Preamble:          "You are a friendly, helpful assistant.",
		RAGPreamble:       "Use the following context to answer the question. If the information is not present in the context, say so clearly.",
		MaxContextTokens:  3000,
		MaxResponseTokens: 1000,
		Temperature:       0.7,
		TopK:              5,
	}
}

// Merge overlays non-zero values from the override onto the base config.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Preamble) != "" {
		result.Preamble = override.Preamble
	}
	if strings.TrimSpace(override.RAGPreamble) != "" {
		result.RAGPreamble = override.RAGPreamble
	}
	if override.MaxContextTokens > 0 {
		result.MaxContextTokens = override.MaxContextTokens
	}
	if override.MaxResponseTokens > 0 {
		result.MaxResponseTokens = override.MaxResponseTokens
	}
	if override.Temperature > 0 {
		result.Temperature = override.Temperature
	}
	if override.TopK > 0 {
		result.TopK = override.TopK
	}
	return result
}

// Reply is the outcome of one conversational turn.
type Reply struct {
	Answer   string             `json:"answer"`
	Snippets []retriever.Result `json:"snippets,omitempty"`
	UsedRAG  bool               `json:"used_rag"`
}

// Session drives one conversation: append the user turn, optionally gather
// retrieval context, assemble the token-bounded window, complete, and append
// the assistant turn.
type Session struct {
	store     *history.Store
	builder   *ctxwindow.Builder
	provider  llm.Provider
	counter   token.Counter
	retriever *retriever.Retriever
	cfg       Config
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithRetriever attaches a multi-shard retriever for augmented turns.
func WithRetriever(r *retriever.Retriever) SessionOption {
	return func(s *Session) { s.retriever = r }
}

func NewSession(store *history.Store, builder *ctxwindow.Builder, provider llm.Provider, counter token.Counter, cfg Config, opts ...SessionOption) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("chat: history store required")
	}
	if builder == nil {
		return nil, fmt.Errorf("chat: window builder required")
	}
	if provider == nil {
		return nil, fmt.Errorf("chat: provider required")
	}
	if counter == nil {
		return nil, fmt.Errorf("chat: token counter required")
	}
	session := &Session{
		store:    store,
		builder:  builder,
		provider: provider,
		counter:  counter,
		cfg:      DefaultConfig().Merge(cfg),
	}
	for _, opt := range opts {
		opt(session)
	}
	return session, nil
}

// Respond runs one turn and returns the completed reply.
func (s *Session) Respond(ctx context.Context, query string, useRAG bool) (Reply, error) {
	return s.respond(ctx, query, useRAG, nil)
}

// RespondStream runs one turn, invoking fn with each completion delta.
func (s *Session) RespondStream(ctx context.Context, query string, useRAG bool, fn func(delta string)) (Reply, error) {
	return s.respond(ctx, query, useRAG, fn)
}

func (s *Session) respond(ctx context.Context, query string, useRAG bool, fn func(delta string)) (Reply, error) {
	logger := common.Logger()
	reply := Reply{}
	if err := s.store.Append(history.RoleUser, query); err != nil {
		return reply, err
	}
	preamble := s.cfg.Preamble
	if useRAG && s.retriever != nil {
		snippets, err := s.retriever.Search(ctx, query, s.cfg.TopK)
		if err != nil {
			// A failed search degrades to a plain chat turn rather than
			// failing the whole exchange.
			logger.Warn("chat: retrieval failed, answering without context", "error", err)
		} else if len(snippets) > 0 {
			reply.Snippets = snippets
			reply.UsedRAG = true
			preamble = s.cfg.RAGPreamble + "\n\nContext:\n" + s.contextBlock(snippets)
		} else {
			logger.Debug("chat: retrieval returned no results")
		}
	}
	window, err := s.builder.Window(s.store.Messages(), preamble)
	if err != nil {
		return reply, err
	}
	messages := make([]llm.Message, 0, len(window))
	for _, msg := range window {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	opts := llm.CompletionOptions{
		MaxTokens:   s.cfg.MaxResponseTokens,
		Temperature: s.cfg.Temperature,
	}
	var answer string
	if fn != nil {
		answer, err = s.provider.ChatStream(ctx, messages, opts, fn)
	} else {
		answer, err = s.provider.Chat(ctx, messages, opts)
	}
	if err != nil {
		return reply, fmt.Errorf("generate response: %w", err)
	}
	reply.Answer = answer
	if strings.TrimSpace(answer) != "" {
		if err := s.store.Append(history.RoleAssistant, answer); err != nil {
			return reply, fmt.Errorf("record assistant turn: %w", err)
		}
	}
	return reply, nil
}

// contextBlock joins retrieved documents whole, newest ranking first, until
// the context token budget is spent. Whole-snippet granularity keeps the
// block deterministic without needing a token decoder.
func (s *Session) contextBlock(snippets []retriever.Result) string {
	var parts []string
	used := 0
	for _, snippet := range snippets {
		text := strings.TrimSpace(snippet.Document)
		if text == "" {
			continue
		}
		tokens := s.counter.Count(text)
		if used+tokens > s.cfg.MaxContextTokens {
			break
		}
		parts = append(parts, text)
		used += tokens
	}
	return strings.Join(parts, "\n")
}

// Reset clears the conversation history.
func (s *Session) Reset() error {
	return s.store.Clear()
}

// History returns the stored conversation in append order.
func (s *Session) History() []history.Message {
	return s.store.Messages()
}
