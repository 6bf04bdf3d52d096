// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Message is one turn handed to a generation provider.
type Message struct {
	Role    string
	Content string
}

// CompletionOptions carry the per-call generation knobs.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the text generation and embedding service consumed by the
// chat session and the retrieval stack.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
	ChatStream(ctx context.Context, messages []Message, opts CompletionOptions, fn func(delta string)) (string, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Name() string
}

// LocalProvider is the offline fallback used when no API key is configured.
// Completions echo the last turn; embeddings are a deterministic hash so
// ingestion and search stay exercisable without a model.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	last := messages[len(messages)-1].Content
	return "[local-stub] " + strings.TrimSpace(last), nil
}

func (l *LocalProvider) ChatStream(ctx context.Context, messages []Message, opts CompletionOptions, fn func(delta string)) (string, error) {
	answer, err := l.Chat(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	if fn != nil {
		fn(answer)
	}
	return answer, nil
}

const localEmbeddingDim = 16

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, localEmbeddingDim)
		for j, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%localEmbeddingDim] += 1.0 / float32(j+1)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (l *LocalProvider) Name() string {
	return "local"
}
