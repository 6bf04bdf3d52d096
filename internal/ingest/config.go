// File path: internal/ingest/config.go
package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config controls how documents are split and batched during ingestion.
type Config struct {
	// ChunkSize and ChunkOverlap are handed to the text splitter, in
	// characters.
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of sequential chunks grouped into one vector
	// shard.
	BatchSize int
}

// DefaultConfig returns the reference ingestion parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: 500, ChunkOverlap: 50, BatchSize: 32}
}

// Merge overlays positive values from the override onto the base config.
func (c Config) Merge(override Config) Config {
	result := c
	if override.ChunkSize > 0 {
		result.ChunkSize = override.ChunkSize
	}
	if override.ChunkOverlap > 0 {
		result.ChunkOverlap = override.ChunkOverlap
	}
	if override.BatchSize > 0 {
		result.BatchSize = override.BatchSize
	}
	return result
}

// LoadConfig reads ingestion overrides from the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	overrides := []struct {
		env    string
		target *int
	}{
		{"SHARDCHAT_CHUNK_SIZE", &cfg.ChunkSize},
		{"SHARDCHAT_CHUNK_OVERLAP", &cfg.ChunkOverlap},
		{"SHARDCHAT_BATCH_SIZE", &cfg.BatchSize},
	}
	for _, override := range overrides {
		raw := strings.TrimSpace(os.Getenv(override.env))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", override.env, err)
		}
		if value > 0 {
			*override.target = value
		}
	}
	return cfg, nil
}
