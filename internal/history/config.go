// File path: internal/history/config.go
package history

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config controls the token budgets enforced by the sharded history store.
type Config struct {
	// ShardTokenBudget caps the summed message token counts of a closed
	// shard file.
	ShardTokenBudget int
	// MaxMessageTokens caps the token count of a single appended message.
	MaxMessageTokens int
}

// DefaultConfig returns the reference budgets.
func DefaultConfig() Config {
	return Config{
		ShardTokenBudget: 1500,
		MaxMessageTokens: 1500,
	}
}

// Merge overlays positive values from the override onto the base config.
func (c Config) Merge(override Config) Config {
	result := c
	if override.ShardTokenBudget > 0 {
		result.ShardTokenBudget = override.ShardTokenBudget
	}
	if override.MaxMessageTokens > 0 {
		result.MaxMessageTokens = override.MaxMessageTokens
	}
	return result
}

// LoadConfig reads budget overrides from the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("SHARDCHAT_SHARD_BUDGET")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SHARDCHAT_SHARD_BUDGET: %w", err)
		}
		if value > 0 {
			cfg.ShardTokenBudget = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SHARDCHAT_MESSAGE_LIMIT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SHARDCHAT_MESSAGE_LIMIT: %w", err)
		}
		if value > 0 {
			cfg.MaxMessageTokens = value
		}
	}
	return cfg, nil
}
