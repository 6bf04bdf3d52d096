// File path: internal/token/token.go
package token

import (
	"os"
	"strings"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/ragworks/shardchat/internal/common"
)

// Counter maps text to an integer token count. All budget accounting in the
// history store and the context window builder goes through this interface.
type Counter interface {
	Count(text string) int
}

const defaultEncoding = "cl100k_base"

// NewCounter returns the tiktoken-backed counter when the encoding can be
// loaded, falling back to a heuristic counter otherwise. The fallback can be
// forced with SHARDCHAT_TOKENIZER=heuristic.
func NewCounter() Counter {
	logger := common.Logger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SHARDCHAT_TOKENIZER")), "heuristic") {
		logger.Info("token: heuristic counter selected by environment")
		return HeuristicCounter{}
	}
	encoding := strings.TrimSpace(os.Getenv("SHARDCHAT_TOKEN_ENCODING"))
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("token: tiktoken encoding unavailable, using heuristic counter", "encoding", encoding, "error", err)
		return HeuristicCounter{}
	}
	logger.Info("token: tiktoken counter configured", "encoding", encoding)
	return &TiktokenCounter{encoding: enc}
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func (c *TiktokenCounter) Count(text string) int {
	if c == nil || c.encoding == nil || text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// HeuristicCounter approximates token counts without a BPE table. One token
// per four characters tracks cl100k_base closely enough for budgeting.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	count := runes / 4
	if count < 1 {
		count = 1
	}
	return count
}
