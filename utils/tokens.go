// Package utils holds small shared helpers.
package utils

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// approxCharsPerToken is used when the tokenizer data is unavailable
// (for example offline). English text averages about 4 characters per token.
const approxCharsPerToken = 4

// TokenCounter counts and trims text by token budget. The encoding is loaded
// lazily and cached; when it cannot be loaded, counts fall back to a
// character-based approximation.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter using the cl100k_base encoding.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) load() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err == nil {
			c.encoding = enc
		}
	})
	return c.encoding
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if enc := c.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
}

// Truncate trims text to at most maxTokens tokens. Text within budget is
// returned unchanged.
func (c *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	if enc := c.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}

	limit := maxTokens * approxCharsPerToken
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
