package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounterApproximateFallback(t *testing.T) {
	// A counter whose encoding never loads uses the character approximation.
	c := &TokenCounter{}
	c.once.Do(func() {}) // encoding stays nil

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("hi"))
	assert.Equal(t, 3, c.Count("hello world!")) // 12 chars / 4
}

func TestTokenCounterTruncateFallback(t *testing.T) {
	c := &TokenCounter{}
	c.once.Do(func() {})

	text := strings.Repeat("abcd", 100)
	out := c.Truncate(text, 10)
	assert.Equal(t, 40, len(out))
	assert.True(t, strings.HasPrefix(text, out))

	// Within budget stays untouched.
	assert.Equal(t, "short", c.Truncate("short", 10))
	assert.Equal(t, text, c.Truncate(text, 1000))

	// Zero budget disables trimming.
	assert.Equal(t, text, c.Truncate(text, 0))
}

func TestTokenCounterRealEncoding(t *testing.T) {
	c := NewTokenCounter()
	if c.load() == nil {
		t.Skip("tokenizer data unavailable")
	}

	short := c.Count("hello")
	long := c.Count(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	trimmed := c.Truncate(text, 20)
	assert.LessOrEqual(t, c.Count(trimmed), 20)
	assert.Less(t, len(trimmed), len(text))
}
