// Package agent provides the run lifecycle shared by all agent variants:
// lifecycle events, cooperative cancellation, and contained tool dispatch.
package agent

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// RUN CONTEXT
// ============================================================================

// Context is the runtime context of one agent run. The cancellation flag
// may be flipped from any goroutine; everything else belongs to the run's
// own goroutine.
type Context struct {
	ThreadID string
	RunID    string
	State    map[string]any

	mu        sync.Mutex
	history   []llms.Message
	cancelled atomic.Bool
}

// NewContext creates a run context. Empty ids get fresh UUIDs.
func NewContext(threadID, runID string) *Context {
	if threadID == "" {
		threadID = uuid.New().String()
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	return &Context{
		ThreadID: threadID,
		RunID:    runID,
		State:    make(map[string]any),
	}
}

// Cancel requests cooperative cancellation of the run.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// IsCancelled reports whether cancellation was requested.
func (c *Context) IsCancelled() bool {
	return c.cancelled.Load()
}

// AddMessage appends a message to the conversation history.
func (c *Context) AddMessage(msg llms.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msg)
}

// History returns a copy of the conversation history.
func (c *Context) History() []llms.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llms.Message, len(c.history))
	copy(out, c.history)
	return out
}

// RecentHistory returns a copy of the last n history messages.
func (c *Context) RecentHistory(n int) []llms.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.history) {
		n = len(c.history)
	}
	out := make([]llms.Message, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}
