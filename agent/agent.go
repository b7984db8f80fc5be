package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds settings shared by all agent variants.
type Config struct {
	MaxIterations int     `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	Temperature   float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens     int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	SystemPrompt  string  `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Timeout       int     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 300
	}
}

// ============================================================================
// AGENT INTERFACE
// ============================================================================

// Agent is one reasoning variant. Process drives the variant's loop,
// publishing events through the emitter; lifecycle events are owned by
// Execute, never by the variant.
type Agent interface {
	// Type returns the variant identifier ("react", "agentic_rag", ...).
	Type() string

	// Process runs the variant loop for one user message.
	Process(ctx context.Context, message string, actx *Context, emit *Emitter) error
}

// ============================================================================
// EMITTER
// ============================================================================

// ErrRunCancelled is returned by Emitter.Emit once cancellation has been
// requested; variants propagate it to unwind the loop.
var ErrRunCancelled = errors.New("run cancelled")

// Emitter publishes variant events, enforcing cooperative cancellation: the
// flag is polled before every event.
type Emitter struct {
	ch   chan<- agui.Event
	actx *Context
}

// Emit publishes one event, or reports cancellation.
func (e *Emitter) Emit(ev agui.Event) error {
	if e.actx.IsCancelled() {
		return ErrRunCancelled
	}
	e.ch <- ev
	return nil
}

// ============================================================================
// RUN HANDLE
// ============================================================================

// Run is a handle on an in-flight agent run. Events delivers the ordered
// event stream; Err is valid once Events has been drained.
type Run struct {
	Context *Context
	events  chan agui.Event
	err     error
}

// Events returns the run's event stream. The channel closes after the
// terminal event.
func (r *Run) Events() <-chan agui.Event {
	return r.events
}

// Err returns the failure that terminated the run, if any. Cancellation is
// not an error: the RUN_ERROR event with code RUN_CANCELLED is the signal.
func (r *Run) Err() error {
	return r.err
}

// Execute starts an agent run. The stream always opens with RUN_STARTED and
// closes with exactly one terminal event: RUN_FINISHED on success, RUN_ERROR
// with code RUN_CANCELLED after cancellation, or RUN_ERROR with code
// AGENT_ERROR on failure.
func Execute(ctx context.Context, a Agent, message string, actx *Context) *Run {
	if actx == nil {
		actx = NewContext("", "")
	}

	run := &Run{
		Context: actx,
		events:  make(chan agui.Event, 100),
	}

	go func() {
		defer close(run.events)

		run.events <- agui.NewRunStartedEvent(actx.ThreadID, actx.RunID)

		err := processSafely(ctx, a, message, actx, &Emitter{ch: run.events, actx: actx})

		switch {
		case errors.Is(err, ErrRunCancelled):
			run.events <- agui.NewRunErrorEvent("Run cancelled by user", agui.CodeRunCancelled)
		case err != nil:
			run.err = err
			run.events <- agui.NewRunErrorEvent(err.Error(), agui.CodeAgentError)
		default:
			if actx.IsCancelled() {
				run.events <- agui.NewRunErrorEvent("Run cancelled by user", agui.CodeRunCancelled)
				return
			}
			run.events <- agui.NewRunFinishedEvent(actx.ThreadID, actx.RunID, map[string]any{
				"status": "completed",
			})
		}
	}()

	return run
}

func processSafely(ctx context.Context, a Agent, message string, actx *Context, emit *Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return a.Process(ctx, message, actx, emit)
}

// ============================================================================
// BASE AGENT
// ============================================================================

// Base carries the collaborators common to every variant. Variants embed it.
type Base struct {
	Provider llms.Provider
	Config   Config

	tools *toolSet
}

// NewBase creates the shared agent core.
func NewBase(provider llms.Provider, tools []Tool, cfg Config) Base {
	cfg.SetDefaults()
	return Base{
		Provider: provider,
		Config:   cfg,
		tools:    newToolSet(tools),
	}
}

// ToolDefinitions returns the tools in the provider-neutral shape.
func (b *Base) ToolDefinitions() []llms.ToolDefinition {
	return b.tools.definitions()
}

// Tools returns the configured tools.
func (b *Base) Tools() []Tool {
	return b.tools.tools
}

// RegisterToolHandler adds or replaces the handler for a tool name.
func (b *Base) RegisterToolHandler(name string, handler ToolHandler) {
	b.tools.handlers[name] = handler
}

// CallTool dispatches a tool with total containment: any failure becomes a
// failed ToolResult.
func (b *Base) CallTool(ctx context.Context, name string, args map[string]any, toolCallID string) ToolResult {
	return b.tools.call(ctx, name, args, toolCallID)
}
