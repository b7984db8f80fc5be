// Package llms provides streaming chat clients for OpenAI-style and
// Anthropic-style APIs behind one provider interface.
package llms

import (
	"context"
	"fmt"
)

// ============================================================================
// MESSAGES
// ============================================================================

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ============================================================================
// RESPONSES
// ============================================================================

// Response is a complete (non-streamed) chat result.
type Response struct {
	Content      string
	Role         Role
	FinishReason string
	ToolCalls    []ToolCall
	Usage        map[string]any
	Model        string
}

// StreamChunk is one fragment of a streamed response. ToolCalls carries the
// fully assembled calls and is only set on the finalizing chunk. A non-nil
// Err terminates the stream.
type StreamChunk struct {
	Content      string
	FinishReason string
	ToolCalls    []ToolCall
	IsFinal      bool
	Err          error
}

// ConnectionStatus is the result of a connectivity probe.
type ConnectionStatus struct {
	OK      bool
	Message string
	Info    map[string]any
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds provider settings. Extra carries provider-specific request
// fields merged into every request body.
type Config struct {
	Model       string         `yaml:"model" json:"model"`
	APIKey      string         `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL     string         `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens   int            `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float64        `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        float64        `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	Timeout     int            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Extra       map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.TopP == 0 {
		c.TopP = 1.0
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// ============================================================================
// PER-CALL OPTIONS
// ============================================================================

// callOptions are per-call overrides of the config defaults. Pointer fields
// distinguish "unset" from zero.
type callOptions struct {
	maxTokens   *int
	temperature *float64
	topP        *float64
	toolChoice  string
	extra       map[string]any
}

// CallOption customizes a single Chat or ChatStream call.
type CallOption func(*callOptions)

// WithMaxTokens overrides the configured max_tokens for this call.
func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = &n }
}

// WithTemperature overrides the configured temperature for this call.
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

// WithTopP overrides the configured top_p for this call.
func WithTopP(p float64) CallOption {
	return func(o *callOptions) { o.topP = &p }
}

// WithToolChoice sets the tool_choice request field.
func WithToolChoice(choice string) CallOption {
	return func(o *callOptions) { o.toolChoice = choice }
}

// WithExtra merges provider-specific request fields into this call's body.
// Call extras override config extras on key collision.
func WithExtra(extra map[string]any) CallOption {
	return func(o *callOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			o.extra[k] = v
		}
	}
}

func applyOptions(opts []CallOption) callOptions {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// sampling resolves the effective sampling parameters: call override first,
// config default otherwise.
func (o callOptions) sampling(cfg Config) (maxTokens int, temperature, topP float64) {
	maxTokens, temperature, topP = cfg.MaxTokens, cfg.Temperature, cfg.TopP
	if o.maxTokens != nil {
		maxTokens = *o.maxTokens
	}
	if o.temperature != nil {
		temperature = *o.temperature
	}
	if o.topP != nil {
		topP = *o.topP
	}
	return maxTokens, temperature, topP
}

// ============================================================================
// PROVIDER INTERFACE
// ============================================================================

// Provider is a chat-capable LLM backend.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Chat sends messages and blocks for the complete response.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (*Response, error)

	// ChatStream sends messages and returns a channel of response chunks.
	// The channel is closed after the final chunk.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (<-chan StreamChunk, error)

	// TestConnection probes the backend with a minimal request.
	TestConnection(ctx context.Context) ConnectionStatus

	// Close releases provider resources.
	Close() error
}
