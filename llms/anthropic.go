package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LunaDeerTech/Agentex/httpclient"
)

// ============================================================================
// ANTHROPIC PROVIDER
// ============================================================================

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider speaks the Anthropic messages protocol. System prompts
// travel in a dedicated request field, tool results as user-role
// tool_result blocks.
type AnthropicProvider struct {
	config     Config
	baseURL    string
	httpClient *httpclient.Client
}

// NewAnthropicProvider creates an Anthropic provider from config.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anthropic config: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	return &AnthropicProvider{
		config:  cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Close releases provider resources.
func (p *AnthropicProvider) Close() error { return nil }

// ============================================================================
// WIRE TYPES
// ============================================================================

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

// anthropicMessage content is either a plain string or a list of content
// blocks.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage map[string]any `json:"usage"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
}

// ============================================================================
// REQUEST BUILDING
// ============================================================================

// rawJSONArguments returns tool-call arguments as a JSON value: parsed when
// valid JSON, string-quoted otherwise.
func rawJSONArguments(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(arguments)
	return quoted
}

func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDefinition, opts callOptions, stream bool) anthropicRequest {
	maxTokens, temperature, topP := opts.sampling(p.config)

	req := anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
		Stream:      stream,
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			req.System = msg.Content
		case RoleTool:
			req.Messages = append(req.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		default:
			if len(msg.ToolCalls) == 0 {
				req.Messages = append(req.Messages, anthropicMessage{
					Role:    string(msg.Role),
					Content: msg.Content,
				})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: rawJSONArguments(tc.Function.Arguments),
				})
			}
			req.Messages = append(req.Messages, anthropicMessage{
				Role:    string(msg.Role),
				Content: blocks,
			})
		}
	}

	for _, tool := range tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return req
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

// ============================================================================
// CHAT
// ============================================================================

// Chat sends a blocking messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (*Response, error) {
	options := applyOptions(opts)

	body, err := marshalWithExtras(p.buildRequest(messages, tools, options, false), p.config.Extra, options.extra)
	if err != nil {
		return nil, err
	}

	req, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	var toolCalls []ToolCall
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	return &Response{
		Content:      text.String(),
		Role:         RoleAssistant,
		FinishReason: parsed.StopReason,
		ToolCalls:    toolCalls,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
	}, nil
}

// ============================================================================
// STREAMING
// ============================================================================

// ChatStream sends a streaming messages request.
func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (<-chan StreamChunk, error) {
	options := applyOptions(opts)

	body, err := marshalWithExtras(p.buildRequest(messages, tools, options, true), p.config.Extra, options.extra)
	if err != nil {
		return nil, err
	}

	req, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)
		defer func() { _ = resp.Body.Close() }()
		if err := p.readStream(ctx, resp.Body, outputCh); err != nil {
			sendChunk(ctx, outputCh, StreamChunk{Err: err, IsFinal: true})
		}
	}()

	return outputCh, nil
}

func (p *AnthropicProvider) readStream(ctx context.Context, body io.Reader, outputCh chan<- StreamChunk) error {
	reader := bufio.NewReader(body)

	// One tool_use block streams at a time: input_json_delta fragments
	// accumulate into the current call, finalized at content_block_stop.
	var currentToolCall *ToolCall
	var toolCalls []ToolCall

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if len(line) == 0 {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentToolCall = &ToolCall{
					ID:   event.ContentBlock.ID,
					Type: "function",
					Function: FunctionCall{
						Name: event.ContentBlock.Name,
					},
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if !sendChunk(ctx, outputCh, StreamChunk{Content: event.Delta.Text}) {
					return ctx.Err()
				}
			case "input_json_delta":
				if currentToolCall != nil {
					currentToolCall.Function.Arguments += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				toolCalls = append(toolCalls, *currentToolCall)
				currentToolCall = nil
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				chunk := StreamChunk{
					FinishReason: event.Delta.StopReason,
					ToolCalls:    toolCalls,
					IsFinal:      true,
				}
				if !sendChunk(ctx, outputCh, chunk) {
					return ctx.Err()
				}
			}

		case "message_stop":
			if !sendChunk(ctx, outputCh, StreamChunk{IsFinal: true}) {
				return ctx.Err()
			}
			return nil
		}
	}
}

// TestConnection probes the API with a minimal completion.
func (p *AnthropicProvider) TestConnection(ctx context.Context) ConnectionStatus {
	return probeConnection(ctx, p)
}
