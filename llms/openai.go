package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/LunaDeerTech/Agentex/httpclient"
)

// ============================================================================
// OPENAI PROVIDER
// ============================================================================

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat completions protocol, which also
// covers OpenAI-compatible backends via BaseURL.
type OpenAIProvider struct {
	config     Config
	baseURL    string
	httpClient *httpclient.Client
}

// NewOpenAIProvider creates an OpenAI provider from config.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openai config: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	return &OpenAIProvider{
		config:  cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Close releases provider resources.
func (p *OpenAIProvider) Close() error { return nil }

// ============================================================================
// WIRE TYPES
// ============================================================================

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// openAIToolCallDelta is a streamed tool-call fragment. Index identifies
// which in-flight call the fragment belongs to; id and name arrive on the
// first fragment, arguments accumulate across fragments.
type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ============================================================================
// REQUEST BUILDING
// ============================================================================

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, opts callOptions, stream bool) openAIRequest {
	maxTokens, temperature, topP := opts.sampling(p.config)

	req := openAIRequest{
		Model:       p.config.Model,
		Messages:    make([]openAIMessage, 0, len(messages)),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
		Stream:      stream,
	}

	for _, msg := range messages {
		req.Messages = append(req.Messages, openAIMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
			ToolCalls:  msg.ToolCalls,
		})
	}

	if len(tools) > 0 {
		for _, tool := range tools {
			req.Tools = append(req.Tools, openAITool{Type: "function", Function: tool})
		}
		req.ToolChoice = opts.toolChoice
		if req.ToolChoice == "" {
			req.ToolChoice = "auto"
		}
	}

	return req
}

func (p *OpenAIProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	return req, nil
}

// ============================================================================
// CHAT
// ============================================================================

// Chat sends a blocking chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (*Response, error) {
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

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := parsed.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Role:         RoleAssistant,
		FinishReason: choice.FinishReason,
		ToolCalls:    choice.Message.ToolCalls,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
	}, nil
}

// ============================================================================
// STREAMING
// ============================================================================

// ChatStream sends a streaming chat completion request.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...CallOption) (<-chan StreamChunk, error) {
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

func (p *OpenAIProvider) readStream(ctx context.Context, body io.Reader, outputCh chan<- StreamChunk) error {
	reader := bufio.NewReader(body)

	// Fragments are keyed by the provider-supplied index, never by arrival
	// order: fragments of parallel calls may interleave.
	toolCallBuffer := make(map[int]*ToolCall)

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

		if bytes.Equal(line, []byte("[DONE]")) {
			if !sendChunk(ctx, outputCh, StreamChunk{IsFinal: true}) {
				return ctx.Err()
			}
			return nil
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]

		for _, delta := range choice.Delta.ToolCalls {
			tc, exists := toolCallBuffer[delta.Index]
			if !exists {
				tc = &ToolCall{ID: delta.ID, Type: "function"}
				toolCallBuffer[delta.Index] = tc
			}
			if delta.ID != "" {
				tc.ID = delta.ID
			}
			if delta.Function.Name != "" {
				tc.Function.Name = delta.Function.Name
			}
			tc.Function.Arguments += delta.Function.Arguments
		}

		var toolCalls []ToolCall
		if choice.FinishReason == "tool_calls" && len(toolCallBuffer) > 0 {
			toolCalls = drainToolCallBuffer(toolCallBuffer)
		}

		chunk := StreamChunk{
			Content:      choice.Delta.Content,
			FinishReason: choice.FinishReason,
			ToolCalls:    toolCalls,
			IsFinal:      choice.FinishReason != "",
		}
		if !sendChunk(ctx, outputCh, chunk) {
			return ctx.Err()
		}
	}
}

func drainToolCallBuffer(buffer map[int]*ToolCall) []ToolCall {
	indexes := make([]int, 0, len(buffer))
	for idx := range buffer {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *buffer[idx])
	}
	return calls
}

// TestConnection probes the API with a minimal completion.
func (p *OpenAIProvider) TestConnection(ctx context.Context) ConnectionStatus {
	return probeConnection(ctx, p)
}
