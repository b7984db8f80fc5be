package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// TOOLS
// ============================================================================

// ToolHandler executes a tool call. Returned maps are JSON-encoded into the
// result content; everything else is stringified.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool describes a callable tool with its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     ToolHandler
}

// Definition returns the tool in the provider-neutral shape.
func (t Tool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// ToolResult is the outcome of one tool dispatch. A failed dispatch is a
// result, never a run failure.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
	Success    bool
	Error      string
}

// ============================================================================
// DISPATCH
// ============================================================================

// toolSet owns handler registration and contained dispatch.
type toolSet struct {
	tools    []Tool
	handlers map[string]ToolHandler
}

func newToolSet(tools []Tool) *toolSet {
	ts := &toolSet{
		tools:    tools,
		handlers: make(map[string]ToolHandler),
	}
	for _, tool := range tools {
		if tool.Handler != nil {
			ts.handlers[tool.Name] = tool.Handler
		}
	}
	return ts
}

func (ts *toolSet) definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(ts.tools))
	for _, tool := range ts.tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// call dispatches a tool by name. Unknown tools, handler errors, and
// handler panics all come back as failed results.
func (ts *toolSet) call(ctx context.Context, name string, args map[string]any, toolCallID string) ToolResult {
	if toolCallID == "" {
		toolCallID = uuid.New().String()
	}

	handler, exists := ts.handlers[name]
	if !exists {
		return ToolResult{
			ToolCallID: toolCallID,
			ToolName:   name,
			Error:      fmt.Sprintf("Tool '%s' not found", name),
		}
	}

	result, err := safeCall(ctx, handler, args)
	if err != nil {
		return ToolResult{
			ToolCallID: toolCallID,
			ToolName:   name,
			Error:      err.Error(),
		}
	}

	var content string
	switch v := result.(type) {
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ToolResult{
				ToolCallID: toolCallID,
				ToolName:   name,
				Error:      fmt.Sprintf("failed to encode tool result: %v", err),
			}
		}
		content = string(encoded)
	case string:
		content = v
	default:
		content = fmt.Sprintf("%v", v)
	}

	return ToolResult{
		ToolCallID: toolCallID,
		ToolName:   name,
		Content:    content,
		Success:    true,
	}
}

func safeCall(ctx context.Context, handler ToolHandler, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}
