package reasoning

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// REACT AGENT
// ============================================================================

const reactSystemPrompt = `You are a helpful AI assistant that can use tools to help answer questions.

You have access to the following tools:
{tools_description}

When you need to use a tool, respond with the following JSON format:
` + "```json" + `
{
    "thought": "Your reasoning about what to do",
    "action": "tool_name",
    "action_input": {"param1": "value1"}
}
` + "```" + `

When you have the final answer and don't need any more tools, respond with:
` + "```json" + `
{
    "thought": "Your final reasoning",
    "action": "final_answer",
    "action_input": {"answer": "Your final answer to the user"}
}
` + "```" + `

Important rules:
1. Always think step by step before taking action
2. Only use one tool at a time
3. Wait for the observation before continuing
4. Provide clear, helpful answers
5. If you cannot answer with the available tools, explain what you need

Current conversation:
{history}
`

// ReActAgent alternates between a reasoning turn and a tool action until the
// model produces a final answer or the iteration budget runs out.
type ReActAgent struct {
	agent.Base
}

// NewReActAgent creates a ReAct agent.
func NewReActAgent(provider llms.Provider, tools []agent.Tool, cfg agent.Config) *ReActAgent {
	return &ReActAgent{Base: agent.NewBase(provider, tools, cfg)}
}

// Type returns "react".
func (a *ReActAgent) Type() string { return "react" }

// reactDecision is one parsed reasoning turn. An empty or unknown action is
// treated as a final answer.
type reactDecision struct {
	Thought     string         `json:"thought"`
	Action      string         `json:"action"`
	ActionInput map[string]any `json:"action_input"`
}

func parseReActDecision(content string) reactDecision {
	var d reactDecision
	if decodeDecision(content, &d) {
		return d
	}
	return reactDecision{
		Thought:     "Providing direct response",
		Action:      "final_answer",
		ActionInput: map[string]any{"answer": content},
	}
}

func (a *ReActAgent) buildSystemPrompt(actx *agent.Context) string {
	base := a.Config.SystemPrompt
	if base == "" {
		base = reactSystemPrompt
	}
	prompt := strings.ReplaceAll(base, "{tools_description}", describeTools(a.Tools(), false, "No tools available."))
	return strings.ReplaceAll(prompt, "{history}", formatHistory(actx.RecentHistory(10), 10, 200))
}

// Process runs the Thought-Action-Observation loop.
func (a *ReActAgent) Process(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) error {
	actx.AddMessage(llms.Message{Role: llms.RoleUser, Content: message})

	for iteration := 0; iteration < a.Config.MaxIterations; iteration++ {
		if actx.IsCancelled() {
			return agent.ErrRunCancelled
		}

		if err := emit.Emit(agui.NewStepStartedEvent("thinking")); err != nil {
			return err
		}

		messages := append(
			[]llms.Message{{Role: llms.RoleSystem, Content: a.buildSystemPrompt(actx)}},
			actx.History()...,
		)

		stream, err := a.Provider.ChatStream(ctx, messages, nil,
			llms.WithTemperature(a.Config.Temperature),
			llms.WithMaxTokens(a.Config.MaxTokens),
		)
		if err != nil {
			return err
		}

		content, err := collectStream(stream, func(text string) error {
			return emit.Emit(agui.NewStepContentEvent("thinking", text))
		})
		if err != nil {
			return err
		}

		if err := emit.Emit(agui.NewStepFinishedEvent("thinking")); err != nil {
			return err
		}

		decision := parseReActDecision(content)
		actx.AddMessage(llms.Message{Role: llms.RoleAssistant, Content: content})

		if decision.Action == "final_answer" || decision.Action == "" {
			answer := content
			if v, ok := decision.ActionInput["answer"].(string); ok {
				answer = v
			}
			return a.emitFinalAnswer(emit, "final_answer", answer)
		}

		if err := a.executeAction(ctx, actx, emit, decision); err != nil {
			return err
		}
	}

	// Iteration budget exhausted: answer from whatever was learned.
	fallback := "I've reached the maximum number of reasoning steps. " +
		"Based on my analysis, here's what I found:\n\n"
	if history := actx.History(); len(history) > 0 {
		fallback += history[len(history)-1].Content
	} else {
		fallback += "Unable to provide a conclusion."
	}
	return a.emitFinalAnswer(emit, "final", fallback)
}

func (a *ReActAgent) emitFinalAnswer(emit *agent.Emitter, stepName, answer string) error {
	if err := emit.Emit(agui.NewStepStartedEvent(stepName)); err != nil {
		return err
	}
	messageID := uuid.New().String()
	if err := emit.Emit(agui.NewTextMessageStartEvent(messageID, "assistant")); err != nil {
		return err
	}
	if err := streamAnswer(emit, messageID, answer); err != nil {
		return err
	}
	if err := emit.Emit(agui.NewTextMessageEndEvent(messageID)); err != nil {
		return err
	}
	return emit.Emit(agui.NewStepFinishedEvent(stepName))
}

func (a *ReActAgent) executeAction(ctx context.Context, actx *agent.Context, emit *agent.Emitter, decision reactDecision) error {
	if err := emit.Emit(agui.NewStepStartedEvent("action")); err != nil {
		return err
	}

	toolCallID := uuid.New().String()
	if err := emit.Emit(agui.NewToolCallStartEvent(toolCallID, decision.Action, "")); err != nil {
		return err
	}
	args, _ := json.Marshal(decision.ActionInput)
	if err := emit.Emit(agui.NewToolCallArgsEvent(toolCallID, string(args))); err != nil {
		return err
	}
	if err := emit.Emit(agui.NewToolCallEndEvent(toolCallID)); err != nil {
		return err
	}

	result := a.CallTool(ctx, decision.Action, decision.ActionInput, toolCallID)
	resultContent := result.Content
	if !result.Success {
		resultContent = "Error: " + result.Error
	}

	if err := emit.Emit(agui.NewToolCallResultEvent(toolCallID, resultContent)); err != nil {
		return err
	}
	if err := emit.Emit(agui.NewStepFinishedEvent("action")); err != nil {
		return err
	}

	actx.AddMessage(llms.Message{
		Role:    llms.RoleUser,
		Content: "Observation: " + resultContent,
	})
	return nil
}
