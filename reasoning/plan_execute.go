package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// PlanConfig tunes the plan-and-execute loop.
type PlanConfig struct {
	MaxExecutionRetries int `yaml:"max_execution_retries,omitempty" json:"max_execution_retries,omitempty"`
	MaxTasksPerPlan     int `yaml:"max_tasks_per_plan,omitempty" json:"max_tasks_per_plan,omitempty"`
}

// SetDefaults fills zero-valued fields.
func (c *PlanConfig) SetDefaults() {
	if c.MaxExecutionRetries == 0 {
		c.MaxExecutionRetries = 2
	}
	if c.MaxTasksPerPlan == 0 {
		c.MaxTasksPerPlan = 10
	}
}

// ============================================================================
// PROMPTS
// ============================================================================

const planningTemperature = 0.3

const planningSystemPrompt = `You are a planning assistant. Break down the user's request into a structured plan.

Available tools:
{tools_description}

Respond with a JSON plan in this exact format:
` + "```json" + `
{
    "goal": "The overall goal restated clearly",
    "tasks": [
        {
            "id": "task_1",
            "title": "Short task title",
            "description": "What needs to be done and how",
            "dependencies": []
        },
        {
            "id": "task_2",
            "title": "Another task",
            "description": "This task needs task_1's output",
            "dependencies": ["task_1"]
        }
    ]
}
` + "```" + `

Rules:
1. Keep plans minimal: use the fewest tasks that accomplish the goal
2. Each task should be independently executable given its dependencies
3. Dependencies reference task ids that must complete first
4. Simple requests may need only one task

Conversation history:
{history}
`

const executionSystemPrompt = `You are executing one task from a larger plan.

## Goal
{goal}

## Current Task
Title: {task_title}
Description: {task_description}

## Completed Task Results
{completed_results}

## Available Tools
{tools_description}

Decide how to proceed. Respond with JSON:

To use a tool:
` + "```json" + `
{
    "action": "tool",
    "tool_name": "name",
    "tool_input": {"param": "value"}
}
` + "```" + `

When the task is done:
` + "```json" + `
{
    "action": "complete",
    "result": "What this task produced or found"
}
` + "```" + `

If the task cannot be completed:
` + "```json" + `
{
    "action": "fail",
    "reason": "Why the task cannot be completed"
}
` + "```" + `
`

const synthesisSystemPrompt = `You are summarizing the results of an executed plan for the user.

## Goal
{goal}

## Task Results
{task_results}

Write a clear, complete answer to the user's original request based on these results. Do not mention the plan structure or task mechanics; just answer.`

// ============================================================================
// PLAN AND EXECUTE AGENT
// ============================================================================

// PlanAndExecuteAgent plans a task graph up front, executes tasks as their
// dependencies complete, then synthesizes a final answer from the results.
type PlanAndExecuteAgent struct {
	agent.Base

	planConfig PlanConfig
}

// NewPlanAndExecuteAgent creates a plan-and-execute agent.
func NewPlanAndExecuteAgent(provider llms.Provider, tools []agent.Tool, cfg agent.Config, planCfg PlanConfig) *PlanAndExecuteAgent {
	planCfg.SetDefaults()
	return &PlanAndExecuteAgent{
		Base:       agent.NewBase(provider, tools, cfg),
		planConfig: planCfg,
	}
}

// Type returns "plan_execute".
func (a *PlanAndExecuteAgent) Type() string { return "plan_execute" }

// Process runs the three phases: plan, execute, synthesize.
func (a *PlanAndExecuteAgent) Process(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) error {
	actx.AddMessage(llms.Message{Role: llms.RoleUser, Content: message})

	plan, err := a.planPhase(ctx, message, actx, emit)
	if err != nil || plan == nil {
		return err
	}

	if err := emit.Emit(agui.NewStateSnapshotEvent(map[string]any{"plan": plan})); err != nil {
		return err
	}

	if err := a.executePhase(ctx, actx, emit, plan); err != nil {
		return err
	}

	return a.synthesizePhase(ctx, actx, emit, plan)
}

// ============================================================================
// PLANNING
// ============================================================================

func (a *PlanAndExecuteAgent) planPhase(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) (*Plan, error) {
	if err := emit.Emit(agui.NewStepStartedEvent("planning")); err != nil {
		return nil, err
	}

	system := strings.ReplaceAll(planningSystemPrompt, "{tools_description}", describeTools(a.Tools(), false, "No tools available."))
	history := actx.History()
	if len(history) > 0 {
		history = history[:len(history)-1] // the user message is sent separately
	}
	system = strings.ReplaceAll(system, "{history}", formatHistory(history, 10, 200))

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: message},
	}

	stream, err := a.Provider.ChatStream(ctx, messages, nil,
		llms.WithTemperature(planningTemperature),
		llms.WithMaxTokens(a.Config.MaxTokens),
	)
	if err != nil {
		return nil, err
	}

	content, err := collectStream(stream, func(text string) error {
		return emit.Emit(agui.NewStepContentEvent("planning", text))
	})
	if err != nil {
		return nil, err
	}

	if err := emit.Emit(agui.NewStepFinishedEvent("planning")); err != nil {
		return nil, err
	}

	plan := parsePlan(content, a.planConfig.MaxTasksPerPlan)
	if plan == nil {
		// No structured plan came back: answer directly with the raw content.
		messageID := uuid.New().String()
		if err := emit.Emit(agui.NewTextMessageStartEvent(messageID, "assistant")); err != nil {
			return nil, err
		}
		direct := "I couldn't create a structured plan. Let me answer directly:\n\n" + content
		if err := emit.Emit(agui.NewTextMessageContentEvent(messageID, direct)); err != nil {
			return nil, err
		}
		return nil, emit.Emit(agui.NewTextMessageEndEvent(messageID))
	}
	return plan, nil
}

// ============================================================================
// EXECUTION
// ============================================================================

func (a *PlanAndExecuteAgent) executePhase(ctx context.Context, actx *agent.Context, emit *agent.Emitter, plan *Plan) error {
	for {
		if actx.IsCancelled() {
			return agent.ErrRunCancelled
		}

		task, idx := plan.NextExecutableTask()
		if task == nil {
			// Either every task has settled or the remaining pending tasks
			// are stranded behind failed dependencies; both end execution.
			return nil
		}

		task.Status = TaskInProgress
		if err := emit.Emit(agui.NewStateDeltaEvent(agui.PatchOp{
			Op:    "replace",
			Path:  fmt.Sprintf("/plan/tasks/%d/status", idx),
			Value: TaskInProgress,
		})); err != nil {
			return err
		}

		stepName := "executing:" + task.ID
		if err := emit.Emit(agui.NewStepStartedEvent(stepName)); err != nil {
			return err
		}

		if err := a.executeTask(ctx, actx, emit, plan, task, stepName); err != nil {
			return err
		}

		if err := emit.Emit(agui.NewStepFinishedEvent(stepName)); err != nil {
			return err
		}
		if err := emit.Emit(agui.NewStateDeltaEvent(agui.PatchOp{
			Op:    "replace",
			Path:  fmt.Sprintf("/plan/tasks/%d", idx),
			Value: task,
		})); err != nil {
			return err
		}
	}
}

type execDecision struct {
	Action    string         `json:"action"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	Result    string         `json:"result"`
	Reason    string         `json:"reason"`
}

func parseExecDecision(content string) execDecision {
	var d execDecision
	if decodeDecision(content, &d) && d.Action != "" {
		return d
	}
	// Unstructured output counts as the task's result.
	return execDecision{Action: "complete", Result: content}
}

func (a *PlanAndExecuteAgent) buildExecutionPrompt(plan *Plan, task *Task) string {
	completed := "None yet."
	if results := plan.CompletedResults(); len(results) > 0 {
		completed = strings.Join(results, "\n\n")
	}

	prompt := strings.ReplaceAll(executionSystemPrompt, "{goal}", plan.Goal)
	prompt = strings.ReplaceAll(prompt, "{task_title}", task.Title)
	prompt = strings.ReplaceAll(prompt, "{task_description}", task.Description)
	prompt = strings.ReplaceAll(prompt, "{completed_results}", completed)
	return strings.ReplaceAll(prompt, "{tools_description}", describeTools(a.Tools(), false, "No tools available."))
}

func (a *PlanAndExecuteAgent) executeTask(ctx context.Context, actx *agent.Context, emit *agent.Emitter, plan *Plan, task *Task, stepName string) error {
	messages := append(
		[]llms.Message{{Role: llms.RoleSystem, Content: a.buildExecutionPrompt(plan, task)}},
		actx.RecentHistory(5)...,
	)

	for retry := 0; retry <= a.planConfig.MaxExecutionRetries; {
		if actx.IsCancelled() {
			return agent.ErrRunCancelled
		}

		stream, err := a.Provider.ChatStream(ctx, messages, nil,
			llms.WithTemperature(a.Config.Temperature),
			llms.WithMaxTokens(a.Config.MaxTokens),
		)
		if err != nil {
			return err
		}

		content, err := collectStream(stream, func(text string) error {
			return emit.Emit(agui.NewStepContentEvent(stepName, text))
		})
		if err != nil {
			return err
		}

		decision := parseExecDecision(content)
		messages = append(messages, llms.Message{Role: llms.RoleAssistant, Content: content})

		switch decision.Action {
		case "tool":
			retry++
			result, err := a.runTaskTool(ctx, emit, decision)
			if err != nil {
				return err
			}
			messages = append(messages, llms.Message{
				Role:    llms.RoleUser,
				Content: "Tool result: " + result,
			})

		case "complete":
			task.Status = TaskCompleted
			task.Result = decision.Result
			if task.Result == "" {
				task.Result = content
			}
			return nil

		case "fail":
			task.Status = TaskFailed
			task.Error = decision.Reason
			if task.Error == "" {
				task.Error = "Task failed"
			}
			return nil

		default:
			task.Status = TaskCompleted
			task.Result = content
			return nil
		}
	}

	task.Status = TaskFailed
	task.Error = "Maximum retries exceeded"
	return nil
}

func (a *PlanAndExecuteAgent) runTaskTool(ctx context.Context, emit *agent.Emitter, decision execDecision) (string, error) {
	toolCallID := uuid.New().String()
	if err := emit.Emit(agui.NewToolCallStartEvent(toolCallID, decision.ToolName, "")); err != nil {
		return "", err
	}
	args, _ := json.Marshal(decision.ToolInput)
	if err := emit.Emit(agui.NewToolCallArgsEvent(toolCallID, string(args))); err != nil {
		return "", err
	}
	if err := emit.Emit(agui.NewToolCallEndEvent(toolCallID)); err != nil {
		return "", err
	}

	result := a.CallTool(ctx, decision.ToolName, decision.ToolInput, toolCallID)
	content := result.Content
	if !result.Success {
		content = "Error: " + result.Error
	}

	if err := emit.Emit(agui.NewToolCallResultEvent(toolCallID, content)); err != nil {
		return "", err
	}
	return content, nil
}

// ============================================================================
// SYNTHESIS
// ============================================================================

func (a *PlanAndExecuteAgent) synthesizePhase(ctx context.Context, actx *agent.Context, emit *agent.Emitter, plan *Plan) error {
	if err := emit.Emit(agui.NewStepStartedEvent("synthesis")); err != nil {
		return err
	}

	var blocks []string
	for _, task := range plan.Tasks {
		result := task.Result
		if result == "" {
			result = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf("### %s\nStatus: %s\nResult: %s", task.Title, task.Status, result))
	}

	system := strings.ReplaceAll(synthesisSystemPrompt, "{goal}", plan.Goal)
	system = strings.ReplaceAll(system, "{task_results}", strings.Join(blocks, "\n\n"))

	messages := append(
		[]llms.Message{{Role: llms.RoleSystem, Content: system}},
		actx.RecentHistory(5)...,
	)

	stream, err := a.Provider.ChatStream(ctx, messages, nil,
		llms.WithTemperature(a.Config.Temperature),
		llms.WithMaxTokens(a.Config.MaxTokens),
	)
	if err != nil {
		return err
	}

	messageID := uuid.New().String()
	if err := emit.Emit(agui.NewTextMessageStartEvent(messageID, "assistant")); err != nil {
		return err
	}

	answer, err := collectStream(stream, func(text string) error {
		return emit.Emit(agui.NewTextMessageContentEvent(messageID, text))
	})
	if err != nil {
		return err
	}
	actx.AddMessage(llms.Message{Role: llms.RoleAssistant, Content: answer})

	if err := emit.Emit(agui.NewTextMessageEndEvent(messageID)); err != nil {
		return err
	}

	if err := emit.Emit(agui.NewStepFinishedEvent("synthesis")); err != nil {
		return err
	}

	return emit.Emit(agui.NewStateSnapshotEvent(map[string]any{
		"plan":   plan,
		"status": "completed",
	}))
}
