package reasoning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
)

const twoTaskPlan = `{
	"goal": "Report the weather",
	"tasks": [
		{"id": "task_1", "title": "Fetch weather", "description": "Get the current weather", "dependencies": []},
		{"id": "task_2", "title": "Summarize", "description": "Summarize the result", "dependencies": ["task_1"]}
	]
}`

func TestPlanExecuteDependencyOrder(t *testing.T) {
	provider := newScriptedProvider(
		twoTaskPlan,
		`{"action": "complete", "result": "Sunny, 21C"}`,
		`{"action": "complete", "result": "It is a sunny day"}`,
		"Today is sunny at 21C.",
	)
	a := NewPlanAndExecuteAgent(provider, nil, agent.Config{}, PlanConfig{})

	run, events := runAgent(t, a, "what's the weather?")
	require.NoError(t, run.Err())

	assert.Equal(t, []string{"planning", "executing:task_1", "executing:task_2", "synthesis"}, stepNames(events))

	// First snapshot carries the parsed plan, the final one the completed state.
	var snapshots []*agui.StateSnapshotEvent
	for _, ev := range events {
		if s, ok := ev.(*agui.StateSnapshotEvent); ok {
			snapshots = append(snapshots, s)
		}
	}
	require.Len(t, snapshots, 2)
	plan, ok := snapshots[0].Snapshot["plan"].(*Plan)
	require.True(t, ok)
	assert.Equal(t, "Report the weather", plan.Goal)
	assert.Equal(t, "completed", snapshots[1].Snapshot["status"])

	final := snapshots[1].Snapshot["plan"].(*Plan)
	for _, task := range final.Tasks {
		assert.Equal(t, TaskCompleted, task.Status)
	}
	assert.Equal(t, "Sunny, 21C", final.Tasks[0].Result)

	// Each task emits status then full-task patches at its index.
	var paths []string
	for _, ev := range events {
		if d, ok := ev.(*agui.StateDeltaEvent); ok {
			require.Len(t, d.Delta, 1)
			assert.Equal(t, "replace", d.Delta[0].Op)
			paths = append(paths, d.Delta[0].Path)
		}
	}
	assert.Equal(t, []string{
		"/plan/tasks/0/status", "/plan/tasks/0",
		"/plan/tasks/1/status", "/plan/tasks/1",
	}, paths)

	assert.Contains(t, messageText(events), "Today is sunny at 21C.")
	assert.Equal(t, agui.EventRunFinished, events[len(events)-1].EventType())

	// The second task's turn saw the first task's result.
	thirdTurn := provider.calls[2]
	assert.Contains(t, thirdTurn[0].Content, "Sunny, 21C")
}

func TestPlanExecuteStrandedTasksStayPending(t *testing.T) {
	provider := newScriptedProvider(
		twoTaskPlan,
		`{"action": "fail", "reason": "weather service is down"}`,
		"I could not fetch the weather.",
	)
	a := NewPlanAndExecuteAgent(provider, nil, agent.Config{}, PlanConfig{})

	run, events := runAgent(t, a, "what's the weather?")
	require.NoError(t, run.Err())

	// task_2 never became executable; synthesis still runs as its own step.
	assert.Equal(t, []string{"planning", "executing:task_1", "synthesis"}, stepNames(events))

	var final *agui.StateSnapshotEvent
	for _, ev := range events {
		if s, ok := ev.(*agui.StateSnapshotEvent); ok {
			final = s
		}
	}
	require.NotNil(t, final)
	plan := final.Snapshot["plan"].(*Plan)
	assert.Equal(t, TaskFailed, plan.Tasks[0].Status)
	assert.Equal(t, "weather service is down", plan.Tasks[0].Error)
	assert.Equal(t, TaskPending, plan.Tasks[1].Status)

	// Synthesis still produced an answer.
	assert.Contains(t, messageText(events), "I could not fetch the weather.")
	assert.Equal(t, agui.EventRunFinished, events[len(events)-1].EventType())
}

func TestPlanExecuteUnparseablePlanAnswersDirectly(t *testing.T) {
	provider := newScriptedProvider("I would just check a weather site.")
	a := NewPlanAndExecuteAgent(provider, nil, agent.Config{}, PlanConfig{})

	run, events := runAgent(t, a, "what's the weather?")
	require.NoError(t, run.Err())

	assert.Equal(t, []string{"planning"}, stepNames(events))
	text := messageText(events)
	assert.Contains(t, text, "I couldn't create a structured plan.")
	assert.Contains(t, text, "I would just check a weather site.")
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, agui.EventRunFinished, events[len(events)-1].EventType())
}

func TestPlanExecuteToolUseAndRetryBudget(t *testing.T) {
	singleTaskPlan := `{
		"goal": "Echo",
		"tasks": [{"id": "t1", "title": "Echo it", "description": "Call echo", "dependencies": []}]
	}`
	toolDecision := `{"action": "tool", "tool_name": "echo", "tool_input": {"text": "hi"}}`

	provider := newScriptedProvider(singleTaskPlan, toolDecision, toolDecision, "Could not finish.")
	a := NewPlanAndExecuteAgent(provider, []agent.Tool{echoTool()}, agent.Config{},
		PlanConfig{MaxExecutionRetries: 1})

	run, events := runAgent(t, a, "echo hi")
	require.NoError(t, run.Err())

	// Two tool rounds, then the retry budget runs out.
	toolResults := 0
	for _, ev := range events {
		if r, ok := ev.(*agui.ToolCallResultEvent); ok {
			toolResults++
			assert.Equal(t, "echo: hi", r.Content)
		}
	}
	assert.Equal(t, 2, toolResults)

	var final *agui.StateSnapshotEvent
	for _, ev := range events {
		if s, ok := ev.(*agui.StateSnapshotEvent); ok {
			final = s
		}
	}
	plan := final.Snapshot["plan"].(*Plan)
	assert.Equal(t, TaskFailed, plan.Tasks[0].Status)
	assert.Equal(t, "Maximum retries exceeded", plan.Tasks[0].Error)
}

func TestParsePlanValidation(t *testing.T) {
	assert.Nil(t, parsePlan("not json at all", 10))
	assert.Nil(t, parsePlan(`{"tasks": [{"id": "a"}]}`, 10))       // goal missing
	assert.Nil(t, parsePlan(`{"goal": "g"}`, 10))                  // tasks missing
	assert.Nil(t, parsePlan(`{"goal": "g", "tasks": []}`, 10))     // tasks empty
	assert.Nil(t, parsePlan(`{"goal": "g", "tasks": "wrong"}`, 10)) // wrong shape

	plan := parsePlan(`{"goal": "g", "tasks": [{"description": "d"}]}`, 10)
	require.NotNil(t, plan)
	require.Len(t, plan.Tasks, 1)
	assert.Len(t, plan.Tasks[0].ID, 8)
	assert.Equal(t, "Untitled Task", plan.Tasks[0].Title)
	assert.Equal(t, TaskPending, plan.Tasks[0].Status)
	assert.NotNil(t, plan.Tasks[0].Dependencies)

	// Oversized plans are clipped.
	var tasks string
	for i := 0; i < 12; i++ {
		if i > 0 {
			tasks += ","
		}
		tasks += fmt.Sprintf(`{"id": "t%d", "title": "T%d"}`, i, i)
	}
	plan = parsePlan(`{"goal": "g", "tasks": [`+tasks+`]}`, 10)
	require.NotNil(t, plan)
	assert.Len(t, plan.Tasks, 10)
}

func TestPlanIsCompleteTerminalStatuses(t *testing.T) {
	plan := &Plan{Tasks: []*Task{
		{ID: "a", Status: TaskCompleted},
		{ID: "b", Status: TaskFailed},
		{ID: "c", Status: TaskSkipped},
	}}
	assert.True(t, plan.IsComplete())

	plan.Tasks[2].Status = TaskInProgress
	assert.False(t, plan.IsComplete())
	plan.Tasks[2].Status = TaskPending
	assert.False(t, plan.IsComplete())
}

func TestPlanNextExecutableTask(t *testing.T) {
	plan := &Plan{Tasks: []*Task{
		{ID: "a", Status: TaskCompleted},
		{ID: "b", Status: TaskPending, Dependencies: []string{"a", "c"}},
		{ID: "c", Status: TaskPending, Dependencies: []string{"a"}},
	}}

	task, idx := plan.NextExecutableTask()
	require.NotNil(t, task)
	assert.Equal(t, "c", task.ID)
	assert.Equal(t, 2, idx)

	task.Status = TaskFailed
	next, idx := plan.NextExecutableTask()
	assert.Nil(t, next) // b is stranded behind c
	assert.Equal(t, -1, idx)
	assert.False(t, plan.IsComplete()) // b still pending
}
