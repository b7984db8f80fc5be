// Package agui implements the AG-UI event vocabulary used between agents
// and streaming clients. Events serialize to SSE frames via ToSSE.
package agui

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// EVENT TYPES
// ============================================================================

// EventType identifies an AG-UI event on the wire.
type EventType string

const (
	// Lifecycle events
	EventRunStarted  EventType = "RUN_STARTED"
	EventRunFinished EventType = "RUN_FINISHED"
	EventRunError    EventType = "RUN_ERROR"

	// Text message events
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"

	// Tool call events
	EventToolCallStart  EventType = "TOOL_CALL_START"
	EventToolCallArgs   EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd    EventType = "TOOL_CALL_END"
	EventToolCallResult EventType = "TOOL_CALL_RESULT"

	// Step events (reasoning process)
	EventStepStarted  EventType = "STEP_STARTED"
	EventStepContent  EventType = "STEP_CONTENT"
	EventStepFinished EventType = "STEP_FINISHED"

	// State events
	EventStateSnapshot EventType = "STATE_SNAPSHOT"
	EventStateDelta    EventType = "STATE_DELTA"
)

// Error codes carried by RUN_ERROR events.
const (
	CodeAgentError   = "AGENT_ERROR"
	CodeRunCancelled = "RUN_CANCELLED"
)

// Event is implemented by every AG-UI event struct.
type Event interface {
	EventType() EventType
}

// BaseEvent carries the fields common to all events.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

// EventType returns the event's wire type.
func (e BaseEvent) EventType() EventType { return e.Type }

func newBase(t EventType) BaseEvent {
	return BaseEvent{Type: t, Timestamp: time.Now().UnixMilli()}
}

// ============================================================================
// LIFECYCLE EVENTS
// ============================================================================

// RunStartedEvent marks the beginning of an agent run.
type RunStartedEvent struct {
	BaseEvent
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// NewRunStartedEvent creates a RUN_STARTED event.
func NewRunStartedEvent(threadID, runID string) *RunStartedEvent {
	return &RunStartedEvent{
		BaseEvent: newBase(EventRunStarted),
		ThreadID:  threadID,
		RunID:     runID,
	}
}

// RunFinishedEvent marks successful completion of a run. An empty Result is
// omitted from the frame rather than serialized as an explicit null;
// consumers must treat a missing and a null result the same.
type RunFinishedEvent struct {
	BaseEvent
	ThreadID string         `json:"thread_id"`
	RunID    string         `json:"run_id"`
	Result   map[string]any `json:"result,omitempty"`
}

// NewRunFinishedEvent creates a RUN_FINISHED event.
func NewRunFinishedEvent(threadID, runID string, result map[string]any) *RunFinishedEvent {
	return &RunFinishedEvent{
		BaseEvent: newBase(EventRunFinished),
		ThreadID:  threadID,
		RunID:     runID,
		Result:    result,
	}
}

// RunErrorEvent marks abnormal termination of a run.
type RunErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewRunErrorEvent creates a RUN_ERROR event with the given code.
func NewRunErrorEvent(message, code string) *RunErrorEvent {
	if code == "" {
		code = CodeAgentError
	}
	return &RunErrorEvent{
		BaseEvent: newBase(EventRunError),
		Message:   message,
		Code:      code,
	}
}

// ============================================================================
// TEXT MESSAGE EVENTS
// ============================================================================

// TextMessageStartEvent opens a streamed assistant message.
type TextMessageStartEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
}

// NewTextMessageStartEvent creates a TEXT_MESSAGE_START event. An empty
// messageID gets a fresh UUID.
func NewTextMessageStartEvent(messageID, role string) *TextMessageStartEvent {
	if messageID == "" {
		messageID = uuid.New().String()
	}
	if role == "" {
		role = "assistant"
	}
	return &TextMessageStartEvent{
		BaseEvent: newBase(EventTextMessageStart),
		MessageID: messageID,
		Role:      role,
	}
}

// TextMessageContentEvent carries one streamed text fragment.
type TextMessageContentEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// NewTextMessageContentEvent creates a TEXT_MESSAGE_CONTENT event.
func NewTextMessageContentEvent(messageID, delta string) *TextMessageContentEvent {
	return &TextMessageContentEvent{
		BaseEvent: newBase(EventTextMessageContent),
		MessageID: messageID,
		Delta:     delta,
	}
}

// TextMessageEndEvent closes a streamed message.
type TextMessageEndEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
}

// NewTextMessageEndEvent creates a TEXT_MESSAGE_END event.
func NewTextMessageEndEvent(messageID string) *TextMessageEndEvent {
	return &TextMessageEndEvent{
		BaseEvent: newBase(EventTextMessageEnd),
		MessageID: messageID,
	}
}

// ============================================================================
// TOOL CALL EVENTS
// ============================================================================

// ToolCallStartEvent announces a tool invocation. An empty ParentMessageID
// is omitted from the frame rather than serialized as an explicit null.
type ToolCallStartEvent struct {
	BaseEvent
	ToolCallID      string `json:"tool_call_id"`
	ToolCallName    string `json:"tool_call_name"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// NewToolCallStartEvent creates a TOOL_CALL_START event. An empty toolCallID
// gets a fresh UUID.
func NewToolCallStartEvent(toolCallID, toolName, parentMessageID string) *ToolCallStartEvent {
	if toolCallID == "" {
		toolCallID = uuid.New().String()
	}
	return &ToolCallStartEvent{
		BaseEvent:       newBase(EventToolCallStart),
		ToolCallID:      toolCallID,
		ToolCallName:    toolName,
		ParentMessageID: parentMessageID,
	}
}

// ToolCallArgsEvent streams a fragment of the tool call's arguments.
type ToolCallArgsEvent struct {
	BaseEvent
	ToolCallID string `json:"tool_call_id"`
	Delta      string `json:"delta"`
}

// NewToolCallArgsEvent creates a TOOL_CALL_ARGS event.
func NewToolCallArgsEvent(toolCallID, delta string) *ToolCallArgsEvent {
	return &ToolCallArgsEvent{
		BaseEvent:  newBase(EventToolCallArgs),
		ToolCallID: toolCallID,
		Delta:      delta,
	}
}

// ToolCallEndEvent marks the tool call's arguments as complete.
type ToolCallEndEvent struct {
	BaseEvent
	ToolCallID string `json:"tool_call_id"`
}

// NewToolCallEndEvent creates a TOOL_CALL_END event.
func NewToolCallEndEvent(toolCallID string) *ToolCallEndEvent {
	return &ToolCallEndEvent{
		BaseEvent:  newBase(EventToolCallEnd),
		ToolCallID: toolCallID,
	}
}

// ToolCallResultEvent carries the outcome of an executed tool call.
type ToolCallResultEvent struct {
	BaseEvent
	MessageID  string `json:"message_id"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Role       string `json:"role"`
}

// NewToolCallResultEvent creates a TOOL_CALL_RESULT event with a fresh
// message id.
func NewToolCallResultEvent(toolCallID, content string) *ToolCallResultEvent {
	return &ToolCallResultEvent{
		BaseEvent:  newBase(EventToolCallResult),
		MessageID:  uuid.New().String(),
		ToolCallID: toolCallID,
		Content:    content,
		Role:       "tool",
	}
}

// ============================================================================
// STEP EVENTS
// ============================================================================

// StepStartedEvent opens a named reasoning step.
type StepStartedEvent struct {
	BaseEvent
	StepName string `json:"step_name"`
}

// NewStepStartedEvent creates a STEP_STARTED event.
func NewStepStartedEvent(stepName string) *StepStartedEvent {
	return &StepStartedEvent{
		BaseEvent: newBase(EventStepStarted),
		StepName:  stepName,
	}
}

// StepContentEvent streams content produced within a step.
type StepContentEvent struct {
	BaseEvent
	StepName string `json:"step_name"`
	Delta    string `json:"delta"`
}

// NewStepContentEvent creates a STEP_CONTENT event.
func NewStepContentEvent(stepName, delta string) *StepContentEvent {
	return &StepContentEvent{
		BaseEvent: newBase(EventStepContent),
		StepName:  stepName,
		Delta:     delta,
	}
}

// StepFinishedEvent closes a named reasoning step.
type StepFinishedEvent struct {
	BaseEvent
	StepName string `json:"step_name"`
}

// NewStepFinishedEvent creates a STEP_FINISHED event.
func NewStepFinishedEvent(stepName string) *StepFinishedEvent {
	return &StepFinishedEvent{
		BaseEvent: newBase(EventStepFinished),
		StepName:  stepName,
	}
}

// ============================================================================
// STATE EVENTS
// ============================================================================

// StateSnapshotEvent carries a complete state snapshot.
type StateSnapshotEvent struct {
	BaseEvent
	Snapshot map[string]any `json:"snapshot"`
}

// NewStateSnapshotEvent creates a STATE_SNAPSHOT event.
func NewStateSnapshotEvent(snapshot map[string]any) *StateSnapshotEvent {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return &StateSnapshotEvent{
		BaseEvent: newBase(EventStateSnapshot),
		Snapshot:  snapshot,
	}
}

// PatchOp is a single JSON-Patch style operation against the state most
// recently published via STATE_SNAPSHOT.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// StateDeltaEvent carries an incremental state update.
type StateDeltaEvent struct {
	BaseEvent
	Delta []PatchOp `json:"delta"`
}

// NewStateDeltaEvent creates a STATE_DELTA event.
func NewStateDeltaEvent(ops ...PatchOp) *StateDeltaEvent {
	if ops == nil {
		ops = []PatchOp{}
	}
	return &StateDeltaEvent{
		BaseEvent: newBase(EventStateDelta),
		Delta:     ops,
	}
}
