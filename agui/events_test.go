package agui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeValues(t *testing.T) {
	want := map[Event]EventType{
		NewRunStartedEvent("t", "r"):             EventRunStarted,
		NewRunFinishedEvent("t", "r", nil):       EventRunFinished,
		NewRunErrorEvent("boom", ""):             EventRunError,
		NewTextMessageStartEvent("m", ""):        EventTextMessageStart,
		NewTextMessageContentEvent("m", "hi"):    EventTextMessageContent,
		NewTextMessageEndEvent("m"):              EventTextMessageEnd,
		NewToolCallStartEvent("tc", "calc", ""):  EventToolCallStart,
		NewToolCallArgsEvent("tc", "{"):          EventToolCallArgs,
		NewToolCallEndEvent("tc"):                EventToolCallEnd,
		NewToolCallResultEvent("tc", "42"):       EventToolCallResult,
		NewStepStartedEvent("thinking"):          EventStepStarted,
		NewStepContentEvent("thinking", "..."):   EventStepContent,
		NewStepFinishedEvent("thinking"):         EventStepFinished,
		NewStateSnapshotEvent(nil):               EventStateSnapshot,
		NewStateDeltaEvent():                     EventStateDelta,
	}
	for e, typ := range want {
		assert.Equal(t, typ, e.EventType())
	}
}

func TestTimestampIsMilliseconds(t *testing.T) {
	before := time.Now().UnixMilli()
	e := NewRunStartedEvent("thread-1", "run-1")
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, e.Timestamp, before)
	assert.LessOrEqual(t, e.Timestamp, after)
}

func TestRunErrorDefaultsToAgentError(t *testing.T) {
	e := NewRunErrorEvent("something broke", "")
	assert.Equal(t, CodeAgentError, e.Code)

	e = NewRunErrorEvent("stopped", CodeRunCancelled)
	assert.Equal(t, CodeRunCancelled, e.Code)
}

func TestMessageStartDefaults(t *testing.T) {
	e := NewTextMessageStartEvent("", "")
	assert.NotEmpty(t, e.MessageID)
	assert.Equal(t, "assistant", e.Role)

	e = NewTextMessageStartEvent("msg-7", "user")
	assert.Equal(t, "msg-7", e.MessageID)
	assert.Equal(t, "user", e.Role)
}

func TestToolCallResultHasToolRoleAndMessageID(t *testing.T) {
	e := NewToolCallResultEvent("tc-1", "done")
	assert.Equal(t, "tool", e.Role)
	assert.NotEmpty(t, e.MessageID)
	assert.Equal(t, "tc-1", e.ToolCallID)
	assert.Equal(t, "done", e.Content)
}

func TestEventJSONFieldNames(t *testing.T) {
	e := NewRunStartedEvent("thread-1", "run-1")
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "RUN_STARTED", got["type"])
	assert.Equal(t, "thread-1", got["thread_id"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.Contains(t, got, "timestamp")
}

func TestToolCallStartOmitsEmptyParent(t *testing.T) {
	data, err := json.Marshal(NewToolCallStartEvent("tc-1", "search", ""))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "parent_message_id")

	data, err = json.Marshal(NewToolCallStartEvent("tc-1", "search", "msg-1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parent_message_id":"msg-1"`)
}

func TestStateDeltaSerializesPatchOps(t *testing.T) {
	e := NewStateDeltaEvent(PatchOp{
		Op:    "replace",
		Path:  "/plan/tasks/0/status",
		Value: "in_progress",
	})
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"delta":[{"op":"replace","path":"/plan/tasks/0/status","value":"in_progress"}]`)
}

func TestStateDeltaEmptyIsList(t *testing.T) {
	data, err := json.Marshal(NewStateDeltaEvent())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"delta":[]`)
}

func TestToSSEFrameShape(t *testing.T) {
	e := NewTextMessageContentEvent("msg-1", "hello")
	frame, err := ToSSE(e)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(frame, "event: TEXT_MESSAGE_CONTENT\ndata: "))
	require.True(t, strings.HasSuffix(frame, "\n\n"))

	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "event: TEXT_MESSAGE_CONTENT\ndata: "), "\n\n")
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, "hello", got["delta"])
	assert.Equal(t, "msg-1", got["message_id"])
}
