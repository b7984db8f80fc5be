package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
	"github.com/LunaDeerTech/Agentex/reasoning"
)

// staticProvider answers every call with the same content.
type staticProvider struct {
	content string
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Chat(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, opts ...llms.CallOption) (*llms.Response, error) {
	return &llms.Response{Content: p.content, Role: llms.RoleAssistant, FinishReason: "stop"}, nil
}

func (p *staticProvider) ChatStream(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, opts ...llms.CallOption) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Content: p.content}
	ch <- llms.StreamChunk{FinishReason: "stop", IsFinal: true}
	close(ch)
	return ch, nil
}

func (p *staticProvider) TestConnection(ctx context.Context) llms.ConnectionStatus {
	return llms.ConnectionStatus{OK: true}
}

func (p *staticProvider) Close() error { return nil }

// slowAgent emits content until cancelled.
type slowAgent struct{}

func (a *slowAgent) Type() string { return "slow" }

func (a *slowAgent) Process(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) error {
	for i := 0; i < 1000; i++ {
		if err := emit.Emit(agui.NewTextMessageContentEvent("m", "tick ")); err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := reasoning.NewRegistry()
	require.NoError(t, registry.Register("slow", func(opts reasoning.Options) (agent.Agent, error) {
		return &slowAgent{}, nil
	}))

	return New(Options{
		Registry: registry,
		AgentOptions: reasoning.Options{
			Provider: &staticProvider{content: "The answer is 4."},
		},
	})
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestTypesEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agent/types", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Types []string `json:"types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Types, "react")
	assert.Contains(t, body.Types, "agentic_rag")
	assert.Contains(t, body.Types, "plan_execute")
	assert.Contains(t, body.Types, "slow")
}

func TestRunValidatesInput(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/agent/run",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message is required")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/agent/run",
		strings.NewReader(`{"message": "hi", "agent_type": "nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported agent type")
}

func TestRunStreamsSSE(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/agent/run",
		strings.NewReader(`{"message": "what is 2+2?", "thread_id": "t1", "run_id": "r1"}`))
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: RUN_STARTED\n"))
	assert.Contains(t, body, "event: TEXT_MESSAGE_CONTENT\n")
	assert.Contains(t, body, "event: RUN_FINISHED\n")
	assert.Contains(t, body, "The answer")

	// Every frame is "event: TYPE" then "data: {json}" then a blank line.
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, frame)
		assert.True(t, strings.HasPrefix(lines[0], "event: "))
		assert.True(t, strings.HasPrefix(lines[1], "data: "))
		assert.True(t, json.Valid([]byte(strings.TrimPrefix(lines[1], "data: "))))
	}

	// The run is no longer tracked once the stream ends.
	assert.Nil(t, s.lookupRun("r1"))
}

// noopAgent finishes immediately without emitting anything.
type noopAgent struct{}

func (a *noopAgent) Type() string { return "noop" }

func (a *noopAgent) Process(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) error {
	return nil
}

func TestRunForwardedPropsOverrideOptions(t *testing.T) {
	s := newTestServer(t)

	var captured reasoning.Options
	require.NoError(t, s.registry.Register("probe", func(opts reasoning.Options) (agent.Agent, error) {
		captured = opts
		return &noopAgent{}, nil
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/agent/run",
		strings.NewReader(`{
			"message": "hi",
			"forwarded_props": {
				"agent_type": "probe",
				"temperature": 0.2,
				"max_tokens": 123,
				"system_prompt": "be brief",
				"knowledge_base_ids": ["kb1"],
				"always_retrieve": true
			}
		}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: RUN_FINISHED\n")

	assert.Equal(t, 0.2, captured.Config.Temperature)
	assert.Equal(t, 123, captured.Config.MaxTokens)
	assert.Equal(t, "be brief", captured.Config.SystemPrompt)
	assert.Equal(t, []string{"kb1"}, captured.KnowledgeBaseIDs)
	assert.True(t, captured.RAG.AlwaysRetrieve)
}

func TestStopUnknownRun(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/agent/run/nope/stop", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run nope not found")
}

func TestStopCancelsActiveRun(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/agent/run", "application/json",
		bytes.NewReader([]byte(`{"message": "go", "agent_type": "slow", "run_id": "r-stop"}`)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Wait for the stream to start, then stop the run.
	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	stopResp, err := http.Post(ts.URL+"/v1/agent/run/r-stop/stop", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = stopResp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, stopResp.StatusCode)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	body := string(rest)
	assert.Contains(t, body, "event: RUN_ERROR\n")
	assert.Contains(t, body, agui.CodeRunCancelled)
	assert.NotContains(t, body, "event: RUN_FINISHED\n")
}
