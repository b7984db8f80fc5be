package reasoning

import (
	"context"
	"sync"

	"github.com/LunaDeerTech/Agentex/llms"
)

// scriptedProvider replays a fixed sequence of completions, one per call,
// and records the messages each call received. Tests use it to drive the
// variants deterministically.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     [][]llms.Message
	streamErr error // returned as a chunk on the first streamed call when set
}

func newScriptedProvider(responses ...string) *scriptedProvider {
	return &scriptedProvider{responses: responses}
}

func (p *scriptedProvider) next(messages []llms.Message) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	if len(p.responses) == 0 {
		return ""
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, opts ...llms.CallOption) (*llms.Response, error) {
	content := p.next(messages)
	return &llms.Response{Content: content, Role: "assistant", FinishReason: "stop"}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, opts ...llms.CallOption) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 8)

	p.mu.Lock()
	err := p.streamErr
	p.streamErr = nil
	p.mu.Unlock()

	if err != nil {
		p.next(messages)
		ch <- llms.StreamChunk{Err: err, IsFinal: true}
		close(ch)
		return ch, nil
	}

	content := p.next(messages)
	go func() {
		defer close(ch)
		// Split in two so collectors see multiple fragments.
		mid := len(content) / 2
		if mid > 0 {
			ch <- llms.StreamChunk{Content: content[:mid]}
		}
		ch <- llms.StreamChunk{Content: content[mid:]}
		ch <- llms.StreamChunk{FinishReason: "stop", IsFinal: true}
	}()
	return ch, nil
}

func (p *scriptedProvider) TestConnection(ctx context.Context) llms.ConnectionStatus {
	return llms.ConnectionStatus{OK: true, Message: "scripted"}
}

func (p *scriptedProvider) Close() error { return nil }
