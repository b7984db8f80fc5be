// Package reasoning implements the agent variants: ReAct, Agentic-RAG, and
// Plan-and-Execute. Each variant drives the shared agent core with its own
// loop and prompt scheme.
package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
)

// ============================================================================
// DECISION PARSING
// ============================================================================

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// decodeDecision extracts a JSON decision from model output: a fenced code
// block first, the whole content second. Returns false when neither parses.
func decodeDecision(content string, v any) bool {
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), v) == nil {
			return true
		}
	}
	return json.Unmarshal([]byte(strings.TrimSpace(content)), v) == nil
}

// extractJSON returns the fenced block when present, the trimmed content
// otherwise.
func extractJSON(content string) string {
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// ============================================================================
// ANSWER STREAMING
// ============================================================================

const (
	answerChunkSize  = 10
	answerChunkDelay = 20 * time.Millisecond
)

// streamAnswer re-chunks an already-complete answer into small paced
// fragments so clients render it progressively.
func streamAnswer(emit *agent.Emitter, messageID, text string) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += answerChunkSize {
		end := start + answerChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := emit.Emit(agui.NewTextMessageContentEvent(messageID, string(runes[start:end]))); err != nil {
			return err
		}
		time.Sleep(answerChunkDelay)
	}
	return nil
}

// ============================================================================
// STREAM COLLECTION
// ============================================================================

// collectStream drains a provider stream, forwarding each text fragment
// through onText and returning the accumulated content. On early return the
// remainder is drained in the background so the producer goroutine can
// finish and release its connection.
func collectStream(ch <-chan llms.StreamChunk, onText func(string) error) (string, error) {
	var full strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			drainStream(ch)
			return full.String(), chunk.Err
		}
		if chunk.Content != "" {
			full.WriteString(chunk.Content)
			if err := onText(chunk.Content); err != nil {
				drainStream(ch)
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

func drainStream(ch <-chan llms.StreamChunk) {
	go func() {
		for range ch {
		}
	}()
}

// ============================================================================
// PROMPT FRAGMENTS
// ============================================================================

// formatHistory renders the last `limit` messages, each truncated to
// maxLen runes. Truncation slices runes, never bytes, so multibyte content
// cannot leak invalid UTF-8 into a prompt.
func formatHistory(messages []llms.Message, limit, maxLen int) string {
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if len(messages) == 0 {
		return "No previous messages."
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := msg.Content
		if runes := []rune(content); len(runes) > maxLen {
			content = string(runes[:maxLen]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", capitalize(string(msg.Role)), content))
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// describeTools renders the tool catalog for a prompt.
func describeTools(tools []agent.Tool, bold bool, empty string) string {
	if len(tools) == 0 {
		return empty
	}
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		params, _ := json.Marshal(tool.Parameters)
		name := tool.Name
		if bold {
			name = "**" + name + "**"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s\n  Parameters: %s", name, tool.Description, params))
	}
	return strings.Join(lines, "\n")
}
