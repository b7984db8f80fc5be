package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/LunaDeerTech/Agentex/httpclient"
)

// marshalWithExtras marshals a request struct, then merges extra field maps
// into the resulting JSON object. Later maps win on key collision.
func marshalWithExtras(req any, extras ...map[string]any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	merged := false
	for _, extra := range extras {
		if len(extra) > 0 {
			merged = true
			break
		}
	}
	if !merged {
		return body, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to merge extra fields: %w", err)
	}
	for _, extra := range extras {
		for k, v := range extra {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// sendChunk delivers a chunk unless the request context ends first, so a
// stream goroutine never blocks forever on a consumer that stopped pulling.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// probeConnection issues a minimal completion and categorizes the outcome.
func probeConnection(ctx context.Context, p Provider) ConnectionStatus {
	start := time.Now()
	resp, err := p.Chat(ctx,
		[]Message{{Role: RoleUser, Content: "Say 'OK' to confirm the connection works."}},
		nil,
		WithMaxTokens(10),
		WithTemperature(0),
	)
	if err != nil {
		return ConnectionStatus{OK: false, Message: categorizeProbeError(err)}
	}

	return ConnectionStatus{
		OK:      true,
		Message: fmt.Sprintf("Connection successful. Model: %s", resp.Model),
		Info: map[string]any{
			"model":      resp.Model,
			"latency_ms": time.Since(start).Milliseconds(),
			"response":   truncate(resp.Content, 100),
		},
	}
}

func categorizeProbeError(err error) string {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("HTTP %d: %s", statusErr.StatusCode, truncate(statusErr.Body, 200))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return "Connection error: " + err.Error()
	}

	return "Unexpected error: " + err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
