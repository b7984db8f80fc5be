package agui

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// SSE ENCODING
// ============================================================================

// ToSSE encodes an event as a Server-Sent Events frame:
//
//	event: <TYPE>\ndata: <json>\n\n
//
// The frame shape is part of the wire contract and must not change.
func ToSSE(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.EventType(), data), nil
}
