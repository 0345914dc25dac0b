package event

import (
	"encoding/json"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

// ParseToolOutput decodes the raw JSON-RPC tool result content for opName
// into a plain result map. MCP tool results arrive in one of two shapes:
//
//  1. a list whose first element is a map with a "text" field, itself a
//     JSON-encoded object (the common case for tools that return a single
//     text content block); or
//  2. a list whose first element is already the result map, with no "text"
//     wrapper.
//
// Any other top-level shape, an empty list, an empty or non-string "text"
// field, or invalid embedded JSON, fails with a ToolParse error naming the
// operation so callers can report a consistent diagnostic regardless of
// which shape the underlying tool used.
func ParseToolOutput(raw []byte, opName string) (map[string]any, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, bridgeerr.Errorf(bridgeerr.ToolParse, "%s: tool output is not a JSON list: %v", opName, err)
	}
	if len(items) == 0 {
		return nil, bridgeerr.Errorf(bridgeerr.ToolParse, "%s: tool output list is empty", opName)
	}

	var first map[string]any
	if err := json.Unmarshal(items[0], &first); err != nil {
		return nil, bridgeerr.Errorf(bridgeerr.ToolParse, "%s: tool output element is not a JSON object: %v", opName, err)
	}

	textRaw, hasText := first["text"]
	if !hasText {
		// Shape 2: the element itself is the result.
		return first, nil
	}

	text, ok := textRaw.(string)
	if !ok || text == "" {
		return nil, bridgeerr.Errorf(bridgeerr.ToolParse, "%s: tool output \"text\" field is missing or not a non-empty string", opName)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, bridgeerr.Errorf(bridgeerr.ToolParse, "%s: tool output \"text\" field is not valid JSON: %v", opName, err)
	}
	return result, nil
}
