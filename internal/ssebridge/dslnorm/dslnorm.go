// Package dslnorm normalizes a UI DSL document supplied as either JSON or
// YAML into canonical JSON, so every downstream component (validator,
// renderer, task payloads) only ever has to deal with one encoding.
package dslnorm

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

// Normalize accepts raw DSL content that may be JSON or YAML and returns
// its canonical JSON encoding. JSON is tried first since it is the common
// case and a strict subset of YAML would otherwise risk silently
// reinterpreting valid JSON through YAML's looser grammar; YAML is
// attempted only when JSON parsing fails.
func Normalize(raw []byte) (json.RawMessage, error) {
	var asJSON any
	if err := json.Unmarshal(raw, &asJSON); err == nil {
		canonical, err := json.Marshal(asJSON)
		if err != nil {
			return nil, bridgeerr.FromError(bridgeerr.ResultSerialize, err)
		}
		return canonical, nil
	}

	var asYAML any
	if err := yaml.Unmarshal(raw, &asYAML); err != nil {
		return nil, bridgeerr.Errorf(bridgeerr.ValidationError, "dsl content is neither valid JSON nor valid YAML: %v", err)
	}
	normalized := normalizeYAMLValue(asYAML)
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return nil, bridgeerr.FromError(bridgeerr.ResultSerialize, err)
	}
	return canonical, nil
}

// normalizeYAMLValue converts the map[string]any / map[any]any mix that
// gopkg.in/yaml.v3 produces into plain map[string]any/[]any/scalar values
// that encoding/json can marshal directly.
func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLValue(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[toString(k)] = normalizeYAMLValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValue(vv)
		}
		return out
	default:
		return val
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}
