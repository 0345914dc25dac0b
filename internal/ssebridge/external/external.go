// Package external declares the collaborator interfaces the tool bridge
// depends on for work it does not implement itself: rendering DSL to PNG,
// validating DSL against a schema, looking up task status, and running
// submitted work durably. Concrete implementations live in the
// subpackages here (httprenderer, fake, jsonschema, inmemqueue,
// temporalqueue, auth).
//
// Renderer, Validator, and StatusTool all return a raw MCP tool-output
// payload rather than a typed Go result: the same dual-shape list that a
// real MCP tool call returns ("text"-wrapped or a bare result object), so
// the collaborator boundary is the same shape whether the underlying
// implementation is an in-process fake, an upstream HTTP render service,
// or (eventually) an actual MCP client. Callers decode it with
// event.ParseToolOutput.
package external

import (
	"context"
	"encoding/json"
)

// RenderRequest is the normalized, defaulted input to a render.
type RenderRequest struct {
	TaskID string
	DSL    json.RawMessage
	Theme  string

	Width                 int
	Height                int
	DeviceScaleFactor     float64
	WaitForLoad           bool
	FullPage              bool
	OptimizePNG           bool
	TimeoutSeconds        int
	BlockResources        bool
	TransparentBackground bool
	UserAgent             string
	PNGQuality            int
	BackgroundColor       string
}

// Renderer converts a normalized UI DSL document into a PNG, reporting
// progress via onProgress as it goes (0-100). Implementations should treat
// onProgress as best-effort: a slow or erroring callback must not abort
// the render. The returned bytes carry a "png_result" object with
// base64_data/width/height/file_size/metadata, wrapped MCP-style.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest, onProgress func(percent int, message string)) ([]byte, error)
}

// Validator checks a normalized DSL document for schema conformance. The
// returned bytes carry {valid, errors, warnings, suggestions}, wrapped
// MCP-style.
type Validator interface {
	Validate(ctx context.Context, dsl json.RawMessage) ([]byte, error)
}

// StatusTool looks up the current status of a previously submitted task,
// for clients polling get_render_status instead of watching the stream.
// The returned bytes carry {task_id, status, progress, result?, error?},
// wrapped MCP-style.
type StatusTool interface {
	Status(ctx context.Context, taskID string) ([]byte, error)
}

// TaskQueue submits background work for a task and allows revoking it
// before completion. Submit must return promptly; the work itself runs
// asynchronously and reports progress/completion through the task
// tracker, not through Submit's return value.
type TaskQueue interface {
	Submit(ctx context.Context, taskID string, work func(ctx context.Context) error) error
	Revoke(ctx context.Context, taskID string) error
}

// Auth validates an inbound API key (or dev-mode bypass) and returns an
// opaque credential hash suitable for persisting on a Connection record.
type Auth interface {
	Authenticate(ctx context.Context, apiKey string) (credentialHash string, err error)
}

// WrapDirect encodes result as dual-shape MCP tool output whose single
// list element is the result map itself.
func WrapDirect(result map[string]any) ([]byte, error) {
	return json.Marshal([]map[string]any{result})
}

// WrapText encodes result as dual-shape MCP tool output whose single list
// element carries result JSON-encoded under a "text" field, the shape MCP
// text-content tool responses use.
func WrapText(result map[string]any) ([]byte, error) {
	inner, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]map[string]any{{"text": string(inner)}})
}
