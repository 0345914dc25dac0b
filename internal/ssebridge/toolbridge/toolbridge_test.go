package toolbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
	fakerenderer "github.com/render-mcp/sse-bridge/internal/ssebridge/external/renderer/fake"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/taskqueue/inmemqueue"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/task"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// recordingSender captures every event handed to Send, standing in for
// the connection manager so tests can assert on the emitted SSE sequence
// without a real connection or store-backed stream. Guarded by a mutex
// because async renders emit progress from a background worker goroutine
// while the test goroutine polls the recorded kinds.
type recordingSender struct {
	mu   sync.Mutex
	sent []event.Event
}

func newRecordingSender() *recordingSender {
	return &recordingSender{}
}

func (s *recordingSender) Send(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ev)
	return nil
}

func (s *recordingSender) kinds() []event.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]event.Kind, len(s.sent))
	for i, ev := range s.sent {
		kinds[i] = ev.Kind
	}
	return kinds
}

// fakeValidator implements external.Validator, returning a canned
// dual-shape MCP tool-output payload built with external.WrapText — the
// same shape the real jsonschema validator returns.
type fakeValidator struct {
	valid       bool
	errs        []string
	suggestions []string
	err         error
}

func (v *fakeValidator) Validate(ctx context.Context, dsl json.RawMessage) ([]byte, error) {
	if v.err != nil {
		return nil, v.err
	}
	return external.WrapText(map[string]any{
		"valid":       v.valid,
		"errors":      toAnySlice(v.errs),
		"warnings":    []any{},
		"suggestions": toAnySlice(v.suggestions),
	})
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func newTestBridge(t *testing.T, sender *recordingSender, renderer external.Renderer, validator external.Validator, queue external.TaskQueue) *Bridge {
	t.Helper()
	tracker := task.New(memstore.New(), sender, nil, nil)
	return New(sender, tracker, renderer, validator, queue, nil, telemetry.NewNoopTracer(), nil, nil)
}

func renderArgsJSON(t *testing.T, dsl string, extra map[string]any) json.RawMessage {
	t.Helper()
	args := map[string]any{"dsl_content": dsl}
	for k, v := range extra {
		args[k] = v
	}
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return raw
}

func TestExecuteRenderSyncEmitsFullEventSequence(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, nil)

	raw := renderArgsJSON(t, `{"title":"t","elements":[{"type":"button","label":"Click"}]}`, map[string]any{
		"options": map[string]any{"width": 400, "height": 200},
	})

	result := bridge.Execute(context.Background(), "conn-1", ToolRenderUIMockup, raw)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Result["base64_data"])

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ToolCall)
	assert.Contains(t, kinds, event.RenderStarted)
	assert.Contains(t, kinds, event.RenderCompleted)
	assert.Contains(t, kinds, event.ToolResponse)
	assert.NotContains(t, kinds, event.RenderFailed)
	assert.NotContains(t, kinds, event.ToolError)

	// ToolCall must precede ToolResponse, and RenderStarted must precede
	// RenderCompleted, preserving the protocol's call/started/.../completed
	// ordering from a single caller (P3-equivalent for the tool bridge).
	assert.Less(t, indexOfKind(kinds, event.ToolCall), indexOfKind(kinds, event.ToolResponse))
	assert.Less(t, indexOfKind(kinds, event.RenderStarted), indexOfKind(kinds, event.RenderCompleted))
}

func TestExecuteRenderSyncRejectsMissingDSL(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, nil)

	raw, err := json.Marshal(map[string]any{"options": map[string]any{"width": 400}})
	require.NoError(t, err)

	result := bridge.Execute(context.Background(), "conn-1", ToolRenderUIMockup, raw)
	assert.False(t, result.Success)

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ToolCall)
	assert.NotContains(t, kinds, event.ToolResponse)
	// InvalidArguments maps to both ToolError and ConnectionError per
	// event.KindsForError.
	assert.Contains(t, kinds, event.ToolError)
	assert.Contains(t, kinds, event.ConnectionError)
}

func TestExecuteUnknownToolFails(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, nil)

	result := bridge.Execute(context.Background(), "conn-1", "delete_everything", json.RawMessage(`{}`))
	assert.False(t, result.Success)

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ToolError)
	assert.Contains(t, kinds, event.ConnectionError)
	assert.NotContains(t, kinds, event.ToolResponse)
}

func TestExecuteRenderAsyncReturnsImmediatelyAndCompletesInBackground(t *testing.T) {
	sender := newRecordingSender()
	queue := inmemqueue.New(2, nil)
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, queue)

	raw := renderArgsJSON(t, `{"title":"t","elements":[{"type":"button"}]}`, map[string]any{
		"async_mode": true,
	})

	result := bridge.Execute(context.Background(), "conn-1", ToolRenderUIMockup, raw)

	// Execute should have returned right away with a queued task, not
	// blocked for the render to finish.
	assert.True(t, result.Success)
	assert.Equal(t, "queued", result.Result["status"])

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ToolResponse)

	// The background worker eventually reports completion through the
	// task tracker, which publishes render.completed via the sender.
	require.Eventually(t, func() bool {
		for _, k := range sender.kinds() {
			if k == event.RenderCompleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected an eventual render.completed event from the async worker")
}

func TestValidateDSLEmitsValidationCompleted(t *testing.T) {
	sender := newRecordingSender()
	validator := &fakeValidator{valid: true}
	bridge := newTestBridge(t, sender, fakerenderer.New(), validator, nil)

	raw, err := json.Marshal(map[string]any{"dsl_content": `{"title":"t","elements":[]}`})
	require.NoError(t, err)

	result := bridge.Execute(context.Background(), "conn-1", ToolValidateDSL, raw)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Result["valid"])

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ValidationStarted)
	assert.Contains(t, kinds, event.RenderProgress)
	assert.Contains(t, kinds, event.ValidationCompleted)
	assert.Contains(t, kinds, event.ToolResponse)
}

func TestValidateDSLInvalidStillEmitsValidationCompleted(t *testing.T) {
	sender := newRecordingSender()
	validator := &fakeValidator{
		valid:       false,
		errs:        []string{"/elements: missing"},
		suggestions: []string{"Add at least one UI element"},
	}
	bridge := newTestBridge(t, sender, fakerenderer.New(), validator, nil)

	raw, err := json.Marshal(map[string]any{"dsl_content": `{}`})
	require.NoError(t, err)

	result := bridge.Execute(context.Background(), "conn-1", ToolValidateDSL, raw)

	// An invalid document is a validation result, not a tool failure:
	// validate_dsl's own Execute succeeds even when the DSL is invalid.
	assert.True(t, result.Success)
	assert.Equal(t, false, result.Result["valid"])

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ValidationCompleted)
	assert.NotContains(t, kinds, event.ValidationFailed)
	assert.Contains(t, kinds, event.ToolResponse)
}

func TestGetRenderStatusForKnownTask(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, nil)
	ctx := context.Background()

	_, err := bridge.tracker.Create(ctx, "task-1", "conn-1", ToolRenderUIMockup)
	require.NoError(t, err)
	require.NoError(t, bridge.tracker.Update(ctx, "task-1", task.StatusRunning, 40, nil, "", event.RenderProgress))

	raw, err := json.Marshal(map[string]any{"task_id": "task-1"})
	require.NoError(t, err)
	result := bridge.Execute(ctx, "conn-1", ToolGetRenderStatus, raw)
	assert.True(t, result.Success)

	kinds := sender.kinds()
	assert.Contains(t, kinds, event.ToolResponse)
	assert.NotContains(t, kinds, event.ToolError)
}

func TestGetRenderStatusForUnknownTaskFails(t *testing.T) {
	sender := newRecordingSender()
	bridge := newTestBridge(t, sender, fakerenderer.New(), nil, nil)

	raw, err := json.Marshal(map[string]any{"task_id": "no-such-task"})
	require.NoError(t, err)
	result := bridge.Execute(context.Background(), "conn-1", ToolGetRenderStatus, raw)
	assert.False(t, result.Success)

	assert.Contains(t, sender.kinds(), event.ToolError)
}

func indexOfKind(kinds []event.Kind, k event.Kind) int {
	for i, kk := range kinds {
		if kk == k {
			return i
		}
	}
	return -1
}
