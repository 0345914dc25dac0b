package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

func TestNewAssignsFreshIDAndTimestamp(t *testing.T) {
	a := New(RenderStarted, "conn-1", map[string]any{"width": 800})
	b := New(RenderStarted, "conn-1", map[string]any{"width": 800})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "each call to New must mint a distinct event id")
	assert.False(t, a.EmittedAt.IsZero())
	assert.Equal(t, "UTC", a.EmittedAt.Location().String())
}

func TestWithIDAndWithRetryOverrideDefaults(t *testing.T) {
	ev := New(ConnectionHeartbeat, "conn-1", nil, WithID("fixed-id"), WithRetry(30000))
	assert.Equal(t, "fixed-id", ev.ID)
	assert.Equal(t, 30000, ev.RetryMS)
}

// TestFormatWireRoundTrip verifies L1: parse(format_wire(e)) == e on the
// fields {id, type, payload, retry}.
func TestFormatWireRoundTrip(t *testing.T) {
	ev := New(RenderProgress, "conn-42", map[string]any{"progress": float64(10), "stage": "parsing"}, WithRetry(30000))

	raw, err := Encode(ev)
	require.NoError(t, err)

	frame := parseSSEFrame(t, raw)
	assert.Equal(t, ev.ID, frame.id)
	assert.Equal(t, string(ev.Kind), frame.eventType)
	assert.Equal(t, "30000", frame.retry)

	var decoded wireEnvelope
	require.NoError(t, json.Unmarshal([]byte(frame.data), &decoded))
	assert.Equal(t, ev.Kind, decoded.Type)
	assert.Equal(t, ev.ConnID, decoded.ConnID)

	payload, ok := decoded.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ev.Payload.(map[string]any)["progress"], payload["progress"])
	assert.Equal(t, ev.Payload.(map[string]any)["stage"], payload["stage"])
}

func TestFormatWireOmitsRetryLineWhenZero(t *testing.T) {
	ev := New(ConnectionOpened, "conn-1", map[string]any{})
	raw, err := Encode(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "retry:")
}

func TestFormatWireEndsWithBlankLine(t *testing.T) {
	ev := New(ConnectionOpened, "conn-1", map[string]any{})
	raw, err := Encode(ev)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\n\n"))
}

func TestParseToolOutputTextWrapperShape(t *testing.T) {
	raw := []byte(`[{"text": "{\"success\":true,\"png_result\":{\"base64_data\":\"abc\"}}"}]`)
	result, err := ParseToolOutput(raw, "render_ui_mockup")
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	pngResult, ok := result["png_result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", pngResult["base64_data"])
}

func TestParseToolOutputStructuredMapShape(t *testing.T) {
	raw := []byte(`[{"valid": false, "errors": ["missing elements"]}]`)
	result, err := ParseToolOutput(raw, "validate_dsl")
	require.NoError(t, err)
	assert.Equal(t, false, result["valid"])
}

func TestParseToolOutputRejectsEmptyList(t *testing.T) {
	_, err := ParseToolOutput([]byte(`[]`), "render_ui_mockup")
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.ToolParse))
}

func TestParseToolOutputRejectsWrongTopLevelShape(t *testing.T) {
	_, err := ParseToolOutput([]byte(`{"not": "a list"}`), "render_ui_mockup")
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.ToolParse))
}

func TestParseToolOutputRejectsEmptyText(t *testing.T) {
	_, err := ParseToolOutput([]byte(`[{"text": ""}]`), "render_ui_mockup")
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.ToolParse))
}

func TestParseToolOutputRejectsNonStringText(t *testing.T) {
	_, err := ParseToolOutput([]byte(`[{"text": 123}]`), "render_ui_mockup")
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.ToolParse))
}

func TestParseToolOutputRejectsInvalidEmbeddedJSON(t *testing.T) {
	_, err := ParseToolOutput([]byte(`[{"text": "not json"}]`), "render_ui_mockup")
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.ToolParse))
	assert.Contains(t, err.Error(), "render_ui_mockup")
}

func TestKindsForErrorFallsBackToServerError(t *testing.T) {
	kinds := KindsForError(bridgeerr.Kind("totally_unknown"))
	assert.Equal(t, []Kind{ServerError}, kinds)
}

func TestKindsForErrorKnownMapping(t *testing.T) {
	assert.Equal(t, []Kind{RateLimitExceeded}, KindsForError(bridgeerr.RateLimited))
}

func TestMarshalUnmarshalEnvelopeRoundTrip(t *testing.T) {
	ev := New(RenderCompleted, "conn-7", map[string]any{"result": "ok"}, WithRetry(1000))
	raw, err := MarshalEnvelope(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.Kind, decoded.Kind)
	assert.Equal(t, ev.ConnID, decoded.ConnID)
	assert.Equal(t, ev.RetryMS, decoded.RetryMS)
}

type sseFrame struct {
	id        string
	eventType string
	retry     string
	data      string
}

// parseSSEFrame is a minimal reader for the frame grammar FormatWire
// produces: one "data:" line is expected per frame in these tests since
// none of the test payloads contain embedded newlines.
func parseSSEFrame(t *testing.T, raw []byte) sseFrame {
	t.Helper()
	var frame sseFrame
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			frame.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			frame.eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "retry: "):
			frame.retry = strings.TrimPrefix(line, "retry: ")
		case strings.HasPrefix(line, "data: "):
			frame.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return frame
}
