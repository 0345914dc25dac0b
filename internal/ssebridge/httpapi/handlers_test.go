package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goahttp "goa.design/goa/v3/http"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	fakerenderer "github.com/render-mcp/sse-bridge/internal/ssebridge/external/renderer/fake"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/pubsub"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/task"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/toolbridge"
)

// testServer wires a Server against a single in-process store with its own
// pubsub.Bridge, the same composition the single-binary entrypoint uses, so
// an event Sent through the manager is actually delivered to the HTTP
// response streaming the connection it targets.
type testServer struct {
	srv *httptest.Server
	mgr *connmgr.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memstore.New()
	mgr := connmgr.New(st, "worker-1", connmgr.Config{BufferSize: 20}, nil, nil)
	t.Cleanup(mgr.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bridge := pubsub.New(st, mgr, nil, nil)
	bridge.Start(ctx)
	t.Cleanup(bridge.Stop)
	time.Sleep(20 * time.Millisecond)

	tracker := task.New(st, mgr, nil, nil)
	tb := toolbridge.New(mgr, tracker, fakerenderer.New(), nil, nil, nil, nil, nil, nil)

	s := New(mgr, tb, nil, nil, nil, nil, nil)
	mux := goahttp.NewMuxer()
	s.Mount(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testServer{srv: ts, mgr: mgr}
}

func TestHandleConnectStreamsOpenedEvent(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/sse/connect?client_id=client-1", nil)
	require.NoError(t, err)

	client := ts.srv.Client()
	client.Timeout = 3 * time.Second
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var sawOpened bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "connection.opened") {
			sawOpened = true
			break
		}
	}
	assert.True(t, sawOpened, "expected a connection.opened frame on the stream")
}

func TestHandleGetConnectionReturnsKnownConnection(t *testing.T) {
	ts := newTestServer(t)
	conn, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{ClientID: "client-2"})
	require.NoError(t, err)

	resp, err := http.Get(ts.srv.URL + "/sse/connections/" + conn.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body connectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, conn.ID, body.ID)
	assert.Equal(t, "client-2", body.ClientID)
}

func TestHandleGetConnectionUnknownReturnsError(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/sse/connections/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.ErrorCode)
}

func TestHandleCloseConnectionIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	conn, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)

	doClose := func() *http.Response {
		req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/sse/connections/"+conn.ID, nil)
		require.NoError(t, err)
		resp, err := ts.srv.Client().Do(req)
		require.NoError(t, err)
		return resp
	}

	first := doClose()
	first.Body.Close()
	assert.Equal(t, http.StatusNoContent, first.StatusCode)

	second := doClose()
	defer second.Body.Close()
	assert.Equal(t, http.StatusNoContent, second.StatusCode, "closing an already-closed connection should still succeed")
}

func TestHandleStatsReportsConnectionCounts(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)
	_, err = ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)

	resp, err := http.Get(ts.srv.URL + "/sse/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.TotalConnections)
}

func TestHandleBroadcastRequiresKind(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.srv.URL+"/sse/broadcast", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestHandleBroadcastFansOutToAllConnections(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)
	_, err = ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)

	resp, err := http.Post(ts.srv.URL+"/sse/broadcast", "application/json", bytes.NewBufferString(`{"kind":"status.update","payload":{"msg":"hi"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body broadcastResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Targeted)
}

func TestHandleToolRejectsUnknownConnection(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.srv.URL+"/sse/tool", "application/json", bytes.NewBufferString(`{"connection_id":"nope","tool":"render_ui_mockup","arguments":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusAccepted, resp.StatusCode)
}

func TestHandleRenderAcceptsAndStreamsCompletion(t *testing.T) {
	ts := newTestServer(t)
	conn, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)

	stream, err := ts.mgr.Stream(context.Background(), conn.ID, "")
	require.NoError(t, err)
	frameCh := make(chan []byte, 16)
	go stream(func(f []byte) bool { frameCh <- f; return true })

	args, err := json.Marshal(map[string]any{"dsl_content": `{"title":"t","elements":[{"type":"button"}]}`})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{"connection_id": conn.ID, "arguments": json.RawMessage(args)})
	require.NoError(t, err)

	resp, err := http.Post(ts.srv.URL+"/sse/render", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var execResp toolExecuteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execResp))
	assert.True(t, execResp.Success)
	assert.Equal(t, toolbridge.ToolRenderUIMockup, execResp.ToolName)
	assert.Greater(t, execResp.ExecutionTime, float64(0))
	require.NotNil(t, execResp.Result)
	assert.NotEmpty(t, execResp.Result["base64_data"])

	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-frameCh:
			if strings.Contains(string(f), "render.completed") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for render.completed frame")
		}
	}
}

func TestHandleRenderAsyncModeReturnsAcceptedImmediately(t *testing.T) {
	ts := newTestServer(t)
	conn, err := ts.mgr.Open(context.Background(), connmgr.OpenRequest{})
	require.NoError(t, err)

	stream, err := ts.mgr.Stream(context.Background(), conn.ID, "")
	require.NoError(t, err)
	frameCh := make(chan []byte, 16)
	go stream(func(f []byte) bool { frameCh <- f; return true })

	args, err := json.Marshal(map[string]any{
		"dsl_content": `{"title":"t","elements":[{"type":"button"}]}`,
		"async_mode":  true,
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{"connection_id": conn.ID, "arguments": json.RawMessage(args)})
	require.NoError(t, err)

	resp, err := http.Post(ts.srv.URL+"/sse/render", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted toolAcceptedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "accepted", accepted.Status)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-frameCh:
			if strings.Contains(string(f), "render.completed") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for render.completed frame")
		}
	}
}

func TestHandlePreflightRespondsNoContent(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/sse/connect", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestInvalidJSONBodyReturnsInvalidArgumentsError(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.srv.URL+"/sse/tool", "application/json", bytes.NewBufferString(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_arguments", body.ErrorCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
