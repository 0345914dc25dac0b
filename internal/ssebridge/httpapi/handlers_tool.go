package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/toolbridge"
)

type toolRequest struct {
	ConnectionID string          `json:"connection_id"`
	Tool         string          `json:"tool"`
	Arguments    json.RawMessage `json:"arguments"`
}

type toolAcceptedResponse struct {
	ConnectionID string `json:"connection_id"`
	Tool         string `json:"tool"`
	Status       string `json:"status"`
}

// toolExecuteResponse is the synchronous dispatch response: the tool ran to
// completion (or failure) before the HTTP response was written, so the
// caller gets the real outcome instead of having to watch the SSE stream.
type toolExecuteResponse struct {
	Success       bool           `json:"success"`
	ToolName      string         `json:"tool_name"`
	RequestID     string         `json:"request_id"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
	EventsSent    int            `json:"events_sent"`
}

// asyncRenderArgs is the subset of render_ui_mockup's arguments dispatchTool
// needs to inspect to decide whether to run synchronously.
type asyncRenderArgs struct {
	AsyncMode bool `json:"async_mode"`
}

// isAsyncRequest reports whether tool/args asks to run in fire-and-forget
// mode. Only render_ui_mockup supports async_mode; every other tool always
// runs synchronously.
func isAsyncRequest(tool string, args json.RawMessage) bool {
	if tool != toolbridge.ToolRenderUIMockup {
		return false
	}
	var a asyncRenderArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return false
	}
	return a.AsyncMode
}

// handleTool dispatches an arbitrary named tool call. Tool execution also
// reports progress and its result as SSE events on connection_id. A
// synchronous call blocks until the tool finishes and returns its outcome in
// this response; an async render_ui_mockup call is answered at once with
// 202 Accepted and its outcome arrives only on the stream.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.InvalidArguments, "invalid tool request body", err))
		return
	}
	s.dispatchTool(w, r, req.ConnectionID, req.Tool, req.Arguments)
}

type renderRequest struct {
	ConnectionID string          `json:"connection_id"`
	Arguments    json.RawMessage `json:"arguments"`
}

// handleRender is a convenience wrapper around handleTool for
// render_ui_mockup, so callers that only ever render don't need to name
// the tool explicitly.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.InvalidArguments, "invalid render request body", err))
		return
	}
	s.dispatchTool(w, r, req.ConnectionID, toolbridge.ToolRenderUIMockup, req.Arguments)
}

// handleValidate is the validate_dsl counterpart to handleRender.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.InvalidArguments, "invalid validate request body", err))
		return
	}
	s.dispatchTool(w, r, req.ConnectionID, toolbridge.ToolValidateDSL, req.Arguments)
}

// handleStatus is the get_render_status counterpart, taking connection_id
// and task_id as query parameters since it has no body.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connID := queryParam(r, "connection_id")
	taskID := queryParam(r, "task_id")
	if connID == "" || taskID == "" {
		writeErrorCtx(w, r, bridgeerr.New(bridgeerr.InvalidArguments, "connection_id and task_id query parameters are required"))
		return
	}
	args, err := json.Marshal(map[string]string{"task_id": taskID})
	if err != nil {
		writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.Internal, "failed to encode status arguments", err))
		return
	}
	s.dispatchTool(w, r, connID, toolbridge.ToolGetRenderStatus, args)
}

func (s *Server) dispatchTool(w http.ResponseWriter, r *http.Request, connID, tool string, args json.RawMessage) {
	if connID == "" {
		writeErrorCtx(w, r, bridgeerr.New(bridgeerr.InvalidArguments, "connection_id is required"))
		return
	}
	if tool == "" {
		writeErrorCtx(w, r, bridgeerr.New(bridgeerr.InvalidArguments, "tool is required"))
		return
	}
	if _, ok, err := s.mgr.Get(r.Context(), connID); err != nil {
		writeErrorCtx(w, r, err)
		return
	} else if !ok {
		writeErrorCtx(w, r, bridgeerr.Errorf(bridgeerr.InvalidArguments, "unknown connection %q", connID))
		return
	}

	if isAsyncRequest(tool, args) {
		// Execute reports its outcome as SSE events; run it in the
		// background so the caller gets an immediate acknowledgement and
		// learns the outcome from the stream instead.
		go s.bridge.Execute(detachedContext(r.Context()), connID, tool, args)
		writeJSON(w, http.StatusAccepted, toolAcceptedResponse{ConnectionID: connID, Tool: tool, Status: "accepted"})
		return
	}

	result := s.bridge.Execute(r.Context(), connID, tool, args)
	resp := toolExecuteResponse{
		Success:       result.Success,
		ToolName:      result.ToolName,
		RequestID:     result.RequestID,
		Result:        result.Result,
		Error:         result.Error,
		ExecutionTime: result.ExecutionTime.Seconds(),
		EventsSent:    result.EventsSent,
	}
	if result.Success {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, bridgeerr.HTTPStatus(result.ErrorKind), resp)
}
