// Package toolbridge orchestrates MCP tool invocations delivered over the
// SSE connection: render_ui_mockup, validate_dsl, and get_render_status.
// Every invocation is wrapped in a mcp.tool.call / mcp.tool.response (or
// mcp.tool.error) pair, following the same call/respond framing the
// teacher's SSE caller expects on the client side, just emitted from the
// server.
package toolbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/task"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

const (
	ToolRenderUIMockup  = "render_ui_mockup"
	ToolValidateDSL     = "validate_dsl"
	ToolGetRenderStatus = "get_render_status"
)

// sender is the subset of *connmgr.Manager the bridge needs.
type sender interface {
	Send(ctx context.Context, ev event.Event) error
}

// Bridge orchestrates tool execution against the external collaborators
// and reports progress/results as SSE events on the owning connection.
type Bridge struct {
	conn      sender
	tracker   *task.Tracker
	renderer  external.Renderer
	validator external.Validator
	queue     external.TaskQueue
	status    external.StatusTool // optional fallback for tasks unknown locally
	tracer    telemetry.Tracer
	log       telemetry.Logger
	metrics   telemetry.Metrics

	mu     sync.Mutex
	active map[string]context.CancelFunc // taskID -> cancel, for sync-mode cancellation
}

func New(conn sender, tracker *task.Tracker, renderer external.Renderer, validator external.Validator, queue external.TaskQueue, status external.StatusTool, tracer telemetry.Tracer, log telemetry.Logger, metrics telemetry.Metrics) *Bridge {
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Bridge{
		conn: conn, tracker: tracker, renderer: renderer, validator: validator,
		queue: queue, status: status, tracer: tracer, log: log, metrics: metrics,
		active: make(map[string]context.CancelFunc),
	}
}

// ExecuteResult is the outcome of a completed tool execution, returned to
// whoever invoked Execute synchronously (the sync HTTP dispatch path).
// Async callers get an immediate queued acknowledgement instead and learn
// the outcome from SSE events.
type ExecuteResult struct {
	Success       bool
	ToolName      string
	RequestID     string
	Result        map[string]any
	Error         string
	ErrorKind     bridgeerr.Kind
	ExecutionTime time.Duration
	EventsSent    int
}

// Execute runs toolName for connID with rawArgs, emitting the call/
// response (or call/error) event pair around it, and returns the final
// outcome so a synchronous caller can report it without waiting on SSE.
func (b *Bridge) Execute(ctx context.Context, connID, toolName string, rawArgs json.RawMessage) ExecuteResult {
	ctx, span := b.tracer.StartSpan(ctx, "toolbridge."+toolName)
	defer span.End()

	start := time.Now()
	requestID := uuid.NewString()
	eventsSent := 0
	send := func(ev event.Event) {
		if err := b.conn.Send(ctx, ev); err != nil {
			b.log.Error(ctx, "failed to emit event", "tool", toolName, "kind", ev.Kind, "error", err)
			return
		}
		eventsSent++
	}

	send(event.New(event.ToolCall, connID, map[string]any{"tool": toolName, "request_id": requestID, "arguments": json.RawMessage(rawArgs)}))

	result, err := b.dispatch(ctx, connID, toolName, rawArgs)
	if err != nil {
		span.RecordError(err)
		kind, ok := bridgeerr.KindOf(err)
		if !ok {
			kind = bridgeerr.Internal
		}
		eventsSent += b.emitError(ctx, connID, toolName, err)
		return ExecuteResult{
			Success: false, ToolName: toolName, RequestID: requestID,
			Error: err.Error(), ErrorKind: kind,
			ExecutionTime: time.Since(start), EventsSent: eventsSent,
		}
	}

	send(event.New(event.ToolResponse, connID, map[string]any{"tool": toolName, "request_id": requestID, "result": result}))

	return ExecuteResult{
		Success: true, ToolName: toolName, RequestID: requestID,
		Result: result, ExecutionTime: time.Since(start), EventsSent: eventsSent,
	}
}

func (b *Bridge) dispatch(ctx context.Context, connID, toolName string, rawArgs json.RawMessage) (map[string]any, error) {
	switch toolName {
	case ToolRenderUIMockup:
		return b.renderUIMockup(ctx, connID, rawArgs)
	case ToolValidateDSL:
		return b.validateDSL(ctx, connID, rawArgs)
	case ToolGetRenderStatus:
		return b.getRenderStatus(ctx, connID, rawArgs)
	default:
		return nil, bridgeerr.Errorf(bridgeerr.UnknownTool, "unknown tool %q", toolName)
	}
}

// emitError reports err on the connection, emitting every SSE event kind
// the error's bridgeerr.Kind maps to (not just the first): per the error
// taxonomy, several kinds must surface as both a tool-level error and a
// connection-level error. It returns how many events were sent.
func (b *Bridge) emitError(ctx context.Context, connID, toolName string, err error) int {
	kind, _ := bridgeerr.KindOf(err)
	if kind == "" {
		kind = bridgeerr.Internal
	}
	payload := map[string]any{"tool": toolName, "message": err.Error(), "kind": string(kind)}
	sent := 0
	for _, ek := range event.KindsForError(kind) {
		ev := event.New(ek, connID, payload)
		if sendErr := b.conn.Send(ctx, ev); sendErr != nil {
			b.log.Error(ctx, "failed to emit tool error event", "tool", toolName, "event_kind", ek, "error", sendErr)
			continue
		}
		sent++
	}
	return sent
}

// Cancel revokes an in-flight render task: it asks the task queue to
// cancel the underlying work and marks the task record cancelled.
func (b *Bridge) Cancel(ctx context.Context, taskID string) error {
	b.mu.Lock()
	cancel, ok := b.active[taskID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	if b.queue != nil {
		if err := b.queue.Revoke(ctx, taskID); err != nil {
			b.log.Error(ctx, "task queue revoke failed", "task_id", taskID, "error", err)
		}
	}
	return b.tracker.Update(ctx, taskID, task.StatusCancelled, 0, nil, "", event.RenderFailed)
}

func (b *Bridge) registerActive(taskID string, cancel context.CancelFunc) {
	b.mu.Lock()
	b.active[taskID] = cancel
	b.mu.Unlock()
}

func (b *Bridge) unregisterActive(taskID string) {
	b.mu.Lock()
	delete(b.active, taskID)
	b.mu.Unlock()
}
