// Package task tracks the lifecycle of asynchronous tool invocations
// (primarily background renders) and bridges their status transitions into
// SSE events, persisting each transition to the shared store so progress
// survives independently of which worker is running the underlying work.
package task

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// Status is the lifecycle state of a tracked task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is the shared-store record for one tracked asynchronous operation.
type Task struct {
	ID        string
	ConnID    string
	Operation string
	Status    Status
	Progress  int
	Result    any
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const taskTTL = 24 * time.Hour

func taskKey(id string) string { return "sse:task:" + id }

// publisher is the subset of *connmgr.Manager the tracker needs. Kept
// narrow so callers running outside the HTTP-serving process (e.g. a
// Temporal activity worker) can satisfy it with a thin client over the
// shared store alone, without depending on connmgr directly.
type publisher interface {
	Send(ctx context.Context, ev event.Event) error
}

// Tracker persists task state and emits the SSE event associated with each
// transition.
type Tracker struct {
	st      store.Store
	pub     publisher
	log     telemetry.Logger
	metrics telemetry.Metrics
}

func New(st store.Store, pub publisher, log telemetry.Logger, metrics telemetry.Metrics) *Tracker {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Tracker{st: st, pub: pub, log: log, metrics: metrics}
}

// Create records a new task in the queued state, without emitting an
// event — the caller emits the operation-specific "started" event once it
// actually begins work.
func (t *Tracker) Create(ctx context.Context, taskID, connID, operation string) (Task, error) {
	now := time.Now().UTC()
	task := Task{ID: taskID, ConnID: connID, Operation: operation, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := t.persist(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Update transitions taskID to the given status/progress/result/err and
// emits kind carrying the updated task as its payload. result is JSON
// round-tripped through the store; if it cannot be serialized, Update
// returns a ResultSerialize error, the stored record is left as it was,
// and no event is emitted.
func (t *Tracker) Update(ctx context.Context, taskID string, status Status, progress int, result any, errMsg string, kind event.Kind) error {
	task, ok, err := t.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return bridgeerr.Errorf(bridgeerr.Internal, "task %s not found", taskID)
	}

	task.Status = status
	task.Progress = progress
	task.Result = result
	task.Error = errMsg
	task.UpdatedAt = time.Now().UTC()

	if err := t.persist(ctx, task); err != nil {
		return err
	}

	ev := event.New(kind, task.ConnID, taskPayload(task))
	if err := t.pub.Send(ctx, ev); err != nil {
		t.log.Error(ctx, "task update event send failed", "task_id", taskID, "error", err)
		return err
	}
	return nil
}

func taskPayload(task Task) map[string]any {
	payload := map[string]any{
		"task_id":   task.ID,
		"operation": task.Operation,
		"status":    string(task.Status),
		"progress":  task.Progress,
	}
	if task.Result != nil {
		payload["result"] = task.Result
	}
	if task.Error != "" {
		payload["error"] = task.Error
	}
	return payload
}

func (t *Tracker) Get(ctx context.Context, taskID string) (Task, bool, error) {
	fields, err := t.st.HGetAll(ctx, taskKey(taskID))
	if err != nil {
		return Task{}, false, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Task{}, false, nil
	}
	task := Task{
		ID:        fields["id"],
		ConnID:    fields["connection_id"],
		Operation: fields["operation"],
		Status:    Status(fields["status"]),
		Error:     fields["error"],
	}
	if v, err := parseTime(fields["created_at"]); err == nil {
		task.CreatedAt = v
	}
	if v, err := parseTime(fields["updated_at"]); err == nil {
		task.UpdatedAt = v
	}
	if v, err := strconv.Atoi(fields["progress"]); err == nil {
		task.Progress = v
	}
	if raw, ok := fields["result"]; ok && raw != "" {
		var result any
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			task.Result = result
		}
	}
	return task, true, nil
}

func (t *Tracker) persist(ctx context.Context, task Task) error {
	fields := map[string]string{
		"id":            task.ID,
		"connection_id": task.ConnID,
		"operation":     task.Operation,
		"status":        string(task.Status),
		"progress":      strconv.Itoa(task.Progress),
		"created_at":    task.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if task.Error != "" {
		fields["error"] = task.Error
	}
	if task.Result != nil {
		raw, err := json.Marshal(task.Result)
		if err != nil {
			return bridgeerr.FromError(bridgeerr.ResultSerialize, err)
		}
		fields["result"] = string(raw)
	}
	if err := t.st.HSet(ctx, taskKey(task.ID), fields); err != nil {
		return bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	return t.st.Expire(ctx, taskKey(task.ID), taskTTL)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, bridgeerr.New(bridgeerr.Internal, "empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}
