// Package temporalqueue runs submitted work as Temporal workflow/activity
// executions instead of bare goroutines, trading inmemqueue's simplicity
// for Temporal's durable execution history, retries, and timeouts.
//
// Submit's work closures are not serializable (they close over live
// collaborators like the renderer client), so this implementation keeps
// an in-process registry mapping task IDs to their closures and runs a
// single generic workflow/activity pair that looks a closure up by task
// ID and invokes it. The durability gained is Temporal's execution
// history and retry/timeout policy around that invocation, not
// portability of the closure itself across processes — a real
// deployment would replace the in-process registry with a work item
// looked up from the shared store inside the activity.
package temporalqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

const (
	workflowName = "SSEBridgeRenderWorkflow"
	activityName = "SSEBridgeRenderActivity"
)

// Queue wires a Temporal client and a single-task-queue worker that runs
// submitted render work durably.
type Queue struct {
	client   client.Client
	worker   worker.Worker
	taskList string
	log      telemetry.Logger

	mu       sync.Mutex
	registry map[string]func(ctx context.Context) error
}

// New constructs a Queue against an existing Temporal client and starts a
// worker on taskList. Callers own the client's lifecycle; call Close to
// stop the worker (the client itself is not closed here).
func New(cli client.Client, taskList string, log telemetry.Logger) (*Queue, error) {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	q := &Queue{client: cli, taskList: taskList, log: log, registry: make(map[string]func(ctx context.Context) error)}

	w := worker.New(cli, taskList, worker.Options{})
	w.RegisterWorkflowWithOptions(q.workflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(q.activity, activity.RegisterOptions{Name: activityName})
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("temporalqueue: start worker: %w", err)
	}
	q.worker = w
	return q, nil
}

func (q *Queue) Close() {
	if q.worker != nil {
		q.worker.Stop()
	}
}

// Submit registers work under taskID and starts a durable workflow
// execution that will invoke it via the shared activity.
func (q *Queue) Submit(ctx context.Context, taskID string, work func(ctx context.Context) error) error {
	q.mu.Lock()
	q.registry[taskID] = work
	q.mu.Unlock()

	_, err := q.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "ssebridge-render-" + taskID,
		TaskQueue: q.taskList,
	}, workflowName, taskID)
	if err != nil {
		q.mu.Lock()
		delete(q.registry, taskID)
		q.mu.Unlock()
		return fmt.Errorf("temporalqueue: start workflow: %w", err)
	}
	return nil
}

// Revoke cancels the workflow execution for taskID and drops its
// registered closure.
func (q *Queue) Revoke(ctx context.Context, taskID string) error {
	q.mu.Lock()
	delete(q.registry, taskID)
	q.mu.Unlock()
	return q.client.CancelWorkflow(ctx, "ssebridge-render-"+taskID, "")
}

func (q *Queue) workflow(ctx workflow.Context, taskID string) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, activityName, taskID).Get(ctx, nil)
}

func (q *Queue) activity(ctx context.Context, taskID string) error {
	q.mu.Lock()
	work, ok := q.registry[taskID]
	q.mu.Unlock()
	if !ok {
		q.log.Error(ctx, "temporal activity fired for unknown task", "task_id", taskID)
		return fmt.Errorf("temporalqueue: no registered work for task %s", taskID)
	}
	defer func() {
		q.mu.Lock()
		delete(q.registry, taskID)
		q.mu.Unlock()
	}()
	return work(ctx)
}
