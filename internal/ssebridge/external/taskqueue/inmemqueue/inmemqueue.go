// Package inmemqueue runs submitted work on an in-process goroutine pool.
// It is the default TaskQueue for single-binary deployments that don't
// need work to survive a process restart.
package inmemqueue

import (
	"context"
	"sync"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// Queue is a bounded worker pool: Submit never blocks; each submitted task
// waits on its own goroutine for a free slot before it runs.
type Queue struct {
	sem chan struct{}
	log telemetry.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(concurrency int, log telemetry.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = 8
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Queue{sem: make(chan struct{}, concurrency), log: log, cancels: make(map[string]context.CancelFunc)}
}

func (q *Queue) Submit(ctx context.Context, taskID string, work func(ctx context.Context) error) error {
	workCtx, cancel := context.WithCancel(context.Background())

	q.mu.Lock()
	q.cancels[taskID] = cancel
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			delete(q.cancels, taskID)
			q.mu.Unlock()
			cancel()
		}()

		select {
		case q.sem <- struct{}{}:
			defer func() { <-q.sem }()
		case <-workCtx.Done():
			return
		}

		if err := work(workCtx); err != nil {
			q.log.Error(workCtx, "in-memory task failed", "task_id", taskID, "error", err)
		}
	}()

	return nil
}

func (q *Queue) Revoke(ctx context.Context, taskID string) error {
	q.mu.Lock()
	cancel, ok := q.cancels[taskID]
	q.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
