package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
)

// fakePublisher records every event handed to Send instead of actually
// routing it anywhere, so tests can assert on what the tracker emits
// without standing up a connection manager.
type fakePublisher struct {
	sent []event.Event
}

func (p *fakePublisher) Send(ctx context.Context, ev event.Event) error {
	p.sent = append(p.sent, ev)
	return nil
}

func TestCreateRecordsQueuedTaskWithoutEmitting(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(memstore.New(), pub, nil, nil)

	task, err := tr.Create(context.Background(), "task-1", "conn-1", "render_ui_mockup")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, task.Status)
	assert.Empty(t, pub.sent, "Create should not emit an event; the caller emits render.started")
}

func TestUpdateTransitionsStatusAndEmits(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(memstore.New(), pub, nil, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "task-1", "conn-1", "render_ui_mockup")
	require.NoError(t, err)

	err = tr.Update(ctx, "task-1", StatusRunning, 50, map[string]any{"message": "halfway"}, "", event.RenderProgress)
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, event.RenderProgress, pub.sent[0].Kind)
	assert.Equal(t, "conn-1", pub.sent[0].ConnID)

	got, ok, err := tr.Get(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 50, got.Progress)
}

func TestUpdateOnUnknownTaskFails(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(memstore.New(), pub, nil, nil)

	err := tr.Update(context.Background(), "does-not-exist", StatusRunning, 10, nil, "", event.RenderProgress)
	assert.Error(t, err)
}

func TestUpdateCompletedCarriesResultPayload(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(memstore.New(), pub, nil, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "task-1", "conn-1", "render_ui_mockup")
	require.NoError(t, err)

	result := map[string]any{"image_url": "https://renders.local/task-1.png", "width": float64(800)}
	require.NoError(t, tr.Update(ctx, "task-1", StatusCompleted, 100, result, "", event.RenderCompleted))

	got, ok, err := tr.Get(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	resultMap, ok := got.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://renders.local/task-1.png", resultMap["image_url"])
}

func TestUpdateFailedCarriesErrorMessage(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(memstore.New(), pub, nil, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "task-1", "conn-1", "render_ui_mockup")
	require.NoError(t, err)
	require.NoError(t, tr.Update(ctx, "task-1", StatusFailed, 0, nil, "render timed out", event.RenderFailed))

	got, ok, err := tr.Get(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "render timed out", got.Error)
}

func TestGetUnknownTaskReturnsNotFound(t *testing.T) {
	tr := New(memstore.New(), &fakePublisher{}, nil, nil)
	_, ok, err := tr.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestTaskTTLIsRenewedOnUpdate verifies P9: task hashes carry a positive,
// bounded TTL for as long as they are live.
func TestTaskTTLIsRenewedOnUpdate(t *testing.T) {
	st := memstore.New()
	tr := New(st, &fakePublisher{}, nil, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "task-1", "conn-1", "render_ui_mockup")
	require.NoError(t, err)

	ttl, err := st.TTL(ctx, taskKey("task-1"))
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= taskTTL)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tr.Update(ctx, "task-1", StatusRunning, 10, nil, "", event.RenderProgress))

	renewedTTL, err := st.TTL(ctx, taskKey("task-1"))
	require.NoError(t, err)
	assert.True(t, renewedTTL > 0 && renewedTTL <= taskTTL)
}
