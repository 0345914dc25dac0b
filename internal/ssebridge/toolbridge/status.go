package toolbridge

import (
	"context"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
)

func (b *Bridge) getRenderStatus(ctx context.Context, connID string, rawArgs []byte) (map[string]any, error) {
	args, err := normalizeStatusArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	raw, err := b.statusOutput(ctx, args.TaskID)
	if err != nil {
		return nil, err
	}
	return event.ParseToolOutput(raw, ToolGetRenderStatus)
}

// statusOutput produces the raw MCP tool-output payload for taskID: the
// locally tracked task record if this worker has seen it, falling back to
// the external status collaborator for tasks it hasn't.
func (b *Bridge) statusOutput(ctx context.Context, taskID string) ([]byte, error) {
	t, ok, err := b.tracker.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if ok {
		payload := map[string]any{"task_id": t.ID, "status": string(t.Status), "progress": t.Progress}
		if t.Result != nil {
			payload["result"] = t.Result
		}
		if t.Error != "" {
			payload["error"] = t.Error
		}
		return external.WrapDirect(payload)
	}

	// Not tracked locally (e.g. this worker never saw the task start):
	// fall back to the external status collaborator if one is wired.
	if b.status == nil {
		return nil, bridgeerr.Errorf(bridgeerr.InvalidArguments, "get_render_status: unknown task %q", taskID)
	}
	raw, err := b.status.Status(ctx, taskID)
	if err != nil {
		return nil, bridgeerr.FromError(bridgeerr.Internal, err)
	}
	return raw, nil
}
