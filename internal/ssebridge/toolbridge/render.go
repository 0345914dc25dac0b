package toolbridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/task"
)

const syncRenderTimeout = 60 * time.Second

func (b *Bridge) renderUIMockup(ctx context.Context, connID string, rawArgs []byte) (map[string]any, error) {
	args, err := normalizeRenderArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	if _, err := b.tracker.Create(ctx, taskID, connID, ToolRenderUIMockup); err != nil {
		return nil, err
	}

	startEv := event.New(event.RenderStarted, connID, map[string]any{
		"task_id": taskID, "width": args.Options.Width, "height": args.Options.Height, "theme": args.Theme,
	})
	if err := b.conn.Send(ctx, startEv); err != nil {
		b.log.Error(ctx, "render started event send failed", "task_id", taskID, "error", err)
	}

	if args.Async {
		return b.renderAsync(ctx, connID, taskID, args)
	}
	return b.renderSync(ctx, connID, taskID, args)
}

func (b *Bridge) renderSync(ctx context.Context, connID, taskID string, args renderArgs) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, syncRenderTimeout)
	b.registerActive(taskID, cancel)
	defer func() {
		cancel()
		b.unregisterActive(taskID)
	}()

	result, err := b.runRender(ctx, connID, taskID, args)
	if err != nil {
		if ctx.Err() != nil {
			err = bridgeerr.NewWithCause(bridgeerr.ToolTimeout, "render_ui_mockup: render timed out", err)
		}
		_ = b.tracker.Update(context.Background(), taskID, task.StatusFailed, 0, nil, err.Error(), event.RenderFailed)
		return nil, err
	}
	return result, nil
}

func (b *Bridge) renderAsync(ctx context.Context, connID, taskID string, args renderArgs) (map[string]any, error) {
	if b.queue == nil {
		return nil, bridgeerr.New(bridgeerr.Internal, "render_ui_mockup: async mode requires a task queue")
	}
	err := b.queue.Submit(ctx, taskID, func(workCtx context.Context) error {
		if _, err := b.runRender(workCtx, connID, taskID, args); err != nil {
			_ = b.tracker.Update(context.Background(), taskID, task.StatusFailed, 0, nil, err.Error(), event.RenderFailed)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, bridgeerr.FromError(bridgeerr.Internal, err)
	}
	return map[string]any{"task_id": taskID, "status": "queued"}, nil
}

// runRender performs the actual render call, wiring the renderer's
// progress callback into the task record (which fans it out as
// render.progress on the connection), then decodes the renderer's raw MCP
// tool output and records the completed outcome. It never itself records
// a failed transition: on error the caller — sync or async — decides the
// final error kind (a sync-mode timeout vs. a raw renderer error look
// different) and records exactly one render.failed.
func (b *Bridge) runRender(ctx context.Context, connID, taskID string, args renderArgs) (map[string]any, error) {
	startProgress := map[string]any{"message": "Starting DSL parsing", "stage": "parsing"}
	if err := b.tracker.Update(ctx, taskID, task.StatusRunning, 10, startProgress, "", event.RenderProgress); err != nil {
		return nil, err
	}

	onProgress := func(percent int, message string) {
		progress := map[string]any{"message": message, "stage": "rendering"}
		if err := b.tracker.Update(ctx, taskID, task.StatusRunning, percent, progress, "", event.RenderProgress); err != nil {
			b.log.Error(ctx, "render progress update failed", "task_id", taskID, "error", err)
		}
	}

	req := external.RenderRequest{
		TaskID:                taskID,
		DSL:                   args.DSL,
		Theme:                 args.Theme,
		Width:                 args.Options.Width,
		Height:                args.Options.Height,
		DeviceScaleFactor:     args.Options.DeviceScaleFactor,
		WaitForLoad:           args.Options.WaitForLoad,
		FullPage:              args.Options.FullPage,
		OptimizePNG:           args.Options.OptimizePNG,
		TimeoutSeconds:        args.Options.TimeoutSeconds,
		BlockResources:        args.Options.BlockResources,
		TransparentBackground: args.Options.TransparentBackground,
		UserAgent:             args.Options.UserAgent,
		PNGQuality:            args.Options.PNGQuality,
		BackgroundColor:       args.Options.BackgroundColor,
	}

	raw, err := b.renderer.Render(ctx, req, onProgress)
	if err != nil {
		kind, ok := bridgeerr.KindOf(err)
		if !ok {
			kind = bridgeerr.BrowserPoolExhausted
		}
		return nil, bridgeerr.NewWithCause(kind, "render_ui_mockup: render failed", err)
	}

	parsed, err := event.ParseToolOutput(raw, ToolRenderUIMockup)
	if err != nil {
		return nil, err
	}
	pngResult, _ := parsed["png_result"].(map[string]any)

	// The binary artifact (base64 PNG data) and its dimensions/size/
	// metadata are surfaced directly on the result, not nested, so
	// callers can read result.base64_data without knowing the renderer's
	// internal collaborator shape.
	resultPayload := map[string]any{"task_id": taskID}
	for k, v := range pngResult {
		resultPayload[k] = v
	}
	if pt, ok := parsed["processing_time"]; ok {
		resultPayload["processing_time"] = pt
	}

	if err := b.tracker.Update(ctx, taskID, task.StatusCompleted, 100, resultPayload, "", event.RenderCompleted); err != nil {
		return nil, err
	}
	return resultPayload, nil
}
