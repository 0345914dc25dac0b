// Package fake implements external.Renderer in-process for local
// development and tests, without a real upstream rendering service.
package fake

import (
	"context"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
)

// onePixelPNG is a minimal valid PNG (a single transparent pixel), base64
// encoded, standing in for a real rendered mockup.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

// Renderer synthesizes a render result after a short simulated delay,
// reporting a handful of progress steps along the way.
type Renderer struct {
	StepDelay time.Duration
}

func New() *Renderer {
	return &Renderer{StepDelay: 50 * time.Millisecond}
}

func (r *Renderer) Render(ctx context.Context, req external.RenderRequest, onProgress func(percent int, message string)) ([]byte, error) {
	steps := []struct {
		percent int
		message string
	}{
		{10, "parsing dsl"},
		{40, "laying out components"},
		{75, "rasterizing"},
		{100, "encoding png"},
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.StepDelay):
		}
		if onProgress != nil {
			onProgress(step.percent, step.message)
		}
	}

	width, height := req.Width, req.Height
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}

	pngResult := map[string]any{
		"base64_data": onePixelPNG,
		"width":       width,
		"height":      height,
		"file_size":   len(onePixelPNG),
		"metadata": map[string]any{
			"theme":  req.Theme,
			"format": "png",
		},
	}
	return external.WrapDirect(map[string]any{
		"success":         true,
		"png_result":      pngResult,
		"processing_time": float64(len(steps)) * r.StepDelay.Seconds(),
	})
}
