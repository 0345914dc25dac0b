// Package httprenderer implements external.Renderer by delegating to an
// upstream HTTP rendering service: it POSTs the normalized DSL and render
// options, then reads the response back as an SSE stream of progress
// frames terminated by a final result or error frame.
package httprenderer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
)

// Renderer calls an upstream render service over HTTP.
type Renderer struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Renderer{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type renderRequestBody struct {
	TaskID                string          `json:"task_id"`
	DSL                   json.RawMessage `json:"dsl_content"`
	Theme                 string          `json:"theme"`
	Width                 int             `json:"width"`
	Height                int             `json:"height"`
	DeviceScaleFactor     float64         `json:"device_scale_factor"`
	WaitForLoad           bool            `json:"wait_for_load"`
	FullPage              bool            `json:"full_page"`
	OptimizePNG           bool            `json:"optimize_png"`
	TimeoutSeconds        int             `json:"timeout"`
	BlockResources        bool            `json:"block_resources"`
	TransparentBackground bool            `json:"transparent_background"`
	UserAgent             string          `json:"user_agent"`
	PNGQuality            int             `json:"png_quality"`
	BackgroundColor       string          `json:"background_color"`
}

type progressFrame struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type resultFrame struct {
	Base64Data string         `json:"base64_data"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	FileSize   int64          `json:"file_size"`
	Metadata   map[string]any `json:"metadata"`
}

type errorFrame struct {
	Message string `json:"message"`
}

func (r *Renderer) Render(ctx context.Context, req external.RenderRequest, onProgress func(percent int, message string)) ([]byte, error) {
	body, err := json.Marshal(renderRequestBody{
		TaskID:                req.TaskID,
		DSL:                   req.DSL,
		Theme:                 req.Theme,
		Width:                 req.Width,
		Height:                req.Height,
		DeviceScaleFactor:     req.DeviceScaleFactor,
		WaitForLoad:           req.WaitForLoad,
		FullPage:              req.FullPage,
		OptimizePNG:           req.OptimizePNG,
		TimeoutSeconds:        req.TimeoutSeconds,
		BlockResources:        req.BlockResources,
		TransparentBackground: req.TransparentBackground,
		UserAgent:             req.UserAgent,
		PNGQuality:            req.PNGQuality,
		BackgroundColor:       req.BackgroundColor,
	})
	if err != nil {
		return nil, bridgeerr.FromError(bridgeerr.ResultSerialize, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, bridgeerr.FromError(bridgeerr.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, bridgeerr.NewWithCause(bridgeerr.BrowserPoolExhausted, "render request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, bridgeerr.Errorf(bridgeerr.BrowserPoolExhausted, "render service status %d: %s", resp.StatusCode, string(raw))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		evType, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, bridgeerr.New(bridgeerr.Internal, "render stream closed before result")
			}
			return nil, bridgeerr.FromError(bridgeerr.Internal, err)
		}
		switch evType {
		case "progress":
			var p progressFrame
			if err := json.Unmarshal(data, &p); err == nil && onProgress != nil {
				onProgress(p.Percent, p.Message)
			}
		case "result":
			var res resultFrame
			if err := json.Unmarshal(data, &res); err != nil {
				return nil, bridgeerr.FromError(bridgeerr.ResultSerialize, err)
			}
			return external.WrapDirect(map[string]any{
				"success": true,
				"png_result": map[string]any{
					"base64_data": res.Base64Data,
					"width":       res.Width,
					"height":      res.Height,
					"file_size":   res.FileSize,
					"metadata":    res.Metadata,
				},
			})
		case "error":
			var e errorFrame
			_ = json.Unmarshal(data, &e)
			return nil, bridgeerr.New(bridgeerr.BrowserPoolExhausted, e.Message)
		default:
			continue
		}
	}
}

// readSSEEvent parses a single SSE frame (event:/data: lines terminated
// by a blank line) off reader.
func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var evType string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if evType == "" && len(data) == 0 {
				continue
			}
			return evType, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			evType = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			chunk := strings.TrimPrefix(after, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
			continue
		}
		if after, ok := strings.CutPrefix(line, "retry:"); ok {
			_, _ = strconv.Atoi(strings.TrimSpace(after))
			continue
		}
	}
}
