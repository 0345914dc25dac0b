package toolbridge

import (
	"encoding/json"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/dslnorm"
)

// renderOptions is the normalized, fully-defaulted options block for
// render_ui_mockup. Every field is given a concrete default at
// normalization time so the store never has to persist an explicit null
// for it.
type renderOptions struct {
	Width                 int
	Height                int
	DeviceScaleFactor     float64
	WaitForLoad           bool
	FullPage              bool
	OptimizePNG           bool
	TimeoutSeconds        int
	BlockResources        bool
	TransparentBackground bool
	UserAgent             string
	PNGQuality            int
	BackgroundColor       string
}

// renderArgs is the normalized, defaulted argument set for render_ui_mockup.
type renderArgs struct {
	DSL     json.RawMessage
	Theme   string
	Async   bool
	Options renderOptions
}

// rawRenderOptions mirrors the wire shape of render_ui_mockup's nested
// "options" object. Every field is a pointer so an absent key is
// distinguishable from an explicit zero value at default-filling time.
type rawRenderOptions struct {
	Width                 *int     `json:"width"`
	Height                *int     `json:"height"`
	DeviceScaleFactor     *float64 `json:"device_scale_factor"`
	WaitForLoad           *bool    `json:"wait_for_load"`
	FullPage              *bool    `json:"full_page"`
	OptimizePNG           *bool    `json:"optimize_png"`
	Timeout               *int     `json:"timeout"`
	BlockResources        *bool    `json:"block_resources"`
	TransparentBackground *bool    `json:"transparent_background"`
	UserAgent             *string  `json:"user_agent"`
	PNGQuality            *int     `json:"png_quality"`
	BackgroundColor       *string  `json:"background_color"`
}

type rawRenderArgs struct {
	DSLContent json.RawMessage   `json:"dsl_content"`
	Options    *rawRenderOptions `json:"options"`
	AsyncMode  *bool             `json:"async_mode"`
	Theme      *string           `json:"theme"`

	// Width/Height are also accepted top-level as a convenience; a value
	// nested under "options" takes precedence when both are present.
	Width  *int `json:"width"`
	Height *int `json:"height"`
}

const (
	defaultWidth                 = 800
	defaultHeight                = 600
	defaultTheme                 = "light"
	defaultDeviceScaleFactor     = 1.0
	defaultWaitForLoad           = true
	defaultFullPage              = false
	defaultOptimizePNG           = true
	defaultTimeoutSeconds        = 30
	defaultBlockResources        = false
	defaultTransparentBackground = false
	defaultUserAgent             = "Mozilla/5.0 (Linux; MCP Bridge)"
	defaultPNGQuality            = 90
	defaultBackgroundColor       = "#ffffff"
)

func normalizeRenderArgs(raw json.RawMessage) (renderArgs, error) {
	var r rawRenderArgs
	if err := json.Unmarshal(raw, &r); err != nil {
		return renderArgs{}, bridgeerr.Errorf(bridgeerr.InvalidArguments, "render_ui_mockup: invalid arguments: %v", err)
	}
	if len(r.DSLContent) == 0 {
		return renderArgs{}, bridgeerr.New(bridgeerr.InvalidArguments, "render_ui_mockup: \"dsl_content\" is required")
	}

	// dsl_content may itself be a JSON string containing YAML/JSON text
	// (the common MCP tool-argument shape) or an already-structured JSON
	// document; dslnorm.Normalize accepts either.
	var asString string
	content := []byte(r.DSLContent)
	if err := json.Unmarshal(r.DSLContent, &asString); err == nil {
		content = []byte(asString)
	}

	normalized, err := dslnorm.Normalize(content)
	if err != nil {
		return renderArgs{}, err
	}

	opts := renderOptions{
		Width:                 defaultWidth,
		Height:                defaultHeight,
		DeviceScaleFactor:     defaultDeviceScaleFactor,
		WaitForLoad:           defaultWaitForLoad,
		FullPage:              defaultFullPage,
		OptimizePNG:           defaultOptimizePNG,
		TimeoutSeconds:        defaultTimeoutSeconds,
		BlockResources:        defaultBlockResources,
		TransparentBackground: defaultTransparentBackground,
		UserAgent:             defaultUserAgent,
		PNGQuality:            defaultPNGQuality,
		BackgroundColor:       defaultBackgroundColor,
	}
	if r.Width != nil && *r.Width > 0 {
		opts.Width = *r.Width
	}
	if r.Height != nil && *r.Height > 0 {
		opts.Height = *r.Height
	}
	if o := r.Options; o != nil {
		if o.Width != nil && *o.Width > 0 {
			opts.Width = *o.Width
		}
		if o.Height != nil && *o.Height > 0 {
			opts.Height = *o.Height
		}
		if o.DeviceScaleFactor != nil && *o.DeviceScaleFactor > 0 {
			opts.DeviceScaleFactor = *o.DeviceScaleFactor
		}
		if o.WaitForLoad != nil {
			opts.WaitForLoad = *o.WaitForLoad
		}
		if o.FullPage != nil {
			opts.FullPage = *o.FullPage
		}
		if o.OptimizePNG != nil {
			opts.OptimizePNG = *o.OptimizePNG
		}
		if o.Timeout != nil && *o.Timeout > 0 {
			opts.TimeoutSeconds = *o.Timeout
		}
		if o.BlockResources != nil {
			opts.BlockResources = *o.BlockResources
		}
		if o.TransparentBackground != nil {
			opts.TransparentBackground = *o.TransparentBackground
		}
		if o.UserAgent != nil && *o.UserAgent != "" {
			opts.UserAgent = *o.UserAgent
		}
		if o.PNGQuality != nil && *o.PNGQuality > 0 {
			opts.PNGQuality = *o.PNGQuality
		}
		if o.BackgroundColor != nil && *o.BackgroundColor != "" {
			opts.BackgroundColor = *o.BackgroundColor
		}
	}

	args := renderArgs{DSL: normalized, Theme: defaultTheme, Options: opts}
	if r.Theme != nil && *r.Theme != "" {
		args.Theme = *r.Theme
	}
	if r.AsyncMode != nil {
		args.Async = *r.AsyncMode
	}
	return args, nil
}

type validateArgs struct {
	DSL json.RawMessage
}

func normalizeValidateArgs(raw json.RawMessage) (validateArgs, error) {
	var r struct {
		DSLContent json.RawMessage `json:"dsl_content"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return validateArgs{}, bridgeerr.Errorf(bridgeerr.InvalidArguments, "validate_dsl: invalid arguments: %v", err)
	}
	if len(r.DSLContent) == 0 {
		return validateArgs{}, bridgeerr.New(bridgeerr.InvalidArguments, "validate_dsl: \"dsl_content\" is required")
	}
	var asString string
	content := []byte(r.DSLContent)
	if err := json.Unmarshal(r.DSLContent, &asString); err == nil {
		content = []byte(asString)
	}
	normalized, err := dslnorm.Normalize(content)
	if err != nil {
		return validateArgs{}, err
	}
	return validateArgs{DSL: normalized}, nil
}

type statusArgs struct {
	TaskID string
}

func normalizeStatusArgs(raw json.RawMessage) (statusArgs, error) {
	var r struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return statusArgs{}, bridgeerr.Errorf(bridgeerr.InvalidArguments, "get_render_status: invalid arguments: %v", err)
	}
	if r.TaskID == "" {
		return statusArgs{}, bridgeerr.New(bridgeerr.InvalidArguments, "get_render_status: \"task_id\" is required")
	}
	return statusArgs{TaskID: r.TaskID}, nil
}
