// Package event defines the typed SSE event model emitted by the bridge:
// the closed set of event kinds, the envelope every event is carried in,
// and the wire encoding clients receive over the stream.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

// Kind is the closed set of SSE event types the bridge emits.
type Kind string

const (
	ConnectionOpened     Kind = "connection.opened"
	ConnectionHeartbeat  Kind = "connection.heartbeat"
	ConnectionClosed     Kind = "connection.closed"
	ConnectionError      Kind = "connection.error"
	ToolCall             Kind = "mcp.tool.call"
	ToolResponse         Kind = "mcp.tool.response"
	ToolError            Kind = "mcp.tool.error"
	ToolProgress         Kind = "mcp.tool.progress"
	RenderStarted        Kind = "render.started"
	RenderProgress       Kind = "render.progress"
	RenderCompleted      Kind = "render.completed"
	RenderFailed         Kind = "render.failed"
	ValidationStarted    Kind = "validation.started"
	ValidationCompleted  Kind = "validation.completed"
	ValidationFailed     Kind = "validation.failed"
	StatusUpdate         Kind = "status.update"
	ServerError          Kind = "server.error"
	RateLimitWarning     Kind = "rate_limit.warning"
	RateLimitExceeded    Kind = "rate_limit.exceeded"
)

// Event is a single SSE frame's payload prior to wire encoding.
type Event struct {
	ID        string
	Kind      Kind
	ConnID    string
	Payload   any
	EmittedAt time.Time
	RetryMS   int
}

// Option mutates an Event at construction time.
type Option func(*Event)

// WithRetry sets the SSE retry hint (in milliseconds) advertised alongside
// the event. Zero (the default) means no retry line is emitted.
func WithRetry(ms int) Option {
	return func(e *Event) { e.RetryMS = ms }
}

// WithID overrides the generated event ID, used by callers that must keep
// an ID stable across a retried publish (e.g. replay from a ring buffer).
func WithID(id string) Option {
	return func(e *Event) { e.ID = id }
}

// New constructs an Event for connID carrying payload, stamping a fresh ID
// and the current time unless overridden by opts.
func New(kind Kind, connID string, payload any, opts ...Option) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		ConnID:    connID,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

// errKindToEvents maps each bridgeerr.Kind to the SSE event kind(s) a
// client observing it on the stream should expect. Most error kinds map to
// a single terminal event; a handful can surface under more than one event
// depending on where in the pipeline they were raised.
var errKindToEvents = map[bridgeerr.Kind][]Kind{
	bridgeerr.StoreUnavailable:       {ServerError},
	bridgeerr.AuthenticationFailed:   {ConnectionError},
	bridgeerr.AuthorizationFailed:    {ConnectionError},
	bridgeerr.RateLimited:            {RateLimitExceeded},
	bridgeerr.UnknownTool:            {ToolError, ConnectionError},
	bridgeerr.InvalidArguments:       {ToolError, ConnectionError},
	bridgeerr.ValidationError:        {ToolError, ConnectionError},
	bridgeerr.ToolTimeout:            {ToolError, RenderFailed},
	bridgeerr.ToolParse:              {ConnectionError},
	bridgeerr.BrowserPoolExhausted:   {RenderFailed},
	bridgeerr.ConnectionBackpressure: {ConnectionClosed},
	bridgeerr.ResultSerialize:        {ServerError},
	bridgeerr.Internal:               {ServerError},
}

// KindsForError returns the SSE event kind(s) associated with a given
// error kind, falling back to ServerError for anything unmapped.
func KindsForError(kind bridgeerr.Kind) []Kind {
	if kinds, ok := errKindToEvents[kind]; ok {
		return kinds
	}
	return []Kind{ServerError}
}
