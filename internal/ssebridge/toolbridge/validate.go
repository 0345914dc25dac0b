package toolbridge

import (
	"context"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
)

func (b *Bridge) validateDSL(ctx context.Context, connID string, rawArgs []byte) (map[string]any, error) {
	args, err := normalizeValidateArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	startEv := event.New(event.ValidationStarted, connID, map[string]any{})
	if err := b.conn.Send(ctx, startEv); err != nil {
		b.log.Error(ctx, "validation started event send failed", "error", err)
	}

	progressEv := event.New(event.RenderProgress, connID, map[string]any{
		"percent": 50, "message": "Validating DSL syntax", "stage": "validation",
	})
	if err := b.conn.Send(ctx, progressEv); err != nil {
		b.log.Error(ctx, "validation progress event send failed", "error", err)
	}

	raw, err := b.validator.Validate(ctx, args.DSL)
	if err != nil {
		// The validator collaborator itself errored (schema compile issue,
		// context cancellation) — this is a tool failure, not an invalid
		// document.
		failEv := event.New(event.ValidationFailed, connID, map[string]any{"message": err.Error()})
		_ = b.conn.Send(ctx, failEv)
		return nil, err
	}

	parsed, err := event.ParseToolOutput(raw, ToolValidateDSL)
	if err != nil {
		failEv := event.New(event.ValidationFailed, connID, map[string]any{"message": err.Error()})
		_ = b.conn.Send(ctx, failEv)
		return nil, err
	}

	// An invalid document is a validation result, not a tool failure:
	// validate_dsl always completes successfully and reports validity in
	// its payload.
	payload := map[string]any{
		"valid":       asBool(parsed["valid"]),
		"errors":      orEmptyAny(parsed["errors"]),
		"warnings":    orEmptyAny(parsed["warnings"]),
		"suggestions": orEmptyAny(parsed["suggestions"]),
	}
	completeEv := event.New(event.ValidationCompleted, connID, payload)
	if err := b.conn.Send(ctx, completeEv); err != nil {
		b.log.Error(ctx, "validation completed event send failed", "error", err)
	}
	return payload, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// orEmptyAny normalizes a decoded JSON array field into a non-nil slice so
// clients always see "[]" rather than "null" for an absent or empty list.
func orEmptyAny(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{}
}
