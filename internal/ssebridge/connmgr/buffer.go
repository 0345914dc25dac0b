package connmgr

import (
	"context"
	"encoding/json"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
)

// bufferedEvent is the JSON shape persisted into a connection's ring
// buffer list. It carries enough of the original event to reconstruct the
// wire frame during Last-Event-ID replay.
type bufferedEvent struct {
	ID      string     `json:"id"`
	Kind    event.Kind `json:"kind"`
	ConnID  string     `json:"connection_id"`
	Payload any        `json:"payload"`
	RetryMS int        `json:"retry_ms,omitempty"`
}

func toBuffered(ev event.Event) bufferedEvent {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return bufferedEvent{ID: ev.ID, Kind: ev.Kind, ConnID: ev.ConnID, Payload: payload, RetryMS: ev.RetryMS}
}

func (b bufferedEvent) toEvent() event.Event {
	return event.New(b.Kind, b.ConnID, b.Payload, event.WithID(b.ID), event.WithRetry(b.RetryMS))
}

// PersistToBuffer appends ev to connID's replay ring buffer, trimming it
// to bufSize entries and renewing the buffer's TTL. It is exported so
// publishers that deliver events through the pub/sub bridge (cross-worker
// background work such as the task tracker) can write the buffer exactly
// once at publish time, before the owning worker ever sees the event —
// DispatchLocal, in contrast, never touches the buffer.
func PersistToBuffer(ctx context.Context, st store.Store, connID string, ev event.Event, bufSize int, bufTTL int64) error {
	raw, err := json.Marshal(toBuffered(ev))
	if err != nil {
		return err
	}
	key := bufferKey(connID)
	if err := st.LPush(ctx, key, string(raw)); err != nil {
		return err
	}
	if err := st.LTrim(ctx, key, 0, int64(bufSize)-1); err != nil {
		return err
	}
	if bufTTL > 0 {
		if err := st.Expire(ctx, key, secondsToDuration(bufTTL)); err != nil {
			return err
		}
	}
	return nil
}

// ReplaySince returns the events buffered for connID that were emitted
// after lastEventID, oldest first, and whether the replay is truncated
// (lastEventID was supplied but is no longer in the buffer, because it
// expired or never existed). If lastEventID is empty, the entire buffer
// is returned (oldest first) and truncated is always false: the client
// never claimed to have seen anything, so there is nothing to warn about.
//
// When lastEventID is non-empty but unmatched, the caller can't tell
// "nothing missed" from "missed everything", so ReplaySince errs toward
// redelivering the whole buffer rather than silently dropping events —
// but reports truncated so the caller can tell the client some events
// between lastEventID and the oldest buffered event may be lost.
func ReplaySince(ctx context.Context, st store.Store, connID, lastEventID string) ([]event.Event, bool, error) {
	raw, err := st.LRange(ctx, bufferKey(connID), 0, -1)
	if err != nil {
		return nil, false, err
	}
	// raw is newest-first (LPush prepends); decode and reverse to oldest-first.
	decoded := make([]bufferedEvent, 0, len(raw))
	for _, r := range raw {
		var b bufferedEvent
		if err := json.Unmarshal([]byte(r), &b); err != nil {
			continue
		}
		decoded = append(decoded, b)
	}
	for i, j := 0, len(decoded)-1; i < j; i, j = i+1, j-1 {
		decoded[i], decoded[j] = decoded[j], decoded[i]
	}

	if lastEventID == "" {
		return toEvents(decoded), false, nil
	}
	idx := -1
	for i, b := range decoded {
		if b.ID == lastEventID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return toEvents(decoded), true, nil
	}
	return toEvents(decoded[idx+1:]), false, nil
}

func toEvents(bs []bufferedEvent) []event.Event {
	out := make([]event.Event, len(bs))
	for i, b := range bs {
		out[i] = b.toEvent()
	}
	return out
}
