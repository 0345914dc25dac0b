package event

import (
	"encoding/json"
	"time"
)

// Envelope is the cross-process message published on the shared pub/sub
// channel so any worker's Pub/Sub Bridge can pick up an event regardless
// of which worker produced it.
type Envelope struct {
	EventType Kind     `json:"event_type"`
	ConnID    string   `json:"connection_id,omitempty"`
	Data      wireData `json:"data"`
}

type wireData struct {
	ID        string    `json:"id"`
	Payload   any       `json:"payload"`
	RetryMS   int       `json:"retry_ms,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// MarshalEnvelope serializes ev for publication on the shared channel.
func MarshalEnvelope(ev Event) ([]byte, error) {
	env := Envelope{
		EventType: ev.Kind,
		ConnID:    ev.ConnID,
		Data: wireData{
			ID:        ev.ID,
			Payload:   ev.Payload,
			RetryMS:   ev.RetryMS,
			EmittedAt: ev.EmittedAt,
		},
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope reconstructs the Event carried by a published message.
func UnmarshalEnvelope(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, err
	}
	return Event{
		ID:        env.Data.ID,
		Kind:      env.EventType,
		ConnID:    env.ConnID,
		Payload:   env.Data.Payload,
		EmittedAt: env.Data.EmittedAt,
		RetryMS:   env.Data.RetryMS,
	}, nil
}
