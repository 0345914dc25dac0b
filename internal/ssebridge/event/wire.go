package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// wireEnvelope is the JSON shape written on the "data:" line(s) of an SSE
// frame: the event type, the connection id, and the payload. The event id
// travels on the "id:" line; the event's EmittedAt is not written to the
// frame.
type wireEnvelope struct {
	Type    Kind `json:"type"`
	ConnID  string `json:"connection_id,omitempty"`
	Payload any    `json:"payload"`
}

// FormatWire writes ev to w using the standard SSE frame grammar: an "id:"
// line, an "event:" line, an optional "retry:" line, one or more "data:"
// lines (the payload is compacted JSON, split on embedded newlines per the
// SSE spec so no "data:" line itself contains a bare newline), and a
// terminating blank line.
func FormatWire(w io.Writer, ev Event) error {
	body, err := json.Marshal(wireEnvelope{Type: ev.Kind, ConnID: ev.ConnID, Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %s\n", ev.ID)
	fmt.Fprintf(&buf, "event: %s\n", ev.Kind)
	if ev.RetryMS > 0 {
		fmt.Fprintf(&buf, "retry: %d\n", ev.RetryMS)
	}
	for _, line := range strings.Split(string(body), "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')

	_, err = w.Write(buf.Bytes())
	return err
}

// Encode returns the SSE wire bytes for ev without requiring callers to
// supply an io.Writer.
func Encode(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := FormatWire(&buf, ev); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
