// Package connmgr owns the lifecycle of SSE connections: the shared
// connection table (visible to every worker), the per-connection replay
// buffer, and the local in-process delivery queue for connections this
// worker actually owns.
package connmgr

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a connection as recorded in the shared
// store.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Connection is the shared-store record for one SSE connection. ClientID
// and CredentialHash are optional: when absent they are simply never
// written into the hash (the store never persists explicit nulls).
type Connection struct {
	ID             string
	ClientID       string
	ClientAddr     string
	UserAgent      string
	CredentialHash string
	Status         Status
	ConnectedAt    time.Time
	LastHeartbeat  time.Time
	LastActivity   time.Time
	OwningWorker   string
}

const timeLayout = time.RFC3339Nano

// toFields renders c as a hash field map, omitting any optional field that
// is empty rather than writing an explicit empty/null value.
func (c Connection) toFields() map[string]string {
	f := map[string]string{
		"id":             c.ID,
		"client_addr":    c.ClientAddr,
		"user_agent":     c.UserAgent,
		"status":         string(c.Status),
		"connected_at":   c.ConnectedAt.Format(timeLayout),
		"last_heartbeat": c.LastHeartbeat.Format(timeLayout),
		"last_activity":  c.LastActivity.Format(timeLayout),
		"owning_worker":  c.OwningWorker,
	}
	if c.ClientID != "" {
		f["client_id"] = c.ClientID
	}
	if c.CredentialHash != "" {
		f["credential_hash"] = c.CredentialHash
	}
	return f
}

func connFromFields(f map[string]string) (Connection, error) {
	c := Connection{
		ID:             f["id"],
		ClientID:       f["client_id"],
		ClientAddr:     f["client_addr"],
		UserAgent:      f["user_agent"],
		CredentialHash: f["credential_hash"],
		Status:         Status(f["status"]),
		OwningWorker:   f["owning_worker"],
	}
	var err error
	if c.ConnectedAt, err = parseTime(f["connected_at"]); err != nil {
		return Connection{}, fmt.Errorf("connected_at: %w", err)
	}
	if c.LastHeartbeat, err = parseTime(f["last_heartbeat"]); err != nil {
		return Connection{}, fmt.Errorf("last_heartbeat: %w", err)
	}
	if c.LastActivity, err = parseTime(f["last_activity"]); err != nil {
		return Connection{}, fmt.Errorf("last_activity: %w", err)
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// key conventions for the shared store. Kept together so the whole wire
// format for the connection table lives in one place.
func connKey(id string) string      { return "sse:conn:" + id }
func bufferKey(id string) string    { return "sse:buffer:" + id }
func clientKey(clientID string) string { return "sse:client:" + clientID }

// EventChannel is the shared pub/sub channel cross-worker event envelopes
// are published on.
const EventChannel = "sse_events"
