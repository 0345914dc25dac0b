package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
)

const closeOnDisconnectTimeout = 5 * time.Second

type connectRequest struct {
	ClientID string `json:"client_id"`
}

// handleConnect opens a connection and streams it as an SSE response. The
// handler blocks for the lifetime of the connection: it returns only when
// the client disconnects, the connection is closed from elsewhere (an
// explicit DELETE, a reconnect takeover, idle timeout, or backpressure),
// or the server is shutting down.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorCtx(w, r, bridgeerr.New(bridgeerr.Internal, "streaming not supported by this response writer"))
		return
	}

	var body connectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.InvalidArguments, "invalid connect request body", err))
			return
		}
	}
	clientID := body.ClientID
	if clientID == "" {
		clientID = queryParam(r, "client_id")
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = queryParam(r, "last_event_id")
	}

	ctx := r.Context()
	conn, err := s.mgr.Open(ctx, connmgr.OpenRequest{
		ClientAddr:     r.RemoteAddr,
		UserAgent:      r.UserAgent(),
		ClientID:       clientID,
		CredentialHash: credentialHashFrom(ctx),
	})
	if err != nil {
		writeErrorCtx(w, r, err)
		return
	}

	openedEv := event.New(event.ConnectionOpened, conn.ID, map[string]any{"connection_id": conn.ID, "client_id": conn.ClientID})
	if err := s.mgr.Send(ctx, openedEv); err != nil {
		s.log.Error(ctx, "failed to emit connection opened event", "connection_id", conn.ID, "error", err)
	}

	frames, err := s.mgr.Stream(ctx, conn.ID, lastEventID)
	if err != nil {
		writeErrorCtx(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			break
		}
		flusher.Flush()
	}

	if ctx.Err() != nil {
		// The loop ended because the client went away, not because a
		// connection.closed event tore the queue down itself: record the
		// disconnect explicitly so the connection doesn't linger as
		// "connected" until idle-timeout catches up with it.
		closeCtx, cancel := context.WithTimeout(context.Background(), closeOnDisconnectTimeout)
		defer cancel()
		if err := s.mgr.CloseConnection(closeCtx, conn.ID, "client_disconnected"); err != nil {
			s.log.Error(closeCtx, "failed to record client disconnect", "connection_id", conn.ID, "error", err)
		}
	}
}
