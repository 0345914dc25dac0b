package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
)

const timeLayout = time.RFC3339Nano

type connectionResponse struct {
	ID            string `json:"id"`
	ClientID      string `json:"client_id,omitempty"`
	Status        string `json:"status"`
	ConnectedAt   string `json:"connected_at"`
	LastHeartbeat string `json:"last_heartbeat"`
	LastActivity  string `json:"last_activity"`
	OwningWorker  string `json:"owning_worker"`
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	id := s.pathParam(r, "id")
	conn, ok, err := s.mgr.Get(r.Context(), id)
	if err != nil {
		writeErrorCtx(w, r, err)
		return
	}
	if !ok {
		writeErrorCtx(w, r, bridgeerr.Errorf(bridgeerr.InvalidArguments, "unknown connection %q", id))
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{
		ID:            conn.ID,
		ClientID:      conn.ClientID,
		Status:        string(conn.Status),
		ConnectedAt:   conn.ConnectedAt.Format(timeLayout),
		LastHeartbeat: conn.LastHeartbeat.Format(timeLayout),
		LastActivity:  conn.LastActivity.Format(timeLayout),
		OwningWorker:  conn.OwningWorker,
	})
}

type closeConnectionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	id := s.pathParam(r, "id")
	var body closeConnectionRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	reason := body.Reason
	if reason == "" {
		reason = "closed_by_request"
	}
	if _, ok, err := s.mgr.Get(r.Context(), id); err != nil {
		writeErrorCtx(w, r, err)
		return
	} else if !ok {
		writeErrorCtx(w, r, bridgeerr.Errorf(bridgeerr.InvalidArguments, "unknown connection %q", id))
		return
	}
	if err := s.mgr.CloseConnection(r.Context(), id, reason); err != nil {
		writeErrorCtx(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	TotalConnections int `json:"total_connections"`
	LocalConnections int `json:"local_connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.Stats(r.Context())
	if err != nil {
		writeErrorCtx(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{TotalConnections: stats.TotalConnections, LocalConnections: stats.LocalConnections})
}

type broadcastRequest struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

type broadcastResponse struct {
	Targeted int `json:"targeted"`
}

// handleBroadcast is an administrative fan-out endpoint: it is not
// gated by a connection ID, only by auth, since it targets every
// currently live connection recorded in the shared store.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCtx(w, r, bridgeerr.NewWithCause(bridgeerr.InvalidArguments, "invalid broadcast request body", err))
		return
	}
	if req.Kind == "" {
		writeErrorCtx(w, r, bridgeerr.New(bridgeerr.InvalidArguments, "kind is required"))
		return
	}
	count, err := s.mgr.Broadcast(r.Context(), event.Kind(req.Kind), req.Payload)
	if err != nil {
		writeErrorCtx(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcastResponse{Targeted: count})
}
