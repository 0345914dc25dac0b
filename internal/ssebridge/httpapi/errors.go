package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

// errorBody is the error envelope shape spelled out for the SSE HTTP
// surface: error (human message), error_code (the bridgeerr.Kind),
// optional details, and the request ID also echoed in X-Request-ID.
type errorBody struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorCtx(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := bridgeerr.KindOf(err)
	if !ok {
		kind = bridgeerr.Internal
	}
	body := errorBody{Error: err.Error(), ErrorCode: string(kind), RequestID: requestIDFrom(r.Context())}
	writeJSON(w, bridgeerr.HTTPStatus(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
