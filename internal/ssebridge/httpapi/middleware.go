package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

type ctxKey int

const (
	credentialHashKey ctxKey = iota
	requestIDKey
)

func credentialHashFrom(ctx context.Context) string {
	h, _ := ctx.Value(credentialHashKey).(string)
	return h
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// chain wraps h with a request ID, CORS, authentication, and rate
// limiting, in that order: the request ID must exist before anything
// else can report an error against it, CORS headers are set
// unconditionally so even a rejected request carries them, authentication
// runs before rate limiting so an unauthenticated caller is rejected on
// credentials rather than spending another client's budget, and the
// handler itself only ever sees already authenticated, already-throttled
// requests.
func (s *Server) chain(h http.HandlerFunc) http.HandlerFunc {
	return s.withRequestID(s.withCORS(s.withAuth(s.withRateLimit(h))))
}

func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, allowAll := s.allowedOrigins["*"]; allowAll || len(s.allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if _, ok := s.allowedOrigins[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-API-Key, Content-Type, Last-Event-ID")
		}
		next(w, r)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next(w, r)
			return
		}
		apiKey := bearerToken(r)
		credentialHash, err := s.auth.Authenticate(r.Context(), apiKey)
		if err != nil {
			writeErrorCtx(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), credentialHashKey, credentialHash)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}
		key := rateLimitKey(r)
		decision := s.limiter.Allow(r.Context(), key)
		if !decision.Allowed {
			writeErrorCtx(w, r, bridgeerr.New(bridgeerr.RateLimited, "request rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

// rateLimitKey prefers the authenticated credential hash so a client
// can't dodge its budget by reconnecting from a new address; it falls
// back to the remote address for unauthenticated deployments.
func rateLimitKey(r *http.Request) string {
	if h := credentialHashFrom(r.Context()); h != "" {
		return h
	}
	return r.RemoteAddr
}
