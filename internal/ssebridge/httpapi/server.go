// Package httpapi mounts the SSE HTTP surface directly on a
// goa.design/goa/v3/http Muxer. This repo carries no design package and
// therefore no generated transport code, so handlers are hand-written
// against the Muxer the way the teacher's generated server package would
// wire them, following the same mux-construction, debug-mount, and
// graceful-shutdown shape as the teacher's HTTP entrypoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/ratelimit"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/toolbridge"
)

// Server holds the collaborators the SSE HTTP surface dispatches to.
type Server struct {
	mgr     *connmgr.Manager
	bridge  *toolbridge.Bridge
	auth    external.Auth
	limiter *ratelimit.Limiter
	log     telemetry.Logger
	metrics telemetry.Metrics

	allowedOrigins map[string]struct{}
	devMode        bool
	mux            goahttp.Muxer
}

// New constructs a Server. allowedOrigins may be empty, in which case CORS
// responses allow any origin.
func New(mgr *connmgr.Manager, bridge *toolbridge.Bridge, auth external.Auth, limiter *ratelimit.Limiter, lg telemetry.Logger, metrics telemetry.Metrics, allowedOrigins []string) *Server {
	if lg == nil {
		lg = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Server{mgr: mgr, bridge: bridge, auth: auth, limiter: limiter, log: lg, metrics: metrics, allowedOrigins: origins}
}

// Mount registers every SSE endpoint on mux, wrapping each with the
// CORS/auth/rate-limit middleware chain.
func (s *Server) Mount(mux goahttp.Muxer) {
	s.mux = mux
	handle := func(method, pattern string, h http.HandlerFunc) {
		mux.Handle(method, pattern, s.chain(h))
	}

	handle(http.MethodGet, "/sse/connect", s.handleConnect)
	handle(http.MethodPost, "/sse/tool", s.handleTool)
	handle(http.MethodPost, "/sse/render", s.handleRender)
	handle(http.MethodPost, "/sse/validate", s.handleValidate)
	handle(http.MethodGet, "/sse/status", s.handleStatus)
	handle(http.MethodGet, "/sse/connections/{id}", s.handleGetConnection)
	handle(http.MethodDelete, "/sse/connections/{id}", s.handleCloseConnection)
	handle(http.MethodGet, "/sse/stats", s.handleStats)
	handle(http.MethodPost, "/sse/broadcast", s.handleBroadcast)
	handle(http.MethodOptions, "/sse/{path}", s.handlePreflight)
}

// Serve builds the full HTTP handler (mux plus debug mounts and
// request/response logging) and runs it until ctx is canceled, following
// the teacher's handleHTTPServer shape: background goroutine for
// ListenAndServe, 30s graceful shutdown on ctx.Done.
func (s *Server) Serve(ctx context.Context, addr string, dbg bool, errc chan<- error) {
	mux := goahttp.NewMuxer()
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	s.Mount(mux)

	var handler http.Handler = mux
	if dbg {
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	go func() {
		log.Printf(ctx, "HTTP server listening on %q", addr)
		errc <- srv.ListenAndServe()
	}()

	<-ctx.Done()
	log.Printf(ctx, "shutting down HTTP server at %q", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "failed to shutdown: %v", err)
	}
}
