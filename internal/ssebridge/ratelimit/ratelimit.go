// Package ratelimit enforces a per-key (API key or client address) request
// budget using golang.org/x/time/rate. Budgets are process-local: each
// worker throttles only the requests it sees. When a goa.design/pulse/rmap
// replicated map is supplied, denials are also counted there, so every
// worker can see how often a key has been throttled.
package ratelimit

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// clusterMap is the subset of rmap.Map the limiter depends on, narrowed so
// tests can substitute a fake without a live Redis-backed rmap.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
}

type rmapClusterMap struct{ m *rmap.Map }

func (r *rmapClusterMap) Get(key string) (string, bool) { return r.m.Get(key) }
func (r *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return r.m.SetIfNotExists(ctx, key, value)
}
func (r *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return r.m.TestAndSet(ctx, key, test, value)
}

// Config sets the base budget every key starts with.
type Config struct {
	RequestsPerMinute float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 600
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	return c
}

// Limiter enforces cfg's budget per key.
type Limiter struct {
	cfg     Config
	cluster clusterMap
	log     telemetry.Logger
	metrics telemetry.Metrics

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// New constructs a Limiter. cluster may be nil for a process-local-only
// limiter (suitable for single-worker deployments and tests).
func New(cfg Config, cluster *rmap.Map, log telemetry.Logger, metrics telemetry.Metrics) *Limiter {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	var cm clusterMap
	if cluster != nil {
		cm = &rmapClusterMap{m: cluster}
	}
	return &Limiter{cfg: cfg.withDefaults(), cluster: cm, log: log, metrics: metrics, local: make(map[string]*rate.Limiter)}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60.0), l.cfg.Burst)
		l.local[key] = lim
	}
	return lim
}

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed bool
	// Warn is true when the request is allowed but the key's remaining
	// burst has dropped below 20%, the signal for emitting a
	// rate_limit.warning event before the client actually gets throttled.
	Warn bool
}

// Allow reports whether key may proceed under the current budget. On
// denial it also records a cluster-wide violation count so other workers
// can see the key is actively being throttled (informational only; the
// per-key budget itself stays process-local, unlike the teacher's AIMD
// limiter which globally shrinks the shared budget — here a single key
// triggering backpressure shouldn't slow down every other client sharing
// the process).
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	lim := l.limiterFor(key)
	if !lim.Allow() {
		l.metrics.IncCounter(ctx, "ssebridge.ratelimit.denied", "key", key)
		if l.cluster != nil {
			l.recordViolation(ctx, key)
		}
		return Decision{Allowed: false}
	}
	warn := lim.Tokens() < float64(l.cfg.Burst)/5
	if warn {
		l.metrics.IncCounter(ctx, "ssebridge.ratelimit.warning", "key", key)
	}
	return Decision{Allowed: true, Warn: warn}
}

func (l *Limiter) recordViolation(ctx context.Context, key string) {
	const attempts = 3
	violationKey := "ssebridge:ratelimit:violations:" + key
	for i := 0; i < attempts; i++ {
		cur, ok := l.cluster.Get(violationKey)
		if !ok {
			if _, err := l.cluster.SetIfNotExists(ctx, violationKey, "1"); err != nil {
				l.log.Error(ctx, "rate limit violation seed failed", "key", key, "error", err)
			}
			return
		}
		n, err := strconv.Atoi(cur)
		if err != nil {
			return
		}
		next := strconv.Itoa(n + 1)
		prev, err := l.cluster.TestAndSet(ctx, violationKey, cur, next)
		if err != nil {
			return
		}
		if prev == cur {
			return
		}
	}
}
