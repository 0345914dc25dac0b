// Package config loads the SSE bridge's runtime configuration from the
// environment, with the same flat, env-var-driven shape the teacher's
// deployment configs use, extended here with overridable defaults so a
// bare `go run` still boots something reasonable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is every environment-sourced knob the composition root needs.
type Config struct {
	Host string
	Port string

	StoreURL       string // redis://... ; empty selects the in-memory store, for local/dev use
	ChannelName    string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	CleanupInterval   time.Duration
	BufferSize        int
	BufferTTL         time.Duration

	SSEEnabled bool

	APIKeys        []string
	DevMode        bool
	AllowedOrigins []string

	RateLimitPerMinute float64
	RateLimitBurst     int

	RenderEndpoint   string
	ValidateEndpoint string
	StatusEndpoint   string
	RenderTimeout    time.Duration

	TaskQueueBackend string // "inmemory" or "temporal"
	TemporalAddress  string
	TemporalTaskList string

	Debug bool
}

// Load reads Config from the process environment, applying defaults for
// anything unset. It never fails: a missing or malformed numeric value
// falls back to its default rather than aborting startup, since a typo'd
// env var shouldn't take the whole process down before logging exists.
func Load() Config {
	cfg := Config{
		Host:               getEnv("SSEBRIDGE_HOST", "localhost"),
		Port:               getEnv("SSEBRIDGE_PORT", "8080"),
		StoreURL:           getEnv("SSEBRIDGE_STORE_URL", ""),
		ChannelName:        getEnv("SSEBRIDGE_CHANNEL_NAME", "sse_events"),
		HeartbeatInterval:  getDuration("SSEBRIDGE_HEARTBEAT_INTERVAL", 30*time.Second),
		ConnectionTimeout:  getDuration("SSEBRIDGE_CONNECTION_TIMEOUT", 300*time.Second),
		CleanupInterval:    getDuration("SSEBRIDGE_CLEANUP_INTERVAL", 60*time.Second),
		BufferSize:         getInt("SSEBRIDGE_BUFFER_SIZE", 100),
		BufferTTL:          getDuration("SSEBRIDGE_BUFFER_TTL", time.Hour),
		SSEEnabled:         getBool("SSEBRIDGE_SSE_ENABLED", true),
		APIKeys:            getList("SSEBRIDGE_API_KEYS"),
		DevMode:            getBool("SSEBRIDGE_DEV_MODE", false),
		AllowedOrigins:     getList("SSEBRIDGE_ALLOWED_ORIGINS"),
		RateLimitPerMinute: getFloat("SSEBRIDGE_RATE_LIMIT_RPM", 600),
		RateLimitBurst:     getInt("SSEBRIDGE_RATE_LIMIT_BURST", 20),
		RenderEndpoint:     getEnv("SSEBRIDGE_RENDER_ENDPOINT", ""),
		ValidateEndpoint:   getEnv("SSEBRIDGE_VALIDATE_ENDPOINT", ""),
		StatusEndpoint:     getEnv("SSEBRIDGE_STATUS_ENDPOINT", ""),
		RenderTimeout:      getDuration("SSEBRIDGE_RENDER_TIMEOUT", 60*time.Second),
		TaskQueueBackend:   getEnv("SSEBRIDGE_TASK_QUEUE_BACKEND", "inmemory"),
		TemporalAddress:    getEnv("SSEBRIDGE_TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskList:   getEnv("SSEBRIDGE_TEMPORAL_TASK_LIST", "ssebridge-render"),
		Debug:              getBool("SSEBRIDGE_DEBUG", false),
	}
	return cfg
}

// Addr is the listen address handed to http.Server.
func (c Config) Addr() string { return c.Host + ":" + c.Port }

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
