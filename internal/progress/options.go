package progress

import (
	"net/http"
	"strings"
	"time"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/metrics"
)

// Config holds the endpoints and timing of the progress client.
type Config struct {
	// BackendURL is the http(s) origin serving /api/journey/status/{id}.
	BackendURL string
	// SocketURL is the ws(s) origin serving /ws/progress/{id}. Derived
	// from BackendURL when empty.
	SocketURL string

	OpenTimeout          time.Duration
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	ReconnectBase        time.Duration
	ReconnectMultiplier  float64
	ReconnectCap         time.Duration
	MaxReconnectAttempts int

	PollInterval   time.Duration
	RequestTimeout time.Duration
	// DisconnectAfter is the number of consecutive failed polls after
	// which a single disconnected message is delivered. Zero disables it.
	DisconnectAfter int
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		OpenTimeout:          5 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		PongTimeout:          30 * time.Second,
		ReconnectBase:        500 * time.Millisecond,
		ReconnectMultiplier:  1.5,
		ReconnectCap:         3 * time.Second,
		MaxReconnectAttempts: 5,
		PollInterval:         3 * time.Second,
		RequestTimeout:       20 * time.Second,
		DisconnectAfter:      3,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = d.ReconnectMultiplier
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = d.ReconnectCap
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DisconnectAfter < 0 {
		c.DisconnectAfter = 0
	}
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	c.SocketURL = strings.TrimRight(c.SocketURL, "/")
	if c.SocketURL == "" {
		c.SocketURL = socketOrigin(c.BackendURL)
	}
	return c
}

func socketOrigin(backend string) string {
	switch {
	case strings.HasPrefix(backend, "https://"):
		return "wss://" + strings.TrimPrefix(backend, "https://")
	case strings.HasPrefix(backend, "http://"):
		return "ws://" + strings.TrimPrefix(backend, "http://")
	}
	return backend
}

// Option configures a Client's collaborators.
type Option func(*clientOptions)

type clientOptions struct {
	dialer     Dialer
	httpClient *http.Client
	tokens     auth.TokenProvider
	clock      clock.Clock
	logger     logging.Logger
	metrics    metrics.Collector
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithHTTPClient sets the client used for status polls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTokenProvider sets where bearer tokens come from.
func WithTokenProvider(p auth.TokenProvider) Option {
	return func(o *clientOptions) { o.tokens = p }
}

// WithClock sets the time source for every subscription timer.
func WithClock(c clock.Clock) Option {
	return func(o *clientOptions) { o.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

func WithMetrics(m metrics.Collector) Option {
	return func(o *clientOptions) { o.metrics = m }
}
