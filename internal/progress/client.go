// Package progress follows server-side jobs and delivers their status
// updates as one ordered stream per subscription.
//
// A subscription first listens on the job's progress socket, keeping it
// alive with a ping every HeartbeatInterval and reconnecting with backoff
// when it drops. When the socket does not open within OpenTimeout, or
// MaxReconnectAttempts reconnects in a row have failed, the subscription
// switches to polling the status endpoint and never goes back. A terminal status
// (completed, failed, cancelled) is delivered once and ends the
// subscription.
package progress

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/metrics"
)

// Client creates subscriptions that share endpoints, credentials and
// collaborators. Subscriptions share no state with each other.
type Client struct {
	cfg        Config
	dialer     Dialer
	httpClient *http.Client
	tokens     auth.TokenProvider
	clock      clock.Clock
	logger     logging.Logger
	metrics    metrics.Collector

	subs   *xsync.Map[*Subscription, string]
	closed atomic.Bool
}

// NewClient returns a client for the backend in cfg. Zero timing fields
// take their DefaultConfig values.
func NewClient(cfg Config, opts ...Option) *Client {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		cfg:        cfg.withDefaults(),
		dialer:     o.dialer,
		httpClient: o.httpClient,
		tokens:     o.tokens,
		clock:      o.clock,
		logger:     o.logger,
		metrics:    o.metrics,
		subs:       xsync.NewMap[*Subscription, string](),
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	return c
}

// Subscribe starts following jobID. Every call builds a new subscription;
// callers replacing one job with another should unsubscribe the old one
// first (Tracker does this).
func (c *Client) Subscribe(jobID string, h Handler) (*Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrEmptyJobID
	}
	s := newSubscription(c, jobID, h)
	c.subs.Store(s, jobID)
	c.metrics.SubscriptionStarted()
	c.logger.Debug("subscribing", "job_id", jobID)
	s.start()
	return s, nil
}

// Active returns the number of live subscriptions.
func (c *Client) Active() int {
	return c.subs.Size()
}

// Close tears down every live subscription and rejects new ones.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.subs.Range(func(s *Subscription, _ string) bool {
		s.teardown(endClientClose)
		return true
	})
}

func (c *Client) forget(s *Subscription) {
	c.subs.Delete(s)
}
