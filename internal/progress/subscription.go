package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/models"
)

// Handler receives the canonical progress stream of one subscription.
// Calls are serialized; a handler may call Unsubscribe.
type Handler func(models.ProgressMessage)

// Why a subscription ended, as reported to metrics.
const (
	endUnsubscribe = "unsubscribe"
	endTerminal    = "terminal"
	endClientClose = "client_closed"
)

// Transport labels for delivered messages.
const (
	transportSocket  = "socket"
	transportPolling = "polling"
	transportClient  = "client"
)

// Subscription follows one job. It starts on the socket, falls back to
// polling for good once the socket cannot be kept open, and tears itself
// down after delivering a terminal status.
type Subscription struct {
	client *Client
	jobID  string
	cfg    Config

	handler   atomic.Pointer[Handler]
	destroyed atomic.Bool
	done      chan struct{}

	// deliverMu serializes handler calls. It is always taken before mu,
	// never while holding it.
	deliverMu sync.Mutex
	finished  bool

	mu        sync.Mutex
	state     models.ConnectionState
	ending    bool
	sock      *socketConn
	failures  int
	backoff   *backoff.ExponentialBackOff
	reconnect clock.Timer
	poll      *poller
}

func newSubscription(c *Client, jobID string, h Handler) *Subscription {
	s := &Subscription{
		client:  c,
		jobID:   jobID,
		cfg:     c.cfg,
		done:    make(chan struct{}),
		state:   models.StateIdle,
		backoff: newReconnectBackoff(c.cfg),
	}
	s.handler.Store(&h)
	return s
}

func (s *Subscription) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateIdle {
		s.startSocketLocked()
	}
}

// JobID returns the job this subscription follows.
func (s *Subscription) JobID() string { return s.jobID }

// State returns the active transport.
func (s *Subscription) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetHandler replaces the handler. Messages delivered after it returns go
// to h.
func (s *Subscription) SetHandler(h Handler) {
	s.handler.Store(&h)
}

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe stops every timer, closes the socket and aborts any status
// request in flight. No handler call starts after it returns. Calling it
// again, or after a terminal status, does nothing.
func (s *Subscription) Unsubscribe() {
	s.teardown(endUnsubscribe)
}

func (s *Subscription) teardown(reason string) {
	s.mu.Lock()
	if s.state == models.StateClosed {
		s.mu.Unlock()
		return
	}
	s.destroyed.Store(true)
	s.state = models.StateClosed
	var conn Conn
	if s.sock != nil {
		conn = s.detachSocketLocked(s.sock)
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.poll != nil {
		s.poll.stop()
		s.poll = nil
	}
	s.mu.Unlock()

	closeText := closeReasonCleanup
	if reason == endTerminal {
		closeText = closeReasonCompleted
	}
	closeConn(conn, websocket.CloseNormalClosure, closeText)

	close(s.done)
	s.client.forget(s)
	s.client.metrics.SubscriptionEnded(reason)
	s.client.logger.Debug("subscription ended", "job_id", s.jobID, "reason", reason)
}

// deliver hands msg to the handler unless the subscription is destroyed
// or has already delivered a terminal status.
func (s *Subscription) deliver(msg models.ProgressMessage, transport string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.destroyed.Load() || s.finished {
		s.client.metrics.MessageDropped(reasonAfterClose)
		return false
	}
	if msg.Status.IsTerminal() {
		s.finished = true
	}
	if h := s.handler.Load(); h != nil && *h != nil {
		(*h)(msg)
	}
	s.client.metrics.MessageDelivered(transport)
	return true
}

// finish delivers a terminal message and ends the subscription.
func (s *Subscription) finish(msg models.ProgressMessage, transport string) {
	if s.deliver(msg, transport) {
		s.client.logger.Info("job finished", "job_id", s.jobID, "status", msg.Status, "transport", transport)
	}
	s.teardown(endTerminal)
}

func (s *Subscription) drop(err error) {
	reason := reasonMalformed
	var perr *ProtocolError
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	s.client.metrics.MessageDropped(reason)
	s.client.logger.Warn("discarding payload", "job_id", s.jobID, "error", err)
}

// token returns the current bearer token, or "" when there is none.
func (s *Subscription) token(ctx context.Context) string {
	if s.client.tokens == nil {
		return ""
	}
	t, err := s.client.tokens.Token(ctx)
	if err != nil {
		if !errors.Is(err, auth.ErrNoToken) {
			s.client.logger.Warn("token provider failed", "job_id", s.jobID, "error", err)
		}
		return ""
	}
	return t
}
