package progress

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/models"
)

// socketConn is one connection attempt. Its fields are guarded by the
// owning subscription's mu except writeMu, which serializes data frames.
type socketConn struct {
	cancel    context.CancelFunc
	openTimer clock.Timer
	heartbeat clock.Timer
	conn      Conn
	lastPong  time.Time

	writeMu sync.Mutex
}

func (sc *socketConn) write(conn Conn, data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Subscription) startSocketLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &socketConn{cancel: cancel}
	s.sock = sc
	s.state = models.StateSocketOpening
	sc.openTimer = s.client.clock.AfterFunc(s.cfg.OpenTimeout, func() { s.openTimedOut(sc) })
	go s.dial(ctx, sc)
}

// detachSocketLocked stops everything sc owns and returns its connection,
// if it ever opened, for the caller to close outside the lock.
func (s *Subscription) detachSocketLocked(sc *socketConn) Conn {
	if s.sock == sc {
		s.sock = nil
	}
	sc.cancel()
	if sc.openTimer != nil {
		sc.openTimer.Stop()
	}
	if sc.heartbeat != nil {
		sc.heartbeat.Stop()
	}
	conn := sc.conn
	sc.conn = nil
	return conn
}

// closeConn sends a close frame and drops the connection without waiting
// for the peer's reply.
func closeConn(conn Conn, code int, text string) {
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(closeWriteWait))
	_ = conn.Close()
}

func (s *Subscription) dial(ctx context.Context, sc *socketConn) {
	token := s.token(ctx)
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", auth.BearerHeader(token))
	}
	conn, err := s.client.dialer.DialContext(ctx, socketURL(s.cfg.SocketURL, s.jobID, token), header)

	s.mu.Lock()
	if s.sock != sc || s.state != models.StateSocketOpening {
		late := s.ending || s.state == models.StateClosed
		s.mu.Unlock()
		if conn != nil {
			if late {
				closeConn(conn, websocket.CloseNormalClosure, closeReasonCleanup)
				s.client.logger.Debug("discarding socket opened after subscription ended", "job_id", s.jobID)
			} else {
				closeConn(conn, websocket.CloseNormalClosure, closeReasonFallback)
			}
		}
		return
	}
	if err != nil {
		s.socketFailedLocked(sc, &TransportError{Op: "dial", Err: err})
		s.mu.Unlock()
		return
	}
	sc.openTimer.Stop()
	sc.conn = conn
	sc.lastPong = s.client.clock.Now()
	s.state = models.StateSocketOpen
	s.failures = 0
	s.backoff.Reset()
	sc.heartbeat = s.client.clock.AfterFunc(s.cfg.HeartbeatInterval, func() { s.heartbeatTick(sc) })
	s.mu.Unlock()

	s.client.logger.Info("socket connected", "job_id", s.jobID)
	go s.readLoop(sc, conn)
}

func (s *Subscription) openTimedOut(sc *socketConn) {
	s.mu.Lock()
	if s.sock != sc || s.state != models.StateSocketOpening {
		s.mu.Unlock()
		return
	}
	s.detachSocketLocked(sc)
	s.client.logger.Warn("socket open timed out", "job_id", s.jobID,
		"error", &TimeoutError{Op: "open", After: s.cfg.OpenTimeout})
	s.startPollingLocked("open_timeout")
	s.mu.Unlock()
}

// socketFailedLocked handles a dead socket: a reconnect is scheduled
// until MaxReconnectAttempts reconnects have failed, then polling takes
// over.
// While a terminal status is being delivered the socket stays attached so
// teardown closes it normally.
func (s *Subscription) socketFailedLocked(sc *socketConn, cause error) Conn {
	if s.ending {
		return nil
	}
	conn := s.detachSocketLocked(sc)
	s.failures++
	if s.failures > s.cfg.MaxReconnectAttempts {
		s.client.logger.Warn("socket reconnects exhausted", "job_id", s.jobID,
			"attempts", s.failures, "error", cause)
		s.startPollingLocked("reconnects_exhausted")
		return conn
	}
	delay := nextDelay(s.backoff)
	s.state = models.StateIdle
	s.reconnect = s.client.clock.AfterFunc(delay, s.reconnectTick)
	s.client.metrics.ReconnectScheduled()
	s.client.logger.Warn("socket lost, reconnecting", "job_id", s.jobID,
		"attempt", s.failures, "delay", delay, "error", cause)
	return conn
}

func (s *Subscription) reconnectTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StateIdle || s.ending {
		return
	}
	s.reconnect = nil
	s.startSocketLocked()
}

func (s *Subscription) heartbeatTick(sc *socketConn) {
	s.mu.Lock()
	if s.sock != sc || s.state != models.StateSocketOpen || s.ending {
		s.mu.Unlock()
		return
	}
	if silent := s.client.clock.Now().Sub(sc.lastPong); silent >= s.cfg.PongTimeout {
		s.client.metrics.HeartbeatTimeout()
		conn := s.socketFailedLocked(sc, &TimeoutError{Op: "heartbeat", After: silent})
		s.mu.Unlock()
		closeConn(conn, closeHeartbeatTimeout, closeReasonHeartbeat)
		return
	}
	sc.heartbeat = s.client.clock.AfterFunc(s.cfg.HeartbeatInterval, func() { s.heartbeatTick(sc) })
	conn := sc.conn
	s.mu.Unlock()

	// A failed write surfaces as a read error on the same connection.
	if err := sc.write(conn, pingFrame); err != nil {
		s.client.logger.Debug("ping failed", "job_id", s.jobID, "error", err)
	}
}

func (s *Subscription) readLoop(sc *socketConn, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.socketClosed(sc, err)
			return
		}
		if !s.handleFrame(sc, conn, data) {
			return
		}
	}
}

// handleFrame reports whether the read loop should continue.
func (s *Subscription) handleFrame(sc *socketConn, conn Conn, data []byte) bool {
	kind, payload, err := classifyFrame(data)
	if err != nil {
		s.drop(err)
		return true
	}
	switch kind {
	case framePong:
		s.mu.Lock()
		if s.sock == sc {
			sc.lastPong = s.client.clock.Now()
		}
		s.mu.Unlock()
		return true
	case framePing:
		if err := sc.write(conn, pongFrame); err != nil {
			s.client.logger.Debug("pong failed", "job_id", s.jobID, "error", err)
		}
		return true
	}

	msg, err := normalize(payload, s.jobID, s.client.clock.Now())
	if err != nil {
		s.drop(err)
		return true
	}

	s.mu.Lock()
	if s.sock != sc || s.state != models.StateSocketOpen {
		s.mu.Unlock()
		return false
	}
	terminal := msg.Status.IsTerminal()
	if terminal {
		s.ending = true
	}
	s.mu.Unlock()

	if terminal {
		s.finish(msg, transportSocket)
		return false
	}
	return s.deliver(msg, transportSocket)
}

func (s *Subscription) socketClosed(sc *socketConn, err error) {
	s.mu.Lock()
	if s.sock != sc || s.ending {
		s.mu.Unlock()
		return
	}
	conn := s.socketFailedLocked(sc, &TransportError{Op: "read", Err: err})
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
