package progress

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn a subscription drives. Reads happen
// on a single goroutine; writes are serialized by the caller.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens socket connections. The context is cancelled when the
// attempt is abandoned by an open timeout or by teardown.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

// WebsocketDialer adapts a gorilla/websocket dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close codes and reasons sent when the client ends a socket itself.
const (
	closeHeartbeatTimeout = 4000

	closeReasonCompleted = "job-completed"
	closeReasonHeartbeat = "heartbeat-timeout"
	closeReasonFallback  = "switching-to-polling"
	closeReasonCleanup   = "cleanup"
)

// closeWriteWait bounds how long a close frame may block teardown.
const closeWriteWait = time.Second

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

func socketURL(base, jobID, token string) string {
	u := base + "/ws/progress/" + url.PathEscape(jobID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func statusURL(base, jobID string) string {
	return base + "/api/journey/status/" + url.PathEscape(jobID)
}
