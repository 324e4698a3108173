package progress

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/metrics"
	"github.com/journi/jobwatch/internal/models"
)

const waitFor = 2 * time.Second

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// dialAttempt is one pending DialContext call. The test decides its fate.
type dialAttempt struct {
	ctx    context.Context
	url    string
	header http.Header
	result chan dialResult
}

type dialResult struct {
	conn Conn
	err  error
}

func (a *dialAttempt) Accept() *fakeConn {
	c := newFakeConn()
	a.result <- dialResult{conn: c}
	return c
}

func (a *dialAttempt) Fail(err error) {
	a.result <- dialResult{err: err}
}

// fakeDialer hands every attempt to the test. Attempts nobody answers
// block until their context is cancelled.
type fakeDialer struct {
	attempts chan *dialAttempt
	count    atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(chan *dialAttempt)}
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	d.count.Add(1)
	a := &dialAttempt{ctx: ctx, url: urlStr, header: header, result: make(chan dialResult, 1)}
	select {
	case d.attempts <- a:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-a.result:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *dialAttempt {
	t.Helper()
	select {
	case a := <-d.attempts:
		return a
	case <-time.After(waitFor):
		t.Fatal("no dial attempt")
		return nil
	}
}

func (d *fakeDialer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case a := <-d.attempts:
		t.Fatalf("unexpected dial attempt to %s", a.url)
	case <-time.After(50 * time.Millisecond):
	}
}

// stubbornDialer ignores cancellation and succeeds once released.
type stubbornDialer struct {
	release chan struct{}
	conn    *fakeConn
}

func (d *stubbornDialer) DialContext(context.Context, string, http.Header) (Conn, error) {
	<-d.release
	return d.conn, nil
}

// fakeConn is an in-memory socket. Frames pushed with Send are read by
// the subscription; Drop simulates the peer vanishing.
type fakeConn struct {
	inbound  chan []byte
	dead     chan struct{}
	deadOnce sync.Once

	mu        sync.Mutex
	written   [][]byte
	closeCode int
	closeText string
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), dead: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.dead:
		return 0, nil, errors.New("connection reset by peer")
	default:
	}
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.dead:
		return 0, nil, errors.New("connection reset by peer")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		c.closeText = string(data[2:])
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.deadOnce.Do(func() { close(c.dead) })
	return nil
}

func (c *fakeConn) Send(frame string) {
	c.inbound <- []byte(frame)
}

func (c *fakeConn) Drop() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) CloseFrame() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText, c.closed
}

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []models.ProgressMessage
	ch   chan models.ProgressMessage
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan models.ProgressMessage, 64)}
}

func (r *recorder) handle(msg models.ProgressMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.ch <- msg
}

func (r *recorder) next(t *testing.T) models.ProgressMessage {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
		return models.ProgressMessage{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// countingMetrics records the events tests synchronize on.
type countingMetrics struct {
	metrics.Nop

	mu         sync.Mutex
	polls      map[string]int
	dropped    map[string]int
	ended      map[string]int
	reconnects int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		polls:   map[string]int{},
		dropped: map[string]int{},
		ended:   map[string]int{},
	}
}

func (m *countingMetrics) PollRequest(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[outcome]++
}

func (m *countingMetrics) MessageDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *countingMetrics) SubscriptionEnded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended[reason]++
}

func (m *countingMetrics) ReconnectScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

func (m *countingMetrics) reconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

func (m *countingMetrics) polled(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls[outcome]
}

func (m *countingMetrics) droppedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func (m *countingMetrics) endedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended[reason]
}

type harness struct {
	clock   *clock.FakeClock
	dialer  *fakeDialer
	metrics *countingMetrics
	client  *Client
	rec     *recorder
}

func newHarness(t *testing.T, backend string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.Fake(epoch),
		dialer:  newFakeDialer(),
		metrics: newCountingMetrics(),
		rec:     newRecorder(),
	}
	cfg := DefaultConfig()
	cfg.BackendURL = backend
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://backend.invalid"
	}
	base := []Option{
		WithClock(h.clock),
		WithDialer(h.dialer),
		WithLogger(logging.NewTest(t)),
		WithMetrics(h.metrics),
	}
	h.client = NewClient(cfg, append(base, opts...)...)
	t.Cleanup(h.client.Close)
	return h
}

func (h *harness) subscribe(t *testing.T, jobID string) *Subscription {
	t.Helper()
	s, err := h.client.Subscribe(jobID, h.rec.handle)
	require.NoError(t, err)
	return s
}

// open subscribes and accepts the first dial attempt.
func (h *harness) open(t *testing.T, jobID string) (*Subscription, *fakeConn) {
	t.Helper()
	s := h.subscribe(t, jobID)
	conn := h.dialer.next(t).Accept()
	waitState(t, s, models.StateSocketOpen)
	return s, conn
}

func waitState(t *testing.T, s *Subscription, want models.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		waitFor, time.Millisecond, "state never became %s (is %s)", want, s.State())
}

func waitDone(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription not torn down")
	}
}
