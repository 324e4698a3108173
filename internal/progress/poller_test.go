package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/models"
)

// statusServer serves a scripted status body and records requests.
type statusServer struct {
	*httptest.Server

	mu       sync.Mutex
	body     string
	code     int
	requests []*http.Request
	// hold, when set, blocks each request until it is closed or the
	// request is cancelled.
	hold chan struct{}
}

func newStatusServer(t *testing.T, body string) *statusServer {
	t.Helper()
	s := &statusServer{body: body, code: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	body, code, hold := s.body, s.code, s.hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (s *statusServer) respond(code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code, s.body = code, body
}

func (s *statusServer) holdRequests() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	return s.hold
}

func (s *statusServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *statusServer) lastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1].URL.Path
}

func (s *statusServer) lastHeader(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1].Header.Get(key)
}

func (s *statusServer) waitRequests(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() >= n }, waitFor, time.Millisecond,
		"expected %d status requests, got %d", n, s.count())
}

// startPolling subscribes and forces the fallback through an open timeout.
func startPolling(t *testing.T, h *harness, jobID string) *Subscription {
	t.Helper()
	s := h.subscribe(t, jobID)
	h.dialer.next(t)
	h.clock.Advance(5 * time.Second)
	require.Equal(t, models.StatePolling, s.State())
	return s
}

func TestPolling_SingleFlight(t *testing.T) {
	srv := newStatusServer(t, `{"status":"processing","progress":{"current_step":2,"total_steps":8}}`)
	release := srv.holdRequests()
	h := newHarness(t, srv.URL)
	startPolling(t, h, "abc123")
	srv.waitRequests(t, 1)

	h.clock.Advance(3 * time.Second)
	h.clock.Advance(3 * time.Second)
	assert.Never(t, func() bool { return srv.count() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 2, h.metrics.polled("skipped"))

	close(release)
	assert.Equal(t, models.StatusProcessing, h.rec.next(t).Status)

	h.clock.Advance(3 * time.Second)
	srv.waitRequests(t, 2)
}

func TestPolling_SendsBearerToken(t *testing.T) {
	srv := newStatusServer(t, `{"status":"queued"}`)
	h := newHarness(t, srv.URL, WithTokenProvider(auth.Static("tok")))
	startPolling(t, h, "abc123")
	h.rec.next(t)

	assert.Equal(t, "Bearer tok", srv.lastHeader("Authorization"))
	assert.Equal(t, "application/json", srv.lastHeader("Accept"))
}

func TestPolling_NoTokenNoHeader(t *testing.T) {
	srv := newStatusServer(t, `{"status":"queued"}`)
	h := newHarness(t, srv.URL, WithTokenProvider(auth.Static("")))
	startPolling(t, h, "abc123")
	h.rec.next(t)

	assert.Empty(t, srv.lastHeader("Authorization"))
}

func TestPolling_TerminalStopsTicks(t *testing.T) {
	srv := newStatusServer(t, `{"id":"abc123","status":"cancelled"}`)
	h := newHarness(t, srv.URL)
	s := startPolling(t, h, "abc123")

	assert.Equal(t, models.StatusCancelled, h.rec.next(t).Status)
	waitDone(t, s)
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return srv.count() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	h.rec.expectNone(t)
}

func TestPolling_IdenticalBodiesDeliveredOnce(t *testing.T) {
	srv := newStatusServer(t, `{"status":"processing","progress":{"current_step":1,"total_steps":8}}`)
	h := newHarness(t, srv.URL)
	startPolling(t, h, "abc123")
	h.rec.next(t)

	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return h.metrics.polled("unchanged") == 1 }, waitFor, time.Millisecond)
	h.rec.expectNone(t)

	srv.respond(http.StatusOK, `{"status":"processing","progress":{"current_step":2,"total_steps":8}}`)
	h.clock.Advance(3 * time.Second)
	msg := h.rec.next(t)
	assert.Equal(t, 2, msg.Progress.CurrentStep)
}

func TestPolling_FailuresReportDisconnectedOnce(t *testing.T) {
	srv := newStatusServer(t, `{"detail":"down"}`)
	srv.respond(http.StatusBadGateway, `{"detail":"down"}`)
	h := newHarness(t, srv.URL)
	s := startPolling(t, h, "abc123")

	for i := 1; i <= 4; i++ {
		require.Eventually(t, func() bool { return h.metrics.polled("error") == i }, waitFor, time.Millisecond)
		if i < 4 {
			h.clock.Advance(3 * time.Second)
		}
	}

	msg := h.rec.next(t)
	assert.Equal(t, models.StatusDisconnected, msg.Status)
	assert.Equal(t, "abc123", msg.JobID)
	h.rec.expectNone(t)
	assert.Equal(t, models.StatePolling, s.State())

	srv.respond(http.StatusOK, `{"status":"processing"}`)
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, models.StatusProcessing, h.rec.next(t).Status)
}

func TestPolling_UnsubscribeAbortsRequest(t *testing.T) {
	srv := newStatusServer(t, `{"status":"processing"}`)
	srv.holdRequests()
	h := newHarness(t, srv.URL)
	s := startPolling(t, h, "abc123")
	srv.waitRequests(t, 1)

	s.Unsubscribe()

	assert.Equal(t, 0, h.clock.Pending())
	h.rec.expectNone(t)
	assert.Zero(t, h.metrics.polled("error"))
}

func TestPolling_InvalidBodyIgnored(t *testing.T) {
	srv := newStatusServer(t, `<html>`)
	h := newHarness(t, srv.URL)
	startPolling(t, h, "abc123")

	require.Eventually(t, func() bool { return h.metrics.polled("invalid") == 1 }, waitFor, time.Millisecond)
	h.rec.expectNone(t)

	srv.respond(http.StatusOK, `{"id":"elsewhere","status":"processing"}`)
	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return h.metrics.polled("invalid") == 2 }, waitFor, time.Millisecond)
	h.rec.expectNone(t)
	assert.Equal(t, 1, h.metrics.droppedFor(reasonJobMismatch))
}

func TestRequestStatus_ErrorDetail(t *testing.T) {
	srv := newStatusServer(t, `{"detail":"Job not found"}`)
	srv.respond(http.StatusNotFound, `{"detail":"Job not found"}`)
	h := newHarness(t, srv.URL)
	s := h.subscribe(t, "abc123")

	_, err := s.requestStatus(context.Background())
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "Job not found", statusErr.Detail)
	assert.Contains(t, err.Error(), "Job not found")
}
