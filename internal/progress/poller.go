package progress

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/clock"
	"github.com/journi/jobwatch/internal/models"
)

// maxPollBody caps how much of a status response is read.
const maxPollBody = 1 << 20

// poller is the polling channel of one subscription. Fields are guarded by
// the subscription's mu.
type poller struct {
	timer clock.Timer
	// cancel is set while a request is in flight.
	cancel   context.CancelFunc
	failures int
	lastKey  string
	stopped  bool
}

func (p *poller) stop() {
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// startPollingLocked switches the subscription to polling for the rest of
// its life. The first request goes out immediately.
func (s *Subscription) startPollingLocked(reason string) {
	if s.state == models.StatePolling || s.state == models.StateClosed {
		return
	}
	s.state = models.StatePolling
	s.client.metrics.FallbackToPolling(reason)
	s.client.logger.Info("falling back to polling", "job_id", s.jobID, "reason", reason)
	p := &poller{}
	s.poll = p
	s.pollTickLocked(p)
}

func (s *Subscription) pollTick(p *poller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollTickLocked(p)
}

func (s *Subscription) pollTickLocked(p *poller) {
	if s.poll != p || p.stopped {
		return
	}
	p.timer = s.client.clock.AfterFunc(s.cfg.PollInterval, func() { s.pollTick(p) })
	if p.cancel != nil {
		s.client.metrics.PollRequest("skipped")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go s.fetch(ctx, p)
}

func (s *Subscription) fetch(ctx context.Context, p *poller) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	msg, err := s.requestStatus(ctx)

	s.mu.Lock()
	if s.poll != p || p.stopped {
		s.mu.Unlock()
		return
	}
	p.cancel()
	p.cancel = nil

	var netErr *NetworkError
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.mu.Unlock()
		return
	case errors.As(err, &netErr):
		p.failures++
		failures := p.failures
		disconnected := s.cfg.DisconnectAfter > 0 && failures == s.cfg.DisconnectAfter
		if disconnected {
			// Deliver the next good response even if it repeats the last one.
			p.lastKey = ""
		}
		s.mu.Unlock()
		s.client.metrics.PollRequest("error")
		s.client.logger.Warn("status poll failed", "job_id", s.jobID, "failures", failures, "error", err)
		if disconnected {
			s.deliver(models.ProgressMessage{
				JobID:     s.jobID,
				Status:    models.StatusDisconnected,
				Timestamp: s.client.clock.Now().UTC().Format(timestampLayout),
			}, transportClient)
		}
		return
	default:
		s.mu.Unlock()
		s.client.metrics.PollRequest("invalid")
		s.drop(err)
		return
	}

	p.failures = 0
	key := contentKey(msg)
	if key == p.lastKey {
		s.mu.Unlock()
		s.client.metrics.PollRequest("unchanged")
		return
	}
	p.lastKey = key
	terminal := msg.Status.IsTerminal()
	if terminal {
		s.ending = true
		p.stopped = true
		p.timer.Stop()
	}
	s.mu.Unlock()

	s.client.metrics.PollRequest("ok")
	if terminal {
		s.finish(msg, transportPolling)
		return
	}
	s.deliver(msg, transportPolling)
}

func (s *Subscription) requestStatus(ctx context.Context) (models.ProgressMessage, error) {
	u := statusURL(s.cfg.BackendURL, s.jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.ProgressMessage{}, &NetworkError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if token := s.token(ctx); token != "" {
		req.Header.Set("Authorization", auth.BearerHeader(token))
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return models.ProgressMessage{}, &NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
		return models.ProgressMessage{}, &NetworkError{URL: u, Err: &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     errorDetail(data),
		}}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		return models.ProgressMessage{}, &NetworkError{URL: u, Err: err}
	}
	payload, err := decodePollBody(body)
	if err != nil {
		return models.ProgressMessage{}, err
	}
	return normalize(payload, s.jobID, s.client.clock.Now())
}
