package progress

import "sync"

// Tracker holds at most one subscription, replacing it when the followed
// job changes. The old subscription is fully torn down before the new one
// starts.
type Tracker struct {
	client *Client

	mu      sync.Mutex
	current *Subscription
}

func NewTracker(c *Client) *Tracker {
	return &Tracker{client: c}
}

// Follow switches to jobID. Following the job already followed by a live
// subscription only swaps its handler.
func (t *Tracker) Follow(jobID string, h Handler) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.current; cur != nil {
		if cur.JobID() == jobID && !cur.destroyed.Load() {
			cur.SetHandler(h)
			return cur, nil
		}
		cur.Unsubscribe()
		t.current = nil
	}
	s, err := t.client.Subscribe(jobID, h)
	if err != nil {
		return nil, err
	}
	t.current = s
	return s, nil
}

// Current returns the followed subscription, or nil.
func (t *Tracker) Current() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Stop tears down the followed subscription.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.current.Unsubscribe()
		t.current = nil
	}
}
