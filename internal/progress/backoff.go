package progress

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newReconnectBackoff returns the socket reconnect schedule: base delay
// growing by the multiplier up to the cap, without jitter.
func newReconnectBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBase
	b.Multiplier = cfg.ReconnectMultiplier
	b.MaxInterval = cfg.ReconnectCap
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// nextDelay never reports backoff.Stop; the attempt budget is enforced by
// the subscription.
func nextDelay(b *backoff.ExponentialBackOff) time.Duration {
	d := b.NextBackOff()
	if d < 0 {
		return b.MaxInterval
	}
	return d
}
