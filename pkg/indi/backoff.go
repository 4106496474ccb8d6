package indi

import (
	"time"

	"astrobridge/pkg/policy"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackOff yields min(base*2^n, max) plus a jitter in (0, base] for
// the n-th consecutive failure, counting from 1, and stops after the policy's
// attempt limit.
type reconnectBackOff struct {
	policy  policy.Policy
	attempt int
}

var _ backoff.BackOff = (*reconnectBackOff)(nil)

func newReconnectBackOff(p policy.Policy) *reconnectBackOff {
	return &reconnectBackOff{policy: p}
}

func (b *reconnectBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxReconnectAttempts {
		return backoff.Stop
	}
	b.attempt++
	return b.policy.ReconnectDelay(b.attempt) + b.policy.Jitter()
}

func (b *reconnectBackOff) Reset() {
	b.attempt = 0
}
