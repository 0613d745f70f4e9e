package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffMultiplier doubles the exponential delay on every attempt.
const backoffMultiplier = 2.0

// reconnectPolicy decides whether another reconnect may be scheduled and how
// long to wait before it. The attempt counter itself lives on the Manager.
type reconnectPolicy struct {
	strategy    Strategy
	maxAttempts int
	backoff     backoff.BackOff
}

// newReconnectPolicy builds the policy for the configured strategy.
//
// Exponential: delay = min(ReconnectPeriod × 2^attempts, MaxReconnectDelay),
// optionally randomised by Jitter. Fixed: delay = ReconnectPeriod.
func newReconnectPolicy(o Options) *reconnectPolicy {
	p := &reconnectPolicy{
		strategy:    o.ReconnectStrategy,
		maxAttempts: o.MaxReconnectAttempts,
	}

	switch o.ReconnectStrategy {
	case StrategyFixed:
		p.backoff = backoff.NewConstantBackOff(o.ReconnectPeriod)
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = o.ReconnectPeriod
		b.MaxInterval = o.MaxReconnectDelay
		b.Multiplier = backoffMultiplier
		b.RandomizationFactor = o.Jitter
		b.MaxElapsedTime = 0
		b.Reset()
		p.backoff = b
	}

	return p
}

// exhausted reports whether attempts has reached the cap. The fixed strategy
// never gives up.
func (p *reconnectPolicy) exhausted(attempts int) bool {
	if p.strategy != StrategyExponential || p.maxAttempts < 0 {
		return false
	}
	return attempts >= p.maxAttempts
}

// next returns the delay for the next attempt and advances the backoff.
func (p *reconnectPolicy) next() time.Duration {
	d := p.backoff.NextBackOff()
	if d == backoff.Stop {
		// MaxElapsedTime is disabled, so Stop is not expected; fall back to the cap.
		if eb, ok := p.backoff.(*backoff.ExponentialBackOff); ok {
			return eb.MaxInterval
		}
		return 0
	}
	return d
}

// reset rewinds the backoff to the base delay.
func (p *reconnectPolicy) reset() {
	p.backoff.Reset()
}
