package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a deterministic doubling backoff.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultPolicy waits 1s, 2s, 4s, 8s, 16s and then 30s for every further
// consecutive failure.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
	}
}

// NewBackOff returns an exponential backoff without jitter or an elapsed
// time limit, so it never returns backoff.Stop.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait after the given number of consecutive failures.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	b := p.NewBackOff()
	var d time.Duration
	for i := 0; i < failures; i++ {
		d = b.NextBackOff()
		if d == p.Max {
			break
		}
	}
	return d
}
