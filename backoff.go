package pipeline

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls how fast a loop runner (Orchestrator,
// StageWorker, LeaseRecovery) re-polls after a transient store error.
//
// This never governs stage-execution retries: per spec §1's
// Non-goals, a stage that reports failure goes straight to ERROR with
// no automatic retry. BackoffConfig only throttles a loop's own
// re-poll cadence when the store itself is failing (connection lost,
// serialization conflict), so it does not hot-loop against a database
// that is down.
type BackoffConfig struct {
	MaxInterval         time.Duration
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// errorBackoff tracks a run of consecutive transient failures and
// computes the delay before the next retry, resetting once a call
// succeeds.
type errorBackoff struct {
	BackoffConfig
	consecutive uint32
}

// failure records a transient failure and returns how long to wait
// before the loop's next iteration.
func (b *errorBackoff) failure() time.Duration {
	b.consecutive++
	exp := float64(b.InitialInterval) * math.Pow(b.multiplier(), float64(b.consecutive-1))
	if b.MaxInterval > 0 && exp > float64(b.MaxInterval) {
		exp = float64(b.MaxInterval)
	}
	if b.RandomizationFactor > 0 {
		delta := b.RandomizationFactor * exp
		exp = exp - delta + rand.Float64()*(2*delta)
	}
	return time.Duration(exp)
}

func (b *errorBackoff) multiplier() float64 {
	if b.Multiplier <= 0 {
		return 1
	}
	return b.Multiplier
}

// success resets the consecutive-failure counter.
func (b *errorBackoff) success() {
	b.consecutive = 0
}
