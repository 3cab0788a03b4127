package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	backoffInitial    = time.Second
	backoffMultiplier = 1.5
	backoffCap        = 30 * time.Second
)

// newReconnectSchedule builds the reconnect delay sequence: 1000ms growing by
// 1.5x per failed attempt, capped at 30000ms. Reset on every Active
// transition so the next drop starts over at 1000ms.
func newReconnectSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.Multiplier = backoffMultiplier
	b.MaxInterval = backoffCap
	// Deterministic delays; the sequence itself is the contract.
	b.RandomizationFactor = 0
	// Retry forever; giving up is the caller's decision via context.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
