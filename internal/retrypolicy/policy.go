// Package retrypolicy decides whether a failed transfer attempt is worth
// retrying and how long to wait before the next try.
package retrypolicy

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/modzoo/hubfetch/internal/download"
)

// Decision classifies a transfer error.
type Decision int

const (
	// Retry means another attempt may succeed.
	Retry Decision = iota
	// Terminal means retrying cannot help; fail the transfer.
	Terminal
)

// Policy bounds the retry loop of a single file transfer. Delays follow an
// exponential envelope min(BaseDelay * 2^attempt, MaxDelay) with a bounded
// random jitter fraction.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
}

// Default returns the policy used when config doesn't override it.
func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.25,
	}
}

// Backoff returns a stateful clock for one retry loop, configured to match
// the policy envelope. Callers create a fresh one per transfer so attempt
// counting restarts on every fresh start.
func (p Policy) Backoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = p.Jitter
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay

	return bo
}

// Classify maps an error to a retry decision. Network failures, timeouts and
// server-side errors are worth retrying; authentication, not-found, capacity
// and checksum errors are not. Caller cancellation is always terminal.
func (p Policy) Classify(err error) Decision {
	if err == nil {
		return Terminal
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, download.ErrCancelled) {
		return Terminal
	}

	var re download.RetryableError
	if errors.As(err, &re) {
		if re.Retryable() {
			return Retry
		}

		return Terminal
	}

	// A per-attempt deadline expiring is a timeout, not a caller cancel.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retry
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return Retry
	}

	return Terminal
}

// Exhausted reports whether the given number of completed attempts used up
// the retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
