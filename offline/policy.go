package offline

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy indicates a RetryPolicy that violates its own
// constraints (see Validate).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy configures automatic retries for transient failures on
// idempotent read fetches.
//
// It applies to Read only. Mutating calls are never auto-retried outside
// queue replay: a duplicated write is worse than a queued one. When a read
// attempt fails with a retryable error, the cache waits with exponential
// backoff plus jitter before the next attempt, then falls back to the
// cached payload once attempts are exhausted.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of fetch attempts, including the
	// initial one. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, only transport-level failures are retried.
	Retryable func(error) bool
}

// Validate checks the policy's constraints:
//   - MaxAttempts must be >= 1
//   - if both MaxDelay and BaseDelay are > 0, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryable reports whether err should trigger another attempt under this
// policy. The default treats transport failures as transient.
func (rp *RetryPolicy) retryable(err error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(err)
	}
	var te *TransportError
	return errors.As(err, &te)
}

// computeBackoff calculates the delay before the next attempt:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). Jitter randomizes retry timing
// so a room full of officials' devices doesn't hammer a recovering server
// in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	// Jitter timing, not security-sensitive.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404

	return exponentialDelay + jitter
}
