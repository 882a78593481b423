package retry

import (
	"math"
	"time"
)

// Backoff implements exponential backoff with a configurable maximum number of attempts.
type Backoff struct {
	// MaxAttempts is the maximum number of retry attempts. 0 means no retries.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows. Defaults to 2.
	Multiplier float64
}

// Exponential creates a Backoff starting at 2s and capped at 30s.
func Exponential(maxAttempts int) *Backoff {
	return &Backoff{
		MaxAttempts:  maxAttempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Next returns the delay for the given attempt number.
func (b *Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt > b.MaxAttempts {
		return 0, false
	}
	return grow(b.InitialDelay, b.MaxDelay, b.Multiplier, attempt), true
}

func grow(initial, ceiling time.Duration, multiplier float64, attempt int) time.Duration {
	if multiplier == 0 {
		multiplier = 2
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if ceiling > 0 && delay > float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

// ReconnectPolicy parameterizes ReconnectDelay.
type ReconnectPolicy struct {
	// Base is the delay of the first attempt.
	Base time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
	// RotationCooldown is the minimum spacing between endpoint rotations.
	RotationCooldown time.Duration
}

// ReconnectDelay returns min(Base*2^(attempt-1), Cap), raised to the time
// left in the rotation cooldown when the last rotation is recent. It has no
// side effects.
func ReconnectDelay(p ReconnectPolicy, attempt int, lastRotation, now time.Time) time.Duration {
	delay := grow(p.Base, p.Cap, 2, attempt)
	if lastRotation.IsZero() || p.RotationCooldown <= 0 {
		return delay
	}
	if remaining := p.RotationCooldown - now.Sub(lastRotation); remaining > delay {
		return remaining
	}
	return delay
}
