package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectDelay(t *testing.T) {
	policy := ReconnectPolicy{Base: 5 * time.Second, Cap: 25 * time.Second, RotationCooldown: 2 * time.Minute}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		attempt      int
		lastRotation time.Time
		want         time.Duration
	}{
		{name: "first attempt", attempt: 1, want: 5 * time.Second},
		{name: "second attempt", attempt: 2, want: 10 * time.Second},
		{name: "third attempt", attempt: 3, want: 20 * time.Second},
		{name: "capped", attempt: 4, want: 25 * time.Second},
		{name: "far beyond cap", attempt: 60, want: 25 * time.Second},
		{name: "zero attempt treated as first", attempt: 0, want: 5 * time.Second},
		{name: "recent rotation floors delay", attempt: 1, lastRotation: now.Add(-30 * time.Second), want: 90 * time.Second},
		{name: "old rotation ignored", attempt: 2, lastRotation: now.Add(-10 * time.Minute), want: 10 * time.Second},
		{name: "cooldown shorter than backoff", attempt: 4, lastRotation: now.Add(-110 * time.Second), want: 25 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReconnectDelay(policy, tt.attempt, tt.lastRotation, now)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, ReconnectDelay(policy, tt.attempt, tt.lastRotation, now))
		})
	}
}

func TestBackoff(t *testing.T) {
	b := Exponential(5)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, w := range want {
		d, ok := b.Next(i + 1)
		require.True(t, ok)
		require.Equal(t, w, d)
	}
	_, ok := b.Next(6)
	require.False(t, ok)
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, 10*time.Minute).WithClock(func() time.Time { return now })

	require.False(t, cb.RecordFailure())
	require.False(t, cb.RecordFailure())
	require.True(t, cb.Allow())
	require.True(t, cb.RecordFailure())
	require.Equal(t, Open, cb.CurrentState())
	require.False(t, cb.Allow())
	require.Equal(t, now.Add(10*time.Minute), cb.OpenUntil())

	now = now.Add(9 * time.Minute)
	require.False(t, cb.Allow())

	now = now.Add(time.Minute)
	require.True(t, cb.Allow())
	require.Equal(t, HalfOpen, cb.CurrentState())

	require.True(t, cb.RecordFailure())
	require.False(t, cb.Allow())

	now = now.Add(10 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	require.Equal(t, Closed, cb.CurrentState())
	require.Zero(t, cb.Failures())
	require.True(t, cb.OpenUntil().IsZero())
}
