package logutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(time.Minute).WithClock(func() time.Time { return now })

	ok, n := l.Allow()
	require.True(t, ok)
	require.Zero(t, n)

	for i := 0; i < 5; i++ {
		ok, _ = l.Allow()
		require.False(t, ok)
	}

	now = now.Add(time.Minute)
	ok, n = l.Allow()
	require.True(t, ok)
	require.Equal(t, 5, n)
}
