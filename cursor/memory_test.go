package cursor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	_, ok := m.Load("poll")
	require.False(t, ok)

	m.Save("poll", 0)
	b, ok := m.Load("poll")
	require.True(t, ok)
	require.Zero(t, b)

	m.Save("poll", 42)
	b, _ = m.Load("poll")
	require.Equal(t, uint64(42), b)
}
