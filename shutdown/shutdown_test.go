package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalTriggersOnce(t *testing.T) {
	s := NewSignal()
	cause := errors.New("too many reconnects")

	require.True(t, s.Trigger("watchdog", cause))
	require.False(t, s.Trigger("memory", nil))

	f := <-s.C()
	require.Equal(t, "watchdog", f.Reason)
	require.ErrorIs(t, f, cause)
	require.Contains(t, f.Error(), "watchdog")

	select {
	case <-s.C():
		t.Fatal("second fatal delivered")
	default:
	}
}
