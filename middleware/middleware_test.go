package middleware

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/event"
)

func TestPipeline(t *testing.T) {
	var delivered []event.Log
	terminal := func(lg event.Log) *event.Log {
		delivered = append(delivered, lg)
		return &lg
	}

	dedupe, err := NewDedupe(2)
	require.NoError(t, err)
	m := NewMetrics("poll")
	h := Chain(terminal, m, NewLogger(zerolog.Nop()), SkipRemoved(), dedupe)

	a := event.Log{TxHash: event.Hash{1}, LogIndex: 0}
	b := event.Log{TxHash: event.Hash{1}, LogIndex: 1}
	c := event.Log{TxHash: event.Hash{2}, LogIndex: 0}

	require.NotNil(t, h(a))
	require.NotNil(t, h(b))
	require.Nil(t, h(a))
	require.Nil(t, h(event.Log{TxHash: event.Hash{3}, Removed: true}))

	// capacity 2: c evicts a, so a is delivered again
	require.NotNil(t, h(c))
	require.NotNil(t, h(a))

	require.Len(t, delivered, 4)
	require.Equal(t, uint64(4), m.Processed())
	require.Equal(t, uint64(2), m.Dropped())
	require.Equal(t, 2, dedupe.Len())
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return Func(func(next Handler) Handler {
			return func(lg event.Log) *event.Log {
				order = append(order, name)
				return next(lg)
			}
		})
	}
	h := Chain(func(lg event.Log) *event.Log { return &lg }, mark("outer"), mark("inner"))
	h(event.Log{})
	require.Equal(t, []string{"outer", "inner"}, order)
}
