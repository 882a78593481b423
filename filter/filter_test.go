package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/event"
)

func TestAllFilter(t *testing.T) {
	sig := event.MustHexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	f := All(Topic(0, sig), TopicCount(3), MinData(32))

	ok := event.Log{Topics: []event.Hash{sig, {}, {}}, Data: make([]byte, 32)}
	require.True(t, f.Match(ok))

	nft := event.Log{Topics: []event.Hash{sig, {}, {}, {}}}
	require.False(t, f.Match(nft))

	short := event.Log{Topics: []event.Hash{sig, {}, {}}, Data: make([]byte, 31)}
	require.False(t, f.Match(short))

	require.True(t, All().Match(event.Log{}))
	require.False(t, Topic(5, sig).Match(ok))
}

func TestQueryAtBlock(t *testing.T) {
	q := NewQuery(WithTopics([]event.Hash{{1}}))
	at := q.AtBlock(42)
	require.Nil(t, q.FromBlock)
	require.Equal(t, uint64(42), *at.FromBlock)
	require.Equal(t, uint64(42), *at.ToBlock)
	require.Len(t, at.Topics, 1)
}
