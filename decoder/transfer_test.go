package decoder

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/event"
)

var (
	token = event.MustParseAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	alice = event.MustParseAddress("0x1111111111111111111111111111111111111111")
	bob   = event.MustParseAddress("0x2222222222222222222222222222222222222222")
)

func topicOf(a event.Address) event.Hash {
	var h event.Hash
	copy(h[12:], a[:])
	return h
}

func amount(v int64) []byte {
	b := make([]byte, 32)
	big.NewInt(v).FillBytes(b)
	return b
}

func validLog() event.Log {
	return event.Log{
		Address: token,
		Topics:  []event.Hash{TransferTopic, topicOf(alice), topicOf(bob)},
		Data:    amount(1_000_000),
	}
}

func TestDecodeTransfer(t *testing.T) {
	tr, err := NewTransferDecoder().Decode(validLog())
	require.NoError(t, err)
	require.Equal(t, token, tr.Token)
	require.Equal(t, alice, tr.From)
	require.Equal(t, bob, tr.To)
	require.Equal(t, int64(1_000_000), tr.Value.Int64())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*event.Log)
		reason string
	}{
		{name: "short data", mutate: func(l *event.Log) { l.Data = l.Data[:31] }, reason: "short_data"},
		{name: "empty data", mutate: func(l *event.Log) { l.Data = nil }, reason: "short_data"},
		{name: "zero emitter", mutate: func(l *event.Log) { l.Address = event.Address{} }, reason: "bad_emitter"},
		{name: "other event", mutate: func(l *event.Log) { l.Topics[0] = event.Hash{1} }, reason: "not_transfer"},
		{name: "erc721 shape", mutate: func(l *event.Log) { l.Topics = append(l.Topics, event.Hash{}) }, reason: "not_transfer"},
		{name: "dirty topic", mutate: func(l *event.Log) { l.Topics[1][0] = 1 }, reason: "bad_from"},
		{name: "zero value", mutate: func(l *event.Log) { l.Data = amount(0) }, reason: "zero_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := validLog()
			tt.mutate(&log)
			_, err := NewTransferDecoder().Decode(log)
			require.True(t, IsMalformed(err))
			require.Equal(t, tt.reason, Reason(err))
		})
	}
}
