package evm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	results map[string]string
	calls   []string
	params  [][]interface{}
	stream  chan []byte
	done    chan struct{}
}

func newFakeTransport(results map[string]string) *fakeTransport {
	return &fakeTransport{results: results, stream: make(chan []byte, 8), done: make(chan struct{})}
}

func (f *fakeTransport) Call(_ context.Context, method string, params ...interface{}) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	res, ok := f.results[method]
	if !ok {
		return nil, &transport.RPCError{Code: -32601, Message: "method not found"}
	}
	return []byte(res), nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, method string, params ...interface{}) (<-chan []byte, func(), error) {
	if _, err := f.Call(ctx, method, params...); err != nil {
		return nil, nil, err
	}
	return f.stream, func() {}, nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }
func (f *fakeTransport) Close() error          { return nil }

const transferLog = `{
	"address": "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	"topics": [
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		"0x0000000000000000000000001111111111111111111111111111111111111111",
		"0x0000000000000000000000002222222222222222222222222222222222222222"
	],
	"data": "0x00000000000000000000000000000000000000000000000000000000000f4240",
	"blockNumber": "0x10",
	"transactionHash": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"logIndex": "0x3"
}`

func TestQuantities(t *testing.T) {
	c := NewWithTransport(newFakeTransport(map[string]string{
		"eth_chainId":     `"0x2105"`,
		"eth_blockNumber": `"0x1234"`,
	}))

	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8453), id)

	block, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), block)
}

func TestFetchLogsSkipsMalformed(t *testing.T) {
	bad := `{"address":"0x1234","topics":[],"data":"0x","transactionHash":"0xaa"}`
	ft := newFakeTransport(map[string]string{"eth_getLogs": "[" + transferLog + "," + bad + "]"})

	var dropped []error
	c := NewWithTransport(ft, WithMalformedHandler(func(err error) { dropped = append(dropped, err) }))

	logs, err := c.FetchLogs(context.Background(), filter.NewQuery().AtBlock(16))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Len(t, dropped, 1)
	require.ErrorIs(t, dropped[0], ErrMalformedLog)

	l := logs[0]
	require.Equal(t, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", l.Address.Hex())
	require.Len(t, l.Topics, 3)
	require.Len(t, l.Data, 32)
	require.Equal(t, uint64(16), l.BlockNumber)
	require.Equal(t, uint(3), l.LogIndex)

	params := ft.params[0][0].(map[string]interface{})
	require.Equal(t, "0x10", params["fromBlock"])
	require.Equal(t, "0x10", params["toBlock"])
}

func TestCallContract(t *testing.T) {
	ft := newFakeTransport(map[string]string{"eth_call": `"0x0102"`})
	c := NewWithTransport(ft)

	to := event.MustParseAddress("0x4752ba5dbc23f44d87826276bf6fd6b1c372ad24")
	out, err := c.CallContract(context.Background(), to, []byte{0xd0, 0x6c, 0xa6, 0x1f})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, out)

	msg := ft.params[0][0].(map[string]string)
	require.Equal(t, to.Hex(), msg["to"])
	require.Equal(t, "0xd06ca61f", msg["data"])
	require.Equal(t, "latest", ft.params[0][1])
}

func TestSubscribe(t *testing.T) {
	ft := newFakeTransport(map[string]string{"eth_subscribe": `"0xsub"`})
	c := NewWithTransport(ft)

	sub, err := c.Subscribe(context.Background(), filter.NewQuery())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var raw json.RawMessage = []byte(transferLog)
	ft.stream <- raw

	select {
	case l := <-sub.Logs():
		require.Equal(t, uint(3), l.LogIndex)
	case <-time.After(time.Second):
		t.Fatal("log not delivered")
	}

	close(ft.done)
	select {
	case err := <-sub.Err():
		require.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("drop not reported")
	}
}

func TestSubscribeRejected(t *testing.T) {
	c := NewWithTransport(newFakeTransport(map[string]string{}))
	_, err := c.Subscribe(context.Background(), filter.NewQuery())
	require.Error(t, err)
	require.True(t, transport.IsRejected(err))
}
