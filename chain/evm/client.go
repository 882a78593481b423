// Package evm implements chain.Client over Ethereum JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/internal/hex"
	"github.com/hedeqiang/dropwatch/transport"
)

// ErrMalformedLog wraps every log decoding failure.
var ErrMalformedLog = errors.New("evm: malformed log")

// Client is an EVM chain client bound to one transport.
type Client struct {
	transport   transport.Transport
	onMalformed func(error)
}

// Option configures a Client.
type Option func(*Client)

// WithMalformedHandler registers fn to observe logs dropped during decoding.
func WithMalformedHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onMalformed = fn
	}
}

// Dial creates a client for url, choosing HTTP or WebSocket by scheme.
// The connection itself is established lazily.
func Dial(url string, opts ...Option) *Client {
	return NewWithTransport(transport.Dial(url), opts...)
}

// NewWithTransport creates a client over an existing transport.
func NewWithTransport(t transport.Transport, opts ...Option) *Client {
	c := &Client{transport: t, onMalformed: func(error) {}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ chain.Client = (*Client)(nil)

// ChainID returns the value of eth_chainId.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_chainId")
}

// LatestBlock returns the latest block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.quantity(ctx, "eth_blockNumber")
}

func (c *Client) quantity(ctx context.Context, method string) (uint64, error) {
	result, err := c.transport.Call(ctx, method)
	if err != nil {
		return 0, fmt.Errorf("evm: %s: %w", method, err)
	}
	var s string
	if err := sonnet.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("evm: %s: parse result: %w", method, err)
	}
	n, err := hex.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("evm: %s: %w", method, err)
	}
	return n, nil
}

// FetchLogs retrieves logs matching the query.
func (c *Client) FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error) {
	result, err := c.transport.Call(ctx, "eth_getLogs", filterParams(query))
	if err != nil {
		return nil, fmt.Errorf("evm: eth_getLogs: %w", err)
	}

	var raw []rpcLog
	if err := sonnet.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("evm: parse logs: %w", err)
	}

	logs := make([]event.Log, 0, len(raw))
	for i := range raw {
		l, err := raw[i].toEventLog()
		if err != nil {
			c.onMalformed(err)
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// Subscribe creates a real-time log subscription.
func (c *Client) Subscribe(ctx context.Context, query filter.Query) (chain.Subscription, error) {
	ch, unsub, err := c.transport.Subscribe(ctx, "eth_subscribe", "logs", filterParams(query))
	if err != nil {
		return nil, fmt.Errorf("evm: subscribe: %w", err)
	}
	return newSubscription(ch, unsub, c.transport.Done(), c.onMalformed), nil
}

// CallContract performs eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to event.Address, data []byte) ([]byte, error) {
	msg := map[string]string{
		"to":   to.Hex(),
		"data": hex.Encode(data),
	}
	result, err := c.transport.Call(ctx, "eth_call", msg, "latest")
	if err != nil {
		return nil, fmt.Errorf("evm: eth_call %s: %w", to.Hex(), err)
	}
	var s string
	if err := sonnet.Unmarshal(result, &s); err != nil {
		return nil, fmt.Errorf("evm: eth_call: parse result: %w", err)
	}
	out, err := hex.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("evm: eth_call: %w", err)
	}
	return out, nil
}

// Done is closed when the transport drops.
func (c *Client) Done() <-chan struct{} {
	return c.transport.Done()
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// filterParams converts a Query into the JSON-RPC filter object.
func filterParams(query filter.Query) map[string]interface{} {
	params := make(map[string]interface{})

	if query.FromBlock != nil {
		params["fromBlock"] = hex.EncodeUint64(*query.FromBlock)
	}
	if query.ToBlock != nil {
		params["toBlock"] = hex.EncodeUint64(*query.ToBlock)
	}

	if len(query.Addresses) > 0 {
		addrs := make([]string, len(query.Addresses))
		for i, a := range query.Addresses {
			addrs[i] = a.Hex()
		}
		params["address"] = addrs
	}

	if len(query.Topics) > 0 {
		topics := make([]interface{}, len(query.Topics))
		for i, ts := range query.Topics {
			switch len(ts) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = ts[0].Hex()
			default:
				hashes := make([]string, len(ts))
				for j, h := range ts {
					hashes[j] = h.Hex()
				}
				topics[i] = hashes
			}
		}
		params["topics"] = topics
	}

	return params
}

// rpcLog is the JSON-RPC representation of a log.
type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func (rl *rpcLog) toEventLog() (event.Log, error) {
	var (
		log event.Log
		err error
	)
	log.Removed = rl.Removed

	if log.Address, err = event.ParseAddress(rl.Address); err != nil {
		return log, fmt.Errorf("%w: emitter: %v", ErrMalformedLog, err)
	}

	log.Topics = make([]event.Hash, len(rl.Topics))
	for i, t := range rl.Topics {
		if log.Topics[i], err = event.HexToHash(t); err != nil {
			return log, fmt.Errorf("%w: topic %d: %v", ErrMalformedLog, i, err)
		}
	}

	if rl.Data != "" && rl.Data != "0x" {
		if log.Data, err = hex.Decode(rl.Data); err != nil {
			return log, fmt.Errorf("%w: data: %v", ErrMalformedLog, err)
		}
	}

	if rl.BlockNumber != "" {
		if log.BlockNumber, err = hex.DecodeUint64(rl.BlockNumber); err != nil {
			return log, fmt.Errorf("%w: blockNumber: %v", ErrMalformedLog, err)
		}
	}

	if log.TxHash, err = event.HexToHash(rl.TxHash); err != nil || rl.TxHash == "" {
		return log, fmt.Errorf("%w: transactionHash %q", ErrMalformedLog, rl.TxHash)
	}

	if rl.LogIndex != "" {
		idx, err := hex.DecodeUint64(rl.LogIndex)
		if err != nil {
			return log, fmt.Errorf("%w: logIndex: %v", ErrMalformedLog, err)
		}
		log.LogIndex = uint(idx)
	}

	return log, nil
}
