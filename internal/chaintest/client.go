// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"
	"time"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
)

// Client is a scriptable chain.Client. Zero values answer successfully.
type Client struct {
	mu sync.Mutex

	Block      uint64
	BlockErr   error
	BlockDelay time.Duration
	ID         uint64
	ChainIDErr error
	Logs       map[uint64][]event.Log
	LogsErr    error
	SubErr     error
	CallFn     func(to event.Address, data []byte) ([]byte, error)

	LogQueries []filter.Query
	Subs       []*Subscription
	Calls      int

	closeOnce sync.Once
	done      chan struct{}
	closed    bool
}

// NewClient returns a client reporting block as the chain head.
func NewClient(block uint64) *Client {
	return &Client{Block: block, ID: 8453, done: make(chan struct{})}
}

var _ chain.Client = (*Client)(nil)

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ID, c.ChainIDErr
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	delay, block, err := c.BlockDelay, c.Block, c.BlockErr
	c.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return block, err
}

func (c *Client) FetchLogs(ctx context.Context, q filter.Query) ([]event.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogQueries = append(c.LogQueries, q)
	if c.LogsErr != nil {
		return nil, c.LogsErr
	}
	if q.FromBlock == nil {
		return nil, nil
	}
	return c.Logs[*q.FromBlock], nil
}

func (c *Client) Subscribe(ctx context.Context, q filter.Query) (chain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubErr != nil {
		return nil, c.SubErr
	}
	s := NewSubscription()
	c.Subs = append(c.Subs, s)
	return s, nil
}

func (c *Client) CallContract(ctx context.Context, to event.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	c.Calls++
	fn := c.CallFn
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(to, data)
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Set runs fn with the client locked, for changing behavior mid-test.
func (c *Client) Set(fn func(c *Client)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Subscription is a chain.Subscription fed by the test.
type Subscription struct {
	LogsCh chan event.Log
	ErrCh  chan error
	once   sync.Once
	done   chan struct{}
}

// NewSubscription creates an open subscription.
func NewSubscription() *Subscription {
	return &Subscription{LogsCh: make(chan event.Log, 16), ErrCh: make(chan error, 1), done: make(chan struct{})}
}

func (s *Subscription) Logs() <-chan event.Log { return s.LogsCh }
func (s *Subscription) Err() <-chan error      { return s.ErrCh }

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribed reports whether Unsubscribe was called.
func (s *Subscription) Unsubscribed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
