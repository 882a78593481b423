package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/cursor"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/internal/chaintest"
	"github.com/hedeqiang/dropwatch/transport"
)

type collector struct {
	mu   sync.Mutex
	logs []event.Log
	errs []error
}

func (c *collector) event(l event.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, l)
}

func (c *collector) error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

func fastPoller(client *chaintest.Client, cur cursor.Cursor) (*Poller, *collector) {
	cfg := DefaultPollerConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.FetchTimeout = time.Second
	p := NewPoller(client, filter.NewQuery(), cur, cfg)
	c := &collector{}
	p.OnEvent(c.event)
	p.OnError(c.error)
	return p, c
}

func TestPollerFetchesLatestBlockOnly(t *testing.T) {
	client := chaintest.NewClient(100)
	client.Logs = map[uint64][]event.Log{
		99:  {{LogIndex: 9}},
		100: {{LogIndex: 1}, {LogIndex: 2}},
	}
	cur := cursor.NewMemory()
	p, c := fastPoller(client, cur)

	done := make(chan error, 1)
	go func() { done <- p.Watch() }()

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, <-done)

	last, ok := cur.Load("poll")
	require.True(t, ok)
	require.Equal(t, uint64(100), last)

	client.Set(func(cl *chaintest.Client) {
		require.NotEmpty(t, cl.LogQueries)
		for _, q := range cl.LogQueries {
			require.Equal(t, uint64(100), *q.FromBlock)
			require.Equal(t, uint64(100), *q.ToBlock)
		}
	})
	require.Equal(t, 2, c.count())
}

func TestPollerCursorNeverBelowZero(t *testing.T) {
	client := chaintest.NewClient(0)
	cur := cursor.NewMemory()
	p, _ := fastPoller(client, cur)

	err := p.poll(context.Background())
	require.NoError(t, err)

	last, ok := cur.Load("poll")
	require.True(t, ok)
	require.Zero(t, last)
	require.Empty(t, client.LogQueries)
}

func TestPollerRotatesAfterConsecutiveFailures(t *testing.T) {
	client := chaintest.NewClient(100)
	client.LogsErr = errors.New("rate limited")
	p, c := fastPoller(client, cursor.NewMemory())

	err := p.Watch()
	require.ErrorIs(t, err, ErrRotationRequired)
	require.Len(t, c.errs, 2)
}

func TestPollerRotatesImmediatelyOnTimeout(t *testing.T) {
	client := chaintest.NewClient(100)
	client.BlockErr = fmt.Errorf("eth_blockNumber: %w", context.DeadlineExceeded)
	p, c := fastPoller(client, cursor.NewMemory())

	err := p.Watch()
	require.ErrorIs(t, err, ErrRotationRequired)
	require.True(t, transport.IsTimeout(err))
	require.Len(t, c.errs, 1)
}

func TestPollerRecoversBetweenFailures(t *testing.T) {
	client := chaintest.NewClient(100)
	p, c := fastPoller(client, cursor.NewMemory())

	client.Set(func(cl *chaintest.Client) { cl.BlockErr = errors.New("flaky") })
	require.NoError(t, p.cycle())

	client.Set(func(cl *chaintest.Client) { cl.BlockErr = nil })
	require.NoError(t, p.cycle())

	client.Set(func(cl *chaintest.Client) { cl.BlockErr = errors.New("flaky") })
	require.NoError(t, p.cycle())
	require.Len(t, c.errs, 2)
}

func TestStopBeforeWatch(t *testing.T) {
	p, _ := fastPoller(chaintest.NewClient(1), cursor.NewMemory())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Watch())

	s := NewStreamer(chaintest.NewClient(1), filter.NewQuery())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Watch())
}

func TestStreamerForwardsLogs(t *testing.T) {
	client := chaintest.NewClient(1)
	s := NewStreamer(client, filter.NewQuery())
	c := &collector{}
	s.OnEvent(c.event)
	require.Equal(t, Push, s.Mode())

	done := make(chan error, 1)
	go func() { done <- s.Watch() }()

	var sub *chaintest.Subscription
	require.Eventually(t, func() bool {
		client.Set(func(cl *chaintest.Client) {
			if len(cl.Subs) > 0 {
				sub = cl.Subs[0]
			}
		})
		return sub != nil
	}, time.Second, 5*time.Millisecond)

	sub.LogsCh <- event.Log{LogIndex: 7}
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.ErrCh <- transport.ErrClosed
	err := <-done
	require.ErrorIs(t, err, ErrSubscriptionEnded)
	require.ErrorIs(t, err, transport.ErrClosed)
	require.True(t, sub.Unsubscribed())
}

func TestStreamerSubscribeRejected(t *testing.T) {
	client := chaintest.NewClient(1)
	client.SubErr = transport.ErrSubscriptionsUnsupported
	err := NewStreamer(client, filter.NewQuery()).Watch()
	require.True(t, transport.IsRejected(err))
}

func TestSourcePicksWatcherByMode(t *testing.T) {
	src := Source{Query: filter.NewQuery(), Poller: DefaultPollerConfig()}
	client := chaintest.NewClient(10)

	push := src.New(Push, client)
	require.IsType(t, &Streamer{}, push)
	require.Equal(t, Push, push.Mode())

	poll := src.New(Poll, client)
	require.IsType(t, &Poller{}, poll)
	require.Equal(t, Poll, poll.Mode())
}
