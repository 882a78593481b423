package endpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/internal/chaintest"
	"github.com/hedeqiang/dropwatch/transport"
)

type fleet map[string]*chaintest.Client

func (f fleet) dial(ep Endpoint) (chain.Client, error) {
	c, ok := f[ep.URL]
	if !ok {
		return nil, errors.New("unknown endpoint")
	}
	return c, nil
}

func newRegistry(t *testing.T, urls ...string) *Registry {
	t.Helper()
	eps := make([]Endpoint, len(urls))
	for i, u := range urls {
		eps[i] = New(u)
	}
	r, err := NewRegistry(eps...)
	require.NoError(t, err)
	return r
}

func TestRegistry(t *testing.T) {
	_, err := NewRegistry()
	require.ErrorIs(t, err, ErrNoEndpoints)

	_, err = NewRegistry(New("https://a"), New("https://a"))
	require.Error(t, err)

	r := newRegistry(t, "wss://a", "https://b")
	require.Equal(t, Push, r.At(0).Kind)
	require.Equal(t, Poll, r.At(1).Kind)
	require.Equal(t, "wss://a", r.At(2).URL)

	h := r.Health("https://b")
	require.False(t, h.Healthy)
	require.Equal(t, InfiniteLatency, h.Latency)

	now := time.Now()
	r.RecordFailure("https://b", now)
	r.RecordFailure("https://b", now)
	require.Equal(t, 2, r.Health("https://b").ConsecutiveFailures)

	r.RecordProbe("https://b", ProbeResult{Healthy: true, Latency: time.Millisecond}, now)
	require.Zero(t, r.Health("https://b").ConsecutiveFailures)
	require.True(t, r.Health("https://b").Healthy)

	r.Downgrade("https://b")
	require.False(t, r.Health("https://b").Healthy)
	require.Equal(t, 1, r.Health("https://b").ConsecutiveFailures)
}

func TestProbe(t *testing.T) {
	r := newRegistry(t, "wss://push", "https://poll", "wss://refuses")
	refusing := chaintest.NewClient(10)
	refusing.SubErr = &transport.RPCError{Code: -32601, Message: "method not found"}
	f := fleet{"wss://push": chaintest.NewClient(10), "https://poll": chaintest.NewClient(10), "wss://refuses": refusing}
	p := NewProber(r, f.dial, filter.NewQuery())

	res, err := p.Probe(context.Background(), r.At(0), time.Second)
	require.NoError(t, err)
	require.True(t, res.Healthy)
	require.True(t, res.SupportsPush)
	require.True(t, f["wss://push"].Closed())
	require.True(t, f["wss://push"].Subs[0].Unsubscribed())

	require.True(t, r.Health("https://poll").SupportsPush, "poll endpoints start push-capable")
	res, err = p.Probe(context.Background(), r.At(1), time.Second)
	require.NoError(t, err)
	require.True(t, res.SupportsPush, "poll endpoints need no subscription")
	require.Empty(t, f["https://poll"].Subs)
	require.True(t, r.Health("https://poll").SupportsPush)

	_, err = p.Probe(context.Background(), r.At(2), time.Second)
	require.Error(t, err)
	h := r.Health("wss://refuses")
	require.False(t, h.Healthy)
	require.False(t, h.SupportsPush)
	require.Equal(t, InfiniteLatency, h.Latency)
	require.Equal(t, 1, h.ConsecutiveFailures)
}

func TestProbeTimeout(t *testing.T) {
	r := newRegistry(t, "https://slow")
	slow := chaintest.NewClient(1)
	slow.BlockDelay = time.Second
	p := NewProber(r, fleet{"https://slow": slow}.dial, filter.NewQuery())

	start := time.Now()
	_, err := p.Probe(context.Background(), r.At(0), 20*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.False(t, r.Health("https://slow").Healthy)
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name       string
		urls       []string
		latency    map[string]time.Duration
		broken     []string
		preferPoll bool
		pushOK     bool
		want       string
		wantOK     bool
	}{
		{
			name:       "poll preferred over faster push",
			urls:       []string{"wss://fast", "https://slow"},
			latency:    map[string]time.Duration{"wss://fast": 0, "https://slow": 300 * time.Millisecond},
			preferPoll: true, pushOK: true,
			want: "https://slow", wantOK: true,
		},
		{
			name:    "latency beyond tie-break wins",
			urls:    []string{"https://a", "https://b"},
			latency: map[string]time.Duration{"https://a": 1500 * time.Millisecond, "https://b": 0},
			pushOK:  true,
			want:    "https://b", wantOK: true,
		},
		{
			name:   "push skipped while disabled",
			urls:   []string{"wss://push", "https://poll"},
			pushOK: false,
			want:   "https://poll", wantOK: true,
		},
		{
			name:   "nothing healthy falls back to current",
			urls:   []string{"https://a", "https://b"},
			broken: []string{"https://a", "https://b"},
			pushOK: true,
			want:   "https://a", wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t, tt.urls...)
			f := fleet{}
			for _, u := range tt.urls {
				c := chaintest.NewClient(100)
				c.BlockDelay = tt.latency[u]
				f[u] = c
			}
			for _, u := range tt.broken {
				f[u].BlockErr = errors.New("down")
			}
			s := NewSelector(
				SelectorConfig{ProbeTimeout: 3 * time.Second, LatencyTieBreak: time.Second, PreferPoll: tt.preferPoll},
				r, NewProber(r, f.dial, filter.NewQuery()),
				func() bool { return tt.pushOK },
				zerolog.Nop(),
			)
			_, ep, ok := s.SelectBest(context.Background())
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, ep.URL)
		})
	}
}

func TestAdvanceWraps(t *testing.T) {
	r := newRegistry(t, "https://a", "https://b")
	s := NewSelector(SelectorConfig{}, r, NewProber(r, fleet{}.dial, filter.NewQuery()), nil, zerolog.Nop())
	i, ep := s.Advance()
	require.Equal(t, 1, i)
	require.Equal(t, "https://b", ep.URL)
	i, _ = s.Advance()
	require.Zero(t, i)
}

func TestLessTieBreak(t *testing.T) {
	s := &Selector{cfg: SelectorConfig{LatencyTieBreak: time.Second, PreferPoll: true}}
	poll := func(lat time.Duration, failures int) candidate {
		return candidate{endpoint: New("https://x"), health: Health{Latency: lat, ConsecutiveFailures: failures}}
	}

	require.True(t, s.less(poll(900*time.Millisecond, 0), poll(0, 2)))
	require.False(t, s.less(poll(0, 2), poll(900*time.Millisecond, 0)))
	require.True(t, s.less(poll(0, 5), poll(1500*time.Millisecond, 0)))

	push := candidate{endpoint: New("wss://x")}
	require.True(t, s.less(poll(2*time.Second, 9), push))
}
