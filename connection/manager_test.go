package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/internal/chaintest"
	"github.com/hedeqiang/dropwatch/retry"
	"github.com/hedeqiang/dropwatch/shutdown"
	"github.com/hedeqiang/dropwatch/transport"
)

type scheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *scheduler) after(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, fn)
	return func() bool { return true }
}

// fire runs the oldest scheduled reconnect.
func (s *scheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.pending, "no reconnect scheduled")
	fn := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	fn()
}

func (s *scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *scheduler) last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[len(s.delays)-1]
}

type harness struct {
	m      *Manager
	sched  *scheduler
	fatal  *shutdown.Signal
	gate   *retry.CircuitBreaker
	reg    *endpoint.Registry
	now    time.Time
	mu     sync.Mutex
	dialed []*chaintest.Client
	broken map[string]bool
	subErr error

	connected    []*Session
	disconnected []*Session
}

func testConfig() Config {
	return Config{
		MaxReconnectAttempts: 3,
		Reconnect:            retry.ReconnectPolicy{Base: 5 * time.Second, Cap: 25 * time.Second, RotationCooldown: 2 * time.Minute},
		ProbeTimeout:         time.Second,
		WatchdogThreshold:    20,
		WatchdogWindow:       30 * time.Minute,
		MinUptime:            5 * time.Minute,
		ConnectivityInterval: 15 * time.Second,
		MonitorInterval:      time.Minute,
	}
}

func newHarness(t *testing.T, cfg Config, urls ...string) *harness {
	t.Helper()
	h := &harness{
		sched:  &scheduler{},
		fatal:  shutdown.NewSignal(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		broken: map[string]bool{},
	}
	eps := make([]endpoint.Endpoint, len(urls))
	for i, u := range urls {
		eps[i] = endpoint.New(u)
	}
	reg, err := endpoint.NewRegistry(eps...)
	require.NoError(t, err)
	h.reg = reg
	h.gate = retry.NewCircuitBreaker(3, 10*time.Minute).WithClock(h.clock)

	sel := endpoint.NewSelector(endpoint.SelectorConfig{ProbeTimeout: time.Second, LatencyTieBreak: time.Second},
		reg, endpoint.NewProber(reg, h.dial, filter.NewQuery()), h.gate.Allow, zerolog.Nop())

	h.m = NewManager(cfg, reg, sel, h.dial, h.gate, h.fatal, zerolog.Nop(),
		WithClock(h.clock), WithScheduler(h.sched.after))
	h.m.OnConnect(func(s *Session) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.connected = append(h.connected, s)
	})
	h.m.OnDisconnect(func(s *Session) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.disconnected = append(h.disconnected, s)
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) breakEndpoint(url string, broken bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broken[url] = broken
}

func (h *harness) dial(ep endpoint.Endpoint) (chain.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := chaintest.NewClient(100)
	if h.broken[ep.URL] {
		c.BlockErr = errors.New("connection refused")
	}
	c.SubErr = h.subErr
	h.dialed = append(h.dialed, c)
	return c, nil
}

func TestStartConnects(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a", "https://b")
	h.breakEndpoint("https://a", true)

	h.m.Start(context.Background())

	require.True(t, h.m.Live())
	require.Equal(t, Live, h.m.State())
	require.NotNil(t, h.m.Client())
	require.Len(t, h.connected, 1)
	require.Equal(t, "https://b", h.connected[0].Endpoint.URL)
	require.NotEmpty(t, h.connected[0].ID)
	require.Zero(t, h.sched.count())
}

func TestReconnectIsSingleFlight(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a")
	h.m.Start(context.Background())
	s := h.m.Session()
	require.NotNil(t, s)

	h.m.ReportError(s.ID, transport.ErrClosed)
	h.m.Reconnect(errors.New("again"))
	h.m.Reconnect(errors.New("and again"))

	require.Equal(t, 1, h.sched.count())
	require.Equal(t, 5*time.Second, h.sched.last())
	require.False(t, h.m.Live())
	require.Nil(t, h.m.Client())
	require.Len(t, h.disconnected, 1)
	require.True(t, h.dialed[len(h.dialed)-1].Closed())

	h.sched.fire(t)
	require.True(t, h.m.Live())
	require.Len(t, h.connected, 2)
	require.NotEqual(t, h.connected[0].ID, h.connected[1].ID)
}

func TestStaleSessionErrorsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a")
	h.m.Start(context.Background())

	h.m.ReportError("not-a-session", errors.New("boom"))
	h.m.ForceRotate("not-a-session", errors.New("boom"))

	require.True(t, h.m.Live())
	require.Zero(t, h.sched.count())
}

func TestBackoffThenRotation(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a", "https://b")
	h.breakEndpoint("https://a", true)
	h.breakEndpoint("https://b", true)

	h.m.Start(context.Background())
	require.Equal(t, Degraded, h.m.State())

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, d := range want {
		require.Equal(t, i+1, h.sched.count())
		require.Equal(t, d, h.sched.last())
		h.advance(d)
		h.sched.fire(t)
	}

	// fourth reconnect exceeds MaxReconnectAttempts: one rotation, attempts reset,
	// and the delay is floored by the fresh rotation cooldown
	require.Equal(t, 4, h.sched.count())
	st := h.m.Stats()
	require.Equal(t, 1, st.Rotations)
	require.Equal(t, 1, st.Attempts)
	require.Equal(t, 2*time.Minute, h.sched.last())
	require.Equal(t, 4, st.TotalReconnects)
}

func TestWatchdogTripsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogThreshold = 3
	cfg.MaxReconnectAttempts = 100
	h := newHarness(t, cfg, "https://a")
	h.breakEndpoint("https://a", true)

	h.m.Start(context.Background())
	h.sched.fire(t)
	h.sched.fire(t)

	require.Equal(t, WatchdogRestart, h.m.State())
	select {
	case f := <-h.fatal.C():
		require.Contains(t, f.Reason, "watchdog")
	default:
		t.Fatal("no fatal shutdown")
	}

	h.m.Reconnect(errors.New("late"))
	h.m.Monitor()
	require.Equal(t, 2, h.sched.count())
	select {
	case <-h.fatal.C():
		t.Fatal("restart requested twice")
	default:
	}
}

func TestWatchdogNoSuccessWithinWindow(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a")
	h.breakEndpoint("https://a", true)
	h.m.Start(context.Background())

	h.advance(31 * time.Minute)
	h.m.Monitor()

	require.Equal(t, WatchdogRestart, h.m.State())
	f := <-h.fatal.C()
	require.Contains(t, f.Reason, "no successful connection")
}

func TestForceRotateBypassesCooldown(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a", "https://b")
	h.m.Start(context.Background())

	s := h.m.Session()
	h.m.ForceRotate(s.ID, errors.New("poll timeout"))
	require.Equal(t, 1, h.m.Stats().Rotations)

	h.sched.fire(t)
	s = h.m.Session()
	require.NotNil(t, s)
	h.m.ForceRotate(s.ID, errors.New("poll timeout"))
	require.Equal(t, 2, h.m.Stats().Rotations)
}

func TestPushFailuresDisablePush(t *testing.T) {
	h := newHarness(t, testConfig(), "wss://push", "https://poll")
	h.m.Start(context.Background())

	for i := 0; i < 3; i++ {
		s := h.m.Session()
		require.NotNil(t, s)
		require.Equal(t, endpoint.Push, s.Endpoint.Kind)
		h.m.ReportError(s.ID, transport.ErrClosed)
		h.sched.fire(t)
	}

	require.False(t, h.m.PushAllowed())
	require.Equal(t, "https://poll", h.m.Session().Endpoint.URL)
	require.False(t, h.m.Stats().PushDisabledUntil.IsZero())

	h.advance(10 * time.Minute)
	require.True(t, h.m.PushAllowed())
}

func TestRejectedSubscriptionMarksEndpoint(t *testing.T) {
	h := newHarness(t, testConfig(), "wss://push", "https://poll")
	h.m.Start(context.Background())
	s := h.m.Session()

	h.m.ReportError(s.ID, &transport.RPCError{Code: -32601, Message: "method not found"})
	require.False(t, h.reg.Health("wss://push").SupportsPush)
	require.Equal(t, 1, h.m.Stats().PushFailureStreak)
}

func TestConnectivityCheck(t *testing.T) {
	cfg := testConfig()
	cfg.ExpectedChainID = 8453
	h := newHarness(t, cfg, "https://a")
	h.m.Start(context.Background())
	s := h.m.Session()

	// a reconnect in the window is cleared once the session has been stable
	h.m.ReportError(s.ID, transport.ErrClosed)
	h.sched.fire(t)
	require.Equal(t, 1, h.m.Stats().ReconnectsInWindow)

	h.advance(6 * time.Minute)
	h.m.CheckConnectivity(context.Background())
	require.Zero(t, h.m.Stats().ReconnectsInWindow)
	require.Equal(t, h.clock(), h.m.Stats().LastSuccessfulConnectAt)

	client := h.dialed[len(h.dialed)-1]
	client.Set(func(c *chaintest.Client) { c.ID = 1 })
	h.m.CheckConnectivity(context.Background())
	require.False(t, h.m.Live())
	require.Equal(t, 2, h.sched.count())
}

func TestTransportDropReported(t *testing.T) {
	h := newHarness(t, testConfig(), "https://a")
	h.m.Start(context.Background())

	h.dialed[len(h.dialed)-1].Close()
	require.Eventually(t, func() bool { return !h.m.Live() }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.sched.count())
}
