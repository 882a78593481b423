// Package connection owns the single live connection to an RPC endpoint:
// selecting it, verifying it, replacing it when it fails and asking for a
// process restart when it cannot be kept stable.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/metrics"
	"github.com/hedeqiang/dropwatch/retry"
	"github.com/hedeqiang/dropwatch/shutdown"
	"github.com/hedeqiang/dropwatch/transport"
)

var (
	// ErrNotLive is the reconnect reason used by the monitor when no session exists.
	ErrNotLive = errors.New("connection: not live")

	// ErrWrongChain is reported when an endpoint serves an unexpected network.
	ErrWrongChain = errors.New("connection: endpoint serves a different chain")
)

// Config holds the manager's timing and thresholds.
type Config struct {
	MaxReconnectAttempts int
	Reconnect            retry.ReconnectPolicy
	ProbeTimeout         time.Duration
	WatchdogThreshold    int
	WatchdogWindow       time.Duration
	MinUptime            time.Duration
	ConnectivityInterval time.Duration
	MonitorInterval      time.Duration
	// ExpectedChainID is compared with eth_chainId on every connectivity
	// check. Zero disables the comparison.
	ExpectedChainID uint64
}

// Selector picks endpoints. *endpoint.Selector implements it.
type Selector interface {
	SelectBest(ctx context.Context) (int, endpoint.Endpoint, bool)
	Advance() (int, endpoint.Endpoint)
}

type scheduleFunc func(d time.Duration, fn func()) (stop func() bool)

func afterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Manager drives the connection state machine. At most one session and at
// most one reconnect sequence exist at any time.
type Manager struct {
	cfg      Config
	registry *endpoint.Registry
	selector Selector
	dial     endpoint.Dialer
	gate     *retry.CircuitBreaker
	fatal    *shutdown.Signal
	logger   zerolog.Logger
	now      func() time.Time
	schedule scheduleFunc

	onConnect    func(*Session)
	onDisconnect func(*Session)

	mu           sync.Mutex
	ctx          context.Context
	state        State
	session      *Session
	reconnecting bool
	closed       bool
	attempts     int
	lastRotation time.Time
	rotations    int
	window       []time.Time
	total        int
	lastSuccess  time.Time
	stopPending  func() bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithScheduler replaces time.AfterFunc for delayed reconnects.
func WithScheduler(fn func(d time.Duration, f func()) func() bool) Option {
	return func(m *Manager) {
		m.schedule = fn
	}
}

// NewManager creates an idle manager. gate is the global push-mode breaker;
// fatal receives the restart request when the watchdog trips.
func NewManager(cfg Config, registry *endpoint.Registry, selector Selector, dial endpoint.Dialer,
	gate *retry.CircuitBreaker, fatal *shutdown.Signal, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:          cfg,
		registry:     registry,
		selector:     selector,
		dial:         dial,
		gate:         gate,
		fatal:        fatal,
		logger:       logger.With().Str("component", "connection").Logger(),
		now:          time.Now,
		schedule:     afterFunc,
		onConnect:    func(*Session) {},
		onDisconnect: func(*Session) {},
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnConnect registers fn to run after every successful connect.
func (m *Manager) OnConnect(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = fn
}

// OnDisconnect registers fn to run before a session's client is released.
func (m *Manager) OnDisconnect(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// Start performs the first connection attempt. On failure a reconnect is
// scheduled and Start still returns; the manager keeps trying until ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.reconnecting || m.session != nil {
		m.mu.Unlock()
		return
	}
	m.ctx = ctx
	m.lastSuccess = m.now()
	m.reconnecting = true
	m.mu.Unlock()

	m.connect()
}

// Run performs the periodic connectivity check and the reconnect monitor
// until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	check := time.NewTicker(m.cfg.ConnectivityInterval)
	defer check.Stop()
	monitor := time.NewTicker(m.cfg.MonitorInterval)
	defer monitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			m.CheckConnectivity(ctx)
		case <-monitor.C:
			m.Monitor()
		}
	}
}

func (m *Manager) connect() {
	m.mu.Lock()
	ctx := m.ctx
	if m.closed || m.state == WatchdogRestart || ctx.Err() != nil {
		m.reconnecting = false
		m.mu.Unlock()
		return
	}
	m.state = Selecting
	old := m.session
	m.session = nil
	m.mu.Unlock()

	m.release(old)

	index, ep, healthy := m.selector.SelectBest(ctx)
	if !healthy {
		m.logger.Warn().Str("endpoint", ep.URL).Msg("connecting to unverified endpoint")
	}

	m.setState(Connecting)
	client, err := m.dial(ep)
	if err == nil {
		vctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		_, err = client.LatestBlock(vctx)
		cancel()
		if err != nil {
			client.Close()
		}
	}
	if err != nil {
		m.connectFailed(ep, err)
		return
	}

	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		Index:          index,
		Endpoint:       ep,
		Client:         client,
		ConnectedSince: now,
	}

	m.mu.Lock()
	if m.closed || m.state == WatchdogRestart {
		m.reconnecting = false
		m.mu.Unlock()
		client.Close()
		return
	}
	m.session = s
	m.state = Live
	m.attempts = 0
	m.lastSuccess = now
	m.reconnecting = false
	onConnect := m.onConnect
	m.mu.Unlock()

	metrics.SetLive(true)
	m.logger.Info().
		Str("session", s.ID).
		Str("endpoint", ep.URL).
		Str("kind", ep.Kind.String()).
		Msg("connected")

	go m.watchTransport(ctx, s)
	onConnect(s)
}

func (m *Manager) connectFailed(ep endpoint.Endpoint, err error) {
	m.logger.Warn().Err(err).Str("endpoint", ep.URL).Msg("connect failed")
	m.registry.Downgrade(ep.URL)
	if ep.Kind == endpoint.Push {
		m.pushFailure(ep, err)
	}

	m.mu.Lock()
	m.state = Degraded
	m.reconnecting = false
	m.mu.Unlock()

	m.Reconnect(err)
}

// watchTransport reports a dropped transport as a runtime failure.
func (m *Manager) watchTransport(ctx context.Context, s *Session) {
	select {
	case <-ctx.Done():
	case <-s.Client.Done():
		m.ReportError(s.ID, fmt.Errorf("connection: %s: %w", s.Endpoint.URL, transport.ErrClosed))
	}
}

// Reconnect schedules a reconnect attempt after the backoff delay. It is a
// no-op while a reconnect sequence is already in flight or after the
// watchdog has requested a restart.
func (m *Manager) Reconnect(reason error) {
	now := m.now()

	m.mu.Lock()
	if m.reconnecting || m.closed || m.state == WatchdogRestart {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.window = append(m.window, now)
	m.total++

	if why, tripped := m.watchdogLocked(now); tripped {
		m.mu.Unlock()
		m.restart(why, reason)
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.rotateLocked(now, false)
		m.attempts = 0
	}
	m.attempts++
	attempt := m.attempts
	delay := retry.ReconnectDelay(m.cfg.Reconnect, attempt, m.lastRotation, now)
	if m.state == Live {
		m.state = Degraded
	}
	m.stopPending = m.schedule(delay, m.connect)
	m.mu.Unlock()

	metrics.Reconnect()
	m.logger.Info().
		AnErr("reason", reason).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

// ReportError marks the session identified by sessionID as failed and
// starts a reconnect. Errors from sessions that are no longer current are
// ignored.
func (m *Manager) ReportError(sessionID string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	s := m.session
	if s == nil || s.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = Degraded
	m.mu.Unlock()

	metrics.SetLive(false)
	m.logger.Warn().Err(err).Str("session", s.ID).Str("endpoint", s.Endpoint.URL).Msg("connection degraded")

	m.registry.Downgrade(s.Endpoint.URL)
	if s.Endpoint.Kind == endpoint.Push {
		m.pushFailure(s.Endpoint, err)
	}
	m.release(s)
	m.Reconnect(err)
}

// ForceRotate abandons the session identified by sessionID, moves to the
// next endpoint regardless of the rotation cooldown and reconnects.
func (m *Manager) ForceRotate(sessionID string, err error) {
	now := m.now()
	m.mu.Lock()
	s := m.session
	if s == nil || s.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = Degraded
	m.rotateLocked(now, true)
	m.attempts = 0
	m.mu.Unlock()

	metrics.SetLive(false)
	m.logger.Warn().Err(err).Str("session", s.ID).Str("endpoint", s.Endpoint.URL).Msg("forced rotation")

	m.registry.Downgrade(s.Endpoint.URL)
	m.release(s)
	m.Reconnect(err)
}

// CheckConnectivity asks the live endpoint for its chain id. A failure is
// reported as a runtime error; a success refreshes the watchdog.
func (m *Manager) CheckConnectivity(ctx context.Context) {
	s := m.Session()
	if s == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	id, err := s.Client.ChainID(cctx)
	cancel()
	if err == nil && m.cfg.ExpectedChainID != 0 && id != m.cfg.ExpectedChainID {
		err = fmt.Errorf("%w: got %d, want %d", ErrWrongChain, id, m.cfg.ExpectedChainID)
	}
	if err != nil {
		m.ReportError(s.ID, fmt.Errorf("connection: connectivity check: %w", err))
		return
	}

	now := m.now()
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.lastSuccess = now
	stable := now.Sub(s.ConnectedSince) >= m.cfg.MinUptime && len(m.window) > 0
	if stable {
		m.window = nil
	}
	m.mu.Unlock()

	if stable {
		m.logger.Info().Str("session", s.ID).Msg("connection stable, watchdog counters reset")
	}
	if s.Endpoint.Kind == endpoint.Push {
		m.gate.RecordSuccess()
		metrics.SetPushDisabled(false)
	}
}

// Monitor requests a restart when the watchdog condition holds and
// otherwise reconnects when no session is live.
func (m *Manager) Monitor() {
	now := m.now()
	m.mu.Lock()
	if m.closed || m.state == WatchdogRestart {
		m.mu.Unlock()
		return
	}
	why, tripped := m.watchdogLocked(now)
	live := m.session != nil
	m.mu.Unlock()

	switch {
	case tripped:
		m.restart(why, ErrNotLive)
	case !live:
		m.Reconnect(ErrNotLive)
	}
}

func (m *Manager) watchdogLocked(now time.Time) (string, bool) {
	cutoff := now.Add(-m.cfg.WatchdogWindow)
	kept := m.window[:0]
	for _, t := range m.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.window = kept

	if m.cfg.WatchdogThreshold > 0 && len(m.window) >= m.cfg.WatchdogThreshold {
		return fmt.Sprintf("%d reconnects within %s", len(m.window), m.cfg.WatchdogWindow), true
	}
	if !m.lastSuccess.IsZero() && now.Sub(m.lastSuccess) > m.cfg.WatchdogWindow {
		return fmt.Sprintf("no successful connection for %s", now.Sub(m.lastSuccess).Round(time.Second)), true
	}
	return "", false
}

func (m *Manager) rotateLocked(now time.Time, force bool) bool {
	if !force && !m.lastRotation.IsZero() && now.Sub(m.lastRotation) < m.cfg.Reconnect.RotationCooldown {
		m.logger.Debug().Msg("rotation skipped, cooldown active")
		return false
	}
	m.state = Rotating
	index, ep := m.selector.Advance()
	m.lastRotation = now
	m.rotations++
	metrics.Rotation()
	m.logger.Info().Int("index", index).Str("endpoint", ep.URL).Bool("forced", force).Msg("rotated endpoint")
	return true
}

func (m *Manager) pushFailure(ep endpoint.Endpoint, err error) {
	if transport.IsRejected(err) {
		m.registry.MarkPushUnsupported(ep.URL)
	}
	if m.gate.RecordFailure() {
		metrics.SetPushDisabled(true)
		m.logger.Warn().
			Time("until", m.gate.OpenUntil()).
			Msg("push mode disabled after repeated failures")
	}
}

func (m *Manager) restart(why string, reason error) {
	m.mu.Lock()
	if m.state == WatchdogRestart {
		m.mu.Unlock()
		return
	}
	m.state = WatchdogRestart
	s := m.session
	m.session = nil
	if m.stopPending != nil {
		m.stopPending()
	}
	total, inWindow, rotations := m.total, len(m.window), m.rotations
	m.mu.Unlock()

	metrics.SetLive(false)
	metrics.FatalShutdown()
	m.release(s)

	m.logger.Error().
		AnErr("reason", reason).
		Str("watchdog", why).
		Int("total_reconnects", total).
		Int("reconnects_in_window", inWindow).
		Int("rotations", rotations).
		Msg("watchdog restart")
	m.fatal.Trigger("watchdog: "+why, reason)
}

func (m *Manager) release(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	onDisconnect := m.onDisconnect
	m.mu.Unlock()

	onDisconnect(s)
	if err := s.Client.Close(); err != nil {
		m.logger.Debug().Err(err).Str("session", s.ID).Msg("close client")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != WatchdogRestart {
		m.state = s
	}
}

// Close releases the session and cancels any pending reconnect.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.stopPending != nil {
		m.stopPending()
	}
	s := m.session
	m.session = nil
	if m.state != WatchdogRestart {
		m.state = Idle
	}
	m.mu.Unlock()

	metrics.SetLive(false)
	m.release(s)
}

// Live reports whether a verified session exists.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.state == Live
}

// Client returns the live client, or nil when not live.
func (m *Manager) Client() chain.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.state != Live {
		return nil
	}
	return m.session.Client
}

// Session returns the live session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Live {
		return nil
	}
	return m.session
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PushAllowed reports whether push mode may be used.
func (m *Manager) PushAllowed() bool {
	return m.gate.Allow()
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		State:                   m.state,
		Attempts:                m.attempts,
		ReconnectsInWindow:      len(m.window),
		TotalReconnects:         m.total,
		Rotations:               m.rotations,
		LastSuccessfulConnectAt: m.lastSuccess,
	}
	if m.session != nil {
		st.Endpoint = m.session.Endpoint
		st.ConnectedSince = m.session.ConnectedSince
	}
	m.mu.Unlock()

	st.PushFailureStreak = m.gate.Failures()
	st.PushDisabledUntil = m.gate.OpenUntil()
	return st
}
