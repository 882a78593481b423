package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/dropwatch/connection"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/shutdown"
)

// Connection is the connection state the monitor reports on.
type Connection interface {
	Live() bool
	Stats() connection.Stats
}

// EndpointHealth looks up the health of an endpoint.
type EndpointHealth interface {
	Health(url string) endpoint.Health
}

// Sizer reports the size of the watch-set.
type Sizer interface {
	Size() int
}

// Config configures a Monitor.
type Config struct {
	Interval        time.Duration
	MemoryCeilingMB uint64

	// QuietPeriod is how long without a transfer before the report warns.
	QuietPeriod time.Duration

	// Addr is the listen address of the status server; empty disables it.
	Addr string
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Minute,
		MemoryCeilingMB: 500,
		QuietPeriod:     5 * time.Minute,
	}
}

// Report is one health report.
type Report struct {
	Time       time.Time `json:"time"`
	Uptime     string    `json:"uptime"`
	Live       bool      `json:"live"`
	State      string    `json:"state"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Latency    string    `json:"endpoint_latency,omitempty"`
	Failures   int       `json:"endpoint_failures"`
	Reconnects int       `json:"reconnects_total"`
	Window     int       `json:"reconnects_in_window"`
	Rotations  int       `json:"rotations"`
	PushStreak int       `json:"push_failure_streak"`
	LastOK     time.Time `json:"last_successful_connect_at"`
	HeapMB     uint64    `json:"heap_mb"`
	Watched    int       `json:"watched"`
	Pipeline   Snapshot  `json:"pipeline"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the monitor's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithHeapReader replaces the heap usage probe, which returns bytes in use.
func WithHeapReader(fn func() uint64) Option {
	return func(m *Monitor) { m.heap = fn }
}

// Monitor produces health reports and enforces the memory ceiling.
type Monitor struct {
	cfg       Config
	stats     *Stats
	conn      Connection
	endpoints EndpointHealth
	watch     Sizer
	fatal     *shutdown.Signal
	logger    zerolog.Logger

	started time.Time
	now     func() time.Time
	heap    func() uint64
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, stats *Stats, conn Connection, endpoints EndpointHealth, watch Sizer, fatal *shutdown.Signal, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		stats:     stats,
		conn:      conn,
		endpoints: endpoints,
		watch:     watch,
		fatal:     fatal,
		logger:    logger.With().Str("component", "health").Logger(),
		now:       time.Now,
		heap:      heapInUse,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	return m
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Snapshot assembles a report without side effects.
func (m *Monitor) Snapshot(now time.Time) Report {
	cs := m.conn.Stats()
	r := Report{
		Time:       now,
		Uptime:     now.Sub(m.started).Round(time.Second).String(),
		Live:       m.conn.Live(),
		State:      cs.State.String(),
		Endpoint:   cs.Endpoint.URL,
		Reconnects: cs.TotalReconnects,
		Window:     cs.ReconnectsInWindow,
		Rotations:  cs.Rotations,
		PushStreak: cs.PushFailureStreak,
		LastOK:     cs.LastSuccessfulConnectAt,
		HeapMB:     m.heap() / (1 << 20),
		Watched:    m.watch.Size(),
		Pipeline:   m.stats.Snapshot(),
	}
	if cs.Endpoint.URL != "" {
		h := m.endpoints.Health(cs.Endpoint.URL)
		r.Latency = h.Latency.String()
		r.Failures = h.ConsecutiveFailures
	}
	return r
}

// Report logs a health report, triggers a fatal shutdown above the memory
// ceiling and warns when no transfer was seen for the quiet period.
func (m *Monitor) Report(now time.Time) Report {
	r := m.Snapshot(now)
	m.logger.Info().
		Str("uptime", r.Uptime).
		Bool("live", r.Live).
		Str("state", r.State).
		Str("endpoint", r.Endpoint).
		Str("latency", r.Latency).
		Int("endpoint_failures", r.Failures).
		Int("reconnects", r.Reconnects).
		Int("reconnects_in_window", r.Window).
		Int("rotations", r.Rotations).
		Int("push_failure_streak", r.PushStreak).
		Uint64("transfers", r.Pipeline.Transfers).
		Uint64("errors", r.Pipeline.Errors).
		Uint64("malformed", r.Pipeline.Malformed).
		Uint64("distinct_tokens", r.Pipeline.DistinctTokens).
		Uint64("distinct_counterparties", r.Pipeline.DistinctCounterparties).
		Uint64("heap_mb", r.HeapMB).
		Int("watched", r.Watched).
		Msg("health report")

	if m.cfg.MemoryCeilingMB > 0 && r.HeapMB > m.cfg.MemoryCeilingMB {
		err := fmt.Errorf("heap %dMB exceeds %dMB", r.HeapMB, m.cfg.MemoryCeilingMB)
		m.logger.Error().Err(err).Msg("memory ceiling exceeded")
		m.fatal.Trigger("memory ceiling", err)
	}

	last := r.Pipeline.LastTransferAt
	if last.IsZero() {
		last = m.started
	}
	if m.cfg.QuietPeriod > 0 && now.Sub(last) > m.cfg.QuietPeriod {
		m.logger.Warn().Dur("since", now.Sub(last)).Msg("no transfers detected recently")
	}
	return r
}

// Run reports on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Report(m.now())
		}
	}
}

// Handler serves /healthz and /metrics.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		r := m.Snapshot(m.now())
		body, err := sonnet.Marshal(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !r.Live {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(body)
	})
	return mux
}

// Serve runs the status server until ctx is done. It returns immediately
// when no address is configured.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.cfg.Addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              m.cfg.Addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info().Str("addr", m.cfg.Addr).Msg("serving health and metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health: serve %s: %w", m.cfg.Addr, err)
	}
	return nil
}
