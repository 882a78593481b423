package dropwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch/aggregator"
	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/chain/evm"
	"github.com/hedeqiang/dropwatch/connection"
	"github.com/hedeqiang/dropwatch/cursor"
	"github.com/hedeqiang/dropwatch/decoder"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/health"
	"github.com/hedeqiang/dropwatch/internal/logutil"
	"github.com/hedeqiang/dropwatch/internal/syncutil"
	"github.com/hedeqiang/dropwatch/metrics"
	"github.com/hedeqiang/dropwatch/middleware"
	"github.com/hedeqiang/dropwatch/notify"
	"github.com/hedeqiang/dropwatch/price"
	"github.com/hedeqiang/dropwatch/retry"
	"github.com/hedeqiang/dropwatch/shutdown"
	"github.com/hedeqiang/dropwatch/transport"
	"github.com/hedeqiang/dropwatch/watcher"
	"github.com/hedeqiang/dropwatch/watchset"
)

// Engine wires the connection manager, the event sources and the
// notification pipeline together.
type Engine struct {
	cfg         Config
	logger      zerolog.Logger
	dial        endpoint.Dialer
	notifier    aggregator.Notifier
	middlewares []middleware.Middleware

	fatal    *shutdown.Signal
	budget   *ErrorBudget
	stats    *health.Stats
	registry *endpoint.Registry
	manager  *connection.Manager
	watch    *watchset.Store
	prices   *price.Cache
	agg      *aggregator.Aggregator
	dedupe   *middleware.Dedupe
	commands *notify.Commands
	monitor  *health.Monitor
	source   watcher.Source
	noise    *logutil.Limiter

	started time.Time

	mu      sync.Mutex
	ctx     context.Context
	running bool
	active  *activeWatcher
}

type activeWatcher struct {
	session string
	w       watcher.Watcher
}

// New builds an engine from cfg. The watch-set file is opened (and created
// if missing) immediately.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		logger: zerolog.Nop(),
		fatal:  shutdown.NewSignal(),
		stats:  health.NewStats(),
		noise:  logutil.NewLimiter(time.Minute),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.budget = NewErrorBudget(cfg.Health.MaxConsecutiveErrors, e.fatal)

	if e.dial == nil {
		e.dial = func(ep endpoint.Endpoint) (chain.Client, error) {
			return evm.Dial(ep.URL, evm.WithMalformedHandler(e.malformed)), nil
		}
	}

	eps := make([]endpoint.Endpoint, len(cfg.Endpoints))
	for i, u := range cfg.Endpoints {
		eps[i] = endpoint.New(u)
	}
	registry, err := endpoint.NewRegistry(eps...)
	if err != nil {
		return nil, fmt.Errorf("dropwatch: %w", err)
	}
	e.registry = registry

	watch, err := watchset.Open(cfg.Watchset.Path)
	if err != nil {
		return nil, fmt.Errorf("dropwatch: %w", err)
	}
	e.watch = watch

	query := filter.NewQuery(filter.WithTopics([]event.Hash{decoder.TransferTopic}))
	e.source = watcher.Source{Query: query, Cursor: cursor.NewMemory(), Poller: cfg.pollerConfig()}

	gate := retry.NewCircuitBreaker(cfg.Connection.PushFailureThreshold, cfg.Connection.PushDisableDuration)
	prober := endpoint.NewProber(registry, e.dial, query)
	selector := endpoint.NewSelector(cfg.selectorConfig(), registry, prober, gate.Allow, e.logger)
	e.manager = connection.NewManager(cfg.connectionConfig(), registry, selector, e.dial, gate, e.fatal, e.logger)
	e.manager.OnConnect(e.attach)
	e.manager.OnDisconnect(e.detach)

	e.prices = price.New(cfg.priceConfig(), e.caller, e.logger)

	var tg *notify.Telegram
	if cfg.TelegramEnabled() {
		tg = notify.NewTelegram(cfg.telegramConfig(), e.logger)
		e.commands = notify.NewCommands(tg, watch, e.statusText, cfg.Aggregator.WalletNames, cfg.Telegram.CommandInterval, e.logger)
	}
	if e.notifier == nil {
		if tg != nil {
			e.notifier = tg
		} else {
			e.logger.Warn().Msg("telegram credentials not set, notifications are logged only")
			e.notifier = notify.NewLog(e.logger)
		}
	}

	e.agg = aggregator.New(cfg.aggregatorConfig(), decoder.NewTransferDecoder(), watch, e.prices, e.notifier, e.logger,
		aggregator.WithHooks(aggregator.Hooks{
			OnRecord:    e.stats.RecordTransfer,
			OnDelivered: e.delivered,
		}))

	dedupe, err := middleware.NewDedupe(cfg.Aggregator.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("dropwatch: %w", err)
	}
	e.dedupe = dedupe

	e.monitor = health.NewMonitor(cfg.healthConfig(), e.stats, e.manager, registry, watch, e.fatal, e.logger)
	return e, nil
}

// Run starts every activity and blocks until ctx is done, returning nil,
// or until a fatal condition is raised, returning the *FatalShutdown after
// releasing all resources and waiting the configured grace delay.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	e.started = time.Now()
	g := syncutil.NewGroup(ctx, e.logger)
	e.mu.Lock()
	e.ctx = g.Context()
	e.mu.Unlock()

	e.logger.Info().
		Int("endpoints", e.registry.Len()).
		Int("watched", e.watch.Size()).
		Msg("dropwatch starting")

	g.Go("connect", e.manager.Start)
	g.Go("connection", e.manager.Run)
	g.Go("sweep", e.agg.Run)
	g.Go("health", e.monitor.Run)
	if e.commands != nil {
		g.Go("commands", e.commands.Run)
	}
	if e.cfg.Metrics.Addr != "" {
		g.Go("status-server", func(ctx context.Context) {
			if err := e.monitor.Serve(ctx); err != nil {
				e.logger.Error().Err(err).Msg("status server stopped")
			}
		})
	}

	select {
	case <-ctx.Done():
		e.stop(g)
		e.logger.Info().Msg("dropwatch stopped")
		return nil
	case f := <-e.fatal.C():
		e.logger.Error().Err(f).Dur("grace", e.cfg.Watchdog.FatalGrace).Msg("fatal shutdown requested")
		e.stop(g)
		time.Sleep(e.cfg.Watchdog.FatalGrace)
		return f
	}
}

func (e *Engine) stop(g *syncutil.Group) {
	g.Stop()
	e.manager.Close()
	e.agg.Stop()
}

// attach starts the event source for a new session: push when the endpoint
// streams and push mode is allowed, polling otherwise.
func (e *Engine) attach(s *connection.Session) {
	mode := watcher.Poll
	if s.Endpoint.Kind == endpoint.Push && e.manager.PushAllowed() {
		mode = watcher.Push
	}
	w := e.source.New(mode, s.Client)

	mws := append([]middleware.Middleware{
		middleware.NewMetrics(mode.String()),
		middleware.NewLogger(e.logger),
		middleware.SkipRemoved(),
		e.dedupe,
	}, e.middlewares...)
	handler := middleware.Chain(e.deliver, mws...)
	w.OnEvent(func(lg event.Log) { handler(lg) })
	w.OnError(e.sourceError)

	e.mu.Lock()
	e.active = &activeWatcher{session: s.ID, w: w}
	e.mu.Unlock()

	e.logger.Info().Str("session", s.ID).Str("mode", mode.String()).Str("endpoint", s.Endpoint.URL).Msg("event source started")
	go func() {
		err := w.Watch()
		switch {
		case err == nil:
		case errors.Is(err, watcher.ErrRotationRequired):
			e.manager.ForceRotate(s.ID, err)
		default:
			e.manager.ReportError(s.ID, err)
		}
	}()
}

// detach stops the event source of a released session.
func (e *Engine) detach(s *connection.Session) {
	e.mu.Lock()
	a := e.active
	if a == nil || a.session != s.ID {
		e.mu.Unlock()
		return
	}
	e.active = nil
	e.mu.Unlock()

	_ = a.w.Stop()
}

// deliver is the end of the log pipeline.
func (e *Engine) deliver(lg event.Log) *event.Log {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	if err := e.agg.HandleLog(ctx, lg); err != nil {
		if decoder.IsMalformed(err) {
			metrics.LogDropped(decoder.Reason(err))
			e.stats.RecordMalformed()
			e.quiet(err, "dropping malformed logs")
			return nil
		}
		e.unexpected(err, "log handling failed")
		return nil
	}
	return &lg
}

func (e *Engine) malformed(err error) {
	metrics.LogDropped("malformed_rpc")
	e.stats.RecordMalformed()
	e.quiet(err, "dropping malformed rpc logs")
}

func (e *Engine) quiet(err error, msg string) {
	if ok, suppressed := e.noise.Allow(); ok {
		e.logger.Debug().Err(err).Int("suppressed", suppressed).Msg(msg)
	}
}

// sourceError handles errors that do not end the event source.
func (e *Engine) sourceError(err error) {
	if transport.IsNetwork(err) {
		e.logger.Warn().Err(err).Msg("event source cycle failed")
		return
	}
	e.unexpected(err, "event source error")
}

func (e *Engine) delivered(wallet event.Address, err error) {
	if err == nil {
		e.budget.Reset()
		return
	}
	e.unexpected(err, "notification dropped for "+wallet.Hex())
}

func (e *Engine) unexpected(err error, msg string) {
	e.stats.RecordError()
	e.logger.Error().Err(err).Int("consecutive", e.budget.Consecutive()+1).Msg(msg)
	e.budget.Fail(err)
}

func (e *Engine) caller() (price.Caller, bool) {
	c := e.manager.Client()
	if c == nil {
		return nil, false
	}
	return c, true
}

func (e *Engine) statusText() string {
	st := e.manager.Stats()
	var b strings.Builder
	b.WriteString("*Status*\n")
	fmt.Fprintf(&b, "Watching: %d addresses\n", e.watch.Size())
	fmt.Fprintf(&b, "Network: chain %d\n", e.cfg.Connection.ChainID)
	fmt.Fprintf(&b, "Connection: %s\n", st.State)
	if st.Endpoint.URL != "" {
		fmt.Fprintf(&b, "Endpoint: %s (%s)\n", st.Endpoint.URL, st.Endpoint.Kind)
	}
	fmt.Fprintf(&b, "Reconnects: %d\n", st.TotalReconnects)
	fmt.Fprintf(&b, "Uptime: %s", time.Since(e.started).Round(time.Second))
	return b.String()
}

// Manager returns the connection manager.
func (e *Engine) Manager() *connection.Manager {
	return e.manager
}

// Aggregator returns the transfer aggregator.
func (e *Engine) Aggregator() *aggregator.Aggregator {
	return e.agg
}

// Stats returns the pipeline counters.
func (e *Engine) Stats() health.Snapshot {
	return e.stats.Snapshot()
}
