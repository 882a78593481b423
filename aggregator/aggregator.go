// Package aggregator groups the transfers of one transaction and emits one
// message per watched wallet once the collection window closes.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hedeqiang/dropwatch/chain/base"
	"github.com/hedeqiang/dropwatch/decoder"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/metrics"
	"github.com/hedeqiang/dropwatch/price"
)

// Notifier delivers a composed message.
type Notifier interface {
	Deliver(ctx context.Context, text, destination string) error
}

// Pricer resolves token metadata and USD estimates.
type Pricer interface {
	ResolveMetadata(ctx context.Context, token event.Address) price.Metadata
	QuoteUSD(ctx context.Context, token event.Address, amount decimal.Decimal, decimals uint8) float64
}

// WatchList reports whether an address is watched.
type WatchList interface {
	Contains(addr event.Address) bool
}

// Config configures an Aggregator.
type Config struct {
	// Delay is how long a transaction collects transfers after first sight.
	Delay time.Duration

	// Ceiling bounds how long any group may stay pending.
	Ceiling time.Duration

	SweepInterval time.Duration

	// Destination is the chat the messages are delivered to.
	Destination string

	Explorer    string
	ChainLabel  string
	WalletNames map[string]string

	// NativeToken gets no buy link.
	NativeToken event.Address
	BuyLinks    bool
}

// DefaultConfig returns the Base defaults.
func DefaultConfig() Config {
	return Config{
		Delay:         2 * time.Second,
		Ceiling:       5 * time.Minute,
		SweepInterval: 10 * time.Minute,
		Explorer:      base.ExplorerURL,
		ChainLabel:    "ETH",
		NativeToken:   base.WETH,
		BuyLinks:      true,
	}
}

// Hooks observe aggregator outcomes.
type Hooks struct {
	// OnRecord is called for every record added to a group.
	OnRecord func(event.TransferRecord)

	// OnDelivered is called after each delivery attempt.
	OnDelivered func(wallet event.Address, err error)
}

// Timer is a scheduled flush that can be cancelled.
type Timer interface {
	Stop() bool
}

type group struct {
	records   []event.TransferRecord
	firstSeen time.Time
	timer     Timer
	expiry    Timer
}

func (g *group) stop() {
	g.timer.Stop()
	g.expiry.Stop()
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the aggregator's time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithAfterFunc replaces time.AfterFunc for scheduling flushes.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(a *Aggregator) { a.afterFunc = fn }
}

// WithHooks installs outcome hooks.
func WithHooks(h Hooks) Option {
	return func(a *Aggregator) { a.hooks = h }
}

// Aggregator collects transfer records per transaction hash.
type Aggregator struct {
	cfg      Config
	decoder  decoder.Decoder
	watch    WatchList
	pricer   Pricer
	notifier Notifier
	logger   zerolog.Logger
	hooks    Hooks

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[event.Hash]*group
}

// New creates an Aggregator.
func New(cfg Config, dec decoder.Decoder, watch WatchList, pricer Pricer, notifier Notifier, logger zerolog.Logger, opts ...Option) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		cfg:      cfg,
		decoder:  dec,
		watch:    watch,
		pricer:   pricer,
		notifier: notifier,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[event.Hash]*group),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleLog decodes lg and adds it. Malformed logs return the decoder's
// error and leave no pending state behind.
func (a *Aggregator) HandleLog(ctx context.Context, lg event.Log) error {
	tr, err := a.decoder.Decode(lg)
	if err != nil {
		return err
	}
	a.Add(ctx, lg, tr)
	return nil
}

// Add records tr for every watched side and reports whether anything was
// recorded. Self-transfers and transfers between unwatched addresses are
// ignored.
func (a *Aggregator) Add(ctx context.Context, lg event.Log, tr event.Transfer) bool {
	if tr.From == tr.To {
		return false
	}
	toWatched := a.watch.Contains(tr.To)
	fromWatched := a.watch.Contains(tr.From)
	if !toWatched && !fromWatched {
		return false
	}

	md := a.pricer.ResolveMetadata(ctx, tr.Token)
	amount := decimal.NewFromBigInt(tr.Value, -int32(md.Decimals))
	if !amount.IsPositive() {
		return false
	}
	usd := a.pricer.QuoteUSD(ctx, tr.Token, amount, md.Decimals)

	now := a.now()
	rec := event.TransferRecord{
		TxHash:     lg.TxHash,
		LogIndex:   lg.LogIndex,
		Token:      tr.Token,
		Symbol:     md.Symbol,
		Decimals:   md.Decimals,
		Amount:     amount,
		USDValue:   usd,
		ObservedAt: now,
	}
	var records []event.TransferRecord
	if toWatched {
		in := rec
		in.Direction, in.WatchedAddress, in.Counterparty = event.Inbound, tr.To, tr.From
		records = append(records, in)
	}
	if fromWatched {
		out := rec
		out.Direction, out.WatchedAddress, out.Counterparty = event.Outbound, tr.From, tr.To
		records = append(records, out)
	}

	a.mu.Lock()
	g, ok := a.pending[lg.TxHash]
	if !ok {
		g = &group{firstSeen: now}
		tx := lg.TxHash
		g.timer = a.afterFunc(a.cfg.Delay, func() { a.Flush(a.ctx, tx) })
		g.expiry = a.afterFunc(a.cfg.Ceiling, func() { a.expire(tx) })
		a.pending[lg.TxHash] = g
	}
	g.records = append(g.records, records...)
	n := len(a.pending)
	a.mu.Unlock()

	metrics.SetPendingGroups(n)
	if a.hooks.OnRecord != nil {
		for _, r := range records {
			a.hooks.OnRecord(r)
		}
	}
	return true
}

// Flush emits one message per watched wallet of the transaction and drops
// the group. It returns the number of messages delivered.
func (a *Aggregator) Flush(ctx context.Context, tx event.Hash) int {
	a.mu.Lock()
	g, ok := a.pending[tx]
	if ok {
		delete(a.pending, tx)
		g.stop()
	}
	n := len(a.pending)
	a.mu.Unlock()
	if !ok {
		return 0
	}
	metrics.SetPendingGroups(n)

	var wallets []event.Address
	byWallet := make(map[event.Address][]event.TransferRecord)
	for _, r := range g.records {
		if _, seen := byWallet[r.WatchedAddress]; !seen {
			wallets = append(wallets, r.WatchedAddress)
		}
		byWallet[r.WatchedAddress] = append(byWallet[r.WatchedAddress], r)
	}

	delivered := 0
	for _, w := range wallets {
		text := a.compose(tx, w, byWallet[w])
		err := a.notifier.Deliver(ctx, text, a.cfg.Destination)
		if err != nil {
			metrics.Notification("failed")
			a.logger.Warn().Err(err).Str("tx", tx.Hex()).Str("wallet", w.Hex()).Msg("notification dropped")
		} else {
			metrics.Notification("sent")
			delivered++
		}
		if a.hooks.OnDelivered != nil {
			a.hooks.OnDelivered(w, err)
		}
	}
	return delivered
}

// expire drops the group of tx if it is still pending at the ceiling.
func (a *Aggregator) expire(tx event.Hash) {
	a.mu.Lock()
	g, ok := a.pending[tx]
	if ok {
		delete(a.pending, tx)
		g.stop()
	}
	n := len(a.pending)
	a.mu.Unlock()
	if !ok {
		return
	}
	metrics.SetPendingGroups(n)
	a.logger.Warn().Str("tx", tx.Hex()).Int("records", len(g.records)).Msg("pending transaction expired")
}

// Sweep drops groups pending longer than the ceiling and returns how many
// were dropped. Each group also expires on its own timer; the sweep catches
// any whose timer was lost.
func (a *Aggregator) Sweep(now time.Time) int {
	a.mu.Lock()
	removed := 0
	for tx, g := range a.pending {
		if now.Sub(g.firstSeen) >= a.cfg.Ceiling {
			g.stop()
			delete(a.pending, tx)
			removed++
		}
	}
	n := len(a.pending)
	a.mu.Unlock()

	metrics.SetPendingGroups(n)
	return removed
}

// Pending returns the number of open transaction groups.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run sweeps stale groups on every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(a.now()); n > 0 {
				a.logger.Warn().Int("groups", n).Msg("swept stale pending transactions")
			}
		}
	}
}

// Stop cancels scheduled flushes and discards pending groups.
func (a *Aggregator) Stop() {
	a.cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	for tx, g := range a.pending {
		g.stop()
		delete(a.pending, tx)
	}
}
