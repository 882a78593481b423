// Package price resolves token metadata and advisory USD quotes, caching
// both with TTLs.
package price

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hedeqiang/dropwatch/chain/base"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/internal/logutil"
	"github.com/hedeqiang/dropwatch/metrics"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, to event.Address, data []byte) ([]byte, error)
}

// Backend returns the caller of the live connection. It reports false while
// no connection is live.
type Backend func() (Caller, bool)

// Metadata describes an ERC-20 token.
type Metadata struct {
	Symbol   string
	Decimals uint8
}

// Unknown is returned when a token's metadata cannot be fetched.
var Unknown = Metadata{Symbol: "UNKNOWN", Decimals: 18}

// maxDecimals bounds plausible decimals; larger values are treated as bogus.
const maxDecimals = 30

// Config configures a Cache.
type Config struct {
	Router        event.Address
	Quote         event.Address
	QuoteDecimals uint8

	MetadataTTL time.Duration
	PriceTTL    time.Duration
	Timeout     time.Duration

	// FailureLogInterval rate-limits failure logging.
	FailureLogInterval time.Duration
}

// DefaultConfig quotes against USDC through the Uniswap V2 router on Base.
func DefaultConfig() Config {
	return Config{
		Router:             base.UniswapV2Router,
		Quote:              base.USDC,
		QuoteDecimals:      base.USDCDecimals,
		MetadataTTL:        24 * time.Hour,
		PriceTTL:           15 * time.Second,
		Timeout:            5 * time.Second,
		FailureLogInterval: time.Minute,
	}
}

// Cache fronts metadata and price lookups.
type Cache struct {
	cfg     Config
	backend Backend
	meta    *cache.Cache
	prices  *cache.Cache
	limiter *logutil.Limiter
	logger  zerolog.Logger
}

// New creates a Cache that calls contracts through backend.
func New(cfg Config, backend Backend, logger zerolog.Logger) *Cache {
	return &Cache{
		cfg:     cfg,
		backend: backend,
		meta:    cache.New(cfg.MetadataTTL, cfg.MetadataTTL),
		prices:  cache.New(cfg.PriceTTL, time.Minute),
		limiter: logutil.NewLimiter(cfg.FailureLogInterval),
		logger:  logger.With().Str("component", "price").Logger(),
	}
}

// ResolveMetadata returns the token's symbol and decimals. Failures yield
// Unknown, which is not cached so the next sighting retries.
func (c *Cache) ResolveMetadata(ctx context.Context, token event.Address) Metadata {
	key := token.Hex()
	if v, ok := c.meta.Get(key); ok {
		metrics.PriceLookup("metadata", true)
		return v.(Metadata)
	}
	metrics.PriceLookup("metadata", false)

	caller, ok := c.live()
	if !ok {
		return Unknown
	}
	md, err := c.fetchMetadata(ctx, caller, token)
	if err != nil {
		c.warn(err, token, "token metadata unavailable, using fallback")
		return Unknown
	}
	c.meta.SetDefault(key, md)
	return md
}

func (c *Cache) fetchMetadata(ctx context.Context, caller Caller, token event.Address) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := caller.CallContract(ctx, token, erc20ABI.Methods["symbol"].ID)
	if err != nil {
		return Metadata{}, fmt.Errorf("price: symbol: %w", err)
	}
	symbol, err := unpackSymbol(raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("price: decode symbol: %w", err)
	}

	raw, err = caller.CallContract(ctx, token, erc20ABI.Methods["decimals"].ID)
	if err != nil {
		return Metadata{}, fmt.Errorf("price: decimals: %w", err)
	}
	decimals, err := unpackDecimals(raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("price: decode decimals: %w", err)
	}
	if decimals == 0 || decimals > maxDecimals {
		decimals = Unknown.Decimals
	}
	return Metadata{Symbol: symbol, Decimals: decimals}, nil
}

// BucketAmount coarsens amount for the price cache key: amounts above one
// unit are truncated to whole units, smaller ones rounded to 6 places.
// Truncation, not nearest-integer rounding, is intended: 1000.2 and 1000.6
// must share a key, and rounding would split them into 1000 and 1001.
func BucketAmount(amount decimal.Decimal) decimal.Decimal {
	if amount.GreaterThan(decimal.NewFromInt(1)) {
		return amount.Floor()
	}
	return amount.Round(6)
}

// QuoteUSD estimates the value of amount tokens in the quote asset. It
// returns 0 when no connection is live or the quote fails.
func (c *Cache) QuoteUSD(ctx context.Context, token event.Address, amount decimal.Decimal, decimals uint8) float64 {
	if !amount.IsPositive() {
		return 0
	}
	if token == c.cfg.Quote {
		return amount.InexactFloat64()
	}
	caller, ok := c.live()
	if !ok {
		return 0
	}

	bucket := BucketAmount(amount)
	key := fmt.Sprintf("%s|%s|%s", token.Hex(), c.cfg.Quote.Hex(), bucket.String())
	if v, ok := c.prices.Get(key); ok {
		metrics.PriceLookup("price", true)
		return v.(float64)
	}
	metrics.PriceLookup("price", false)

	usd, err := c.quote(ctx, caller, token, bucket, decimals)
	if err != nil {
		c.warn(err, token, "price quote failed")
		return 0
	}
	c.prices.SetDefault(key, usd)
	return usd
}

func (c *Cache) quote(ctx context.Context, caller Caller, token event.Address, amount decimal.Decimal, decimals uint8) (float64, error) {
	amountIn := amount.Shift(int32(decimals)).BigInt()
	if amountIn.Sign() == 0 {
		return 0, fmt.Errorf("price: amount %s below token precision", amount)
	}
	data, err := packAmountsOut(amountIn, token, c.cfg.Quote)
	if err != nil {
		return 0, fmt.Errorf("price: pack getAmountsOut: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	raw, err := caller.CallContract(ctx, c.cfg.Router, data)
	if err != nil {
		return 0, fmt.Errorf("price: getAmountsOut: %w", err)
	}
	out, err := unpackAmountsOut(raw)
	if err != nil {
		return 0, fmt.Errorf("price: decode getAmountsOut: %w", err)
	}
	return decimal.NewFromBigInt(out, -int32(c.cfg.QuoteDecimals)).InexactFloat64(), nil
}

func (c *Cache) live() (Caller, bool) {
	if c.backend == nil {
		return nil, false
	}
	caller, ok := c.backend()
	if !ok || caller == nil {
		return nil, false
	}
	return caller, true
}

func (c *Cache) warn(err error, token event.Address, msg string) {
	ok, suppressed := c.limiter.Allow()
	if !ok {
		return
	}
	c.logger.Warn().Err(err).Str("token", token.Hex()).Int("suppressed", suppressed).Msg(msg)
}
