package dropwatch

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/hedeqiang/dropwatch/aggregator"
	"github.com/hedeqiang/dropwatch/chain/base"
	"github.com/hedeqiang/dropwatch/connection"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/health"
	"github.com/hedeqiang/dropwatch/notify"
	"github.com/hedeqiang/dropwatch/price"
	"github.com/hedeqiang/dropwatch/retry"
	"github.com/hedeqiang/dropwatch/watcher"
)

// Environment variables holding secrets.
const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvChatID   = "TELEGRAM_CHAT_ID"
)

type (
	// Config is the engine configuration, usually read from a YAML file.
	Config struct {
		Endpoints  []string         `yaml:"endpoints"`
		Connection ConnectionConfig `yaml:"connection"`
		Watchdog   WatchdogConfig   `yaml:"watchdog"`
		Poller     PollerConfig     `yaml:"poller"`
		Aggregator AggregatorConfig `yaml:"aggregator"`
		Price      PriceConfig      `yaml:"price"`
		Telegram   TelegramConfig   `yaml:"telegram"`
		Health     HealthConfig     `yaml:"health"`
		Watchset   WatchsetConfig   `yaml:"watchset"`
		Log        LogConfig        `yaml:"log"`
		Metrics    MetricsConfig    `yaml:"metrics"`
	}

	ConnectionConfig struct {
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		ReconnectDelayCap    time.Duration `yaml:"reconnect_delay_cap"`
		RotationCooldown     time.Duration `yaml:"rotation_cooldown"`
		ProbeTimeout         time.Duration `yaml:"probe_timeout"`
		LatencyTieBreak      time.Duration `yaml:"latency_tie_break"`
		PreferPoll           bool          `yaml:"prefer_poll"`
		ConnectivityInterval time.Duration `yaml:"connectivity_interval"`
		MonitorInterval      time.Duration `yaml:"monitor_interval"`
		PushFailureThreshold int           `yaml:"push_failure_threshold"`
		PushDisableDuration  time.Duration `yaml:"push_disable_duration"`
		ChainID              uint64        `yaml:"chain_id"`
	}

	WatchdogConfig struct {
		ReconnectThreshold int           `yaml:"reconnect_threshold"`
		Window             time.Duration `yaml:"window"`
		MinUptime          time.Duration `yaml:"min_uptime"`
		FatalGrace         time.Duration `yaml:"fatal_grace"`
	}

	PollerConfig struct {
		Interval     time.Duration `yaml:"interval"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		MaxFailures  int           `yaml:"max_failures"`
	}

	AggregatorConfig struct {
		CollectionDelay time.Duration     `yaml:"collection_delay"`
		PendingCeiling  time.Duration     `yaml:"pending_ceiling"`
		SweepInterval   time.Duration     `yaml:"sweep_interval"`
		DedupeSize      int               `yaml:"dedupe_size"`
		Explorer        string            `yaml:"explorer"`
		ChainLabel      string            `yaml:"chain_label"`
		BuyLinks        bool              `yaml:"buy_links"`
		WalletNames     map[string]string `yaml:"wallet_names"`
	}

	PriceConfig struct {
		Router        string        `yaml:"router"`
		Quote         string        `yaml:"quote"`
		QuoteDecimals uint8         `yaml:"quote_decimals"`
		NativeToken   string        `yaml:"native_token"`
		MetadataTTL   time.Duration `yaml:"metadata_ttl"`
		PriceTTL      time.Duration `yaml:"price_ttl"`
		Timeout       time.Duration `yaml:"timeout"`
	}

	TelegramConfig struct {
		Endpoints          []string      `yaml:"endpoints"`
		MaxRetries         int           `yaml:"max_retries"`
		BaseDelay          time.Duration `yaml:"base_delay"`
		Timeout            time.Duration `yaml:"timeout"`
		ForceIPv4          bool          `yaml:"force_ipv4"`
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
		CommandInterval    time.Duration `yaml:"command_interval"`

		// Token and ChatID come from the environment.
		Token  string `yaml:"-"`
		ChatID string `yaml:"-"`
	}

	HealthConfig struct {
		ReportInterval       time.Duration `yaml:"report_interval"`
		MemoryCeilingMB      uint64        `yaml:"memory_ceiling_mb"`
		QuietPeriod          time.Duration `yaml:"quiet_period"`
		MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	}

	WatchsetConfig struct {
		Path string `yaml:"path"`
	}

	LogConfig struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	}

	MetricsConfig struct {
		// Addr serves /healthz and /metrics; empty disables the server.
		Addr string `yaml:"addr"`
	}
)

// DefaultConfig returns the Base mainnet defaults.
func DefaultConfig() Config {
	tg := notify.DefaultConfig()
	hc := health.DefaultConfig()
	pc := price.DefaultConfig()
	ac := aggregator.DefaultConfig()
	poll := watcher.DefaultPollerConfig()
	return Config{
		Endpoints: append([]string(nil), base.Endpoints...),
		Connection: ConnectionConfig{
			MaxReconnectAttempts: 10,
			ReconnectDelay:       5 * time.Second,
			ReconnectDelayCap:    25 * time.Second,
			RotationCooldown:     2 * time.Minute,
			ProbeTimeout:         4 * time.Second,
			LatencyTieBreak:      time.Second,
			PreferPoll:           true,
			ConnectivityInterval: 15 * time.Second,
			MonitorInterval:      time.Minute,
			PushFailureThreshold: 3,
			PushDisableDuration:  10 * time.Minute,
			ChainID:              base.ChainID,
		},
		Watchdog: WatchdogConfig{
			ReconnectThreshold: 20,
			Window:             30 * time.Minute,
			MinUptime:          5 * time.Minute,
			FatalGrace:         3 * time.Second,
		},
		Poller: PollerConfig{
			Interval:     poll.Interval,
			FetchTimeout: poll.FetchTimeout,
			MaxFailures:  poll.MaxFailures,
		},
		Aggregator: AggregatorConfig{
			CollectionDelay: ac.Delay,
			PendingCeiling:  ac.Ceiling,
			SweepInterval:   ac.SweepInterval,
			DedupeSize:      4096,
			Explorer:        ac.Explorer,
			ChainLabel:      ac.ChainLabel,
			BuyLinks:        ac.BuyLinks,
		},
		Price: PriceConfig{
			Router:        pc.Router.Hex(),
			Quote:         pc.Quote.Hex(),
			QuoteDecimals: pc.QuoteDecimals,
			NativeToken:   base.WETH.Hex(),
			MetadataTTL:   pc.MetadataTTL,
			PriceTTL:      pc.PriceTTL,
			Timeout:       pc.Timeout,
		},
		Telegram: TelegramConfig{
			Endpoints:       tg.Endpoints,
			MaxRetries:      tg.MaxRetries,
			BaseDelay:       tg.BaseDelay,
			Timeout:         tg.Timeout,
			ForceIPv4:       tg.ForceIPv4,
			CommandInterval: 5 * time.Second,
		},
		Health: HealthConfig{
			ReportInterval:       hc.Interval,
			MemoryCeilingMB:      hc.MemoryCeilingMB,
			QuietPeriod:          hc.QuietPeriod,
			MaxConsecutiveErrors: 50,
		},
		Watchset: WatchsetConfig{Path: "address.txt"},
		Log:      LogConfig{Level: "info"},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then the
// secrets from the environment. A .env file in the working directory is
// loaded first when present. An empty path uses the defaults alone.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("dropwatch: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("dropwatch: parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("dropwatch: load .env: %w", err)
	}
	cfg.Telegram.Token = os.Getenv(EnvBotToken)
	cfg.Telegram.ChatID = os.Getenv(EnvChatID)

	cfg.hydrate()
	return cfg, cfg.Validate()
}

// hydrate normalizes fields that other packages expect in canonical form.
func (c *Config) hydrate() {
	names := make(map[string]string, len(c.Aggregator.WalletNames))
	for addr, name := range c.Aggregator.WalletNames {
		names[strings.ToLower(strings.TrimSpace(addr))] = name
	}
	c.Aggregator.WalletNames = names
	if c.Connection.ReconnectDelayCap == 0 {
		c.Connection.ReconnectDelayCap = 5 * c.Connection.ReconnectDelay
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints", ErrInvalidConfig)
	}
	for _, u := range c.Endpoints {
		if !strings.Contains(u, "://") {
			return fmt.Errorf("%w: endpoint %q has no scheme", ErrInvalidConfig, u)
		}
	}
	for name, addr := range map[string]string{
		"price.router":       c.Price.Router,
		"price.quote":        c.Price.Quote,
		"price.native_token": c.Price.NativeToken,
	} {
		if _, err := event.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}
	switch {
	case c.Connection.MaxReconnectAttempts < 1:
		return fmt.Errorf("%w: connection.max_reconnect_attempts must be positive", ErrInvalidConfig)
	case c.Connection.ReconnectDelay <= 0:
		return fmt.Errorf("%w: connection.reconnect_delay must be positive", ErrInvalidConfig)
	case c.Poller.Interval <= 0 || c.Poller.FetchTimeout <= 0:
		return fmt.Errorf("%w: poller intervals must be positive", ErrInvalidConfig)
	case c.Aggregator.PendingCeiling <= c.Aggregator.CollectionDelay:
		return fmt.Errorf("%w: aggregator.pending_ceiling must exceed collection_delay", ErrInvalidConfig)
	case c.Aggregator.DedupeSize < 1:
		return fmt.Errorf("%w: aggregator.dedupe_size must be positive", ErrInvalidConfig)
	case c.Watchset.Path == "":
		return fmt.Errorf("%w: watchset.path is empty", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return nil
}

// TelegramEnabled reports whether delivery credentials are configured.
func (c Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != ""
}

func (c Config) connectionConfig() connection.Config {
	return connection.Config{
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
		Reconnect: retry.ReconnectPolicy{
			Base:             c.Connection.ReconnectDelay,
			Cap:              c.Connection.ReconnectDelayCap,
			RotationCooldown: c.Connection.RotationCooldown,
		},
		ProbeTimeout:         c.Connection.ProbeTimeout,
		WatchdogThreshold:    c.Watchdog.ReconnectThreshold,
		WatchdogWindow:       c.Watchdog.Window,
		MinUptime:            c.Watchdog.MinUptime,
		ConnectivityInterval: c.Connection.ConnectivityInterval,
		MonitorInterval:      c.Connection.MonitorInterval,
		ExpectedChainID:      c.Connection.ChainID,
	}
}

func (c Config) selectorConfig() endpoint.SelectorConfig {
	return endpoint.SelectorConfig{
		ProbeTimeout:    c.Connection.ProbeTimeout,
		LatencyTieBreak: c.Connection.LatencyTieBreak,
		PreferPoll:      c.Connection.PreferPoll,
	}
}

func (c Config) pollerConfig() watcher.PollerConfig {
	return watcher.PollerConfig{
		Interval:     c.Poller.Interval,
		FetchTimeout: c.Poller.FetchTimeout,
		MaxFailures:  c.Poller.MaxFailures,
		CursorKey:    "poll",
	}
}

func (c Config) aggregatorConfig() aggregator.Config {
	return aggregator.Config{
		Delay:         c.Aggregator.CollectionDelay,
		Ceiling:       c.Aggregator.PendingCeiling,
		SweepInterval: c.Aggregator.SweepInterval,
		Destination:   c.Telegram.ChatID,
		Explorer:      c.Aggregator.Explorer,
		ChainLabel:    c.Aggregator.ChainLabel,
		WalletNames:   c.Aggregator.WalletNames,
		NativeToken:   event.MustParseAddress(c.Price.NativeToken),
		BuyLinks:      c.Aggregator.BuyLinks,
	}
}

func (c Config) priceConfig() price.Config {
	return price.Config{
		Router:             event.MustParseAddress(c.Price.Router),
		Quote:              event.MustParseAddress(c.Price.Quote),
		QuoteDecimals:      c.Price.QuoteDecimals,
		MetadataTTL:        c.Price.MetadataTTL,
		PriceTTL:           c.Price.PriceTTL,
		Timeout:            c.Price.Timeout,
		FailureLogInterval: time.Minute,
	}
}

func (c Config) telegramConfig() notify.Config {
	tg := notify.DefaultConfig()
	tg.Token = c.Telegram.Token
	tg.Endpoints = c.Telegram.Endpoints
	tg.MaxRetries = c.Telegram.MaxRetries
	tg.BaseDelay = c.Telegram.BaseDelay
	tg.Timeout = c.Telegram.Timeout
	tg.ForceIPv4 = c.Telegram.ForceIPv4
	tg.InsecureSkipVerify = c.Telegram.InsecureSkipVerify
	return tg
}

func (c Config) healthConfig() health.Config {
	return health.Config{
		Interval:        c.Health.ReportInterval,
		MemoryCeilingMB: c.Health.MemoryCeilingMB,
		QuietPeriod:     c.Health.QuietPeriod,
		Addr:            c.Metrics.Addr,
	}
}
