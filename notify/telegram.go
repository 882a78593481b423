// Package notify delivers composed messages through the Telegram Bot API and
// serves the bot's watch-list commands.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/dropwatch/retry"
	"github.com/hedeqiang/dropwatch/transport"
)

// ErrDeliveryFailed is returned once every retry has failed.
var ErrDeliveryFailed = errors.New("notify: delivery failed")

// Class is the kind of a delivery failure. It decides the next endpoint and
// the retry delay.
type Class int

const (
	ClassOther Class = iota
	ClassDNS
	ClassTimeout
	ClassRateLimited
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassDNS:
		return "dns"
	case ClassTimeout:
		return "timeout"
	case ClassRateLimited:
		return "rate_limited"
	case ClassServer:
		return "server"
	default:
		return "other"
	}
}

// APIError is a non-OK answer from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notify: telegram HTTP %d: %s", e.StatusCode, e.Description)
}

// permanent reports whether resending the same request cannot succeed.
func (e *APIError) permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Classify maps a delivery error to its Class.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return ClassDNS
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case apiErr.StatusCode >= 500:
			return ClassServer
		}
		return ClassOther
	}
	if transport.IsTimeout(err) || errors.Is(err, syscall.ECONNRESET) {
		return ClassTimeout
	}
	return ClassOther
}

// Config configures the Telegram client.
type Config struct {
	Token string

	// Endpoints are Bot API base URLs tried in order.
	Endpoints []string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration

	// ForceIPv4 dials over tcp4 only.
	ForceIPv4 bool

	// InsecureSkipVerify allows raw IP endpoints whose certificate does not
	// match the host.
	InsecureSkipVerify bool

	ParseMode string
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints:  []string{"https://api.telegram.org"},
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    25 * time.Second,
		ForceIPv4:  true,
		ParseMode:  "Markdown",
	}
}

// Option configures a Telegram client.
type Option func(*Telegram)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

// WithSleep replaces the wait between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Telegram) { t.sleep = fn }
}

// WithStrategy replaces the exponential delay policy between attempts.
func WithStrategy(s retry.Strategy) Option {
	return func(t *Telegram) { t.backoff = s }
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	cfg     Config
	client  *http.Client
	backoff retry.Strategy
	sleep   func(ctx context.Context, d time.Duration) error
	logger  zerolog.Logger
}

// NewTelegram creates a Telegram client.
func NewTelegram(cfg Config, logger zerolog.Logger, opts ...Option) *Telegram {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultConfig().Endpoints
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	t := &Telegram{
		cfg:    cfg,
		client: newHTTPClient(cfg),
		backoff: &retry.Backoff{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.BaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2,
		},
		sleep:  sleepCtx,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newHTTPClient(cfg Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ForceIPv4 {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		tr.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		}
	}
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result T `json:"result"`
}

// Deliver sends text to destination, retrying across endpoints. A rejected
// request (4xx other than 429) is not retried.
func (t *Telegram) Deliver(ctx context.Context, text, destination string) error {
	body, err := sonnet.Marshal(sendMessage{
		ChatID:                destination,
		Text:                  text,
		ParseMode:             t.cfg.ParseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	idx := 0
	var last error
	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		endpoint := t.cfg.Endpoints[idx%len(t.cfg.Endpoints)]
		_, err := call[sentMessage](ctx, t, endpoint, "sendMessage", body)
		if err == nil {
			if attempt > 1 {
				t.logger.Info().Str("endpoint", endpoint).Int("attempt", attempt).Msg("message delivered after retry")
			}
			return nil
		}
		last = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.permanent() {
			return fmt.Errorf("notify: message rejected: %w", err)
		}
		if attempt == t.cfg.MaxRetries {
			break
		}

		delay, _ := t.backoff.Next(attempt)
		class := Classify(err)
		switch class {
		case ClassDNS:
			delay = delay * 3 / 2
			idx++
		case ClassRateLimited:
			delay *= 2
			if apiErr != nil && apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
			}
		default:
			idx++
		}
		t.logger.Warn().Err(err).
			Str("endpoint", endpoint).
			Str("class", class.String()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("telegram delivery failed, retrying")

		if err := t.sleep(ctx, delay); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, t.cfg.MaxRetries, last)
}

// sentMessage is the subset of a sent message the client reads back.
type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// call invokes a Bot API method and decodes its result.
func call[T any](ctx context.Context, t *Telegram, endpoint, method string, body []byte) (T, error) {
	var zero T
	u := strings.TrimRight(endpoint, "/") + "/bot" + t.cfg.Token + "/" + method

	verb := http.MethodGet
	var reader io.Reader
	if body != nil {
		verb = http.MethodPost
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, u, reader)
	if err != nil {
		return zero, t.redact(fmt.Errorf("notify: create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return zero, t.redact(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("notify: read response: %w", err)
	}
	var out apiResponse[T]
	if err := sonnet.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return zero, &APIError{StatusCode: resp.StatusCode, Description: string(raw)}
		}
		return zero, fmt.Errorf("notify: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Description: out.Description}
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		return zero, apiErr
	}
	return out.Result, nil
}

// redact strips the bot token from URLs embedded in err.
func (t *Telegram) redact(err error) error {
	var ue *url.Error
	if t.cfg.Token != "" && errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, t.cfg.Token, "<token>")
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
