package dropwatch

import (
	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch/aggregator"
	"github.com/hedeqiang/dropwatch/endpoint"
	"github.com/hedeqiang/dropwatch/middleware"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithNotifier replaces the Telegram notifier.
func WithNotifier(n aggregator.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithDialer replaces the RPC client factory.
func WithDialer(d endpoint.Dialer) Option {
	return func(e *Engine) {
		e.dial = d
	}
}

// WithMiddleware appends middleware to the log pipeline, after the
// built-in dedupe.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.middlewares = append(e.middlewares, mw...)
	}
}
