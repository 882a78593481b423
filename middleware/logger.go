package middleware

import (
	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch/event"
)

// Logger logs each log that passes through the pipeline at debug level.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a logging middleware.
func NewLogger(l zerolog.Logger) *Logger {
	return &Logger{logger: l.With().Str("component", "pipeline").Logger()}
}

// Wrap decorates the handler with event logging.
func (l *Logger) Wrap(next Handler) Handler {
	return func(lg event.Log) *event.Log {
		l.logger.Debug().
			Uint64("block", lg.BlockNumber).
			Str("tx", lg.TxHash.Hex()).
			Uint("log_index", lg.LogIndex).
			Str("emitter", lg.Address.Hex()).
			Msg("log received")
		return next(lg)
	}
}
