package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes messages to the logger instead of a chat. It is used when no
// bot credentials are configured.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// Deliver logs text and never fails.
func (l *Log) Deliver(_ context.Context, text, destination string) error {
	l.logger.Info().Str("destination", destination).Msg(text)
	return nil
}
