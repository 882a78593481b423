// Package decoder turns raw chain logs into typed transfers and rejects
// logs that do not have the expected shape.
package decoder

import (
	"errors"

	"github.com/hedeqiang/dropwatch/event"
)

// ErrMalformed wraps every validation failure. Malformed logs are dropped
// and counted, never surfaced as engine errors.
var ErrMalformed = errors.New("decoder: malformed log")

// Decoder decodes a raw log into a transfer.
type Decoder interface {
	Decode(log event.Log) (event.Transfer, error)
}

// IsMalformed reports whether err is a validation failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// Reason returns a short label for a validation failure, used as a metric label.
func Reason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return "unknown"
}

type reasonError struct {
	reason string
	detail string
}

func (e *reasonError) Error() string {
	if e.detail == "" {
		return ErrMalformed.Error() + ": " + e.reason
	}
	return ErrMalformed.Error() + ": " + e.reason + ": " + e.detail
}

func (e *reasonError) Unwrap() error {
	return ErrMalformed
}

func malformed(reason, detail string) error {
	return &reasonError{reason: reason, detail: detail}
}
