package middleware

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/metrics"
)

// Dedupe drops logs whose (tx hash, log index) was already seen. Replayed
// subscription messages and the overlap between a poll cycle and a fresh
// subscription would otherwise notify twice.
type Dedupe struct {
	seen *lru.Cache[event.Key, struct{}]
}

// NewDedupe creates a dedupe middleware remembering up to size logs.
func NewDedupe(size int) (*Dedupe, error) {
	seen, err := lru.New[event.Key, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("middleware: dedupe cache: %w", err)
	}
	return &Dedupe{seen: seen}, nil
}

// Wrap decorates the handler with duplicate suppression.
func (d *Dedupe) Wrap(next Handler) Handler {
	return func(lg event.Log) *event.Log {
		if found, _ := d.seen.ContainsOrAdd(lg.Key(), struct{}{}); found {
			metrics.LogDropped("duplicate")
			return nil
		}
		return next(lg)
	}
}

// Len returns the number of remembered logs.
func (d *Dedupe) Len() int {
	return d.seen.Len()
}

// SkipRemoved drops logs the node flagged as removed by a reorganization.
func SkipRemoved() Middleware {
	return Func(func(next Handler) Handler {
		return func(lg event.Log) *event.Log {
			if lg.Removed {
				metrics.LogDropped("removed")
				return nil
			}
			return next(lg)
		}
	})
}
