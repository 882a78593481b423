package middleware

import (
	"sync/atomic"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/metrics"
)

// Metrics counts logs entering the pipeline and how many made it through.
type Metrics struct {
	mode      string
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewMetrics creates a metrics middleware labelling received logs with mode.
func NewMetrics(mode string) *Metrics {
	return &Metrics{mode: mode}
}

// Wrap decorates the handler with metrics collection.
func (m *Metrics) Wrap(next Handler) Handler {
	return func(lg event.Log) *event.Log {
		metrics.LogReceived(m.mode)
		result := next(lg)
		if result != nil {
			m.processed.Add(1)
		} else {
			m.dropped.Add(1)
		}
		return result
	}
}

// Processed returns the number of logs that reached the end of the pipeline.
func (m *Metrics) Processed() uint64 {
	return m.processed.Load()
}

// Dropped returns the number of logs dropped along the way.
func (m *Metrics) Dropped() uint64 {
	return m.dropped.Load()
}
