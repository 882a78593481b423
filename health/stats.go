// Package health tracks pipeline activity and reports on engine health:
// periodic log reports, the memory ceiling and an HTTP status endpoint.
package health

import (
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"

	"github.com/hedeqiang/dropwatch/event"
)

// Stats accumulates pipeline counters. Distinct tokens and counterparties
// are estimated with HyperLogLog sketches so memory stays constant.
type Stats struct {
	mu             sync.Mutex
	transfers      uint64
	errors         uint64
	malformed      uint64
	lastTransfer   time.Time
	tokens         *hyperloglog.Sketch
	counterparties *hyperloglog.Sketch
}

// NewStats creates empty stats.
func NewStats() *Stats {
	return &Stats{
		tokens:         hyperloglog.New14(),
		counterparties: hyperloglog.New14(),
	}
}

// RecordTransfer counts a transfer record.
func (s *Stats) RecordTransfer(r event.TransferRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers++
	if r.ObservedAt.After(s.lastTransfer) {
		s.lastTransfer = r.ObservedAt
	}
	s.tokens.Insert(r.Token[:])
	s.counterparties.Insert(r.Counterparty[:])
}

// RecordError counts an unexpected error.
func (s *Stats) RecordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// RecordMalformed counts a dropped malformed log.
func (s *Stats) RecordMalformed() {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Transfers              uint64    `json:"transfers"`
	Errors                 uint64    `json:"errors"`
	Malformed              uint64    `json:"malformed"`
	LastTransferAt         time.Time `json:"last_transfer_at"`
	DistinctTokens         uint64    `json:"distinct_tokens"`
	DistinctCounterparties uint64    `json:"distinct_counterparties"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Transfers:              s.transfers,
		Errors:                 s.errors,
		Malformed:              s.malformed,
		LastTransferAt:         s.lastTransfer,
		DistinctTokens:         s.tokens.Estimate(),
		DistinctCounterparties: s.counterparties.Estimate(),
	}
}
