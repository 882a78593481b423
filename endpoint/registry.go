// Package endpoint tracks the configured RPC endpoints, measures their
// health and picks the one to connect to.
package endpoint

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hedeqiang/dropwatch/transport"
)

// Kind distinguishes request/response endpoints from streaming ones.
type Kind int

const (
	// Poll endpoints answer requests only (http, https).
	Poll Kind = iota
	// Push endpoints can also stream subscriptions (ws, wss).
	Push
)

func (k Kind) String() string {
	if k == Push {
		return "push"
	}
	return "poll"
}

// KindOf derives the kind from the URL scheme.
func KindOf(url string) Kind {
	if transport.IsPushURL(url) {
		return Push
	}
	return Poll
}

// InfiniteLatency is recorded for endpoints that failed their last probe.
const InfiniteLatency = time.Duration(math.MaxInt64)

// Endpoint is one configured RPC address.
type Endpoint struct {
	URL  string
	Kind Kind
}

// New builds an Endpoint, deriving the kind from the URL.
func New(url string) Endpoint {
	return Endpoint{URL: url, Kind: KindOf(url)}
}

// Health is the last known state of an endpoint.
type Health struct {
	Healthy             bool
	Latency             time.Duration
	LastProbedAt        time.Time
	SupportsPush        bool
	ConsecutiveFailures int
}

// ErrNoEndpoints is returned when a registry is created empty.
var ErrNoEndpoints = errors.New("endpoint: no endpoints configured")

// Registry holds the ordered endpoint list and one health record per URL.
type Registry struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	health    map[string]Health
}

// NewRegistry creates a registry. URLs must be unique.
func NewRegistry(endpoints ...Endpoint) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	r := &Registry{
		endpoints: make([]Endpoint, 0, len(endpoints)),
		health:    make(map[string]Health, len(endpoints)),
	}
	for _, ep := range endpoints {
		if _, exists := r.health[ep.URL]; exists {
			return nil, fmt.Errorf("endpoint: %q registered twice", ep.URL)
		}
		r.endpoints = append(r.endpoints, ep)
		r.health[ep.URL] = Health{Latency: InfiniteLatency, SupportsPush: true}
	}
	return r, nil
}

// Len returns the number of endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// Endpoints returns the endpoints in configured order.
func (r *Registry) Endpoints() []Endpoint {
	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// At returns the endpoint at index i, wrapping around the list.
func (r *Registry) At(i int) Endpoint {
	n := len(r.endpoints)
	return r.endpoints[((i%n)+n)%n]
}

// Health returns the health record for url.
func (r *Registry) Health(url string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health[url]
}

// RecordProbe stores a successful probe.
func (r *Registry) RecordProbe(url string, res ProbeResult, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[url]
	h.Healthy = res.Healthy
	h.Latency = res.Latency
	h.SupportsPush = res.SupportsPush
	h.LastProbedAt = at
	if res.Healthy {
		h.ConsecutiveFailures = 0
	}
	r.health[url] = h
}

// RecordFailure marks url unhealthy with infinite latency.
func (r *Registry) RecordFailure(url string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[url]
	h.Healthy = false
	h.Latency = InfiniteLatency
	h.LastProbedAt = at
	h.ConsecutiveFailures++
	r.health[url] = h
}

// Downgrade marks url unhealthy after a runtime failure of a live connection.
func (r *Registry) Downgrade(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[url]
	h.Healthy = false
	h.ConsecutiveFailures++
	r.health[url] = h
}

// MarkPushUnsupported records that url refused a subscription.
func (r *Registry) MarkPushUnsupported(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[url]
	h.SupportsPush = false
	r.health[url] = h
}
