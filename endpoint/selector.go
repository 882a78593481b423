package endpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SelectorConfig tunes endpoint selection.
type SelectorConfig struct {
	// ProbeTimeout bounds each probe.
	ProbeTimeout time.Duration
	// LatencyTieBreak is the latency difference below which two endpoints are
	// ranked by failure count instead.
	LatencyTieBreak time.Duration
	// PreferPoll ranks poll endpoints ahead of push endpoints.
	PreferPoll bool
}

// Selector probes every endpoint and ranks the healthy ones.
type Selector struct {
	cfg         SelectorConfig
	registry    *Registry
	prober      *Prober
	pushAllowed func() bool
	logger      zerolog.Logger

	mu      sync.Mutex
	current int
}

// NewSelector creates a selector. pushAllowed gates push endpoints; while it
// returns false they are skipped without being probed.
func NewSelector(cfg SelectorConfig, registry *Registry, prober *Prober, pushAllowed func() bool, logger zerolog.Logger) *Selector {
	if pushAllowed == nil {
		pushAllowed = func() bool { return true }
	}
	return &Selector{
		cfg:         cfg,
		registry:    registry,
		prober:      prober,
		pushAllowed: pushAllowed,
		logger:      logger.With().Str("component", "selector").Logger(),
	}
}

type candidate struct {
	index    int
	endpoint Endpoint
	health   Health
}

// SelectBest probes all endpoints concurrently and returns the best healthy
// one. When none is healthy it returns the endpoint at the current index and
// ok=false; the caller connects to it anyway.
func (s *Selector) SelectBest(ctx context.Context) (int, Endpoint, bool) {
	endpoints := s.registry.Endpoints()
	pushOK := s.pushAllowed()

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		if ep.Kind == Push && !pushOK {
			continue
		}
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			if _, err := s.prober.Probe(ctx, ep, s.cfg.ProbeTimeout); err != nil {
				s.logger.Debug().Err(err).Str("endpoint", ep.URL).Msg("probe failed")
			}
		}(i, ep)
	}
	wg.Wait()

	var healthy []candidate
	for i, ep := range endpoints {
		if ep.Kind == Push && !pushOK {
			continue
		}
		h := s.registry.Health(ep.URL)
		if !h.Healthy || (ep.Kind == Push && !h.SupportsPush) {
			continue
		}
		healthy = append(healthy, candidate{index: i, endpoint: ep, health: h})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(healthy) == 0 {
		ep := s.registry.At(s.current)
		s.logger.Warn().Str("endpoint", ep.URL).Msg("no healthy endpoint, falling back to current")
		return s.current, ep, false
	}

	sort.SliceStable(healthy, func(a, b int) bool {
		return s.less(healthy[a], healthy[b])
	})
	best := healthy[0]
	s.current = best.index
	s.logger.Info().
		Str("endpoint", best.endpoint.URL).
		Str("kind", best.endpoint.Kind.String()).
		Dur("latency", best.health.Latency).
		Int("healthy", len(healthy)).
		Msg("selected endpoint")
	return best.index, best.endpoint, true
}

func (s *Selector) less(a, b candidate) bool {
	if s.cfg.PreferPoll && a.endpoint.Kind != b.endpoint.Kind {
		return a.endpoint.Kind == Poll
	}
	diff := a.health.Latency - b.health.Latency
	if diff > s.cfg.LatencyTieBreak || -diff > s.cfg.LatencyTieBreak {
		return diff < 0
	}
	return a.health.ConsecutiveFailures < b.health.ConsecutiveFailures
}

// Current returns the index of the active endpoint.
func (s *Selector) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Advance moves the current index to the next endpoint and returns it.
func (s *Selector) Advance() (int, Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = (s.current + 1) % s.registry.Len()
	return s.current, s.registry.At(s.current)
}
