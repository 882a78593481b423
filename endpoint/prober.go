package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/metrics"
)

// Dialer opens a client for an endpoint.
type Dialer func(ep Endpoint) (chain.Client, error)

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Healthy      bool
	Latency      time.Duration
	SupportsPush bool
}

// Prober measures endpoint liveness and latency with a fresh, short-lived client.
type Prober struct {
	registry *Registry
	dial     Dialer
	query    filter.Query
	now      func() time.Time
}

// NewProber creates a prober that records results into registry. Push
// endpoints are additionally asked to open a subscription for query.
func NewProber(registry *Registry, dial Dialer, query filter.Query) *Prober {
	return &Prober{registry: registry, dial: dial, query: query, now: time.Now}
}

// Probe fetches the latest block from ep within timeout and, for push
// endpoints, checks that a subscription can be opened. The client used for
// the probe is always released.
func (p *Prober) Probe(ctx context.Context, ep Endpoint, timeout time.Duration) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	res, err := p.probe(ctx, ep, start)
	if err != nil {
		p.registry.RecordFailure(ep.URL, p.now())
		if ep.Kind == Push {
			p.registry.MarkPushUnsupported(ep.URL)
		}
		metrics.ProbeResult(ep.Kind.String(), false)
		return ProbeResult{Latency: InfiniteLatency}, err
	}
	p.registry.RecordProbe(ep.URL, res, p.now())
	metrics.ProbeResult(ep.Kind.String(), true)
	return res, nil
}

func (p *Prober) probe(ctx context.Context, ep Endpoint, start time.Time) (ProbeResult, error) {
	client, err := p.dial(ep)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("endpoint: probe %s: dial: %w", ep.URL, err)
	}
	defer client.Close()

	if _, err := client.LatestBlock(ctx); err != nil {
		return ProbeResult{}, fmt.Errorf("endpoint: probe %s: %w", ep.URL, err)
	}
	res := ProbeResult{Healthy: true, Latency: p.now().Sub(start)}

	// Poll endpoints need no subscription support.
	if ep.Kind != Push {
		res.SupportsPush = true
		return res, nil
	}
	sub, err := client.Subscribe(ctx, p.query)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("endpoint: probe %s: subscription: %w", ep.URL, err)
	}
	sub.Unsubscribe()
	res.SupportsPush = true
	return res, nil
}
