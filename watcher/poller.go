package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/cursor"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/transport"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between polling cycles.
	Interval time.Duration

	// FetchTimeout bounds each cycle's requests.
	FetchTimeout time.Duration

	// MaxFailures is the number of consecutive failed cycles after which the
	// endpoint is abandoned. A timeout abandons it immediately.
	MaxFailures int

	// CursorKey names this source's progress in the cursor.
	CursorKey string
}

// DefaultPollerConfig returns the polling defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:     15 * time.Second,
		FetchTimeout: 5 * time.Second,
		MaxFailures:  2,
		CursorKey:    "poll",
	}
}

// Poller fetches the logs of the newest block on every cycle. Blocks that
// appear and are superseded between two cycles are not fetched.
type Poller struct {
	lifecycle
	client   chain.Client
	query    filter.Query
	cursor   cursor.Cursor
	config   PollerConfig
	failures int
}

// NewPoller creates a polling watcher over client.
func NewPoller(client chain.Client, query filter.Query, cur cursor.Cursor, cfg PollerConfig) *Poller {
	return &Poller{
		lifecycle: newLifecycle(),
		client:    client,
		query:     query,
		cursor:    cur,
		config:    cfg,
	}
}

// Mode returns Poll.
func (p *Poller) Mode() Mode {
	return Poll
}

// Watch polls until Stop is called or the endpoint must be abandoned, in
// which case the returned error wraps ErrRotationRequired.
func (p *Poller) Watch() error {
	if !p.begin() {
		return nil
	}
	defer p.end()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if err := p.cycle(); err != nil {
		return err
	}
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.cycle(); err != nil {
				return err
			}
		}
	}
}

// cycle runs one poll and returns an error only when rotation is required.
func (p *Poller) cycle() error {
	err := p.poll(p.ctx)
	if err == nil {
		p.failures = 0
		return nil
	}
	if p.ctx.Err() != nil {
		return nil
	}

	p.failures++
	p.emitError(err)
	if p.failures >= p.config.MaxFailures || transport.IsTimeout(err) {
		p.failures = 0
		return fmt.Errorf("poller: %w: %w", ErrRotationRequired, err)
	}
	return nil
}

func (p *Poller) poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	latest, err := p.client.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("poller: latest block: %w", err)
	}

	last, ok := p.cursor.Load(p.config.CursorKey)
	if !ok {
		if latest > 0 {
			last = latest - 1
		}
		p.cursor.Save(p.config.CursorKey, last)
	}
	if latest <= last {
		return nil
	}

	logs, err := p.client.FetchLogs(ctx, p.query.AtBlock(latest))
	if err != nil {
		return fmt.Errorf("poller: fetch logs at %d: %w", latest, err)
	}

	for _, log := range logs {
		p.emitEvent(log)
	}
	p.cursor.Save(p.config.CursorKey, latest)
	return nil
}
