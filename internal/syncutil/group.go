// Package syncutil runs the engine's long-lived activities.
package syncutil

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Group runs named activities under a shared context. Stop cancels the
// context and waits for all of them.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]int
}

// NewGroup creates a group whose context derives from ctx.
func NewGroup(ctx context.Context, logger zerolog.Logger) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		running: make(map[string]int),
	}
}

func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as the activity name. fn must return once its context is done.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.mu.Lock()
	g.running[name]++
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)

		g.mu.Lock()
		if g.running[name]--; g.running[name] == 0 {
			delete(g.running, name)
		}
		g.mu.Unlock()
		if g.ctx.Err() == nil && name != "" {
			g.logger.Debug().Str("activity", name).Msg("activity finished")
		}
	}()
}

// Running returns how many activities are still running.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.running {
		n += c
	}
	return n
}

func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
