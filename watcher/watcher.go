// Package watcher provides the two event sources: a push streamer over a
// log subscription and a poller over eth_getLogs.
package watcher

import (
	"context"
	"errors"
	"sync"

	"github.com/hedeqiang/dropwatch/event"
)

var (
	// ErrRotationRequired is returned by Poller.Watch when polling failed in a
	// way that calls for abandoning the endpoint.
	ErrRotationRequired = errors.New("watcher: endpoint rotation required")

	// ErrSubscriptionEnded is returned by Streamer.Watch when the node ends
	// the subscription.
	ErrSubscriptionEnded = errors.New("watcher: subscription ended")
)

// Mode is how events are ingested.
type Mode int

const (
	Push Mode = iota
	Poll
)

func (m Mode) String() string {
	if m == Poll {
		return "poll"
	}
	return "push"
}

// Watcher monitors a chain for event logs.
type Watcher interface {
	// Watch delivers events until Stop is called (returning nil) or the
	// source fails (returning the cause).
	Watch() error

	// Stop shuts the watcher down and waits for Watch to return.
	// It is safe to call before Watch has started.
	Stop() error

	// OnEvent registers a callback invoked for each received event log.
	OnEvent(fn func(event.Log))

	// OnError registers a callback for errors that do not end the watcher.
	OnError(fn func(error))

	// Mode reports the ingestion mode.
	Mode() Mode
}

// lifecycle is the start/stop bookkeeping shared by both watchers.
type lifecycle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	stopped chan struct{}
	onEvent func(event.Log)
	onError func(error)
}

func newLifecycle() lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return lifecycle{ctx: ctx, cancel: cancel, stopped: make(chan struct{})}
}

// begin marks the watcher running; it returns false if Stop came first.
func (l *lifecycle) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil || l.running {
		return false
	}
	l.running = true
	return true
}

func (l *lifecycle) end() {
	l.cancel()
	close(l.stopped)
}

// Stop cancels the watcher and waits for a running Watch to return.
func (l *lifecycle) Stop() error {
	l.cancel()
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if running {
		<-l.stopped
	}
	return nil
}

// OnEvent registers a callback for received events.
func (l *lifecycle) OnEvent(fn func(event.Log)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEvent = fn
}

// OnError registers a callback for errors.
func (l *lifecycle) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

func (l *lifecycle) emitEvent(log event.Log) {
	l.mu.Lock()
	fn := l.onEvent
	l.mu.Unlock()
	if fn != nil {
		fn(log)
	}
}

func (l *lifecycle) emitError(err error) {
	l.mu.Lock()
	fn := l.onError
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
