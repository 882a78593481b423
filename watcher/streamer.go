package watcher

import (
	"fmt"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/filter"
)

// Streamer delivers logs from a live subscription.
type Streamer struct {
	lifecycle
	client chain.Client
	query  filter.Query
}

// NewStreamer creates a push watcher over client.
func NewStreamer(client chain.Client, query filter.Query) *Streamer {
	return &Streamer{
		lifecycle: newLifecycle(),
		client:    client,
		query:     query,
	}
}

// Mode returns Push.
func (s *Streamer) Mode() Mode {
	return Push
}

// Watch subscribes and forwards logs. A refused subscription or a dropped
// stream is returned as an error.
func (s *Streamer) Watch() error {
	if !s.begin() {
		return nil
	}
	defer s.end()

	sub, err := s.client.Subscribe(s.ctx, s.query)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("streamer: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case log, ok := <-sub.Logs():
			if !ok {
				select {
				case err := <-sub.Err():
					return fmt.Errorf("streamer: %w: %w", ErrSubscriptionEnded, err)
				default:
					return ErrSubscriptionEnded
				}
			}
			s.emitEvent(log)
		case err := <-sub.Err():
			return fmt.Errorf("streamer: %w: %w", ErrSubscriptionEnded, err)
		}
	}
}
