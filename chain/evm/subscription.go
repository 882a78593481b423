package evm

import (
	"fmt"
	"sync"

	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/transport"
)

// Subscription adapts raw eth_subscription payloads into event logs.
type Subscription struct {
	logs        chan event.Log
	errs        chan error
	unsub       func()
	done        chan struct{}
	once        sync.Once
	onMalformed func(error)
}

func newSubscription(raw <-chan []byte, unsub func(), dropped <-chan struct{}, onMalformed func(error)) *Subscription {
	s := &Subscription{
		logs:        make(chan event.Log, 64),
		errs:        make(chan error, 1),
		unsub:       unsub,
		done:        make(chan struct{}),
		onMalformed: onMalformed,
	}
	go s.consume(raw, dropped)
	return s
}

// Logs returns the channel of incoming event logs.
func (s *Subscription) Logs() <-chan event.Log {
	return s.logs
}

// Err returns the error channel.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Unsubscribe terminates the subscription.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.unsub != nil {
			s.unsub()
		}
	})
}

func (s *Subscription) consume(raw <-chan []byte, dropped <-chan struct{}) {
	defer close(s.logs)

	for {
		select {
		case <-s.done:
			return
		case <-dropped:
			s.errs <- fmt.Errorf("evm: subscription: %w", transport.ErrClosed)
			return
		case msg, ok := <-raw:
			if !ok {
				select {
				case <-s.done:
				default:
					s.errs <- fmt.Errorf("evm: subscription: %w", transport.ErrClosed)
				}
				return
			}

			var rl rpcLog
			if err := sonnet.Unmarshal(msg, &rl); err != nil {
				s.onMalformed(fmt.Errorf("%w: %v", ErrMalformedLog, err))
				continue
			}
			log, err := rl.toEventLog()
			if err != nil {
				s.onMalformed(err)
				continue
			}

			select {
			case s.logs <- log:
			case <-s.done:
				return
			}
		}
	}
}
