package watcher

import (
	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/cursor"
	"github.com/hedeqiang/dropwatch/filter"
)

// Source builds the watcher for one connection cycle. Consumers receive
// the same event.Log stream whichever mode is chosen.
type Source struct {
	Query  filter.Query
	Cursor cursor.Cursor
	Poller PollerConfig
}

// New returns a Streamer for Push and a Poller for Poll.
func (s Source) New(mode Mode, client chain.Client) Watcher {
	if mode == Push {
		return NewStreamer(client, s.Query)
	}
	cur := s.Cursor
	if cur == nil {
		cur = cursor.NewMemory()
	}
	return NewPoller(client, s.Query, cur, s.Poller)
}
