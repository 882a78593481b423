// Package shutdown carries the request to terminate the process from the
// component that detects an unrecoverable state up to main.
package shutdown

import (
	"fmt"
	"sync"
	"time"
)

// Fatal describes why the process must exit and be restarted by its supervisor.
type Fatal struct {
	Reason string
	Err    error
	At     time.Time
}

func (f *Fatal) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("fatal shutdown: %s: %v", f.Reason, f.Err)
	}
	return "fatal shutdown: " + f.Reason
}

func (f *Fatal) Unwrap() error {
	return f.Err
}

// Signal delivers at most one Fatal.
type Signal struct {
	once sync.Once
	ch   chan *Fatal
	now  func() time.Time
}

// NewSignal creates an untriggered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan *Fatal, 1), now: time.Now}
}

// Trigger requests shutdown. Only the first call has an effect; it reports
// whether this call was the one that triggered.
func (s *Signal) Trigger(reason string, err error) bool {
	triggered := false
	s.once.Do(func() {
		s.ch <- &Fatal{Reason: reason, Err: err, At: s.now()}
		triggered = true
	})
	return triggered
}

// C returns the channel the Fatal is delivered on.
func (s *Signal) C() <-chan *Fatal {
	return s.ch
}
