// Package dropwatch watches a set of wallets for ERC-20 transfers over a
// pool of public RPC endpoints and reports them to a chat.
package dropwatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hedeqiang/dropwatch/shutdown"
)

var (
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("dropwatch: invalid config")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("dropwatch: engine already running")
)

// FatalShutdown asks the process to exit and be restarted by its
// supervisor. Run returns it; only main decides to exit.
type FatalShutdown = shutdown.Fatal

// ErrorBudget counts consecutive unexpected errors and requests a fatal
// shutdown once when the ceiling is reached.
type ErrorBudget struct {
	mu          sync.Mutex
	max         int
	consecutive int
	fatal       *shutdown.Signal
}

// NewErrorBudget creates a budget of max consecutive errors. A max of zero
// disables the ceiling.
func NewErrorBudget(max int, fatal *shutdown.Signal) *ErrorBudget {
	return &ErrorBudget{max: max, fatal: fatal}
}

// Fail counts err and reports whether it exhausted the budget.
func (b *ErrorBudget) Fail(err error) bool {
	b.mu.Lock()
	b.consecutive++
	n := b.consecutive
	b.mu.Unlock()

	if b.max <= 0 || n < b.max {
		return false
	}
	return b.fatal.Trigger("consecutive error ceiling", fmt.Errorf("%d consecutive errors, last: %w", n, err))
}

// Reset clears the streak after a success.
func (b *ErrorBudget) Reset() {
	b.mu.Lock()
	b.consecutive = 0
	b.mu.Unlock()
}

// Consecutive returns the current streak.
func (b *ErrorBudget) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
