package connection

import (
	"time"

	"github.com/hedeqiang/dropwatch/chain"
	"github.com/hedeqiang/dropwatch/endpoint"
)

// State is the connection lifecycle state.
type State int

const (
	Idle State = iota
	Selecting
	Connecting
	Live
	Degraded
	Rotating
	WatchdogRestart
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	case Rotating:
		return "rotating"
	case WatchdogRestart:
		return "watchdog-restart"
	default:
		return "unknown"
	}
}

// Session is one established connection. A new session, with a new ID, is
// created on every successful connect.
type Session struct {
	ID             string
	Index          int
	Endpoint       endpoint.Endpoint
	Client         chain.Client
	ConnectedSince time.Time
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	State                   State
	Endpoint                endpoint.Endpoint
	ConnectedSince          time.Time
	Attempts                int
	ReconnectsInWindow      int
	TotalReconnects         int
	Rotations               int
	LastSuccessfulConnectAt time.Time
	PushFailureStreak       int
	PushDisabledUntil       time.Time
}
