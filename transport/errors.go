package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by calls on a transport that has been closed or dropped.
	ErrClosed = errors.New("transport: connection closed")

	// ErrSubscriptionsUnsupported is returned by Subscribe on poll-only transports.
	ErrSubscriptionsUnsupported = errors.New("transport: subscriptions not supported")
)

// StatusError is returned when an HTTP endpoint answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport/http: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsTimeout reports whether err is a deadline or an endpoint that never answered.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "no response")
}

// IsNetwork reports whether err is a transient transport failure: refused or
// reset connections, DNS failures, dropped sockets, bad handshakes and 5xx/429
// answers. Timeouts count as network failures.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, websocket.ErrBadHandshake) {
		return true
	}
	var (
		dnsErr   *net.DNSError
		opErr    *net.OpError
		closeErr *websocket.CloseError
		status   *StatusError
	)
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr), errors.As(err, &closeErr):
		return true
	case errors.As(err, &status):
		return status.StatusCode >= 500 || status.StatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "no such host", "broken pipe", "unexpected server response", "network is unreachable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRejected reports whether the endpoint refused a subscription request,
// which marks it as unable to serve push mode.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSubscriptionsUnsupported) {
		return true
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == -32601 {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "subscri") || strings.Contains(msg, "not supported") || strings.Contains(msg, "notifications not")
}
