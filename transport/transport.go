// Package transport provides the JSON-RPC transports used to reach chain
// endpoints: plain HTTP for polling and WebSocket for push subscriptions.
package transport

import (
	"context"
	"strings"
)

// Transport sends JSON-RPC requests and returns raw responses.
type Transport interface {
	// Call sends a JSON-RPC request and returns the result bytes.
	Call(ctx context.Context, method string, params ...interface{}) ([]byte, error)

	// Subscribe establishes a streaming subscription (WebSocket only).
	// The returned channel carries the raw "result" of every notification and
	// is closed when the subscription is cancelled or the transport drops.
	Subscribe(ctx context.Context, method string, params ...interface{}) (<-chan []byte, func(), error)

	// Done is closed once the transport can no longer be used.
	Done() <-chan struct{}

	// Close terminates the transport and releases its resources.
	Close() error
}

// Dial returns the transport matching the URL scheme.
func Dial(url string) Transport {
	if IsPushURL(url) {
		return NewWebSocket(url)
	}
	return NewHTTP(url)
}

// IsPushURL reports whether url names a WebSocket endpoint.
func IsPushURL(url string) bool {
	u := strings.ToLower(url)
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}
