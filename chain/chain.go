// Package chain is the client abstraction the engine uses to talk to one
// EVM endpoint.
package chain

import (
	"context"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
)

// Client is a connection to a single RPC endpoint.
type Client interface {
	// ChainID returns the network id reported by the endpoint.
	ChainID(ctx context.Context) (uint64, error)

	// LatestBlock returns the most recent block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// FetchLogs retrieves logs matching the given query. Logs that cannot be
	// decoded are skipped rather than failing the whole batch.
	FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error)

	// Subscribe establishes a real-time log subscription.
	// Poll-only endpoints return an error that transport.IsRejected accepts.
	Subscribe(ctx context.Context, query filter.Query) (Subscription, error)

	// CallContract executes a read-only call against the latest block.
	CallContract(ctx context.Context, to event.Address, data []byte) ([]byte, error)

	// Done is closed when the underlying transport is no longer usable.
	Done() <-chan struct{}

	// Close releases the underlying transport.
	Close() error
}

// Subscription represents an active real-time event subscription.
type Subscription interface {
	// Logs returns a channel that receives incoming event logs.
	// It is closed when the subscription ends.
	Logs() <-chan event.Log

	// Err returns a channel that receives the error that ended the subscription.
	Err() <-chan error

	// Unsubscribe terminates the subscription and closes all channels.
	Unsubscribe()
}
