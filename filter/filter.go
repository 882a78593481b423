// Package filter describes which logs the engine asks a node for and which
// of the returned logs it keeps.
package filter

import (
	"github.com/hedeqiang/dropwatch/event"
)

// Filter determines whether a log matches a given criteria.
type Filter interface {
	Match(log event.Log) bool
}

// Func adapts a function to the Filter interface.
type Func func(log event.Log) bool

// Match calls f(log).
func (f Func) Match(log event.Log) bool {
	return f(log)
}

// Query describes the parameters for fetching or subscribing to event logs.
// A nil block bound means "latest" on the node side.
type Query struct {
	Addresses []event.Address
	Topics    [][]event.Hash
	FromBlock *uint64
	ToBlock   *uint64
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// NewQuery creates a Query with the given options applied.
func NewQuery(opts ...QueryOption) Query {
	var q Query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// WithTopics sets the topic filters.
// Each element in the outer slice corresponds to a topic position.
// Multiple hashes within an inner slice are OR-matched.
func WithTopics(topics ...[]event.Hash) QueryOption {
	return func(q *Query) {
		q.Topics = topics
	}
}

// WithAddresses restricts the query to the given emitting contracts.
func WithAddresses(addrs ...event.Address) QueryOption {
	return func(q *Query) {
		q.Addresses = append(q.Addresses, addrs...)
	}
}

// AtBlock returns a copy of q restricted to a single block.
func (q Query) AtBlock(block uint64) Query {
	from, to := block, block
	q.FromBlock = &from
	q.ToBlock = &to
	return q
}
