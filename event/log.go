// Package event defines the core data structures for chain logs and the
// transfers decoded from them.
package event

// Hash represents a 32-byte hash.
type Hash [32]byte

// Address represents a 20-byte EVM address.
type Address [20]byte

// Log represents a single event log emitted by a contract.
type Log struct {
	// Address is the contract that emitted the event.
	Address Address

	// Topics contains the indexed event parameters.
	// Topics[0] is the event signature hash.
	Topics []Hash

	// Data holds the non-indexed event parameters (ABI-encoded).
	Data []byte

	BlockNumber uint64
	TxHash      Hash
	LogIndex    uint

	// Removed indicates the log was reverted by a reorganization.
	Removed bool
}

// Key identifies a log within the chain.
type Key struct {
	TxHash   Hash
	LogIndex uint
}

// Key returns the (tx hash, log index) pair that identifies the log.
func (l Log) Key() Key {
	return Key{TxHash: l.TxHash, LogIndex: l.LogIndex}
}

// EventSignature returns the first topic, or a zero hash if no topics exist.
func (l Log) EventSignature() Hash {
	if len(l.Topics) > 0 {
		return l.Topics[0]
	}
	return Hash{}
}
