// Package cursor tracks the last block the event source has processed.
package cursor

// Cursor tracks the last processed block per key.
type Cursor interface {
	// Load returns the last saved block for key and whether one was saved.
	Load(key string) (uint64, bool)

	// Save records block as processed for key.
	Save(key string, block uint64)
}
