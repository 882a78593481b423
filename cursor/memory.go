package cursor

import "sync"

// Memory is an in-memory Cursor. Progress is lost on restart, which is
// intended: the engine never replays history.
type Memory struct {
	mu     sync.RWMutex
	blocks map[string]uint64
}

// NewMemory creates a new in-memory cursor.
func NewMemory() *Memory {
	return &Memory{
		blocks: make(map[string]uint64),
	}
}

// Load returns the last saved block for key.
func (m *Memory) Load(key string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[key]
	return b, ok
}

// Save stores block for key.
func (m *Memory) Save(key string, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[key] = block
}
