package ledger

import (
	"context"
	"sync"
)

// MemoryLog keeps entries in process memory. Nothing survives a restart.
type MemoryLog struct {
	mu       sync.Mutex
	entries  []Entry
	failNext error
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Load(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEntries(m.entries), nil
}

func (m *MemoryLog) Write(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.entries = append(m.entries, e.clone())
	return nil
}

func (m *MemoryLog) Close() error { return nil }

// FailNextWrite makes the next Write return err. Used to exercise append
// failure handling.
func (m *MemoryLog) FailNextWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}
