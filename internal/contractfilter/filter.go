// Package contractfilter de-duplicates contract addresses seen during one
// range export.
package contractfilter

import (
	"strings"
	"sync"
)

// Filter is the per-export working set of contract addresses. Reset is
// called at the start of every range export so nothing leaks between ranges.
type Filter interface {
	Reset()
	// Add records address and reports whether it was new.
	Add(address string) bool
	Seen(address string) bool
	Len() int
}

// Memory is a Filter backed by a map. It is safe for concurrent use, but
// each exporter should own its own instance.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ Filter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.seen)
}

func (m *Memory) Add(address string) bool {
	key := strings.ToLower(address)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false
	}
	m.seen[key] = struct{}{}
	return true
}

func (m *Memory) Seen(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[strings.ToLower(address)]
	return ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
