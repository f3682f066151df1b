package hostwazero

import (
	"sync"

	"github.com/wippyai/mgmt-bridge/hostapi"
)

// refTable hands out opaque Refs for host-side objects. Ref 0 is never
// issued; freed slots are reused through a free list.
type refTable struct {
	mu      sync.RWMutex
	entries []refEntry
	free    []hostapi.Ref
	closed  bool
}

type refEntry struct {
	value any
	valid bool
}

func newRefTable() *refTable {
	return &refTable{
		entries: make([]refEntry, 0, 16),
	}
}

// Add stores a value and returns its ref, 0 when the table is closed.
func (t *refTable) Add(value any) hostapi.Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}

	e := refEntry{value: value, valid: true}
	if len(t.free) > 0 {
		ref := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.entries[ref-1] = e
		return ref
	}

	t.entries = append(t.entries, e)
	return hostapi.Ref(len(t.entries))
}

// Get retrieves a value by ref.
func (t *refTable) Get(ref hostapi.Ref) (any, bool) {
	if ref == 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := ref - 1
	if uint64(idx) >= uint64(len(t.entries)) {
		return nil, false
	}

	e := t.entries[idx]
	if !e.valid {
		return nil, false
	}
	return e.value, true
}

// Drop removes a ref and returns its value.
func (t *refTable) Drop(ref hostapi.Ref) (any, bool) {
	if ref == 0 {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := ref - 1
	if uint64(idx) >= uint64(len(t.entries)) {
		return nil, false
	}

	e := &t.entries[idx]
	if !e.valid {
		return nil, false
	}

	value := e.value
	e.valid = false
	e.value = nil
	t.free = append(t.free, ref)
	return value, true
}

// Len returns the number of live refs.
func (t *refTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// Close invalidates every ref. Further Adds return 0.
func (t *refTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.entries = nil
	t.free = nil
}
