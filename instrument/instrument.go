// Package instrument provides ready-made management instruments for guest
// isolates. The bridge itself treats instruments as opaque; anything can be
// registered. These types exist so every isolate has a useful baseline and
// so tests have something real to register.
package instrument

import (
	"runtime"
	"sync/atomic"
)

// Kind discriminates the built-in instrument types.
type Kind string

const (
	KindMemoryPool Kind = "memory-pool"
	KindCounter    Kind = "counter"
)

// MemoryPool samples the isolate's heap usage. Readings are updated by
// Refresh and may be read concurrently.
type MemoryPool struct {
	used     atomic.Uint64
	reserved atomic.Uint64
	gcCycles atomic.Uint32
}

// NewMemoryPool returns a pool with no readings yet.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{}
}

func (p *MemoryPool) Kind() Kind { return KindMemoryPool }

// Refresh samples the Go runtime's memory statistics into the pool's
// gauges.
func (p *MemoryPool) Refresh() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.used.Store(ms.HeapAlloc)
	p.reserved.Store(ms.HeapSys)
	p.gcCycles.Store(ms.NumGC)
}

// Used returns the last sampled heap bytes in use.
func (p *MemoryPool) Used() uint64 { return p.used.Load() }

// Reserved returns the last sampled heap bytes obtained from the OS.
func (p *MemoryPool) Reserved() uint64 { return p.reserved.Load() }

// GCCycles returns the last sampled completed GC cycle count.
func (p *MemoryPool) GCCycles() uint32 { return p.gcCycles.Load() }

// Counter is a monotonically increasing instrument.
type Counter struct {
	name  string
	value atomic.Uint64
}

// NewCounter returns a counter starting at zero.
func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

func (c *Counter) Kind() Kind   { return KindCounter }
func (c *Counter) Name() string { return c.name }

// Add increments the counter by delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 {
	return c.value.Add(delta)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}
