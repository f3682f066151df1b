package bridge

import (
	"sync/atomic"

	"github.com/wippyai/mgmt-bridge/errors"
)

// Refresher is implemented by instruments that want a fresh sample taken
// whenever a proxy is polled.
type Refresher interface {
	Refresh()
}

// Proxy wraps one instrument on its way through the registration handshake.
// A proxy is constructed in two phases: the zero value binds its instrument
// and name through Initialize, exactly once. Registry.NewProxy does both
// phases and applies the isolate suffix.
type Proxy struct {
	reg        *Registry
	instrument any
	name       ObjectName

	inited  atomic.Bool
	pending atomic.Bool
}

// Initialize binds the proxy to its instrument and validated name. A second
// call fails regardless of arguments.
func (p *Proxy) Initialize(instrument any, name ObjectName) error {
	if instrument == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "nil instrument")
	}
	if name.String() == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "zero object name")
	}
	if !p.inited.CompareAndSwap(false, true) {
		return errors.AlreadyInitialized(errors.PhaseRegistry, "proxy")
	}
	p.instrument = instrument
	p.name = name
	p.pending.Store(true)
	return nil
}

// Instrument returns the wrapped instrument, or nil before initialization.
func (p *Proxy) Instrument() any {
	if !p.inited.Load() {
		return nil
	}
	return p.instrument
}

// ObjectName returns the proxy's validated name.
func (p *Proxy) ObjectName() ObjectName { return p.name }

// Name returns the canonical name text, empty before initialization.
func (p *Proxy) Name() string { return p.name.String() }

// Pending reports whether host-side registration is still outstanding.
func (p *Proxy) Pending() bool { return p.pending.Load() }

// Poll reports the proxy's registered identifier. The identifier is only
// available once the proxy is initialized and the host has acknowledged its
// registration. Polling also refreshes the owning registry's memory-pool
// readings.
func (p *Proxy) Poll() (string, bool) {
	if p.reg != nil {
		p.reg.refreshMemoryPool()
	}
	if !p.inited.Load() || p.pending.Load() {
		return "", false
	}
	return p.name.String(), true
}

// finishRegistration is the host's acknowledgment callback.
func (p *Proxy) finishRegistration() {
	p.pending.Store(false)
}
