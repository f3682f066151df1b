// Package hostapi defines the cross-heap call surface between a guest
// isolate and its host runtime: opaque object tokens, environment tokens,
// fault reporting, and the Runtime interface every host implementation
// provides.
//
// Every Runtime call is blocking and returns a possible Fault. Callers never
// interpret faults themselves; the gateway package owns that policy.
package hostapi

import (
	"context"
	"fmt"
	"math"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
)

// Ref is an opaque token for an object living in the host heap. The guest
// holds and passes tokens but never dereferences them. The zero Ref refers
// to no object.
type Ref uint64

// Env is a per-call environment token derived from the host's thread anchor.
// The zero Env is invalid.
type Env uint64

// FaultClass identifies the class of a foreign failure. Classes are compared
// by identity; hosts must use the canonical constants below for conditions
// the bridge is allowed to tolerate.
type FaultClass string

const (
	// FaultNotFound reports a failed lookup within an explicit namespace.
	FaultNotFound FaultClass = "wippy:mgmt/fault/not-found"
	// FaultNoDefinition reports a failed lookup without a namespace.
	FaultNoDefinition FaultClass = "wippy:mgmt/fault/no-definition"
	// FaultAlreadyLinked reports a define that lost the race to another
	// definer.
	FaultAlreadyLinked FaultClass = "wippy:mgmt/fault/already-linked"
	// FaultEnvDetached reports a call with an env token the host does not
	// recognize.
	FaultEnvDetached FaultClass = "wippy:mgmt/fault/env-detached"
	// FaultInternal reports any other host-side failure.
	FaultInternal FaultClass = "wippy:mgmt/fault/internal"
)

// Fault carries the identity of a foreign failure across the heap boundary.
// It is not a Go error; the gateway decides whether a fault is tolerated or
// fatal.
type Fault struct {
	Class   FaultClass
	Message string
}

func (f *Fault) String() string {
	if f == nil {
		return "<no fault>"
	}
	if f.Message == "" {
		return string(f.Class)
	}
	return fmt.Sprintf("%s: %s", f.Class, f.Message)
}

// UnsupportedEnvOffset marks a host build that cannot carry the bridge.
const UnsupportedEnvOffset = math.MinInt32

// Layout describes where the per-thread environment pointer lives relative
// to the host's thread anchor.
type Layout struct {
	EnvPointerOffset int32
}

// Supported reports whether the layout allows environment resolution.
func (l Layout) Supported() bool {
	return l.EnvPointerOffset != UnsupportedEnvOffset
}

// PendingRegistration is one queued instrument handed to the host's factory
// worker. Finish acknowledges host-side registration back to the guest.
type PendingRegistration struct {
	Name   string
	Finish func()
}

// NativeBindings are the guest callbacks behind the native entry points the
// installer registers. DrainPending returns queued registrations in FIFO
// order and empties the queue; PendingCount reports the queue depth without
// draining.
type NativeBindings struct {
	PendingCount func() uint32
	DrainPending func() []PendingRegistration
}

// Runtime is the host side of the bridge. Implementations must be safe for
// concurrent use by every goroutine of one guest isolate.
type Runtime interface {
	// IsolateID identifies the guest this runtime view belongs to.
	IsolateID() mgmtbridge.IsolateID

	// Layout returns the host's environment layout fact.
	Layout() Layout

	// Anchor returns the host thread anchor, or false if the host denies
	// the introspection capability.
	Anchor() (uint64, bool)

	// Namespace resolves the guest's module namespace. A zero Ref with no
	// fault means the host default namespace.
	Namespace(ctx context.Context, env Env) (Ref, *Fault)

	// FindModule looks up a module by name. ns may be zero for the default
	// namespace. A miss is reported as a fault, never as a zero Ref.
	FindModule(ctx context.Context, env Env, ns Ref, name string) (Ref, *Fault)

	// DefineModule injects a module payload under name. Losing a define
	// race is reported as FaultAlreadyLinked.
	DefineModule(ctx context.Context, env Env, ns Ref, name string, code []byte) (Ref, *Fault)

	// RegisterNatives installs the native entry points backing the calls
	// module. A second registration faults.
	RegisterNatives(ctx context.Context, env Env, target Ref, b NativeBindings) *Fault

	// NotifyNativesReady releases every waiter blocked on NativesReady.
	NotifyNativesReady(ctx context.Context, env Env, target Ref) *Fault

	// NativesReady probes whether the installer has released the natives.
	NativesReady(ctx context.Context, env Env, target Ref) (bool, *Fault)

	// Factory resolves the host's registration factory, starting it if
	// needed.
	Factory(ctx context.Context, env Env, entry Ref) (Ref, *Fault)

	// SignalRegistration wakes the factory to drain this guest's queue.
	SignalRegistration(ctx context.Context, env Env, entry, factory Ref) *Fault

	// Unregister removes the named instruments from the host's registered
	// set.
	Unregister(ctx context.Context, env Env, entry, factory Ref, names []string) *Fault
}
