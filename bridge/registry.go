// Package bridge implements the guest side of the management bridge: the
// exactly-once bootstrap of bridge modules into the host, the FIFO
// registration queue, and isolate lifecycle teardown. All state lives on an
// injected Registry instance; the package keeps no globals beyond its
// logger.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/gateway"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// MemoryPoolObjectName is the raw name of the isolate heap instrument every
// bootstrapped registry enqueues.
const MemoryPoolObjectName = "wippy.mgmt:type=MemoryPool,name=IsolateHeap"

// Options tunes registry behavior.
type Options struct {
	// Wait bounds the follower's wait for the installer's release signal.
	Wait gateway.WaitPolicy
}

// DefaultOptions returns the production options.
func DefaultOptions() Options {
	return Options{Wait: gateway.DefaultWaitPolicy()}
}

// Registry owns one isolate's registration state: the pending FIFO queue,
// the set of instruments to unregister at close, and the lifecycle state.
// One mutex guards all of it; no cross-heap call is made while holding it.
type Registry struct {
	gw    *gateway.Gateway
	hooks mgmtbridge.ShutdownHooks
	opts  Options

	mu      sync.Mutex
	st      state
	pending []*Proxy
	tracked []*Proxy
	memPool *Proxy
	entry   hostapi.Ref
	factory hostapi.Ref
	calls   hostapi.Ref

	bootMu sync.Mutex
	booted atomic.Bool
}

// NewRegistry creates an active registry over rt. hooks may be nil for
// guests without shutdown hook support.
func NewRegistry(rt hostapi.Runtime, hooks mgmtbridge.ShutdownHooks, opts Options) *Registry {
	return &Registry{
		gw:    gateway.New(rt, opts.Wait),
		hooks: hooks,
		opts:  opts,
		st:    stateActive,
	}
}

// Gateway returns the registry's host call gateway.
func (r *Registry) Gateway() *gateway.Gateway { return r.gw }

// IsolateID returns the identity of the guest this registry serves.
func (r *Registry) IsolateID() mgmtbridge.IsolateID {
	return r.gw.Runtime().IsolateID()
}

// NewProxy creates an initialized proxy for instrument. The raw name gets
// the isolate suffix appended before validation.
func (r *Registry) NewProxy(instrument any, rawName string) (*Proxy, error) {
	name, err := ParseObjectName(SuffixForIsolate(rawName, r.IsolateID()))
	if err != nil {
		return nil, err
	}
	p := &Proxy{reg: r}
	if err := p.Initialize(instrument, name); err != nil {
		return nil, err
	}
	return p, nil
}

// Enqueue queues p for host registration and tracks it for unregistration
// at close. The first enqueue arms the shutdown hook. Reports false when
// the proxy is unusable or the registry has closed; a late proxy is
// dropped, leaving the queue unchanged.
func (r *Registry) Enqueue(p *Proxy) bool {
	if p == nil || !p.inited.Load() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != stateActive {
		return false
	}
	if len(r.tracked) == 0 && r.hooks != nil {
		r.hooks.AddShutdownHook(r.shutdownHook)
	}
	r.tracked = append(r.tracked, p)
	r.pending = append(r.pending, p)
	return true
}

// EnqueueAndNotify queues p and wakes the host's factory worker. Before
// bootstrap completes the wake is skipped; the factory picks up the backlog
// on the first signal after bootstrap.
func (r *Registry) EnqueueAndNotify(ctx context.Context, p *Proxy) error {
	if !r.Enqueue(p) {
		return nil
	}
	r.mu.Lock()
	entry, factory := r.entry, r.factory
	r.mu.Unlock()
	if entry == 0 || factory == 0 {
		Logger().Debug("registration queued before bootstrap; host not signaled")
		return nil
	}
	return r.gw.SignalRegistration(ctx, entry, factory)
}

// Bindings exposes the registry's queue to the host's native entry points.
func (r *Registry) Bindings() hostapi.NativeBindings {
	return hostapi.NativeBindings{
		PendingCount: r.pendingCount,
		DrainPending: r.drainPending,
	}
}

func (r *Registry) pendingCount() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != stateActive {
		return 0
	}
	return uint32(len(r.pending))
}

// drainPending hands the queued registrations to the host in FIFO order and
// empties the queue. A closed registry drains nothing.
func (r *Registry) drainPending() []hostapi.PendingRegistration {
	r.mu.Lock()
	if r.st != stateActive || len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	out := make([]hostapi.PendingRegistration, len(batch))
	for i, p := range batch {
		out[i] = hostapi.PendingRegistration{
			Name:   p.name.String(),
			Finish: p.finishRegistration,
		}
	}
	return out
}

// PendingNames returns the queued instrument names in FIFO order.
func (r *Registry) PendingNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.pending))
	for i, p := range r.pending {
		out[i] = p.name.String()
	}
	return out
}

// TrackedNames returns the names registered for unregistration at close.
func (r *Registry) TrackedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tracked))
	for i, p := range r.tracked {
		out[i] = p.name.String()
	}
	return out
}

// MemoryPool returns the proxy of the isolate heap instrument, nil before
// bootstrap.
func (r *Registry) MemoryPool() *Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memPool
}

func (r *Registry) refreshMemoryPool() {
	r.mu.Lock()
	mp := r.memPool
	r.mu.Unlock()
	if mp == nil {
		return
	}
	if ref, ok := mp.instrument.(Refresher); ok {
		ref.Refresh()
	}
}
