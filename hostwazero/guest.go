package hostwazero

import (
	"context"
	"fmt"
	"sync"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// AttachConfig identifies a guest isolate attaching to a host.
type AttachConfig struct {
	IsolateID mgmtbridge.IsolateID
}

// Guest is one isolate's view of a Host. It implements hostapi.Runtime;
// every call carries an env token that must match the guest's anchor plus
// the advertised layout offset, anything else is reported as a detached
// env fault.
//
// BindQueue must be called before the guest's registry signals the host;
// the host's native entry points pull registrations through the bound
// queue.
type Guest struct {
	host   *Host
	id     mgmtbridge.IsolateID
	anchor uint64

	mu       sync.Mutex
	bindings hostapi.NativeBindings
	bound    bool
}

var _ hostapi.Runtime = (*Guest)(nil)

// BindQueue wires the guest registry's queue into the host natives.
func (g *Guest) BindQueue(b hostapi.NativeBindings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindings = b
	g.bound = true
}

func (g *Guest) queueBindings() (hostapi.NativeBindings, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bound || g.bindings.PendingCount == nil || g.bindings.DrainPending == nil {
		return hostapi.NativeBindings{}, false
	}
	return g.bindings, true
}

// IsolateID returns the guest's isolate identity.
func (g *Guest) IsolateID() mgmtbridge.IsolateID { return g.id }

// Layout returns the env layout the host advertises.
func (g *Guest) Layout() hostapi.Layout {
	return hostapi.Layout{EnvPointerOffset: g.host.cfg.EnvPointerOffset}
}

// Anchor returns the guest's thread anchor in the host heap.
func (g *Guest) Anchor() (uint64, bool) { return g.anchor, true }

func (g *Guest) checkEnv(env hostapi.Env) *hostapi.Fault {
	expected := uint64(int64(g.anchor) + int64(g.host.cfg.EnvPointerOffset))
	if uint64(env) != expected {
		return &hostapi.Fault{
			Class:   hostapi.FaultEnvDetached,
			Message: fmt.Sprintf("env %#x does not belong to isolate %d", uint64(env), g.id),
		}
	}
	return nil
}

func (g *Guest) Namespace(ctx context.Context, env hostapi.Env) (hostapi.Ref, *hostapi.Fault) {
	if f := g.checkEnv(env); f != nil {
		return 0, f
	}
	g.host.mu.Lock()
	defer g.host.mu.Unlock()
	if g.host.closed {
		return 0, closedFault()
	}
	return g.host.nsRef, nil
}

func (g *Guest) FindModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
	if f := g.checkEnv(env); f != nil {
		return 0, f
	}
	return g.host.findModule(ns, name)
}

func (g *Guest) DefineModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
	if f := g.checkEnv(env); f != nil {
		return 0, f
	}
	return g.host.defineModule(ctx, ns, name, code)
}

func (g *Guest) RegisterNatives(ctx context.Context, env hostapi.Env, target hostapi.Ref, b hostapi.NativeBindings) *hostapi.Fault {
	if f := g.checkEnv(env); f != nil {
		return f
	}
	g.BindQueue(b)
	return g.host.installNatives(ctx, target)
}

func (g *Guest) NotifyNativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) *hostapi.Fault {
	if f := g.checkEnv(env); f != nil {
		return f
	}
	return g.host.setNativesReady(target)
}

func (g *Guest) NativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) (bool, *hostapi.Fault) {
	if f := g.checkEnv(env); f != nil {
		return false, f
	}
	return g.host.nativesReady(target)
}

func (g *Guest) Factory(ctx context.Context, env hostapi.Env, entry hostapi.Ref) (hostapi.Ref, *hostapi.Fault) {
	if f := g.checkEnv(env); f != nil {
		return 0, f
	}
	return g.host.ensureFactory(entry)
}

func (g *Guest) SignalRegistration(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref) *hostapi.Fault {
	if f := g.checkEnv(env); f != nil {
		return f
	}
	return g.host.signalRegistration(g, entry, factory)
}

func (g *Guest) Unregister(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref, names []string) *hostapi.Fault {
	if f := g.checkEnv(env); f != nil {
		return f
	}
	return g.host.unregister(factory, names)
}
