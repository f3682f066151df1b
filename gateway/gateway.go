// Package gateway funnels every cross-heap call through a single
// fault-checked chokepoint. Each operation names the fault classes it
// tolerates; a tolerated fault yields a zero result and no error, any other
// fault becomes a fatal error carrying the foreign class and message
// verbatim. No caller above this package interprets faults.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/mgmt-bridge/errors"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// WaitPolicy bounds the follower's wait for the installer's release signal.
// Delays grow by half each attempt up to MaxDelay.
type WaitPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultWaitPolicy returns the production wait policy.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		MaxAttempts: 100,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
	}
}

// Gateway wraps a host runtime so that every call site gets uniform fault
// handling and environment resolution. It is safe for concurrent use.
type Gateway struct {
	rt   hostapi.Runtime
	wait WaitPolicy

	// Environment pointer offset, latched exactly once. Reads are
	// lock-free on the hot path.
	offsetMu  sync.Mutex
	offsetSet atomic.Bool
	envOffset atomic.Int64
}

// New creates a gateway over rt.
func New(rt hostapi.Runtime, wait WaitPolicy) *Gateway {
	return &Gateway{rt: rt, wait: wait}
}

// Runtime returns the wrapped host runtime.
func (g *Gateway) Runtime() hostapi.Runtime {
	return g.rt
}

// SetEnvOffset latches the environment pointer offset. Only the first call
// takes effect; later calls report whether their value matches the latched
// one.
func (g *Gateway) SetEnvOffset(off int32) bool {
	g.offsetMu.Lock()
	defer g.offsetMu.Unlock()
	if g.offsetSet.Load() {
		return int32(g.envOffset.Load()) == off
	}
	g.envOffset.Store(int64(off))
	g.offsetSet.Store(true)
	return true
}

// EnvOffsetSet reports whether the offset has been latched.
func (g *Gateway) EnvOffsetSet() bool {
	return g.offsetSet.Load()
}

// CurrentEnv resolves the environment token for the calling goroutine as
// anchor plus the latched offset.
func (g *Gateway) CurrentEnv() (hostapi.Env, error) {
	if !g.offsetSet.Load() {
		return 0, errors.NotInitialized(errors.PhaseHostCall, "environment offset")
	}
	anchor, ok := g.rt.Anchor()
	if !ok {
		return 0, errors.Unsupported(errors.PhaseHostCall, "host denies thread anchor introspection")
	}
	return hostapi.Env(uint64(int64(anchor) + g.envOffset.Load())), nil
}

// check normalizes a fault against the allowed classes. A match is a
// tolerated soft miss; anything else is fatal.
func (g *Gateway) check(op string, f *hostapi.Fault, allowed ...hostapi.FaultClass) error {
	if f == nil {
		return nil
	}
	for _, a := range allowed {
		if f.Class == a {
			Logger().Debug("tolerated host fault",
				zap.String("op", op),
				zap.String("class", string(f.Class)))
			return nil
		}
	}
	return errors.ForeignCall(errors.PhaseHostCall, op, string(f.Class), f.Message)
}

// Namespace resolves the guest's module namespace. A zero Ref means the
// host default namespace.
func (g *Gateway) Namespace(ctx context.Context) (hostapi.Ref, error) {
	env, err := g.CurrentEnv()
	if err != nil {
		return 0, err
	}
	ref, fault := g.rt.Namespace(ctx, env)
	if err := g.check("resolve namespace", fault); err != nil {
		return 0, err
	}
	return ref, nil
}

// FindModule looks up a module by name. When required is false a lookup
// miss is tolerated and reported as a zero Ref; the tolerated class depends
// on whether an explicit namespace is given. When required is true any
// fault is fatal.
func (g *Gateway) FindModule(ctx context.Context, ns hostapi.Ref, name string, required bool) (hostapi.Ref, error) {
	env, err := g.CurrentEnv()
	if err != nil {
		return 0, err
	}
	ref, fault := g.rt.FindModule(ctx, env, ns, name)
	op := "find module " + name
	if required {
		if err := g.check(op, fault); err != nil {
			return 0, err
		}
		return ref, nil
	}
	miss := hostapi.FaultNoDefinition
	if ns != 0 {
		miss = hostapi.FaultNotFound
	}
	if err := g.check(op, fault, miss); err != nil {
		return 0, err
	}
	if fault != nil {
		return 0, nil
	}
	return ref, nil
}

// DefineModule injects a payload under name. Losing the define race to
// another isolate is tolerated and reported as a zero Ref; the caller falls
// back to FindModule.
func (g *Gateway) DefineModule(ctx context.Context, ns hostapi.Ref, name string, code []byte) (hostapi.Ref, error) {
	env, err := g.CurrentEnv()
	if err != nil {
		return 0, err
	}
	ref, fault := g.rt.DefineModule(ctx, env, ns, name, code)
	if err := g.check("define module "+name, fault, hostapi.FaultAlreadyLinked); err != nil {
		return 0, err
	}
	if fault != nil {
		return 0, nil
	}
	return ref, nil
}

// RegisterNatives installs the native entry points backing the calls
// module. Any fault is fatal.
func (g *Gateway) RegisterNatives(ctx context.Context, target hostapi.Ref, b hostapi.NativeBindings) error {
	env, err := g.CurrentEnv()
	if err != nil {
		return err
	}
	return g.check("register natives", g.rt.RegisterNatives(ctx, env, target, b))
}

// NotifyNativesReady releases followers waiting in WaitNativesReady.
func (g *Gateway) NotifyNativesReady(ctx context.Context, target hostapi.Ref) error {
	env, err := g.CurrentEnv()
	if err != nil {
		return err
	}
	return g.check("notify natives ready", g.rt.NotifyNativesReady(ctx, env, target))
}

// WaitNativesReady polls the release flag under the wait policy. Exhausting
// the policy yields an unsupported-kind error, never an unbounded block.
func (g *Gateway) WaitNativesReady(ctx context.Context, target hostapi.Ref) error {
	delay := g.wait.BaseDelay
	for attempt := 1; ; attempt++ {
		env, err := g.CurrentEnv()
		if err != nil {
			return err
		}
		ready, fault := g.rt.NativesReady(ctx, env, target)
		if err := g.check("probe natives ready", fault); err != nil {
			return err
		}
		if ready {
			return nil
		}
		if attempt >= g.wait.MaxAttempts {
			return errors.WaitExhausted("native release", g.wait.MaxAttempts)
		}
		select {
		case <-ctx.Done():
			return errors.Canceled(errors.PhaseBootstrap, "wait for native release", ctx.Err())
		case <-time.After(delay):
		}
		delay += delay / 2
		if delay > g.wait.MaxDelay {
			delay = g.wait.MaxDelay
		}
	}
}

// Factory resolves the host's registration factory. A zero Ref is fatal;
// registration cannot proceed without one.
func (g *Gateway) Factory(ctx context.Context, entry hostapi.Ref) (hostapi.Ref, error) {
	env, err := g.CurrentEnv()
	if err != nil {
		return 0, err
	}
	ref, fault := g.rt.Factory(ctx, env, entry)
	if err := g.check("resolve factory", fault); err != nil {
		return 0, err
	}
	if ref == 0 {
		return 0, errors.NotFound(errors.PhaseHostCall, "host object", "registration-factory")
	}
	return ref, nil
}

// SignalRegistration wakes the factory to drain this guest's queue.
func (g *Gateway) SignalRegistration(ctx context.Context, entry, factory hostapi.Ref) error {
	env, err := g.CurrentEnv()
	if err != nil {
		return err
	}
	return g.check("signal registration", g.rt.SignalRegistration(ctx, env, entry, factory))
}

// Unregister removes the named instruments from the host's registered set.
func (g *Gateway) Unregister(ctx context.Context, entry, factory hostapi.Ref, names []string) error {
	env, err := g.CurrentEnv()
	if err != nil {
		return err
	}
	return g.check("unregister instruments", g.rt.Unregister(ctx, env, entry, factory, names))
}
