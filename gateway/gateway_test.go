package gateway

import (
	"context"
	goerrors "errors"
	"strings"
	"testing"
	"time"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/errors"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// fakeRuntime scripts host behavior through optional function hooks. Hooks
// left nil succeed with zero results.
type fakeRuntime struct {
	anchor   uint64
	anchorOK bool

	namespaceFn func() (hostapi.Ref, *hostapi.Fault)
	findFn      func(ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault)
	defineFn    func(ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault)
	registerFn  func() *hostapi.Fault
	notifyFn    func() *hostapi.Fault
	readyFn     func() (bool, *hostapi.Fault)
	factoryFn   func() (hostapi.Ref, *hostapi.Fault)
	signalFn    func() *hostapi.Fault
	unregFn     func(names []string) *hostapi.Fault
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{anchor: 0x1000, anchorOK: true}
}

func (f *fakeRuntime) IsolateID() mgmtbridge.IsolateID { return 1 }
func (f *fakeRuntime) Layout() hostapi.Layout          { return hostapi.Layout{EnvPointerOffset: 16} }
func (f *fakeRuntime) Anchor() (uint64, bool)          { return f.anchor, f.anchorOK }

func (f *fakeRuntime) Namespace(ctx context.Context, env hostapi.Env) (hostapi.Ref, *hostapi.Fault) {
	if f.namespaceFn != nil {
		return f.namespaceFn()
	}
	return 0, nil
}

func (f *fakeRuntime) FindModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
	if f.findFn != nil {
		return f.findFn(ns, name)
	}
	return 0, nil
}

func (f *fakeRuntime) DefineModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
	if f.defineFn != nil {
		return f.defineFn(ns, name, code)
	}
	return 0, nil
}

func (f *fakeRuntime) RegisterNatives(ctx context.Context, env hostapi.Env, target hostapi.Ref, b hostapi.NativeBindings) *hostapi.Fault {
	if f.registerFn != nil {
		return f.registerFn()
	}
	return nil
}

func (f *fakeRuntime) NotifyNativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) *hostapi.Fault {
	if f.notifyFn != nil {
		return f.notifyFn()
	}
	return nil
}

func (f *fakeRuntime) NativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) (bool, *hostapi.Fault) {
	if f.readyFn != nil {
		return f.readyFn()
	}
	return false, nil
}

func (f *fakeRuntime) Factory(ctx context.Context, env hostapi.Env, entry hostapi.Ref) (hostapi.Ref, *hostapi.Fault) {
	if f.factoryFn != nil {
		return f.factoryFn()
	}
	return 0, nil
}

func (f *fakeRuntime) SignalRegistration(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref) *hostapi.Fault {
	if f.signalFn != nil {
		return f.signalFn()
	}
	return nil
}

func (f *fakeRuntime) Unregister(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref, names []string) *hostapi.Fault {
	if f.unregFn != nil {
		return f.unregFn(names)
	}
	return nil
}

func testPolicy() WaitPolicy {
	return WaitPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestCurrentEnv_BeforeOffsetLatched(t *testing.T) {
	g := New(newFakeRuntime(), testPolicy())

	_, err := g.CurrentEnv()
	if err == nil {
		t.Fatal("expected error before the offset is latched")
	}
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindNotInitialized}) {
		t.Errorf("expected not_initialized error, got %v", err)
	}
}

func TestSetEnvOffset_LatchesOnce(t *testing.T) {
	g := New(newFakeRuntime(), testPolicy())

	if !g.SetEnvOffset(16) {
		t.Fatal("first latch should succeed")
	}
	if !g.SetEnvOffset(16) {
		t.Error("re-latching the same value should report a match")
	}
	if g.SetEnvOffset(32) {
		t.Error("re-latching a different value should report a mismatch")
	}

	env, err := g.CurrentEnv()
	if err != nil {
		t.Fatalf("CurrentEnv failed: %v", err)
	}
	if env != hostapi.Env(0x1000+16) {
		t.Errorf("env = %#x, want %#x", env, 0x1000+16)
	}
}

func TestCurrentEnv_NegativeOffset(t *testing.T) {
	g := New(newFakeRuntime(), testPolicy())
	g.SetEnvOffset(-8)

	env, err := g.CurrentEnv()
	if err != nil {
		t.Fatalf("CurrentEnv failed: %v", err)
	}
	if env != hostapi.Env(0x1000-8) {
		t.Errorf("env = %#x, want %#x", env, 0x1000-8)
	}
}

func TestCurrentEnv_AnchorDenied(t *testing.T) {
	rt := newFakeRuntime()
	rt.anchorOK = false
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	_, err := g.CurrentEnv()
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindUnsupported}) {
		t.Errorf("expected unsupported error, got %v", err)
	}
}

func TestFindModule_OptionalMissTolerated(t *testing.T) {
	rt := newFakeRuntime()
	rt.findFn = func(ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
		if ns == 0 {
			return 0, &hostapi.Fault{Class: hostapi.FaultNoDefinition, Message: name}
		}
		return 0, &hostapi.Fault{Class: hostapi.FaultNotFound, Message: name}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)
	ctx := context.Background()

	ref, err := g.FindModule(ctx, 0, "wippy:mgmt/calls@1.0.0", false)
	if err != nil {
		t.Fatalf("default-namespace optional miss should be tolerated, got %v", err)
	}
	if ref != 0 {
		t.Errorf("tolerated miss must produce a zero ref, got %d", ref)
	}

	ref, err = g.FindModule(ctx, 7, "wippy:mgmt/calls@1.0.0", false)
	if err != nil {
		t.Fatalf("namespaced optional miss should be tolerated, got %v", err)
	}
	if ref != 0 {
		t.Errorf("tolerated miss must produce a zero ref, got %d", ref)
	}
}

func TestFindModule_OptionalMissWrongClassFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.findFn = func(ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
		// NotFound is the namespaced miss class; without a namespace it is
		// outside the allow-list.
		return 0, &hostapi.Fault{Class: hostapi.FaultNotFound, Message: name}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	_, err := g.FindModule(context.Background(), 0, "wippy:mgmt/calls@1.0.0", false)
	if err == nil {
		t.Fatal("expected fatal error for a fault outside the allow-list")
	}
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindForeignCall}) {
		t.Errorf("expected foreign_call error, got %v", err)
	}
}

func TestFindModule_RequiredMissFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.findFn = func(ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
		return 0, &hostapi.Fault{Class: hostapi.FaultNotFound, Message: "calls module vanished"}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	_, err := g.FindModule(context.Background(), 7, "wippy:mgmt/calls@1.0.0", true)
	if err == nil {
		t.Fatal("required find must not tolerate any fault")
	}
	msg := err.Error()
	if !strings.Contains(msg, string(hostapi.FaultNotFound)) {
		t.Errorf("error %q should carry the foreign class", msg)
	}
	if !strings.Contains(msg, "calls module vanished") {
		t.Errorf("error %q should carry the foreign message", msg)
	}
}

func TestDefineModule_LostRaceTolerated(t *testing.T) {
	rt := newFakeRuntime()
	rt.defineFn = func(ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
		return 0, &hostapi.Fault{Class: hostapi.FaultAlreadyLinked}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	ref, err := g.DefineModule(context.Background(), 0, "wippy:mgmt/calls@1.0.0", []byte{0})
	if err != nil {
		t.Fatalf("lost define race should be tolerated, got %v", err)
	}
	if ref != 0 {
		t.Errorf("lost race must produce a zero ref, got %d", ref)
	}
}

func TestDefineModule_OtherFaultFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.defineFn = func(ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
		return 0, &hostapi.Fault{Class: hostapi.FaultInternal, Message: "host heap exhausted"}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	_, err := g.DefineModule(context.Background(), 0, "wippy:mgmt/calls@1.0.0", []byte{0})
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindForeignCall}) {
		t.Fatalf("expected foreign_call error, got %v", err)
	}
	if !strings.Contains(err.Error(), "host heap exhausted") {
		t.Errorf("error %q should carry the foreign message", err.Error())
	}
}

func TestWaitNativesReady_EventuallyReady(t *testing.T) {
	rt := newFakeRuntime()
	probes := 0
	rt.readyFn = func() (bool, *hostapi.Fault) {
		probes++
		return probes >= 3, nil
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	if err := g.WaitNativesReady(context.Background(), 1); err != nil {
		t.Fatalf("expected wait to succeed, got %v", err)
	}
	if probes != 3 {
		t.Errorf("expected 3 probes, got %d", probes)
	}
}

func TestWaitNativesReady_Exhausted(t *testing.T) {
	rt := newFakeRuntime()
	probes := 0
	rt.readyFn = func() (bool, *hostapi.Fault) {
		probes++
		return false, nil
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	err := g.WaitNativesReady(context.Background(), 1)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseBootstrap, Kind: errors.KindUnsupported}) {
		t.Errorf("exhaustion should surface as unsupported, got %v", err)
	}
	if probes != 5 {
		t.Errorf("expected exactly MaxAttempts probes, got %d", probes)
	}
}

func TestWaitNativesReady_FaultFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.readyFn = func() (bool, *hostapi.Fault) {
		return false, &hostapi.Fault{Class: hostapi.FaultEnvDetached}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	err := g.WaitNativesReady(context.Background(), 1)
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindForeignCall}) {
		t.Errorf("probe fault must be fatal, got %v", err)
	}
}

func TestWaitNativesReady_ContextCanceled(t *testing.T) {
	rt := newFakeRuntime()
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.WaitNativesReady(ctx, 1)
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseBootstrap, Kind: errors.KindTimeout}) {
		t.Errorf("expected timeout-kind error, got %v", err)
	}
	if !goerrors.Is(err, context.Canceled) {
		t.Errorf("cause should unwrap to context.Canceled, got %v", err)
	}
}

func TestFactory_ZeroRefFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.factoryFn = func() (hostapi.Ref, *hostapi.Fault) { return 0, nil }
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	_, err := g.Factory(context.Background(), 1)
	if !goerrors.Is(err, &errors.Error{Phase: errors.PhaseHostCall, Kind: errors.KindNotFound}) {
		t.Errorf("zero factory ref must be fatal, got %v", err)
	}
}

func TestFactory_RefReturned(t *testing.T) {
	rt := newFakeRuntime()
	rt.factoryFn = func() (hostapi.Ref, *hostapi.Fault) { return 42, nil }
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	ref, err := g.Factory(context.Background(), 1)
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	if ref != 42 {
		t.Errorf("ref = %d, want 42", ref)
	}
}

func TestUnregister_FaultFatal(t *testing.T) {
	rt := newFakeRuntime()
	var got []string
	rt.unregFn = func(names []string) *hostapi.Fault {
		got = names
		return &hostapi.Fault{Class: hostapi.FaultInternal, Message: "factory stopped"}
	}
	g := New(rt, testPolicy())
	g.SetEnvOffset(16)

	err := g.Unregister(context.Background(), 1, 2, []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("names forwarded = %v, want [a b]", got)
	}
}
