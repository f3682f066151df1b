package bridge

import (
	"context"
	"sync"
	"time"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/gateway"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// fakeHost simulates the shared host heap for any number of guest views.
// It records every mutating call so tests can assert ordering.
type fakeHost struct {
	mu        sync.Mutex
	modules   map[string]hostapi.Ref
	nextRef   hostapi.Ref
	natives   int
	bindings  hostapi.NativeBindings
	ready     bool
	factory   hostapi.Ref
	signals   int
	autoDrain bool
	finished  []string
	unregs    [][]string
	ops       []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		modules: make(map[string]hostapi.Ref),
		nextRef: 1,
		factory: 0x99,
	}
}

// op appends to the call log; callers must hold mu.
func (h *fakeHost) op(s string) { h.ops = append(h.ops, s) }

func (h *fakeHost) view(id mgmtbridge.IsolateID) *fakeView {
	return &fakeView{
		h:        h,
		id:       id,
		anchor:   0x1000 * uint64(id),
		anchorOK: true,
		layout:   hostapi.Layout{EnvPointerOffset: 16},
	}
}

func (h *fakeHost) opsSnapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.ops))
	copy(out, h.ops)
	return out
}

func (h *fakeHost) opCount(op string) int {
	n := 0
	for _, o := range h.opsSnapshot() {
		if o == op {
			n++
		}
	}
	return n
}

// drain plays the host factory worker: pull the bound queue and ack each
// entry.
func (h *fakeHost) drain() []string {
	h.mu.Lock()
	b := h.bindings
	h.mu.Unlock()
	if b.DrainPending == nil {
		return nil
	}
	var names []string
	for _, p := range b.DrainPending() {
		names = append(names, p.Name)
		p.Finish()
	}
	h.mu.Lock()
	h.finished = append(h.finished, names...)
	h.mu.Unlock()
	return names
}

// fakeView is one guest's runtime view of the fake host.
type fakeView struct {
	h        *fakeHost
	id       mgmtbridge.IsolateID
	anchor   uint64
	anchorOK bool
	layout   hostapi.Layout

	failDefine   map[string]*hostapi.Fault
	failRegister *hostapi.Fault
	failNotify   *hostapi.Fault
	failSignal   *hostapi.Fault
	failUnreg    *hostapi.Fault
}

func (v *fakeView) IsolateID() mgmtbridge.IsolateID { return v.id }
func (v *fakeView) Layout() hostapi.Layout          { return v.layout }
func (v *fakeView) Anchor() (uint64, bool)          { return v.anchor, v.anchorOK }

func (v *fakeView) Namespace(ctx context.Context, env hostapi.Env) (hostapi.Ref, *hostapi.Fault) {
	return 0, nil
}

func (v *fakeView) FindModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("find:" + name)
	if ref, ok := v.h.modules[name]; ok {
		return ref, nil
	}
	if ns != 0 {
		return 0, &hostapi.Fault{Class: hostapi.FaultNotFound, Message: name}
	}
	return 0, &hostapi.Fault{Class: hostapi.FaultNoDefinition, Message: name}
}

func (v *fakeView) DefineModule(ctx context.Context, env hostapi.Env, ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("define:" + name)
	if f := v.failDefine[name]; f != nil {
		return 0, f
	}
	if _, ok := v.h.modules[name]; ok {
		return 0, &hostapi.Fault{Class: hostapi.FaultAlreadyLinked, Message: name}
	}
	ref := v.h.nextRef
	v.h.nextRef++
	v.h.modules[name] = ref
	return ref, nil
}

func (v *fakeView) RegisterNatives(ctx context.Context, env hostapi.Env, target hostapi.Ref, b hostapi.NativeBindings) *hostapi.Fault {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("register-natives")
	if v.failRegister != nil {
		return v.failRegister
	}
	v.h.natives++
	v.h.bindings = b
	return nil
}

func (v *fakeView) NotifyNativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) *hostapi.Fault {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("notify-ready")
	if v.failNotify != nil {
		return v.failNotify
	}
	v.h.ready = true
	return nil
}

func (v *fakeView) NativesReady(ctx context.Context, env hostapi.Env, target hostapi.Ref) (bool, *hostapi.Fault) {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.ready, nil
}

func (v *fakeView) Factory(ctx context.Context, env hostapi.Env, entry hostapi.Ref) (hostapi.Ref, *hostapi.Fault) {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("factory")
	return v.h.factory, nil
}

func (v *fakeView) SignalRegistration(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref) *hostapi.Fault {
	if v.failSignal != nil {
		return v.failSignal
	}
	v.h.mu.Lock()
	v.h.signals++
	auto := v.h.autoDrain
	v.h.mu.Unlock()
	if auto {
		v.h.drain()
	}
	return nil
}

func (v *fakeView) Unregister(ctx context.Context, env hostapi.Env, entry, factory hostapi.Ref, names []string) *hostapi.Fault {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	v.h.op("unregister")
	if v.failUnreg != nil {
		return v.failUnreg
	}
	cp := make([]string, len(names))
	copy(cp, names)
	v.h.unregs = append(v.h.unregs, cp)
	return nil
}

// fakeHooks records shutdown hook registrations.
type fakeHooks struct {
	mu    sync.Mutex
	hooks []func()
}

func (f *fakeHooks) AddShutdownHook(h func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, h)
}

func (f *fakeHooks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hooks)
}

func (f *fakeHooks) run() {
	f.mu.Lock()
	hooks := make([]func(), len(f.hooks))
	copy(hooks, f.hooks)
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func testOptions() Options {
	return Options{Wait: gateway.WaitPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}}
}

func newTestRegistry(h *fakeHost, id mgmtbridge.IsolateID) (*Registry, *fakeView, *fakeHooks) {
	v := h.view(id)
	hooks := &fakeHooks{}
	return NewRegistry(v, hooks, testOptions()), v, hooks
}
