package hostwazero

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/blob"
	"github.com/wippyai/mgmt-bridge/errors"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// anchorBase is the synthetic address region guest thread anchors are
// assigned from. Each isolate gets a page-aligned slot.
const anchorBase uint64 = 0x7f00_0000

// Config holds configuration for host creation.
type Config struct {
	// MemoryLimitPages sets the maximum memory per module in pages (64KB
	// each). 0 means the wazero default.
	MemoryLimitPages uint32

	// EnvPointerOffset is the environment pointer offset the host
	// advertises to guests. hostapi.UnsupportedEnvOffset disables the
	// bridge for every guest.
	EnvPointerOffset int32
}

// Host owns one wazero runtime acting as the shared management heap.
// Guests attach to it and inject the bridge modules through their
// hostapi.Runtime views. All methods are safe for concurrent use.
type Host struct {
	cfg Config
	rt  wazero.Runtime

	mu         sync.Mutex
	guests     map[mgmtbridge.IsolateID]*Guest
	modules    map[string]hostapi.Ref
	refs       *refTable
	nsRef      hostapi.Ref
	registered map[string]mgmtbridge.IsolateID
	factory    *factory
	factoryRef hostapi.Ref
	closed     bool
}

// namespaceObject is the host object Refs of Namespace point at.
type namespaceObject struct {
	name string
}

// NewHost creates a host with default configuration.
func NewHost(ctx context.Context) (*Host, error) {
	return NewHostWithConfig(ctx, nil)
}

// NewHostWithConfig creates a host with custom configuration.
func NewHostWithConfig(ctx context.Context, cfg *Config) (*Host, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	resolved := Config{EnvPointerOffset: 8}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(resolved.MemoryLimitPages)
	}

	h := &Host{
		cfg:        resolved,
		rt:         wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		guests:     make(map[mgmtbridge.IsolateID]*Guest),
		modules:    make(map[string]hostapi.Ref),
		refs:       newRefTable(),
		registered: make(map[string]mgmtbridge.IsolateID),
	}
	h.nsRef = h.refs.Add(&namespaceObject{name: "wippy:mgmt"})
	return h, nil
}

// Attach registers a guest isolate and returns its runtime view.
func (h *Host) Attach(cfg AttachConfig) (*Guest, error) {
	if cfg.IsolateID == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "isolate id must be nonzero")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.Closed(errors.PhaseHost, "host")
	}
	if _, ok := h.guests[cfg.IsolateID]; ok {
		return nil, errors.AlreadyInitialized(errors.PhaseHost,
			fmt.Sprintf("isolate %d", cfg.IsolateID))
	}

	g := &Guest{
		host:   h,
		id:     cfg.IsolateID,
		anchor: anchorBase | uint64(cfg.IsolateID)<<12,
	}
	h.guests[cfg.IsolateID] = g
	Logger().Debug("guest attached",
		zap.Uint64("isolate", uint64(cfg.IsolateID)),
		zap.Uint64("anchor", g.anchor))
	return g, nil
}

// Close stops the factory worker and closes the wazero runtime. Attached
// guests become unusable.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	f := h.factory
	h.mu.Unlock()

	if f != nil {
		f.shutdown()
	}
	h.refs.Close()
	return h.rt.Close(ctx)
}

// RegisteredNames returns the names of every registered instrument, sorted.
func (h *Host) RegisteredNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.registered))
	for name := range h.registered {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisteredOwner reports which isolate registered name.
func (h *Host) RegisteredOwner(name string) (mgmtbridge.IsolateID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.registered[name]
	return id, ok
}

func (h *Host) checkNamespace(ns hostapi.Ref) *hostapi.Fault {
	if ns != h.nsRef {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("unknown namespace ref %d", ns),
		}
	}
	return nil
}

func (h *Host) findModule(ns hostapi.Ref, name string) (hostapi.Ref, *hostapi.Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, closedFault()
	}
	if f := h.checkNamespace(ns); f != nil {
		return 0, f
	}
	if ref, ok := h.modules[name]; ok {
		return ref, nil
	}
	if ns != 0 {
		return 0, &hostapi.Fault{Class: hostapi.FaultNotFound, Message: name}
	}
	return 0, &hostapi.Fault{Class: hostapi.FaultNoDefinition, Message: name}
}

func (h *Host) defineModule(ctx context.Context, ns hostapi.Ref, name string, code []byte) (hostapi.Ref, *hostapi.Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, closedFault()
	}
	if f := h.checkNamespace(ns); f != nil {
		return 0, f
	}
	if _, ok := h.modules[name]; ok {
		return 0, &hostapi.Fault{Class: hostapi.FaultAlreadyLinked, Message: name}
	}

	compiled, err := h.rt.CompileModule(ctx, code)
	if err != nil {
		return 0, internalFault("compile "+name, err)
	}
	mod, err := h.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return 0, internalFault("instantiate "+name, err)
	}

	ref := h.refs.Add(mod)
	h.modules[name] = ref
	Logger().Debug("module defined",
		zap.String("name", name),
		zap.Uint64("ref", uint64(ref)))
	return ref, nil
}

// installNatives instantiates the native entry point module exactly once.
// The pending-count export dispatches on isolate id to the bound guest
// queue at call time.
func (h *Host) installNatives(ctx context.Context, target hostapi.Ref) *hostapi.Fault {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return closedFault()
	}
	if h.modules[blob.CallsName] != target {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not the calls module", target),
		}
	}
	if _, ok := h.modules[blob.NativesName]; ok {
		return &hostapi.Fault{Class: hostapi.FaultAlreadyLinked, Message: blob.NativesName}
	}

	mod, err := h.rt.NewHostModuleBuilder(blob.NativesName).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, id uint64) uint32 {
			return h.guestPendingCount(mgmtbridge.IsolateID(id))
		}).
		Export(blob.ExportPendingCount).
		Instantiate(ctx)
	if err != nil {
		return internalFault("instantiate "+blob.NativesName, err)
	}

	h.modules[blob.NativesName] = h.refs.Add(mod)
	Logger().Debug("natives installed", zap.String("module", blob.NativesName))
	return nil
}

// guestPendingCount is the Go side of the pending-count native.
func (h *Host) guestPendingCount(id mgmtbridge.IsolateID) uint32 {
	h.mu.Lock()
	g := h.guests[id]
	h.mu.Unlock()
	if g == nil {
		return 0
	}
	b, ok := g.queueBindings()
	if !ok {
		return 0
	}
	return b.PendingCount()
}

// callsGlobal resolves the ready flag global of the calls module ref.
func (h *Host) callsGlobal(target hostapi.Ref) (api.Global, *hostapi.Fault) {
	v, ok := h.refs.Get(target)
	if !ok {
		return nil, &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("unknown module ref %d", target),
		}
	}
	mod, ok := v.(api.Module)
	if !ok {
		return nil, &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not a module", target),
		}
	}
	glob := mod.ExportedGlobal(blob.ExportNativesReady)
	if glob == nil {
		return nil, &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: mod.Name() + " does not export " + blob.ExportNativesReady,
		}
	}
	return glob, nil
}

func (h *Host) setNativesReady(target hostapi.Ref) *hostapi.Fault {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return closedFault()
	}
	glob, fault := h.callsGlobal(target)
	if fault != nil {
		return fault
	}
	mutable, ok := glob.(api.MutableGlobal)
	if !ok {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: blob.ExportNativesReady + " is not mutable",
		}
	}
	mutable.Set(1)
	return nil
}

func (h *Host) nativesReady(target hostapi.Ref) (bool, *hostapi.Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, closedFault()
	}
	glob, fault := h.callsGlobal(target)
	if fault != nil {
		return false, fault
	}
	return glob.Get() != 0, nil
}

// ensureFactory lazily starts the registration worker and returns its ref.
func (h *Host) ensureFactory(entry hostapi.Ref) (hostapi.Ref, *hostapi.Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, closedFault()
	}
	if h.modules[blob.EntryName] != entry {
		return 0, &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not the entry module", entry),
		}
	}
	if h.factory == nil {
		h.factory = newFactory(h)
		h.factoryRef = h.refs.Add(h.factory)
		Logger().Debug("factory worker started")
	}
	return h.factoryRef, nil
}

func (h *Host) signalRegistration(g *Guest, entry, factoryRef hostapi.Ref) *hostapi.Fault {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return closedFault()
	}
	if h.factory == nil || factoryRef != h.factoryRef {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not the registration factory", factoryRef),
		}
	}
	if h.modules[blob.EntryName] != entry {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not the entry module", entry),
		}
	}
	if _, ok := g.queueBindings(); !ok {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("isolate %d has no bound queue", g.id),
		}
	}

	h.factory.signal()
	return nil
}

func (h *Host) unregister(factoryRef hostapi.Ref, names []string) *hostapi.Fault {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return closedFault()
	}
	if h.factory == nil || factoryRef != h.factoryRef {
		return &hostapi.Fault{
			Class:   hostapi.FaultInternal,
			Message: fmt.Sprintf("ref %d is not the registration factory", factoryRef),
		}
	}
	for _, name := range names {
		delete(h.registered, name)
	}
	Logger().Debug("instruments unregistered", zap.Int("count", len(names)))
	return nil
}

// attachedGuests snapshots the guest set in isolate id order.
func (h *Host) attachedGuests() []*Guest {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Guest, 0, len(h.guests))
	for _, g := range h.guests {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// entryPendingCount resolves the pending-count trampoline exported by the
// injected entry module, nil when the module is absent.
func (h *Host) entryPendingCount() api.Function {
	h.mu.Lock()
	defer h.mu.Unlock()

	ref, ok := h.modules[blob.EntryName]
	if !ok {
		return nil
	}
	v, ok := h.refs.Get(ref)
	if !ok {
		return nil
	}
	mod, ok := v.(api.Module)
	if !ok {
		return nil
	}
	return mod.ExportedFunction(blob.ExportPendingCount)
}

func closedFault() *hostapi.Fault {
	return &hostapi.Fault{Class: hostapi.FaultInternal, Message: "host closed"}
}

func internalFault(op string, err error) *hostapi.Fault {
	return &hostapi.Fault{
		Class:   hostapi.FaultInternal,
		Message: op + ": " + err.Error(),
	}
}
