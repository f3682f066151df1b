package bridge

import (
	"context"
	goerrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/mgmt-bridge/blob"
	"github.com/wippyai/mgmt-bridge/errors"
	"github.com/wippyai/mgmt-bridge/hostapi"
	"github.com/wippyai/mgmt-bridge/instrument"
)

// Bootstrap injects the bridge modules into the host heap. Any number of
// isolates may call it concurrently against one host; exactly one becomes
// the installer, registers the native entry points, and releases the rest.
// Every isolate ends up holding the same host module identities.
//
// A false return with a nil error means the host cannot carry the bridge
// (unsupported layout, no anchor capability, or the release signal was
// never observed); the guest runs unmanaged. Errors are foreign failures or
// canceled waits; a failed bootstrap may be retried.
func (r *Registry) Bootstrap(ctx context.Context, layout hostapi.Layout) (bool, error) {
	if r.booted.Load() {
		return true, nil
	}
	r.bootMu.Lock()
	defer r.bootMu.Unlock()
	if r.booted.Load() {
		return true, nil
	}

	if r.Closed() {
		return false, errors.Closed(errors.PhaseBootstrap, "registry")
	}
	if !layout.Supported() {
		Logger().Warn("host layout cannot carry the bridge",
			zap.Uint64("isolate", uint64(r.IsolateID())))
		return false, nil
	}
	if _, ok := r.gw.Runtime().Anchor(); !ok {
		Logger().Warn("host denies thread anchor introspection; bridge disabled",
			zap.Uint64("isolate", uint64(r.IsolateID())))
		return false, nil
	}
	if !r.gw.SetEnvOffset(layout.EnvPointerOffset) {
		return false, errors.InvalidInput(errors.PhaseBootstrap,
			"environment offset changed between bootstrap attempts")
	}

	ns, err := r.gw.Namespace(ctx)
	if err != nil {
		return false, err
	}

	calls := blob.Calls()
	callsRef, err := r.gw.DefineModule(ctx, ns, calls.Name, calls.Code)
	if err != nil {
		return false, err
	}

	installer := callsRef != 0
	if installer {
		// The release signal must reach followers even when natives
		// registration fails; otherwise they wait out their full policy.
		regErr := r.gw.RegisterNatives(ctx, callsRef, r.Bindings())
		notifyErr := r.gw.NotifyNativesReady(ctx, callsRef)
		if regErr != nil {
			return false, regErr
		}
		if notifyErr != nil {
			return false, notifyErr
		}
	} else {
		callsRef, err = r.gw.FindModule(ctx, ns, calls.Name, true)
		if err != nil {
			return false, err
		}
		if werr := r.gw.WaitNativesReady(ctx, callsRef); werr != nil {
			if goerrors.Is(werr, &errors.Error{Phase: errors.PhaseBootstrap, Kind: errors.KindUnsupported}) {
				Logger().Warn("native release never observed; bridge disabled",
					zap.Uint64("isolate", uint64(r.IsolateID())))
				return false, nil
			}
			return false, werr
		}
	}

	var entry hostapi.Ref
	for _, b := range blob.Remaining() {
		ref, err := r.findOrDefine(ctx, ns, b)
		if err != nil {
			return false, err
		}
		if b.Name == blob.EntryName {
			entry = ref
		}
	}

	factory, err := r.gw.Factory(ctx, entry)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.entry = entry
	r.factory = factory
	r.calls = callsRef
	r.mu.Unlock()

	memPool, err := r.NewProxy(instrument.NewMemoryPool(), MemoryPoolObjectName)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.memPool = memPool
	r.mu.Unlock()
	// Queued without a wake; the first signaled registration drains it.
	r.Enqueue(memPool)

	r.booted.Store(true)
	Logger().Info("bridge bootstrap complete",
		zap.Uint64("isolate", uint64(r.IsolateID())),
		zap.Bool("installer", installer))
	return true, nil
}

// Bootstrapped reports whether Bootstrap has completed successfully.
func (r *Registry) Bootstrapped() bool {
	return r.booted.Load()
}

// findOrDefine resolves one payload idempotently: an optional find, then a
// define, then a required find when the define lost a race.
func (r *Registry) findOrDefine(ctx context.Context, ns hostapi.Ref, b blob.Blob) (hostapi.Ref, error) {
	ref, err := r.gw.FindModule(ctx, ns, b.Name, false)
	if err != nil {
		return 0, err
	}
	if ref != 0 {
		return ref, nil
	}
	ref, err = r.gw.DefineModule(ctx, ns, b.Name, b.Code)
	if err != nil {
		return 0, err
	}
	if ref != 0 {
		return ref, nil
	}
	return r.gw.FindModule(ctx, ns, b.Name, true)
}
