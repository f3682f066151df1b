package bridge

import (
	"context"

	"go.uber.org/zap"
)

// state is the registry lifecycle. The transition is one-way.
type state int

const (
	stateActive state = iota
	stateClosed
)

// Closed reports whether the registry has been closed.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st == stateClosed
}

// Close flips the registry to the closed state and issues a single
// best-effort bulk unregister for every instrument it ever tracked, in
// enqueue order. Only the first call acts; later calls return immediately.
// An unregister failure is logged and not retried; the registry stays
// closed either way.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.st == stateClosed {
		r.mu.Unlock()
		return
	}
	r.st = stateClosed
	batch := r.tracked
	r.tracked = nil
	entry, factory := r.entry, r.factory
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if entry == 0 || factory == 0 {
		Logger().Warn("closing with tracked instruments but no host factory",
			zap.Uint64("isolate", uint64(r.IsolateID())),
			zap.Int("count", len(batch)))
		return
	}

	names := make([]string, len(batch))
	for i, p := range batch {
		names[i] = p.name.String()
	}
	if err := r.gw.Unregister(ctx, entry, factory, names); err != nil {
		Logger().Warn("bulk unregister failed",
			zap.Uint64("isolate", uint64(r.IsolateID())),
			zap.Error(err))
		return
	}
	Logger().Info("unregistered instruments",
		zap.Uint64("isolate", uint64(r.IsolateID())),
		zap.Int("count", len(names)))
}

// shutdownHook adapts Close to the hook signature.
func (r *Registry) shutdownHook() {
	r.Close(context.Background())
}
