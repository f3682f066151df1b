package hostwazero

import (
	"context"

	"go.uber.org/zap"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/hostapi"
)

// factory is the host's registration worker. One goroutine serves every
// attached guest; a wake token collapses bursts of signals into a single
// sweep, and a signal arriving mid-sweep re-arms exactly one more.
type factory struct {
	host *Host
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newFactory(h *Host) *factory {
	f := &factory{
		host: h,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *factory) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case <-f.wake:
			f.host.sweep(context.Background())
		}
	}
}

// signal wakes the worker without blocking. A full wake channel means a
// sweep is already owed.
func (f *factory) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *factory) shutdown() {
	close(f.stop)
	<-f.done
}

// sweep drains every bound guest queue in isolate order. The queue depth
// is consulted through the injected entry module's pending-count
// trampoline, which dispatches back into the guest's bound bindings.
func (h *Host) sweep(ctx context.Context) {
	for _, g := range h.attachedGuests() {
		b, ok := g.queueBindings()
		if !ok {
			continue
		}
		if h.pendingDepth(ctx, g.id, b) == 0 {
			continue
		}
		batch := b.DrainPending()
		if len(batch) == 0 {
			continue
		}

		h.mu.Lock()
		for _, rec := range batch {
			h.registered[rec.Name] = g.id
		}
		h.mu.Unlock()

		// Acks go out only after the names are visible in the registered
		// set.
		for _, rec := range batch {
			rec.Finish()
		}
		Logger().Debug("registered instruments",
			zap.Uint64("isolate", uint64(g.id)),
			zap.Int("count", len(batch)))
	}
}

// pendingDepth asks the entry module for the guest's queue depth, falling
// back to the direct binding when the module is not injected yet.
func (h *Host) pendingDepth(ctx context.Context, id mgmtbridge.IsolateID, b hostapi.NativeBindings) uint32 {
	if fn := h.entryPendingCount(); fn != nil {
		res, err := fn.Call(ctx, uint64(id))
		if err == nil && len(res) == 1 {
			return uint32(res[0])
		}
		Logger().Debug("pending-count trampoline failed",
			zap.Uint64("isolate", uint64(id)),
			zap.Error(err))
	}
	return b.PendingCount()
}
