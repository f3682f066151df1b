// Package mgmtbridge connects management instruments created inside guest
// isolates to a long-lived host runtime.
//
// A guest isolate is a short-lived execution environment with its own heap.
// Instruments created there (memory pools, counters, domain gauges) are
// useless unless the host can see them. This library injects a small set of
// bridge modules into the host exactly once, no matter how many isolates race
// to do it, and then shepherds each instrument through a registration
// handshake so the host's management plane can address it by name.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	mgmtbridge/          Root package with isolate identity and hook seams
//	├── blob/            Canonical bridge module payloads (built once)
//	├── hostapi/         Cross-heap call surface: Ref, Env, Fault, Runtime
//	├── gateway/         Fault-checked gateway over every host call
//	├── bridge/          Bootstrap, registration queue, lifecycle
//	├── instrument/      Sample instruments (isolate memory pool, counter)
//	├── hostwazero/      wazero-backed host runtime implementation
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Host side, once per process:
//
//	host, err := hostwazero.NewHost(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close(ctx)
//
// Guest side, once per isolate:
//
//	rt, err := host.Attach(hostwazero.AttachConfig{IsolateID: 1})
//	reg := bridge.NewRegistry(rt, hooks, bridge.DefaultOptions())
//	rt.BindQueue(reg.Bindings())
//	ok, err := reg.Bootstrap(ctx, rt.Layout())
//	if !ok {
//	    // host build cannot carry the bridge; run without management
//	}
//
//	proxy, err := reg.NewProxy(instrument.NewCounter("requests"),
//	    "wippy.app:type=Counter,name=Requests")
//	reg.EnqueueAndNotify(ctx, proxy)
//
// The host's factory worker drains the queue, records the instrument name,
// and acknowledges; proxy.Poll reports the registered name once that
// handshake completes.
//
// # Exactly-Once Injection
//
// Any number of isolates may bootstrap concurrently against one host. The
// first to define the calls module becomes the installer: it registers the
// native entry points and then releases the others. Every other isolate is a
// follower: it locates the already-defined module and waits, bounded, for
// the installer's release signal. All isolates end up holding the same host
// module identities.
//
// # Thread Safety
//
// Registry is safe for concurrent use; all of its state is guarded by one
// mutex and no cross-heap call is ever made while holding it. A Ref is an
// opaque token and may be copied freely. Host and its attached runtimes are
// safe for concurrent use by multiple guests.
//
// # Shutdown
//
// The first successful enqueue registers a shutdown hook. On close the
// registry flips to the closed state, snapshots the names it registered, and
// issues a single best-effort bulk unregister outside its lock. Late
// enqueues after close are dropped; the queue stays unchanged.
package mgmtbridge
