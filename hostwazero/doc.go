// Package hostwazero realizes the hostapi.Runtime contract over a wazero
// runtime acting as the shared management heap.
//
// One Host carries any number of guest isolates. Each guest obtains its own
// view through Attach and drives the bridge bootstrap against it; module
// definition is serialized host-side so concurrent bootstraps resolve to a
// single installer.
//
// # Wiring
//
//	host, _ := hostwazero.NewHost(ctx)
//	defer host.Close(ctx)
//
//	guest, _ := host.Attach(hostwazero.AttachConfig{IsolateID: 1})
//	reg := bridge.NewRegistry(guest, hooks, bridge.DefaultOptions())
//	guest.BindQueue(reg.Bindings())
//
//	ok, err := reg.Bootstrap(ctx, guest.Layout())
//
// BindQueue must run before the first registration signal: the host's
// native entry points and the injected entry module's pending-count
// trampoline both resolve the guest's queue through the binding.
//
// # Registration flow
//
// Signaled registrations are served by a single factory worker goroutine.
// A wake collapses into at most one buffered token, the worker sweeps all
// bound guests in isolate order, records the drained names in the host's
// registered set, and acks each entry. The queue depth is read through the
// entry module's wasm trampoline, so a sweep exercises the injected bridge
// code end to end.
package hostwazero
