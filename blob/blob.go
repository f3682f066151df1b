// Package blob holds the canonical bridge module payloads injected into the
// host. Payloads are small core WASM modules built once at first use; their
// bytes must be treated as read-only.
package blob

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/mgmt-bridge/blob/internal/wasmgen"
)

// Canonical module names. The natives module is not a payload; it is the
// host-function module the installer registers against the calls module.
const (
	CallsName         = "wippy:mgmt/calls@1.0.0"
	NativesName       = "wippy:mgmt/calls-natives@1.0.0"
	EntryName         = "wippy:mgmt/entry@1.0.0"
	MirrorName        = "wippy:mgmt/mirror@1.0.0"
	MirrorFactoryName = "wippy:mgmt/mirror-factory@1.0.0"
	CursorName        = "wippy:mgmt/cursor@1.0.0"
)

// Export names used by the payloads and the natives module.
const (
	ExportNativesReady = "natives-ready"
	ExportPendingCount = "pending-count"
	ExportABIVersion   = "abi-version"
)

// ABIVersion is reported by every payload's abi-version export.
const ABIVersion = 1

// Blob is an immutable bridge module payload.
type Blob struct {
	Name string
	Code []byte
}

var (
	buildOnce sync.Once
	catalog   []Blob
	byName    map[string]Blob
)

func buildCatalog() {
	calls := wasmgen.NewBuilder()
	calls.AddGlobal(ExportNativesReady, api.ValueTypeI32, true, 0)
	calls.AddConstFunc(ExportABIVersion, ABIVersion)

	entry := wasmgen.NewBuilder()
	entry.AddImportFunc(NativesName, ExportPendingCount, ExportPendingCount,
		[]api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI32})
	entry.AddConstFunc(ExportABIVersion, ABIVersion)

	mirror := wasmgen.NewBuilder()
	mirror.AddConstFunc(ExportABIVersion, ABIVersion)

	factory := wasmgen.NewBuilder()
	factory.AddConstFunc(ExportABIVersion, ABIVersion)

	cursor := wasmgen.NewBuilder()
	cursor.AddConstFunc(ExportABIVersion, ABIVersion)

	catalog = []Blob{
		{Name: CallsName, Code: calls.Build()},
		{Name: EntryName, Code: entry.Build()},
		{Name: MirrorName, Code: mirror.Build()},
		{Name: MirrorFactoryName, Code: factory.Build()},
		{Name: CursorName, Code: cursor.Build()},
	}
	byName = make(map[string]Blob, len(catalog))
	for _, b := range catalog {
		byName[b.Name] = b
	}
}

// Catalog returns all payloads in injection order: calls first, then the
// modules resolved by find-or-define.
func Catalog() []Blob {
	buildOnce.Do(buildCatalog)
	out := make([]Blob, len(catalog))
	copy(out, catalog)
	return out
}

// Calls returns the calls payload, the anchor of the installer handshake.
func Calls() Blob {
	buildOnce.Do(buildCatalog)
	return catalog[0]
}

// Remaining returns the payloads injected after the calls handshake, in
// order: entry, mirror, mirror-factory, cursor.
func Remaining() []Blob {
	buildOnce.Do(buildCatalog)
	out := make([]Blob, len(catalog)-1)
	copy(out, catalog[1:])
	return out
}

// ByName looks up a payload by module name.
func ByName(name string) (Blob, bool) {
	buildOnce.Do(buildCatalog)
	b, ok := byName[name]
	return b, ok
}
