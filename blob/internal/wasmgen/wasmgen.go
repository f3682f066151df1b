// Package wasmgen assembles the small core WASM modules used as bridge
// payloads: imported functions re-exported under the module's own name,
// constant-returning functions, and exported globals.
package wasmgen

import (
	"github.com/tetratelabs/wazero/api"
)

// Builder builds a core WASM module from declared imports, constant
// functions, and globals. The function index space is imports first, then
// constant functions, in declaration order.
type Builder struct {
	imports []importFunc
	consts  []constFunc
	globals []globalDef
}

type importFunc struct {
	module      string
	name        string
	exportName  string
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
}

type constFunc struct {
	exportName string
	value      int32
}

type globalDef struct {
	exportName string
	valType    api.ValueType
	mutable    bool
	initValue  int64
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddImportFunc imports a function from another module and re-exports it
// under exportName.
func (b *Builder) AddImportFunc(module, name, exportName string, params, results []api.ValueType) {
	b.imports = append(b.imports, importFunc{
		module:      module,
		name:        name,
		exportName:  exportName,
		paramTypes:  params,
		resultTypes: results,
	})
}

// AddConstFunc adds an exported nullary function returning a fixed i32.
func (b *Builder) AddConstFunc(exportName string, value int32) {
	b.consts = append(b.consts, constFunc{
		exportName: exportName,
		value:      value,
	})
}

// AddGlobal adds a locally defined exported global with an initial value.
func (b *Builder) AddGlobal(exportName string, valType api.ValueType, mutable bool, initValue int64) {
	b.globals = append(b.globals, globalDef{
		exportName: exportName,
		valType:    valType,
		mutable:    mutable,
		initValue:  initValue,
	})
}

// Build generates the WASM module bytes.
func (b *Builder) Build() []byte {
	if len(b.imports) == 0 && len(b.consts) == 0 && len(b.globals) == 0 {
		return nil
	}

	hasFuncs := len(b.imports) > 0 || len(b.consts) > 0
	var wasm []byte

	// Magic and version
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	// Type section
	if hasFuncs {
		typeSection := b.buildTypeSection()
		wasm = append(wasm, 0x01)
		wasm = append(wasm, EncodeULEB128(uint32(len(typeSection)))...)
		wasm = append(wasm, typeSection...)
	}

	// Import section
	if len(b.imports) > 0 {
		importSection := b.buildImportSection()
		wasm = append(wasm, 0x02)
		wasm = append(wasm, EncodeULEB128(uint32(len(importSection)))...)
		wasm = append(wasm, importSection...)
	}

	// Function section
	if len(b.consts) > 0 {
		funcSection := b.buildFuncSection()
		wasm = append(wasm, 0x03)
		wasm = append(wasm, EncodeULEB128(uint32(len(funcSection)))...)
		wasm = append(wasm, funcSection...)
	}

	// Global section
	if len(b.globals) > 0 {
		globalSection := b.buildGlobalSection()
		wasm = append(wasm, 0x06)
		wasm = append(wasm, EncodeULEB128(uint32(len(globalSection)))...)
		wasm = append(wasm, globalSection...)
	}

	// Export section
	exportSection := b.buildExportSection()
	wasm = append(wasm, 0x07)
	wasm = append(wasm, EncodeULEB128(uint32(len(exportSection)))...)
	wasm = append(wasm, exportSection...)

	// Code section
	if len(b.consts) > 0 {
		codeSection := b.buildCodeSection()
		wasm = append(wasm, 0x0a)
		wasm = append(wasm, EncodeULEB128(uint32(len(codeSection)))...)
		wasm = append(wasm, codeSection...)
	}

	return wasm
}

func (b *Builder) buildTypeSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)+len(b.consts)))...)

	for _, f := range b.imports {
		section = append(section, 0x60)
		section = append(section, EncodeULEB128(uint32(len(f.paramTypes)))...)
		for _, t := range f.paramTypes {
			section = append(section, ValTypeToWasm(t))
		}
		section = append(section, EncodeULEB128(uint32(len(f.resultTypes)))...)
		for _, t := range f.resultTypes {
			section = append(section, ValTypeToWasm(t))
		}
	}

	// Constant functions share the shape () -> i32
	for range b.consts {
		section = append(section, 0x60, 0x00, 0x01, 0x7f)
	}

	return section
}

func (b *Builder) buildImportSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)))...)

	for i, f := range b.imports {
		section = append(section, EncodeULEB128(uint32(len(f.module)))...)
		section = append(section, []byte(f.module)...)
		section = append(section, EncodeULEB128(uint32(len(f.name)))...)
		section = append(section, []byte(f.name)...)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(i))...)
	}

	return section
}

func (b *Builder) buildFuncSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.consts)))...)
	for i := range b.consts {
		section = append(section, EncodeULEB128(uint32(len(b.imports)+i))...)
	}
	return section
}

func (b *Builder) buildGlobalSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.globals)))...)

	for _, g := range b.globals {
		section = append(section, ValTypeToWasm(g.valType))
		if g.mutable {
			section = append(section, 0x01)
		} else {
			section = append(section, 0x00)
		}
		switch g.valType {
		case api.ValueTypeI32:
			section = append(section, 0x41)
			section = append(section, EncodeSLEB128(int32(g.initValue))...)
		case api.ValueTypeI64:
			section = append(section, 0x42)
			section = append(section, EncodeSLEB128(g.initValue)...)
		case api.ValueTypeF32:
			section = append(section, 0x43, 0, 0, 0, 0)
		case api.ValueTypeF64:
			section = append(section, 0x44, 0, 0, 0, 0, 0, 0, 0, 0)
		default:
			section = append(section, 0x41, 0x00)
		}
		section = append(section, 0x0B)
	}

	return section
}

func (b *Builder) buildExportSection() []byte {
	var section []byte

	numExports := len(b.imports) + len(b.consts) + len(b.globals)
	section = append(section, EncodeULEB128(uint32(numExports))...)

	// Imported functions are re-exported directly
	for i, f := range b.imports {
		section = append(section, EncodeULEB128(uint32(len(f.exportName)))...)
		section = append(section, []byte(f.exportName)...)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(i))...)
	}

	// Constant functions
	for i, f := range b.consts {
		section = append(section, EncodeULEB128(uint32(len(f.exportName)))...)
		section = append(section, []byte(f.exportName)...)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(len(b.imports)+i))...)
	}

	// Globals
	for i, g := range b.globals {
		section = append(section, EncodeULEB128(uint32(len(g.exportName)))...)
		section = append(section, []byte(g.exportName)...)
		section = append(section, 0x03)
		section = append(section, EncodeULEB128(uint32(i))...)
	}

	return section
}

func (b *Builder) buildCodeSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.consts)))...)

	for _, f := range b.consts {
		var body []byte
		body = append(body, 0x00)
		body = append(body, 0x41)
		body = append(body, EncodeSLEB128(f.value)...)
		body = append(body, 0x0b)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}

	return section
}
