// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package wasmbin decodes and re-encodes the WebAssembly binary module
// format (core spec release 1, MVP section layout) far enough to support
// static gas-metering rewrites: it exposes the Type, Import, Function,
// Export, Start, Element and Code sections as mutable structures and
// copies every other section through byte-for-byte.
//
// No third-party WASM toolkit in the retrieved corpus exposes a mutable
// module AST — tetratelabs/wazero's decoder lives under its internal/
// package — so this reader/writer is hand-rolled, mirroring the teacher's
// own bytecode encoder (probe-lang/lang/codegen.Generator: byte-append
// emit helpers, a patch list for forward references) adapted to wasm's
// section-and-LEB128 shape instead of the teacher's 4-byte fixed encoding.
package wasmbin

import (
	"bytes"
	"fmt"
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = [4]byte{0x01, 0x00, 0x00, 0x00}

// Section ids, core spec §5.5.
const (
	SecCustom   byte = 0
	SecType     byte = 1
	SecImport   byte = 2
	SecFunction byte = 3
	SecTable    byte = 4
	SecMemory   byte = 5
	SecGlobal   byte = 6
	SecExport   byte = 7
	SecStart    byte = 8
	SecElement  byte = 9
	SecCode     byte = 10
	SecData     byte = 11
	SecDataCount byte = 12
)

// Value types, core spec §5.3.1.
const (
	ValI32     byte = 0x7f
	ValI64     byte = 0x7e
	ValF32     byte = 0x7d
	ValF64     byte = 0x7c
	ValFuncRef byte = 0x70
	ValExternRef byte = 0x6f
)

// Import descriptor kinds, core spec §5.5.4.
const (
	ImportKindFunc   byte = 0
	ImportKindTable  byte = 1
	ImportKindMemory byte = 2
	ImportKindGlobal byte = 3
)

// FuncType is a function signature (core spec §5.3.6).
type FuncType struct {
	Params  []byte
	Results []byte
}

// Import is one entry of the import section. DescRaw holds the exact
// bytes of the description following the kind byte, copied through
// unchanged for table/memory/global imports; for function imports
// FuncTypeIdx additionally exposes the parsed type index.
type Import struct {
	Module      string
	Name        string
	Kind        byte
	FuncTypeIdx uint32
	DescRaw     []byte
}

// Export is one entry of the export section.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Local is one run-length-encoded local declaration at the head of a
// function body.
type Local struct {
	Count uint32
	Type  byte
}

// CodeBody is one function body: its local declarations and its raw
// instruction stream (everything up to, and including, the body-closing
// `end`).
type CodeBody struct {
	Locals []Local
	Instrs []byte
}

// rawSection is an untouched section copied through verbatim.
type rawSection struct {
	id      byte
	payload []byte
}

// slotKind distinguishes which field of Module backs a given section slot.
type slotKind int

const (
	slotRaw slotKind = iota
	slotType
	slotImport
	slotFunction
	slotExport
	slotStart
	slotElement
	slotCode
)

type slot struct {
	kind slotKind
	raw  rawSection // valid when kind == slotRaw
}

// Module is a parsed WebAssembly binary module.
type Module struct {
	slots []slot

	Types    []FuncType
	Imports  []Import // all import kinds, in file order
	FuncSigs []uint32 // type index per defined function, parallel to Code
	Exports  []Export
	HasStart bool
	StartIdx uint32
	Elements []Element
	Code     []CodeBody
}

// Element is one active element segment in the simple (flags==0) MVP
// encoding: table 0, an offset expression, and a vector of function
// indices. Segments using any other flags value are preserved unparsed
// in Module's raw passthrough and are not visible here — a documented
// scope limit (see DESIGN.md) since simple flags==0 segments are what
// mainstream compilers emit for MVP-only modules.
type Element struct {
	OffsetExpr []byte
	FuncIdxs   []uint32
}

// ImportFuncCount returns how many of Imports are function imports —
// the size of the low end of the function index space.
func (m *Module) ImportFuncCount() int {
	n := 0
	for _, im := range m.Imports {
		if im.Kind == ImportKindFunc {
			n++
		}
	}
	return n
}

// Decode parses a WebAssembly binary module.
func Decode(data []byte) (*Module, error) {
	if len(data) < 8 || !bytes.Equal(data[0:4], wasmMagic[:]) {
		return nil, fmt.Errorf("wasmbin: bad magic")
	}
	if !bytes.Equal(data[4:8], wasmVersion[:]) {
		return nil, fmt.Errorf("wasmbin: unsupported version")
	}

	m := &Module{}
	off := 8
	for off < len(data) {
		id := data[off]
		off++
		size, next, err := ReadUvarint(data, off)
		if err != nil {
			return nil, fmt.Errorf("wasmbin: section %d size: %w", id, err)
		}
		off = next
		if off+int(size) > len(data) {
			return nil, fmt.Errorf("wasmbin: section %d overruns module", id)
		}
		payload := data[off : off+int(size)]
		off += int(size)

		switch id {
		case SecType:
			types, err := decodeTypeSection(payload)
			if err != nil {
				return nil, err
			}
			m.Types = types
			m.slots = append(m.slots, slot{kind: slotType})
		case SecImport:
			imports, err := decodeImportSection(payload)
			if err != nil {
				return nil, err
			}
			m.Imports = imports
			m.slots = append(m.slots, slot{kind: slotImport})
		case SecFunction:
			sigs, err := decodeFunctionSection(payload)
			if err != nil {
				return nil, err
			}
			m.FuncSigs = sigs
			m.slots = append(m.slots, slot{kind: slotFunction})
		case SecExport:
			exports, err := decodeExportSection(payload)
			if err != nil {
				return nil, err
			}
			m.Exports = exports
			m.slots = append(m.slots, slot{kind: slotExport})
		case SecStart:
			idx, _, err := ReadUvarint(payload, 0)
			if err != nil {
				return nil, fmt.Errorf("wasmbin: start section: %w", err)
			}
			m.HasStart = true
			m.StartIdx = uint32(idx)
			m.slots = append(m.slots, slot{kind: slotStart})
		case SecElement:
			elems, rawFallback, err := decodeElementSection(payload)
			if err != nil {
				return nil, err
			}
			if rawFallback != nil {
				m.slots = append(m.slots, slot{kind: slotRaw, raw: rawSection{id: id, payload: rawFallback}})
			} else {
				m.Elements = elems
				m.slots = append(m.slots, slot{kind: slotElement})
			}
		case SecCode:
			code, err := decodeCodeSection(payload)
			if err != nil {
				return nil, err
			}
			m.Code = code
			m.slots = append(m.slots, slot{kind: slotCode})
		default:
			m.slots = append(m.slots, slot{kind: slotRaw, raw: rawSection{id: id, payload: payload}})
		}
	}
	return m, nil
}

func decodeTypeSection(p []byte) ([]FuncType, error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, err
	}
	out := make([]FuncType, 0, count)
	for i := uint64(0); i < count; i++ {
		if off >= len(p) || p[off] != 0x60 {
			return nil, fmt.Errorf("wasmbin: expected func type tag 0x60")
		}
		off++
		nParams, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		params := make([]byte, nParams)
		for j := range params {
			params[j] = p[off]
			off++
		}
		nResults, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		results := make([]byte, nResults)
		for j := range results {
			results[j] = p[off]
			off++
		}
		out = append(out, FuncType{Params: params, Results: results})
	}
	return out, nil
}

func decodeImportSection(p []byte) ([]Import, error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Import, 0, count)
	for i := uint64(0); i < count; i++ {
		mod, next, err := readName(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		name, next, err := readName(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off >= len(p) {
			return nil, fmt.Errorf("wasmbin: truncated import descriptor")
		}
		kind := p[off]
		descStart := off
		off++
		var funcTypeIdx uint32
		switch kind {
		case ImportKindFunc:
			idx, next, err := ReadUvarint(p, off)
			if err != nil {
				return nil, err
			}
			funcTypeIdx = uint32(idx)
			off = next
		case ImportKindTable:
			// reftype byte + limits
			off++
			off, err = skipLimits(p, off)
			if err != nil {
				return nil, err
			}
		case ImportKindMemory:
			off, err = skipLimits(p, off)
			if err != nil {
				return nil, err
			}
		case ImportKindGlobal:
			off++ // valtype
			off++ // mutability
		default:
			return nil, fmt.Errorf("wasmbin: unknown import kind %d", kind)
		}
		out = append(out, Import{
			Module:      mod,
			Name:        name,
			Kind:        kind,
			FuncTypeIdx: funcTypeIdx,
			DescRaw:     append([]byte(nil), p[descStart:off]...),
		})
	}
	return out, nil
}

func skipLimits(p []byte, off int) (int, error) {
	if off >= len(p) {
		return off, fmt.Errorf("wasmbin: truncated limits")
	}
	flag := p[off]
	off++
	_, off, err := ReadUvarint(p, off)
	if err != nil {
		return off, err
	}
	if flag == 1 {
		_, off, err = ReadUvarint(p, off)
		if err != nil {
			return off, err
		}
	}
	return off, nil
}

func decodeFunctionSection(p []byte) ([]uint32, error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, count)
	for i := uint64(0); i < count; i++ {
		idx, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		out = append(out, uint32(idx))
	}
	return out, nil
}

func decodeExportSection(p []byte) ([]Export, error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Export, 0, count)
	for i := uint64(0); i < count; i++ {
		name, next, err := readName(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off >= len(p) {
			return nil, fmt.Errorf("wasmbin: truncated export")
		}
		kind := p[off]
		off++
		idx, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		out = append(out, Export{Name: name, Kind: kind, Idx: uint32(idx)})
	}
	return out, nil
}

// decodeElementSection attempts the simple flags==0 encoding used by
// mainstream MVP-targeting compilers. If any segment uses a different
// flags value, the whole section is handed back as rawFallback so it can
// be copied through unmodified (documented limitation, see DESIGN.md).
func decodeElementSection(p []byte) (elems []Element, rawFallback []byte, err error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Element, 0, count)
	for i := uint64(0); i < count; i++ {
		if off >= len(p) {
			return nil, nil, fmt.Errorf("wasmbin: truncated element segment")
		}
		flags, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, nil, err
		}
		if flags != 0 {
			return nil, p, nil
		}
		off = next
		exprStart := off
		off, err = skipConstExpr(p, off)
		if err != nil {
			return nil, nil, err
		}
		offsetExpr := append([]byte(nil), p[exprStart:off]...)
		nFuncs, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, nil, err
		}
		off = next
		idxs := make([]uint32, nFuncs)
		for j := range idxs {
			v, next, err := ReadUvarint(p, off)
			if err != nil {
				return nil, nil, err
			}
			off = next
			idxs[j] = uint32(v)
		}
		out = append(out, Element{OffsetExpr: offsetExpr, FuncIdxs: idxs})
	}
	return out, nil, nil
}

// skipConstExpr advances past a constant init expression, ending just
// after its terminating 0x0B (end).
func skipConstExpr(p []byte, off int) (int, error) {
	for {
		if off >= len(p) {
			return off, fmt.Errorf("wasmbin: truncated const expr")
		}
		op := p[off]
		off++
		if op == 0x0B {
			return off, nil
		}
		switch op {
		case 0x41: // i32.const
			_, off2, err := ReadVarint(p, off)
			if err != nil {
				return off, err
			}
			off = off2
		case 0x42: // i64.const
			_, off2, err := ReadVarint(p, off)
			if err != nil {
				return off, err
			}
			off = off2
		case 0x43:
			off += 4
		case 0x44:
			off += 8
		case 0x23: // global.get
			_, off2, err := ReadUvarint(p, off)
			if err != nil {
				return off, err
			}
			off = off2
		default:
			return off, fmt.Errorf("wasmbin: unsupported const-expr opcode 0x%x", op)
		}
	}
}

func decodeCodeSection(p []byte) ([]CodeBody, error) {
	count, off, err := ReadUvarint(p, 0)
	if err != nil {
		return nil, err
	}
	out := make([]CodeBody, 0, count)
	for i := uint64(0); i < count; i++ {
		size, next, err := ReadUvarint(p, off)
		if err != nil {
			return nil, err
		}
		off = next
		bodyEnd := off + int(size)
		if bodyEnd > len(p) {
			return nil, fmt.Errorf("wasmbin: function body overruns code section")
		}
		body := p[off:bodyEnd]
		off = bodyEnd

		nLocalDecls, lOff, err := ReadUvarint(body, 0)
		if err != nil {
			return nil, err
		}
		locals := make([]Local, 0, nLocalDecls)
		for j := uint64(0); j < nLocalDecls; j++ {
			cnt, next, err := ReadUvarint(body, lOff)
			if err != nil {
				return nil, err
			}
			lOff = next
			if lOff >= len(body) {
				return nil, fmt.Errorf("wasmbin: truncated local decl")
			}
			typ := body[lOff]
			lOff++
			locals = append(locals, Local{Count: uint32(cnt), Type: typ})
		}
		out = append(out, CodeBody{Locals: locals, Instrs: append([]byte(nil), body[lOff:]...)})
	}
	return out, nil
}

func readName(p []byte, off int) (string, int, error) {
	n, next, err := ReadUvarint(p, off)
	if err != nil {
		return "", off, err
	}
	off = next
	if off+int(n) > len(p) {
		return "", off, fmt.Errorf("wasmbin: truncated name")
	}
	s := string(p[off : off+int(n)])
	return s, off + int(n), nil
}

// Encode serializes m back into a WebAssembly binary module, preserving
// the original section order and copying every raw-passthrough section
// byte-for-byte.
func (m *Module) Encode() []byte {
	out := append([]byte{}, wasmMagic[:]...)
	out = append(out, wasmVersion[:]...)

	for _, s := range m.slots {
		var id byte
		var payload []byte
		switch s.kind {
		case slotRaw:
			id = s.raw.id
			payload = s.raw.payload
		case slotType:
			id = SecType
			payload = encodeTypeSection(m.Types)
		case slotImport:
			id = SecImport
			payload = encodeImportSection(m.Imports)
		case slotFunction:
			id = SecFunction
			payload = encodeFunctionSection(m.FuncSigs)
		case slotExport:
			id = SecExport
			payload = encodeExportSection(m.Exports)
		case slotStart:
			id = SecStart
			payload = PutUvarint(nil, uint64(m.StartIdx))
		case slotElement:
			id = SecElement
			payload = encodeElementSection(m.Elements)
		case slotCode:
			id = SecCode
			payload = encodeCodeSection(m.Code)
		}
		out = append(out, id)
		out = PutUvarint(out, uint64(len(payload)))
		out = append(out, payload...)
	}
	return out
}

func encodeTypeSection(types []FuncType) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(types)))
	for _, t := range types {
		b = append(b, 0x60)
		b = PutUvarint(b, uint64(len(t.Params)))
		b = append(b, t.Params...)
		b = PutUvarint(b, uint64(len(t.Results)))
		b = append(b, t.Results...)
	}
	return b
}

func encodeImportSection(imports []Import) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(imports)))
	for _, im := range imports {
		b = appendName(b, im.Module)
		b = appendName(b, im.Name)
		b = append(b, im.DescRaw...)
	}
	return b
}

func encodeFunctionSection(sigs []uint32) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(sigs)))
	for _, s := range sigs {
		b = PutUvarint(b, uint64(s))
	}
	return b
}

func encodeExportSection(exports []Export) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(exports)))
	for _, e := range exports {
		b = appendName(b, e.Name)
		b = append(b, e.Kind)
		b = PutUvarint(b, uint64(e.Idx))
	}
	return b
}

func encodeElementSection(elems []Element) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(elems)))
	for _, e := range elems {
		b = PutUvarint(b, 0) // flags
		b = append(b, e.OffsetExpr...)
		b = PutUvarint(b, uint64(len(e.FuncIdxs)))
		for _, idx := range e.FuncIdxs {
			b = PutUvarint(b, uint64(idx))
		}
	}
	return b
}

func encodeCodeSection(code []CodeBody) []byte {
	var b []byte
	b = PutUvarint(b, uint64(len(code)))
	for _, c := range code {
		var body []byte
		body = PutUvarint(body, uint64(len(c.Locals)))
		for _, l := range c.Locals {
			body = PutUvarint(body, uint64(l.Count))
			body = append(body, l.Type)
		}
		body = append(body, c.Instrs...)
		b = PutUvarint(b, uint64(len(body)))
		b = append(b, body...)
	}
	return b
}

func appendName(b []byte, s string) []byte {
	b = PutUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// AddType appends a function type and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	m.Types = append(m.Types, ft)
	ensureSlot(m, slotType)
	return uint32(len(m.Types) - 1)
}

// AddImportFunc appends a new function import as the last import entry
// and returns its function index. Because it is appended after every
// existing import, all existing import indices are unaffected; only the
// defined-function index space (imports + function-section entries)
// shifts up by one, which callers must account for when remapping call
// sites (see core/meter.renumberModuleFuncRefs).
func (m *Module) AddImportFunc(module, name string, typeIdx uint32) uint32 {
	desc := append([]byte{ImportKindFunc}, PutUvarint(nil, uint64(typeIdx))...)
	m.Imports = append(m.Imports, Import{
		Module:      module,
		Name:        name,
		Kind:        ImportKindFunc,
		FuncTypeIdx: typeIdx,
		DescRaw:     desc,
	})
	ensureSlot(m, slotImport)
	return uint32(m.ImportFuncCount() - 1)
}

// AddFunction appends a new defined function (type index + body) and
// returns its function index in the post-shift index space.
func (m *Module) AddFunction(typeIdx uint32, body CodeBody) uint32 {
	m.FuncSigs = append(m.FuncSigs, typeIdx)
	m.Code = append(m.Code, body)
	ensureSlot(m, slotFunction)
	ensureSlot(m, slotCode)
	return uint32(m.ImportFuncCount() + len(m.FuncSigs) - 1)
}

func hasSlot(m *Module, k slotKind) bool {
	for _, s := range m.slots {
		if s.kind == k {
			return true
		}
	}
	return false
}

// slotSectionID returns the wasm section id a given (non-raw) slot kind
// encodes as, for ordering purposes.
func slotSectionID(k slotKind) byte {
	switch k {
	case slotType:
		return SecType
	case slotImport:
		return SecImport
	case slotFunction:
		return SecFunction
	case slotExport:
		return SecExport
	case slotStart:
		return SecStart
	case slotElement:
		return SecElement
	case slotCode:
		return SecCode
	default:
		return SecCustom
	}
}

func slotID(s slot) byte {
	if s.kind == slotRaw {
		return s.raw.id
	}
	return slotSectionID(s.kind)
}

// ensureSlot inserts a slot for kind at the position required to keep
// non-custom sections in ascending id order (core spec §5.5.1), unless
// one already exists.
func ensureSlot(m *Module, k slotKind) {
	if hasSlot(m, k) {
		return
	}
	id := slotSectionID(k)
	i := 0
	for i < len(m.slots) && slotID(m.slots[i]) <= id {
		i++
	}
	m.slots = append(m.slots, slot{})
	copy(m.slots[i+1:], m.slots[i:])
	m.slots[i] = slot{kind: k}
}
