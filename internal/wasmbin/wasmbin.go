// Package wasmbin encodes small WebAssembly core modules.
//
// It covers only what the host needs to generate: function types, imports,
// functions, memories, globals, exports, code and active data segments.
package wasmbin

import "encoding/binary"

// Binary header.
const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 1
)

// Section IDs.
const (
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionCode     byte = 10
	SectionData     byte = 11
)

// External kinds used by imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

const funcTypeByte = 0x60

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Limits bounds a memory in pages. Max is only encoded when HasMax is set.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Import is a function or memory import. Memory is used when Kind is
// KindMemory, TypeIdx otherwise.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
	Memory  Limits
}

// Export names a function, memory or global by index.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Global is a global with a constant initializer expression (without the
// trailing end opcode).
type Global struct {
	Type    ValType
	Mutable bool
	Init    []byte
}

// Local declares Count locals of one type.
type Local struct {
	Count uint32
	Type  ValType
}

// FuncBody is the code of a defined function. Code excludes the final end
// opcode which Encode appends.
type FuncBody struct {
	Locals []Local
	Code   []byte
}

// DataSegment is an active segment for memory 0 at a constant offset.
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// Module is a core module ready to encode.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of defined functions
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment
}

// Encode encodes the module to the WebAssembly binary format.
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := appendU32(nil, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, funcTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := appendU32(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, imp.Kind)
			if imp.Kind == KindMemory {
				sec = appendLimits(sec, imp.Memory)
			} else {
				sec = appendU32(sec, imp.TypeIdx)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := appendU32(nil, uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec = appendU32(sec, idx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Memories) > 0 {
		sec := appendU32(nil, uint32(len(m.Memories)))
		for _, lim := range m.Memories {
			sec = appendLimits(sec, lim)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := appendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = append(sec, byte(g.Type))
			if g.Mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			sec = append(sec, g.Init...)
			sec = append(sec, OpEnd)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := appendU32(nil, uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec = appendName(sec, exp.Name)
			sec = append(sec, exp.Kind)
			sec = appendU32(sec, exp.Index)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if len(m.Code) > 0 {
		sec := appendU32(nil, uint32(len(m.Code)))
		for _, body := range m.Code {
			fn := appendU32(nil, uint32(len(body.Locals)))
			for _, l := range body.Locals {
				fn = appendU32(fn, l.Count)
				fn = append(fn, byte(l.Type))
			}
			fn = append(fn, body.Code...)
			fn = append(fn, OpEnd)
			sec = appendU32(sec, uint32(len(fn)))
			sec = append(sec, fn...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := appendU32(nil, uint32(len(m.Data)))
		for _, seg := range m.Data {
			// flag 0: active, memory 0, offset expression follows
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(seg.Offset))...)
			sec = append(sec, OpEnd)
			sec = appendU32(sec, uint32(len(seg.Init)))
			sec = append(sec, seg.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendValTypes(out []byte, types []ValType) []byte {
	out = appendU32(out, uint32(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendLimits(out []byte, lim Limits) []byte {
	if lim.HasMax {
		out = append(out, 0x01)
		out = appendU32(out, lim.Min)
		return appendU32(out, lim.Max)
	}
	out = append(out, 0x00)
	return appendU32(out, lim.Min)
}

// appendU32 appends v as unsigned LEB128, which is what uvarint encodes.
func appendU32(out []byte, v uint32) []byte {
	return binary.AppendUvarint(out, uint64(v))
}

// appendS64 appends v as signed LEB128.
func appendS64(out []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}
