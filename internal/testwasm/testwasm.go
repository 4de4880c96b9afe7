// Package testwasm builds deterministic stand-ins for the barretenberg module.
//
// Barretenberg exports the same calling convention but with trivial
// arithmetic so results can be predicted:
//
//	bbmalloc(size) -> ptr           bump allocator starting at HeapBase
//	bbfree(ptr)                     no-op
//	new_evaluation_domain(n) -> h   logs DomainLogMessage, stores n at h
//	delete_evaluation_domain(h)     no-op
//	coset_fft_with_generator_shift(buf, c, h)
//	                                buf[i] = buf[i] * c[i%32] (mod 256)
//	ifft(buf, h)                    buf[i] = -buf[i] (mod 256)
//	test_random(ptr, len) -> errno  calls random_get
//	neg_one() -> -1
//	grow_memory(pages) -> previous pages
//
// Both transforms cover n*32 bytes and map the zero vector to itself.
package testwasm

import (
	"github.com/aperturerobotics/go-barretenberg-wasi/internal/wasmbin"
)

// HeapBase is the first address handed out by bbmalloc.
const HeapBase = 1024

// DomainLogMessage is passed to logstr by new_evaluation_domain.
const DomainLogMessage = "new_evaluation_domain"

const domainLogAddr = 64

// Function indices. Imports come first.
const (
	fnLogStr uint32 = iota
	fnRandomGet
	fnMalloc
	fnFree
	fnNewDomain
	fnDeleteDomain
	fnCosetFFT
	fnIFFT
	fnTestRandom
	fnNegOne
	fnGrowMemory
)

// Type indices.
const (
	tyI32ToI32 uint32 = iota
	tyI32
	tyI32x3
	tyI32x2
	tyI32x2ToI32
	tyToI32
)

var (
	i32 = wasmbin.I32
	w   = wasmbin.Code
)

func types() []wasmbin.FuncType {
	return []wasmbin.FuncType{
		tyI32ToI32:   {Params: []wasmbin.ValType{i32}, Results: []wasmbin.ValType{i32}},
		tyI32:        {Params: []wasmbin.ValType{i32}},
		tyI32x3:      {Params: []wasmbin.ValType{i32, i32, i32}},
		tyI32x2:      {Params: []wasmbin.ValType{i32, i32}},
		tyI32x2ToI32: {Params: []wasmbin.ValType{i32, i32}, Results: []wasmbin.ValType{i32}},
		tyToI32:      {Results: []wasmbin.ValType{i32}},
	}
}

// Barretenberg returns a module importing env.memory, env.logstr and
// wasi_snapshot_preview1.random_get, like the real build.
func Barretenberg() []byte {
	m := &wasmbin.Module{
		Types: types(),
		Imports: []wasmbin.Import{
			{Module: "env", Name: "memory", Kind: wasmbin.KindMemory, Memory: wasmbin.Limits{Min: 1}},
			{Module: "env", Name: "logstr", Kind: wasmbin.KindFunc, TypeIdx: tyI32},
			{Module: "wasi_snapshot_preview1", Name: "random_get", Kind: wasmbin.KindFunc, TypeIdx: tyI32x2ToI32},
		},
		Funcs: []uint32{
			tyI32ToI32,   // bbmalloc
			tyI32,        // bbfree
			tyI32ToI32,   // new_evaluation_domain
			tyI32,        // delete_evaluation_domain
			tyI32x3,      // coset_fft_with_generator_shift
			tyI32x2,      // ifft
			tyI32x2ToI32, // test_random
			tyToI32,      // neg_one
			tyI32ToI32,   // grow_memory
		},
		Globals: []wasmbin.Global{
			{Type: i32, Mutable: true, Init: wasmbin.I32Const(HeapBase)},
		},
		Exports: []wasmbin.Export{
			{Name: "bbmalloc", Kind: wasmbin.KindFunc, Index: fnMalloc},
			{Name: "bbfree", Kind: wasmbin.KindFunc, Index: fnFree},
			{Name: "new_evaluation_domain", Kind: wasmbin.KindFunc, Index: fnNewDomain},
			{Name: "delete_evaluation_domain", Kind: wasmbin.KindFunc, Index: fnDeleteDomain},
			{Name: "coset_fft_with_generator_shift", Kind: wasmbin.KindFunc, Index: fnCosetFFT},
			{Name: "ifft", Kind: wasmbin.KindFunc, Index: fnIFFT},
			{Name: "test_random", Kind: wasmbin.KindFunc, Index: fnTestRandom},
			{Name: "neg_one", Kind: wasmbin.KindFunc, Index: fnNegOne},
			{Name: "grow_memory", Kind: wasmbin.KindFunc, Index: fnGrowMemory},
		},
		Code: []wasmbin.FuncBody{
			mallocBody(),
			{}, // bbfree
			newDomainBody(),
			{}, // delete_evaluation_domain
			cosetFFTBody(),
			ifftBody(),
			{Code: w(wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.Call(fnRandomGet))},
			negOneBody(),
			growMemoryBody(),
		},
		Data: []wasmbin.DataSegment{
			{Offset: domainLogAddr, Init: append([]byte(DomainLogMessage), 0)},
		},
	}
	return m.Encode()
}

// OwnMemory returns a module that defines and exports a one page memory and
// exports neg_one and grow_memory only.
func OwnMemory() []byte {
	m := &wasmbin.Module{
		Types:    []wasmbin.FuncType{types()[tyToI32], types()[tyI32ToI32]},
		Funcs:    []uint32{0, 1},
		Memories: []wasmbin.Limits{{Min: 1}},
		Exports: []wasmbin.Export{
			{Name: "memory", Kind: wasmbin.KindMemory, Index: 0},
			{Name: "neg_one", Kind: wasmbin.KindFunc, Index: 0},
			{Name: "grow_memory", Kind: wasmbin.KindFunc, Index: 1},
		},
		Code: []wasmbin.FuncBody{negOneBody(), growMemoryBody()},
	}
	return m.Encode()
}

// old := heap; heap += size; return old
func mallocBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{Code: w(
		wasmbin.GlobalGet(0),
		wasmbin.GlobalGet(0),
		wasmbin.LocalGet(0),
		wasmbin.Op(wasmbin.OpI32Add),
		wasmbin.GlobalSet(0),
	)}
}

// logstr(msg); h := bbmalloc(8); *h = n; return h
func newDomainBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{
		Locals: []wasmbin.Local{{Count: 1, Type: i32}},
		Code: w(
			wasmbin.I32Const(domainLogAddr),
			wasmbin.Call(fnLogStr),
			wasmbin.I32Const(8),
			wasmbin.Call(fnMalloc),
			wasmbin.LocalTee(1),
			wasmbin.LocalGet(0),
			wasmbin.I32Store(2, 0),
			wasmbin.LocalGet(1),
		),
	}
}

// params buf(0) c(1) h(2); locals i(3) len(4)
func cosetFFTBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{
		Locals: []wasmbin.Local{{Count: 2, Type: i32}},
		Code: w(
			byteLength(2, 4),
			wasmbin.Block(),
			wasmbin.Loop(),
			wasmbin.LocalGet(3), wasmbin.LocalGet(4), wasmbin.Op(wasmbin.OpI32GeU), wasmbin.BrIf(1),
			// address of buf[i]
			wasmbin.LocalGet(0), wasmbin.LocalGet(3), wasmbin.Op(wasmbin.OpI32Add),
			// buf[i]
			wasmbin.LocalGet(0), wasmbin.LocalGet(3), wasmbin.Op(wasmbin.OpI32Add), wasmbin.I32Load8U(0, 0),
			// c[i & 31]
			wasmbin.LocalGet(1), wasmbin.LocalGet(3), wasmbin.I32Const(31), wasmbin.Op(wasmbin.OpI32And),
			wasmbin.Op(wasmbin.OpI32Add), wasmbin.I32Load8U(0, 0),
			wasmbin.Op(wasmbin.OpI32Mul),
			wasmbin.I32Store8(0, 0),
			increment(3),
			wasmbin.Br(0),
			wasmbin.End(),
			wasmbin.End(),
		),
	}
}

// params buf(0) h(1); locals i(2) len(3)
func ifftBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{
		Locals: []wasmbin.Local{{Count: 2, Type: i32}},
		Code: w(
			byteLength(1, 3),
			wasmbin.Block(),
			wasmbin.Loop(),
			wasmbin.LocalGet(2), wasmbin.LocalGet(3), wasmbin.Op(wasmbin.OpI32GeU), wasmbin.BrIf(1),
			wasmbin.LocalGet(0), wasmbin.LocalGet(2), wasmbin.Op(wasmbin.OpI32Add),
			wasmbin.I32Const(0),
			wasmbin.LocalGet(0), wasmbin.LocalGet(2), wasmbin.Op(wasmbin.OpI32Add), wasmbin.I32Load8U(0, 0),
			wasmbin.Op(wasmbin.OpI32Sub),
			wasmbin.I32Store8(0, 0),
			increment(2),
			wasmbin.Br(0),
			wasmbin.End(),
			wasmbin.End(),
		),
	}
}

func negOneBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{Code: wasmbin.I32Const(-1)}
}

func growMemoryBody() wasmbin.FuncBody {
	return wasmbin.FuncBody{Code: w(wasmbin.LocalGet(0), wasmbin.MemoryGrow())}
}

// local[dst] = *local[domain] * 32
func byteLength(domain, dst uint32) []byte {
	return w(
		wasmbin.LocalGet(domain),
		wasmbin.I32Load(2, 0),
		wasmbin.I32Const(5),
		wasmbin.Op(wasmbin.OpI32Shl),
		wasmbin.LocalSet(dst),
	)
}

func increment(local uint32) []byte {
	return w(
		wasmbin.LocalGet(local),
		wasmbin.I32Const(1),
		wasmbin.Op(wasmbin.OpI32Add),
		wasmbin.LocalSet(local),
	)
}
