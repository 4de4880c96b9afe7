package barretenberg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/aperturerobotics/go-barretenberg-wasi/internal/wasmbin"
)

// WASI errno values returned by the host imports.
const (
	errnoSuccess = 0
	errnoFault   = 21
	errnoIO      = 29
)

// wasiStub is a WASI import the module links against but never
// legitimately needs. The stub returns success without side effects.
type wasiStub struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

var wasiStubs = []wasiStub{
	{"environ_get", []api.ValueType{i32, i32}, []api.ValueType{i32}},
	{"environ_sizes_get", []api.ValueType{i32, i32}, []api.ValueType{i32}},
	{"fd_close", []api.ValueType{i32}, []api.ValueType{i32}},
	{"fd_read", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}},
	{"fd_write", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}},
	{"fd_seek", []api.ValueType{i32, i64, i32, i32}, []api.ValueType{i32}},
	{"fd_fdstat_get", []api.ValueType{i32, i32}, []api.ValueType{i32}},
	{"fd_fdstat_set_flags", []api.ValueType{i32, i32}, []api.ValueType{i32}},
	{"path_open", []api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []api.ValueType{i32}},
	{"path_filestat_get", []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}},
	{"proc_exit", []api.ValueType{i32}, nil},
}

// instantiateWASI registers the stubbed wasi_snapshot_preview1 surface with
// random_get delegating to the instance's random source.
func (w *Wasm) instantiateWASI(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	for _, stub := range wasiStubs {
		hasResult := len(stub.results) != 0
		b = b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				if hasResult {
					stack[0] = api.EncodeI32(errnoSuccess)
				}
			}), stub.params, stub.results).
			Export(stub.name)
	}
	_, err := b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(w.hostRandomGet), []api.ValueType{
			api.ValueTypeI32, // addr
			api.ValueTypeI32, // length
		}, []api.ValueType{api.ValueTypeI32}).
		Export(ImportRandomGet).
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("failed to instantiate WASI stubs: %w", err)
	}
	return nil
}

// instantiateLogStr registers logstr under moduleName.
func (w *Wasm) instantiateLogStr(ctx context.Context, r wazero.Runtime, moduleName string) error {
	_, err := r.NewHostModuleBuilder(moduleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(w.hostLogStr), []api.ValueType{
			api.ValueTypeI32, // addr
		}, nil).
		Export(ImportLogStr).
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("failed to register host functions: %w", err)
	}
	return nil
}

// instantiateMemoryShim provides env.memory for modules that import their
// linear memory. wazero host modules cannot define memories, so a generated
// module named env declares the memory and re-exports logstr from the host
// module.
func (w *Wasm) instantiateMemoryShim(ctx context.Context, r wazero.Runtime, memoryName string, initialPages uint32) (api.Memory, error) {
	if err := w.instantiateLogStr(ctx, r, ImportModuleHost); err != nil {
		return nil, err
	}

	shim := envShim(memoryName, initialPages)
	mod, err := r.InstantiateWithConfig(ctx, shim, wazero.NewModuleConfig().WithName(ImportModuleEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate env memory: %w", err)
	}
	return mod.Memory(), nil
}

func envShim(memoryName string, initialPages uint32) []byte {
	m := &wasmbin.Module{
		Types: []wasmbin.FuncType{{Params: []wasmbin.ValType{wasmbin.I32}}},
		Imports: []wasmbin.Import{{
			Module: ImportModuleHost,
			Name:   ImportLogStr,
			Kind:   wasmbin.KindFunc,
		}},
		Memories: []wasmbin.Limits{{Min: initialPages, Max: MaxPages, HasMax: true}},
		Exports: []wasmbin.Export{
			{Name: memoryName, Kind: wasmbin.KindMemory, Index: 0},
			{Name: ImportLogStr, Kind: wasmbin.KindFunc, Index: 0},
		},
	}
	return m.Encode()
}

// hostLogStr reads a NUL-terminated string from linear memory and logs it
// with the current memory size.
func (w *Wasm) hostLogStr(ctx context.Context, mod api.Module, stack []uint64) {
	addr := api.DecodeU32(stack[0])
	mem := w.memory
	if mem == nil {
		return
	}
	size := mem.Size()
	if addr >= size {
		w.log.Warn("logstr address out of range", zap.Uint32("addr", addr), zap.Uint32("mem", size))
		return
	}

	buf, _ := mem.Read(addr, size-addr)
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	msg := string(buf)
	if !utf8.ValidString(msg) {
		msg = string(bytes.ToValidUTF8(buf, []byte("�")))
	}
	w.log.Debug(msg, zap.Uint32("mem", size))
}

// hostRandomGet fills length bytes at addr from the random source.
func (w *Wasm) hostRandomGet(ctx context.Context, mod api.Module, stack []uint64) {
	addr := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])

	mem := w.memory
	if mem == nil || uint64(addr)+uint64(length) > uint64(mem.Size()) {
		stack[0] = api.EncodeI32(errnoFault)
		return
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(w.rand, buf); err != nil {
		w.log.Warn("random_get failed", zap.Error(err))
		stack[0] = api.EncodeI32(errnoIO)
		return
	}
	mem.Write(addr, buf)
	stack[0] = api.EncodeI32(errnoSuccess)
}
