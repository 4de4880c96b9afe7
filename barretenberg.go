package barretenberg

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateFaulted
	stateClosed
)

// Wasm is one instantiated barretenberg module and the linear memory it owns.
//
// Individual operations are safe for concurrent use; they never overlap one
// another. Sequences of operations are not: callers that write to a shared
// location such as ScratchOffset and then invoke a function reading it must
// hold the exclusive-access token (Acquire/Release) for the whole sequence.
type Wasm struct {
	runtime wazero.Runtime
	module  *Module
	ownsMod bool
	mod     api.Module
	memory  api.Memory

	log  *zap.Logger
	rand io.Reader

	// mu is held for the duration of each single operation.
	mu    sync.Mutex
	state state
	fault error
	view  []byte

	// token holds the exclusive-access token while it is free.
	token chan struct{}
}

// Config holds configuration for creating a new Wasm instance.
type Config struct {
	// Module is precompiled code to instantiate. When set, Loader is ignored
	// and the module is not recompiled.
	Module *Module
	// Loader supplies bytecode when Module is nil.
	// Default: FileLoader(DefaultWASMFilename).
	Loader Loader
	// InitialPages is the initial linear memory size in 64 KiB pages.
	// Default: DefaultInitialPages. Must not exceed MaxPages.
	InitialPages uint32
	// Name identifies the instance in logs. Default: "wasm".
	Name string
	// Logger receives module log output. Default: no-op.
	Logger *zap.Logger
	// Rand backs the random_get import. Default: crypto/rand.Reader.
	Rand io.Reader
}

// New instantiates a Wasm instance. The returned instance is ready for calls.
// Call Close() when done to release resources.
func New(ctx context.Context, cfg *Config) (*Wasm, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	initial := cfg.InitialPages
	if initial == 0 {
		initial = DefaultInitialPages
	}
	if initial > MaxPages {
		return nil, newError(KindInvalidConfig, "init", fmt.Sprintf("initial pages %d exceed maximum %d", initial, MaxPages), nil)
	}

	name := cfg.Name
	if name == "" {
		name = "wasm"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	w := &Wasm{
		log:   logger.Named("bb").Named(name),
		rand:  rnd,
		token: make(chan struct{}, 1),
	}
	w.token <- struct{}{}
	w.log.Debug("initial memory", zap.Uint32("pages", initial))

	module := cfg.Module
	if module == nil {
		loader := cfg.Loader
		if loader == nil {
			loader = FileLoader(DefaultWASMFilename)
		}
		var err error
		module, err = LoadModule(ctx, loader)
		if err != nil {
			return nil, err
		}
		w.ownsMod = true
	}
	w.module = module

	if err := w.instantiate(ctx, initial); err != nil {
		w.runtime.Close(ctx)
		if w.ownsMod {
			module.Close(ctx)
		}
		return nil, err
	}

	w.state = stateReady
	return w, nil
}

func (w *Wasm) instantiate(ctx context.Context, initial uint32) error {
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig(w.module.cache))
	w.runtime = r

	// Compiled code is served from the module's cache.
	compiled, err := r.CompileModule(ctx, w.module.code)
	if err != nil {
		return newError(KindCompile, "init", "", err)
	}

	if err := w.instantiateWASI(ctx, r); err != nil {
		return newError(KindInstantiate, "init", "", err)
	}

	memModule, memName, minPages, imported := w.module.importsMemory()
	if imported {
		if memModule != ImportModuleEnv {
			return newError(KindInstantiate, "init", fmt.Sprintf("unsupported memory import %s.%s", memModule, memName), nil)
		}
		if minPages > initial {
			return newError(KindInvalidConfig, "init", fmt.Sprintf("module requires %d initial pages, configured %d", minPages, initial), nil)
		}
		mem, err := w.instantiateMemoryShim(ctx, r, memName, initial)
		if err != nil {
			return newError(KindInstantiate, "init", "", err)
		}
		w.memory = mem
	} else if err := w.instantiateLogStr(ctx, r, ImportModuleEnv); err != nil {
		return newError(KindInstantiate, "init", "", err)
	}

	// Reactor: no _start; _initialize is invoked below if exported.
	modCfg := wazero.NewModuleConfig().
		WithName("barretenberg").
		WithStartFunctions()
	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return newError(KindInstantiate, "init", "failed to instantiate module", err)
	}
	w.mod = mod

	if !imported {
		mem := mod.Memory()
		if mem == nil {
			return newError(KindInstantiate, "init", "module has no linear memory", nil)
		}
		if pages := mem.Size() / PageSize; pages < initial {
			if _, ok := mem.Grow(initial - pages); !ok {
				return newError(KindInvalidConfig, "init", fmt.Sprintf("cannot grow memory to %d pages", initial), nil)
			}
		}
		w.memory = mem
	}

	if initFn := mod.ExportedFunction(ExportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			return newError(KindNativeTrap, ExportInitialize, "", err)
		}
	}
	return nil
}

// ready reports the error for the current state. Caller must hold mu.
func (w *Wasm) ready() error {
	switch w.state {
	case stateReady:
		return nil
	case stateFaulted:
		return newError(KindNativeTrap, "", "instance faulted, discard and recreate it", w.fault)
	case stateClosed:
		return newError(KindNotReady, "", "instance closed", nil)
	default:
		return newError(KindNotReady, "", "instance not initialized", nil)
	}
}

// Call invokes the named export and returns its result as an unsigned 32-bit
// word. Exports without results return 0.
//
// A missing export fails with ErrNotFound before memory is touched. A trap
// fails with ErrNativeTrap and leaves the instance unusable.
func (w *Wasm) Call(ctx context.Context, name string, args ...uint32) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ready(); err != nil {
		return 0, err
	}

	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return 0, newError(KindNotFound, name, fmt.Sprintf("WASM function %s not found", name), nil)
	}

	if want := len(fn.Definition().ParamTypes()); want != len(args) {
		return 0, newError(KindInvalidArgs, name, fmt.Sprintf("got %d arguments, want %d", len(args), want), nil)
	}

	params := make([]uint64, len(args))
	for i, arg := range args {
		params[i] = api.EncodeU32(arg)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		w.state = stateFaulted
		w.fault = err
		w.log.Warn("native call trapped", zap.String("export", name), zap.Error(err))
		return 0, newError(KindNativeTrap, name, "", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	// Native words are signed; reinterpret as unsigned.
	return uint32(results[0]), nil
}

// Memory returns a live view over linear memory. The view aliases the
// buffer and is replaced after the memory grows; do not retain it across
// calls. Returns nil if the instance is not ready.
func (w *Wasm) Memory() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ready() != nil {
		return nil
	}
	return w.getMemory()
}

// getMemory re-derives the cached view after growth. Caller must hold mu.
func (w *Wasm) getMemory() []byte {
	size := w.memory.Size()
	if w.view == nil || uint32(len(w.view)) != size {
		w.view, _ = w.memory.Read(0, size)
	}
	return w.view
}

// SliceMemory returns a copy of linear memory in [start, end).
func (w *Wasm) SliceMemory(start, end uint32) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ready(); err != nil {
		return nil, err
	}
	mem := w.getMemory()
	if start > end || end > uint32(len(mem)) {
		return nil, newError(KindOutOfBounds, "slice", fmt.Sprintf("[%d, %d) outside memory of %d bytes", start, end, len(mem)), nil)
	}

	out := make([]byte, end-start)
	copy(out, mem[start:end])
	return out, nil
}

// TransferToHeap copies data into linear memory at offset. It does not
// serialize against other callers writing overlapping ranges; hold the
// token when that matters. data is not retained.
func (w *Wasm) TransferToHeap(data []byte, offset uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ready(); err != nil {
		return err
	}
	mem := w.getMemory()
	if uint64(offset)+uint64(len(data)) > uint64(len(mem)) {
		return newError(KindOutOfBounds, "transfer", fmt.Sprintf("%d bytes at %d outside memory of %d bytes", len(data), offset, len(mem)), nil)
	}
	copy(mem[offset:], data)
	return nil
}

// Acquire waits for the exclusive-access token. Waiters are admitted one at
// a time in arrival order. Returns ctx.Err() if ctx ends first.
//
// The caller must call Release() to hand the token back.
func (w *Wasm) Acquire(ctx context.Context) error {
	if w.token == nil {
		return newError(KindNotReady, "acquire", "instance not initialized", nil)
	}
	select {
	case <-w.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the exclusive-access token. It fails with
// ErrReleaseWithoutAcquire when the token is not held.
func (w *Wasm) Release() error {
	if w.token == nil {
		return newError(KindNotReady, "release", "instance not initialized", nil)
	}
	select {
	case w.token <- struct{}{}:
		return nil
	default:
		return newError(KindReleaseWithoutAcquire, "release", "release called but not acquired", nil)
	}
}

// Exclusive runs fn while holding the exclusive-access token.
func (w *Wasm) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := w.Acquire(ctx); err != nil {
		return err
	}
	defer w.Release()
	return fn(ctx)
}

// Exports returns the sorted names of the exported functions.
func (w *Wasm) Exports() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mod == nil {
		return nil
	}
	defs := w.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the instance and its linear memory. A Module loaded by New
// is closed too; a Module passed in Config is left open.
func (w *Wasm) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateClosed || w.runtime == nil {
		w.state = stateClosed
		return nil
	}
	w.state = stateClosed
	w.view = nil

	err := w.runtime.Close(ctx)
	if w.ownsMod {
		if cerr := w.module.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
