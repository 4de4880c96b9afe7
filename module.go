package barretenberg

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero"
)

// Loader supplies the raw module bytecode.
type Loader interface {
	// Load returns the WebAssembly binary.
	Load(ctx context.Context) ([]byte, error)
}

// FileLoader reads the module from a file path.
type FileLoader string

// Load reads the file.
func (f FileLoader) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(string(f))
}

// BytesLoader serves bytecode already in memory.
type BytesLoader []byte

// Load returns the bytes.
func (b BytesLoader) Load(ctx context.Context) ([]byte, error) {
	return b, nil
}

// LoaderFunc adapts a function to Loader, e.g. a network fetch.
type LoaderFunc func(ctx context.Context) ([]byte, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Module is compiled barretenberg code. A single Module can back any number
// of Wasm instances, one per worker, each with its own linear memory; the
// instances share the machine code through the Module's compilation cache.
type Module struct {
	code     []byte
	cache    wazero.CompilationCache
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// runtimeConfig is the configuration every runtime hosting code from cache
// is built with.
func runtimeConfig(cache wazero.CompilationCache) wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithMemoryLimitPages(MaxPages)
}

// CompileModule validates and compiles code.
// Call Close() when no Wasm instance needs the module any more.
func CompileModule(ctx context.Context, code []byte) (*Module, error) {
	cache := wazero.NewCompilationCache()
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig(cache))

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		r.Close(ctx)
		cache.Close(ctx)
		return nil, newError(KindCompile, "compile", "", err)
	}

	return &Module{
		code:     code,
		cache:    cache,
		runtime:  r,
		compiled: compiled,
	}, nil
}

// LoadModule fetches bytecode from l and compiles it.
func LoadModule(ctx context.Context, l Loader) (*Module, error) {
	code, err := l.Load(ctx)
	if err != nil {
		return nil, newError(KindIO, "load", "module bytecode unavailable", err)
	}
	return CompileModule(ctx, code)
}

// Close releases the compiled code. Instances created from m must be closed
// first.
func (m *Module) Close(ctx context.Context) error {
	err := m.runtime.Close(ctx)
	if cerr := m.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// importsMemory reports the env memory import of the compiled module, if any.
func (m *Module) importsMemory() (moduleName, name string, minPages uint32, ok bool) {
	for _, def := range m.compiled.ImportedMemories() {
		moduleName, name, _ = def.Import()
		return moduleName, name, def.Min(), true
	}
	return "", "", 0, false
}
