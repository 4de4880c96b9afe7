// Package barretenberg hosts the barretenberg WebAssembly module with wazero.
//
// A Wasm instance owns one linear memory, binds the fixed import surface the
// module expects and exposes name-addressed calls plus byte-level transfers
// into that memory. Multi-step sequences that share scratch memory must be
// bracketed with Acquire and Release.
package barretenberg

// DefaultWASMFilename is the file read by the default Loader.
const DefaultWASMFilename = "barretenberg.wasm"

// Memory geometry.
const (
	// PageSize is the size of one WebAssembly memory page.
	PageSize = 65536

	// DefaultInitialPages sizes a new linear memory at 16 MiB.
	DefaultInitialPages uint32 = 256

	// MaxPages is the 4 GiB ceiling addressable by wasm32.
	MaxPages uint32 = 65536
)

// ScratchOffset is the singleton 32-byte cell at the start of linear memory
// that coset transforms read their generator shift from. Every writer of
// this cell must hold the exclusive-access token until the native call that
// consumes it returns.
const (
	ScratchOffset uint32 = 0
	ScratchSize   uint32 = 32
)

// Evaluation domain exports
const (
	// ExportNewEvaluationDomain precomputes transform parameters.
	// Signature: new_evaluation_domain(circuit_size: i32) -> i32 (handle)
	ExportNewEvaluationDomain = "new_evaluation_domain"

	// ExportDeleteEvaluationDomain frees a domain handle.
	// Signature: delete_evaluation_domain(handle: i32) -> void
	ExportDeleteEvaluationDomain = "delete_evaluation_domain"

	// ExportCosetFFT runs an in-place forward transform with a coset shift.
	// Signature: coset_fft_with_generator_shift(buf: i32, constant: i32, domain: i32) -> void
	ExportCosetFFT = "coset_fft_with_generator_shift"

	// ExportIFFT runs an in-place inverse transform.
	// Signature: ifft(buf: i32, domain: i32) -> void
	ExportIFFT = "ifft"
)

// Memory management exports
const (
	// ExportMalloc allocates memory in WASM linear memory.
	// Signature: bbmalloc(size: i32) -> i32 (pointer)
	ExportMalloc = "bbmalloc"

	// ExportFree frees memory in WASM linear memory.
	// Signature: bbfree(ptr: i32) -> void
	ExportFree = "bbfree"

	// ExportInitialize is the reactor initializer, called when present.
	ExportInitialize = "_initialize"
)

// Host import names
const (
	// ImportModuleEnv is the import module holding the shared memory and logstr.
	ImportModuleEnv = "env"

	// ImportModuleHost backs the env shim when the module imports its memory.
	ImportModuleHost = "barretenberg_host"

	// ImportMemory is the field name of the shared linear memory import.
	ImportMemory = "memory"

	// ImportLogStr logs a NUL-terminated string.
	// Signature: logstr(addr: i32) -> void
	ImportLogStr = "logstr"

	// ImportRandomGet fills memory with random bytes.
	// Signature: random_get(addr: i32, len: i32) -> i32 (errno)
	ImportRandomGet = "random_get"
)
