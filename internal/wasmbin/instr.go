package wasmbin

// Opcodes.
const (
	OpUnreachable byte = 0x00
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpBrIf        byte = 0x0d
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI32Load8U   byte = 0x2d
	OpI32Store    byte = 0x36
	OpI32Store8   byte = 0x3a
	OpMemorySize  byte = 0x3f
	OpMemoryGrow  byte = 0x40
	OpI32Const    byte = 0x41
	OpI32GeU      byte = 0x4f
	OpI32Add      byte = 0x6a
	OpI32Sub      byte = 0x6b
	OpI32Mul      byte = 0x6c
	OpI32And      byte = 0x71
	OpI32Shl      byte = 0x74
)

// blockTypeEmpty marks a block or loop without params or results.
const blockTypeEmpty byte = 0x40

// Instruction helpers return encoded bytes so bodies can be assembled with
// Code.

// Code concatenates encoded instructions.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func Op(op byte) []byte { return []byte{op} }

func I32Const(v int32) []byte { return appendS64([]byte{OpI32Const}, int64(v)) }

func LocalGet(idx uint32) []byte  { return appendU32([]byte{OpLocalGet}, idx) }
func LocalSet(idx uint32) []byte  { return appendU32([]byte{OpLocalSet}, idx) }
func LocalTee(idx uint32) []byte  { return appendU32([]byte{OpLocalTee}, idx) }
func GlobalGet(idx uint32) []byte { return appendU32([]byte{OpGlobalGet}, idx) }
func GlobalSet(idx uint32) []byte { return appendU32([]byte{OpGlobalSet}, idx) }
func Call(funcIdx uint32) []byte  { return appendU32([]byte{OpCall}, funcIdx) }
func Br(depth uint32) []byte      { return appendU32([]byte{OpBr}, depth) }
func BrIf(depth uint32) []byte    { return appendU32([]byte{OpBrIf}, depth) }

func Block() []byte { return []byte{OpBlock, blockTypeEmpty} }
func Loop() []byte  { return []byte{OpLoop, blockTypeEmpty} }
func End() []byte   { return []byte{OpEnd} }

// MemoryGrow and MemorySize address memory 0.
func MemoryGrow() []byte { return []byte{OpMemoryGrow, 0x00} }
func MemorySize() []byte { return []byte{OpMemorySize, 0x00} }

// memarg encodes alignment as a power of two followed by the offset.
func memarg(op byte, align, offset uint32) []byte {
	return appendU32(appendU32([]byte{op}, align), offset)
}

func I32Load(align, offset uint32) []byte   { return memarg(OpI32Load, align, offset) }
func I32Load8U(align, offset uint32) []byte { return memarg(OpI32Load8U, align, offset) }
func I32Store(align, offset uint32) []byte  { return memarg(OpI32Store, align, offset) }
func I32Store8(align, offset uint32) []byte { return memarg(OpI32Store8, align, offset) }
