package wasmbin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestLEB128(t *testing.T) {
	assert.Equal(t, []byte{0x00}, appendU32(nil, 0))
	assert.Equal(t, []byte{0x7f}, appendU32(nil, 127))
	assert.Equal(t, []byte{0x80, 0x01}, appendU32(nil, 128))
	assert.Equal(t, []byte{0xe5, 0x8e, 0x26}, appendU32(nil, 624485))
	assert.Equal(t, []byte{0x80, 0x80, 0x04}, appendU32(nil, 65536))

	assert.Equal(t, []byte{0x00}, appendS64(nil, 0))
	assert.Equal(t, []byte{0x7f}, appendS64(nil, -1))
	assert.Equal(t, []byte{0x3f}, appendS64(nil, 63))
	assert.Equal(t, []byte{0xc0, 0x00}, appendS64(nil, 64))
	assert.Equal(t, []byte{0x40}, appendS64(nil, -64))
	assert.Equal(t, []byte{0xc0, 0xbb, 0x78}, appendS64(nil, -123456))
}

func TestEncodeEmpty(t *testing.T) {
	m := &Module{}
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, m.Encode())
}

func TestEncodeSection(t *testing.T) {
	m := &Module{Memories: []Limits{{Min: 2, Max: 3, HasMax: true}}}
	out := m.Encode()
	// header, memory section id, size 4, count 1, flags 1, min 2, max 3
	assert.Equal(t, []byte{SectionMemory, 0x04, 0x01, 0x01, 0x02, 0x03}, out[8:])
}

func TestEncodedModuleRuns(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	m := &Module{
		Types:    []FuncType{{Params: []ValType{I32, I32}, Results: []ValType{I32}}},
		Funcs:    []uint32{0},
		Memories: []Limits{{Min: 1}},
		Exports: []Export{
			{Name: "add", Kind: KindFunc, Index: 0},
			{Name: "memory", Kind: KindMemory, Index: 0},
		},
		Code: []FuncBody{{Code: Code(LocalGet(0), LocalGet(1), Op(OpI32Add))}},
		Data: []DataSegment{{Offset: 100, Init: []byte("hi")}},
	}

	mod, err := r.Instantiate(ctx, m.Encode())
	require.NoError(t, err)

	results, err := mod.ExportedFunction("add").Call(ctx, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), results[0])

	data, ok := mod.Memory().Read(100, 2)
	require.True(t, ok)
	assert.Equal(t, "hi", string(data))
}
