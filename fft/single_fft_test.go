package fft

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	barretenberg "github.com/aperturerobotics/go-barretenberg-wasi"
	"github.com/aperturerobotics/go-barretenberg-wasi/internal/testwasm"
)

func newTestWasm(t *testing.T) *barretenberg.Wasm {
	t.Helper()
	ctx := context.Background()
	w, err := barretenberg.New(ctx, &barretenberg.Config{
		Loader: barretenberg.BytesLoader(testwasm.Barretenberg()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close(ctx) })
	return w
}

func newTestFFT(t *testing.T, w Wasm, n uint32) *SingleFFT {
	t.Helper()
	ctx := context.Background()
	f := NewSingleFFT(w)
	require.NoError(t, f.Init(ctx, n))
	return f
}

func element(b byte) []byte {
	return bytes.Repeat([]byte{b}, FieldElementSize)
}

func TestInitDestroy(t *testing.T) {
	ctx := context.Background()
	f := NewSingleFFT(newTestWasm(t))

	require.NoError(t, f.Init(ctx, 16))
	assert.Equal(t, uint32(16), f.CircuitSize())
	assert.NotEqual(t, DomainHandle{}, f.Domain())
	require.NoError(t, f.Destroy(ctx))

	// The handle is gone.
	_, err := f.IFFT(ctx, make([]byte, 16*FieldElementSize))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, f.Destroy(ctx), ErrNotReady)
}

func TestOutputLength(t *testing.T) {
	ctx := context.Background()
	w := newTestWasm(t)

	for n := uint32(1); n <= 1024; n *= 2 {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			f := newTestFFT(t, w, n)
			defer f.Destroy(ctx)

			coeffs := bytes.Repeat([]byte{5}, int(n)*FieldElementSize)

			out, err := f.FFT(ctx, coeffs, element(3))
			require.NoError(t, err)
			assert.Len(t, out, int(n)*FieldElementSize)

			out, err = f.IFFT(ctx, coeffs)
			require.NoError(t, err)
			assert.Len(t, out, int(n)*FieldElementSize)
		})
	}
}

func TestFFTZeroVector(t *testing.T) {
	ctx := context.Background()
	f := newTestFFT(t, newTestWasm(t), 4)

	out, err := f.FFT(ctx, make([]byte, 4*FieldElementSize), make([]byte, FieldElementSize))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 128), out)

	// The shift does not matter for the zero vector.
	out, err = f.FFT(ctx, make([]byte, 4*FieldElementSize), element(0x77))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 128), out)
}

func TestFFTUsesConstant(t *testing.T) {
	ctx := context.Background()
	f := newTestFFT(t, newTestWasm(t), 2)

	out, err := f.FFT(ctx, bytes.Repeat([]byte{3}, 64), element(5))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{15}, 64), out)
}

func TestIFFT(t *testing.T) {
	ctx := context.Background()
	f := newTestFFT(t, newTestWasm(t), 2)

	in := bytes.Repeat([]byte{1}, 64)
	out, err := f.IFFT(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 64), out)

	// Input is left untouched.
	assert.Equal(t, bytes.Repeat([]byte{1}, 64), in)
}

func TestInvalidLength(t *testing.T) {
	ctx := context.Background()
	f := newTestFFT(t, newTestWasm(t), 4)

	_, err := f.FFT(ctx, make([]byte, 100), element(0))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = f.IFFT(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidLength)

	// Multiple of 32, wrong element count for the domain.
	_, err = f.IFFT(ctx, make([]byte, 2*FieldElementSize))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = f.FFT(ctx, make([]byte, 4*FieldElementSize), make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestInvalidLengthDomainTooLarge(t *testing.T) {
	ctx := context.Background()
	w := &recordingWasm{Wasm: newTestWasm(t)}
	// 1<<27 elements of 32 bytes is the full 4 GiB address space.
	f := newTestFFT(t, w, 1<<27)

	_, err := f.IFFT(ctx, element(1))
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = f.FFT(ctx, element(1), element(1))
	assert.ErrorIs(t, err, ErrInvalidLength)
	assert.NotContains(t, w.names(), barretenberg.ExportMalloc)
}

func TestReinitDeletesDomain(t *testing.T) {
	ctx := context.Background()
	w := &recordingWasm{Wasm: newTestWasm(t)}
	f := newTestFFT(t, w, 4)
	first := f.Domain()

	require.NoError(t, f.Init(ctx, 8))
	assert.Equal(t, uint32(8), f.CircuitSize())
	assert.Equal(t, []string{
		barretenberg.ExportNewEvaluationDomain,
		barretenberg.ExportDeleteEvaluationDomain,
		barretenberg.ExportNewEvaluationDomain,
	}, w.names())
	assert.Equal(t, []uint32{first.ptr}, w.calls[1].args)

	out, err := f.IFFT(ctx, make([]byte, 8*FieldElementSize))
	require.NoError(t, err)
	assert.Len(t, out, 8*FieldElementSize)
}

func TestDestroyDuringTransforms(t *testing.T) {
	ctx := context.Background()
	f := newTestFFT(t, newTestWasm(t), 4)
	coeffs := make([]byte, 4*FieldElementSize)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := f.IFFT(ctx, coeffs)
				if err != nil {
					assert.ErrorIs(t, err, ErrNotReady)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	require.NoError(t, f.Destroy(ctx))
	wg.Wait()

	_, err := f.IFFT(ctx, coeffs)
	assert.ErrorIs(t, err, ErrNotReady)
}

// recordingWasm records every export called on the wrapped instance.
type recordingWasm struct {
	Wasm

	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	name string
	args []uint32
}

func (r *recordingWasm) Call(ctx context.Context, name string, args ...uint32) (uint32, error) {
	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{name: name, args: append([]uint32(nil), args...)})
	r.mu.Unlock()
	return r.Wasm.Call(ctx, name, args...)
}

func (r *recordingWasm) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.name
	}
	return names
}

func TestNotFoundPropagates(t *testing.T) {
	ctx := context.Background()
	w := newTestWasm(t)
	f := newTestFFT(t, missingExport{Wasm: w, name: barretenberg.ExportIFFT}, 1)

	_, err := f.IFFT(ctx, element(1))
	assert.ErrorIs(t, err, barretenberg.ErrNotFound)
}

// missingExport hides one export of the wrapped instance.
type missingExport struct {
	Wasm
	name string
}

func (m missingExport) Call(ctx context.Context, name string, args ...uint32) (uint32, error) {
	if name == m.name {
		name = "missing_" + name
	}
	return m.Wasm.Call(ctx, name, args...)
}

// stallingWasm holds each writer of the scratch cell until a second writer
// has arrived or a timeout passes, widening the window between writing the
// constant and the transform reading it.
type stallingWasm struct {
	*barretenberg.Wasm

	mu     sync.Mutex
	writes int
	both   chan struct{}
}

func newStallingWasm(w *barretenberg.Wasm) *stallingWasm {
	return &stallingWasm{Wasm: w, both: make(chan struct{})}
}

func (s *stallingWasm) TransferToHeap(data []byte, offset uint32) error {
	if err := s.Wasm.TransferToHeap(data, offset); err != nil {
		return err
	}
	if offset != barretenberg.ScratchOffset {
		return nil
	}

	s.mu.Lock()
	s.writes++
	if s.writes == 2 {
		close(s.both)
	}
	s.mu.Unlock()

	select {
	case <-s.both:
	case <-time.After(250 * time.Millisecond):
	}
	return nil
}

// runConcurrentFFTs runs two FFTs with different constants at once and
// reports how many results do not match their own constant.
func runConcurrentFFTs(t *testing.T, serialize bool) int {
	t.Helper()
	ctx := context.Background()
	w := newTestWasm(t)
	s := newStallingWasm(w)
	f := newTestFFT(t, s, 2)

	coeffs := bytes.Repeat([]byte{1}, 2*FieldElementSize)
	constants := []byte{2, 3}
	results := make([][]byte, len(constants))

	var wg sync.WaitGroup
	for i, c := range constants {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if serialize {
				if !assert.NoError(t, w.Acquire(ctx)) {
					return
				}
				defer func() { assert.NoError(t, w.Release()) }()
			}
			out, err := f.FFT(ctx, coeffs, element(c))
			assert.NoError(t, err)
			results[i] = out
		}()
	}
	wg.Wait()

	corrupted := 0
	for i, c := range constants {
		if !bytes.Equal(results[i], bytes.Repeat([]byte{c}, 2*FieldElementSize)) {
			corrupted++
		}
	}
	return corrupted
}

func TestConcurrentFFTRace(t *testing.T) {
	assert.GreaterOrEqual(t, runConcurrentFFTs(t, false), 1, "unserialized FFTs should share the scratch cell")
}

func TestConcurrentFFTSerialized(t *testing.T) {
	assert.Zero(t, runConcurrentFFTs(t, true))
}
