// Package fft drives forward coset and inverse FFTs over the barretenberg
// scalar field through a barretenberg.Wasm instance.
package fft

import (
	"context"
	"errors"
	"fmt"
	"sync"

	barretenberg "github.com/aperturerobotics/go-barretenberg-wasi"
)

// FieldElementSize is the encoded size of one field element.
const FieldElementSize = 32

// Errors returned by this package. They match the barretenberg sentinels.
var (
	ErrInvalidLength = barretenberg.ErrInvalidLength
	ErrNotReady      = barretenberg.ErrNotReady
)

// Wasm is the subset of *barretenberg.Wasm the transforms use.
type Wasm interface {
	Call(ctx context.Context, name string, args ...uint32) (uint32, error)
	TransferToHeap(data []byte, offset uint32) error
	SliceMemory(start, end uint32) ([]byte, error)
}

// DomainHandle is an opaque evaluation domain owned by the native module.
// It is only meaningful to the Wasm instance that created it.
type DomainHandle struct {
	ptr uint32
}

// SingleFFT runs transforms on one Wasm instance against one evaluation
// domain.
//
// FFT writes its generator constant to barretenberg.ScratchOffset, a cell
// shared by every caller of the instance, and does not take the
// exclusive-access token itself. Concurrent FFT calls on one instance must
// each be wrapped in Acquire/Release. IFFT does not touch the scratch cell.
//
// Init and Destroy wait for running transforms to finish.
type SingleFFT struct {
	wasm Wasm

	// mu guards the domain. Transforms hold it shared.
	mu          sync.RWMutex
	domain      DomainHandle
	circuitSize uint32
	ready       bool
}

// NewSingleFFT creates a SingleFFT. Call Init before transforming.
func NewSingleFFT(w Wasm) *SingleFFT {
	return &SingleFFT{wasm: w}
}

// Init creates the evaluation domain for circuitSize elements. The native
// layer requires circuitSize to be a power of two; this is not checked here.
// A domain from an earlier Init is deleted first.
func (f *SingleFFT) Init(ctx context.Context, circuitSize uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ready {
		if err := f.destroy(ctx); err != nil {
			return err
		}
	}

	ptr, err := f.wasm.Call(ctx, barretenberg.ExportNewEvaluationDomain, circuitSize)
	if err != nil {
		return err
	}
	f.domain = DomainHandle{ptr: ptr}
	f.circuitSize = circuitSize
	f.ready = true
	return nil
}

// Destroy frees the evaluation domain. The SingleFFT is unusable afterwards.
func (f *SingleFFT) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return notReady("destroy")
	}
	return f.destroy(ctx)
}

// destroy deletes the native domain. Caller must hold mu.
func (f *SingleFFT) destroy(ctx context.Context) error {
	f.ready = false
	_, err := f.wasm.Call(ctx, barretenberg.ExportDeleteEvaluationDomain, f.domain.ptr)
	return err
}

// Domain returns the evaluation domain handle.
func (f *SingleFFT) Domain() DomainHandle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.domain
}

// CircuitSize returns the element count the domain was created for.
func (f *SingleFFT) CircuitSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.circuitSize
}

// FFT returns the forward coset transform of coefficients shifted by
// constant. coefficients must hold CircuitSize() field elements and constant
// exactly one. Neither slice is retained or modified.
func (f *SingleFFT) FFT(ctx context.Context, coefficients, constant []byte) ([]byte, error) {
	if len(constant) != FieldElementSize {
		return nil, invalidLength("fft", fmt.Sprintf("constant is %d bytes, want %d", len(constant), FieldElementSize))
	}
	return f.transform(ctx, coefficients, func(ptr uint32) error {
		if err := f.wasm.TransferToHeap(constant, barretenberg.ScratchOffset); err != nil {
			return err
		}
		_, err := f.wasm.Call(ctx, barretenberg.ExportCosetFFT, ptr, barretenberg.ScratchOffset, f.domain.ptr)
		return err
	})
}

// IFFT returns the inverse transform of coefficients, which must hold
// CircuitSize() field elements. coefficients is not retained or modified.
func (f *SingleFFT) IFFT(ctx context.Context, coefficients []byte) ([]byte, error) {
	return f.transform(ctx, coefficients, func(ptr uint32) error {
		_, err := f.wasm.Call(ctx, barretenberg.ExportIFFT, ptr, f.domain.ptr)
		return err
	})
}

// transform copies coefficients into a native buffer, runs invoke on it in
// place and copies the result out. The buffer is freed unless the native
// call trapped.
func (f *SingleFFT) transform(ctx context.Context, coefficients []byte, invoke func(ptr uint32) error) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.ready {
		return nil, notReady("transform")
	}
	if err := f.checkLength(len(coefficients)); err != nil {
		return nil, err
	}

	size := uint32(len(coefficients))
	ptr, err := f.wasm.Call(ctx, barretenberg.ExportMalloc, size)
	if err != nil {
		return nil, err
	}

	result, err := func() ([]byte, error) {
		if err := f.wasm.TransferToHeap(coefficients, ptr); err != nil {
			return nil, err
		}
		if err := invoke(ptr); err != nil {
			return nil, err
		}
		return f.wasm.SliceMemory(ptr, ptr+size)
	}()
	if err != nil {
		f.freePtr(ctx, ptr, err)
		return nil, err
	}

	if _, err := f.wasm.Call(ctx, barretenberg.ExportFree, ptr); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *SingleFFT) checkLength(n int) error {
	if n == 0 || n%FieldElementSize != 0 {
		return invalidLength("transform", fmt.Sprintf("%d bytes is not a non-zero multiple of %d", n, FieldElementSize))
	}
	want := uint64(f.circuitSize) * FieldElementSize
	if want >= uint64(barretenberg.MaxPages)*barretenberg.PageSize {
		return invalidLength("transform", fmt.Sprintf("domain of %d elements does not fit in linear memory", f.circuitSize))
	}
	if uint64(n) != want {
		return invalidLength("transform", fmt.Sprintf("%d bytes, domain expects %d", n, want))
	}
	return nil
}

// freePtr releases ptr after a failed step. A trapped instance cannot run
// bbfree, so nothing is attempted then.
func (f *SingleFFT) freePtr(ctx context.Context, ptr uint32, cause error) {
	if errors.Is(cause, barretenberg.ErrNativeTrap) {
		return
	}
	f.wasm.Call(ctx, barretenberg.ExportFree, ptr)
}

func invalidLength(op, detail string) error {
	return &barretenberg.Error{Kind: barretenberg.KindInvalidLength, Op: op, Detail: detail}
}

func notReady(op string) error {
	return &barretenberg.Error{Kind: barretenberg.KindNotReady, Op: op, Detail: "evaluation domain not initialized"}
}
