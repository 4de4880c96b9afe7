package fft

import (
	"context"
	"errors"
	"fmt"
	"sync"

	barretenberg "github.com/aperturerobotics/go-barretenberg-wasi"
)

// PoolConfig holds configuration for creating a Pool.
type PoolConfig struct {
	// Workers is the number of Wasm instances. Default: 1.
	Workers int
	// CircuitSize is the element count of every worker's domain.
	CircuitSize uint32
	// Wasm configures each worker instance. Module and Name are set per
	// worker.
	Wasm barretenberg.Config
}

// Pool spreads transforms over workers that each own a Wasm instance built
// from one shared Module. A worker runs one transform at a time, so the
// scratch cell of an instance is never written concurrently.
//
// A worker whose instance traps is closed and replaced by a fresh instance
// before it takes more work.
type Pool struct {
	mod *barretenberg.Module
	cfg PoolConfig

	mu      sync.Mutex
	workers []*poolWorker
	idle    chan *poolWorker
}

type poolWorker struct {
	id      int
	wasm    *barretenberg.Wasm
	fft     *SingleFFT
	faulted bool
}

// NewPool creates the workers and their evaluation domains.
// Call Close() when done; mod must outlive the Pool.
func NewPool(ctx context.Context, mod *barretenberg.Module, cfg PoolConfig) (*Pool, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	p := &Pool{
		mod:  mod,
		cfg:  cfg,
		idle: make(chan *poolWorker, cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		worker, err := p.newWorker(ctx, i)
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
		p.workers = append(p.workers, worker)
		p.idle <- worker
	}
	return p, nil
}

func (p *Pool) newWorker(ctx context.Context, id int) (*poolWorker, error) {
	wcfg := p.cfg.Wasm
	wcfg.Module = p.mod
	wcfg.Name = fmt.Sprintf("worker%d", id)

	w, err := barretenberg.New(ctx, &wcfg)
	if err != nil {
		return nil, err
	}
	f := NewSingleFFT(w)
	if err := f.Init(ctx, p.cfg.CircuitSize); err != nil {
		w.Close(ctx)
		return nil, err
	}
	return &poolWorker{id: id, wasm: w, fft: f}, nil
}

// replace swaps a faulted worker for a fresh one. On failure the faulted
// worker is returned and replacement is retried on its next checkout.
func (p *Pool) replace(ctx context.Context, old *poolWorker) (*poolWorker, error) {
	worker, err := p.newWorker(ctx, old.id)
	if err != nil {
		return old, err
	}
	old.wasm.Close(ctx)

	p.mu.Lock()
	p.workers[old.id] = worker
	p.mu.Unlock()
	return worker, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// FFT runs SingleFFT.FFT on an idle worker.
func (p *Pool) FFT(ctx context.Context, coefficients, constant []byte) ([]byte, error) {
	var out []byte
	err := p.run(ctx, func(f *SingleFFT) (err error) {
		out, err = f.FFT(ctx, coefficients, constant)
		return err
	})
	return out, err
}

// IFFT runs SingleFFT.IFFT on an idle worker.
func (p *Pool) IFFT(ctx context.Context, coefficients []byte) ([]byte, error) {
	var out []byte
	err := p.run(ctx, func(f *SingleFFT) (err error) {
		out, err = f.IFFT(ctx, coefficients)
		return err
	})
	return out, err
}

func (p *Pool) run(ctx context.Context, fn func(f *SingleFFT) error) error {
	var worker *poolWorker
	select {
	case worker = <-p.idle:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { p.idle <- worker }()

	if worker.faulted {
		var err error
		if worker, err = p.replace(ctx, worker); err != nil {
			return err
		}
	}

	err := fn(worker.fft)
	if errors.Is(err, barretenberg.ErrNativeTrap) {
		worker.faulted = true
		if next, rerr := p.replace(ctx, worker); rerr == nil {
			worker = next
		}
	}
	return err
}

// Close destroys every domain and closes every worker. It must not be
// called while transforms are running.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, worker := range p.workers {
		if worker.faulted {
			// A trapped instance cannot delete its domain.
			worker.wasm.Close(ctx)
			continue
		}
		if err := worker.fft.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := worker.wasm.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.workers = nil
	return errors.Join(errs...)
}
