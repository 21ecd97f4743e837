// Package pooling implements the CPU embedding-bag kernels: pooled forward
// lookup over many packed tables, and the gradient of the per-index pooling
// weights.
package pooling

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/tensor"
)

var (
	ErrUnsupportedMode = errors.New("unsupported pooling mode")
	// ErrShape reports an input whose length or shape disagrees with the
	// layout (indice weights, grad output, feature mask, output width).
	ErrShape = errors.New("shape mismatch")
)

// minBagsPerTask keeps tiny batches from paying goroutine overhead.
const minBagsPerTask = 64

// Options configures a Kernel.
type Options struct {
	// Workers bounds the number of goroutines sharing one call. Values below
	// 2 run sequentially; AutoWorkers uses GOMAXPROCS. Parallel runs assume
	// non-decreasing D_offsets and offsets, so enable Strict for untrusted
	// input.
	Workers int
	// Strict runs layout.Validate before computing.
	Strict bool
}

// AutoWorkers requests one worker per available CPU.
const AutoWorkers = -1

// Kernel runs forward and backward passes. It holds no per-call state and is
// safe for concurrent use.
type Kernel struct {
	opts Options
}

func New(opts Options) *Kernel {
	if opts.Workers == AutoWorkers {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Kernel{opts: opts}
}

func (k *Kernel) Options() Options { return k.opts }

var sequential = New(Options{})

// Forward runs ForwardPooling sequentially without strict validation.
func Forward(in ForwardInput) (tensor.Mat, error) {
	return sequential.Forward(in)
}

// BackwardIndiceWeights runs the indice-weight gradient sequentially without
// strict validation.
func BackwardIndiceWeights(in BackwardInput) (tensor.Buffer, error) {
	return sequential.BackwardIndiceWeights(in)
}

func (k *Kernel) decode(weights *tensor.Buffer, weightsOffsets []int64, dOffsets []int32, indices, offsets []int64) (*layout.Layout, error) {
	l, err := layout.New(weightsOffsets, dOffsets, offsets)
	if err != nil {
		return nil, err
	}
	if weights.DType.ElemSize() == 0 {
		return nil, fmt.Errorf("weights: %w: %s", tensor.ErrUnsupportedDType, weights.DType)
	}
	if k.opts.Strict {
		if err := l.Validate(indices, int64(weights.Len())); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// eachBagRange calls fn over disjoint flat bag ranges covering
// [0, l.NumBags()). fn must only write state owned by its range.
func (k *Kernel) eachBagRange(l *layout.Layout, fn func(lo, hi int)) {
	n := l.NumBags()
	workers := min(k.opts.Workers, (n+minBagsPerTask-1)/minBagsPerTask)
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
