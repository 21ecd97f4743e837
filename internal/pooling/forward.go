package pooling

import (
	"fmt"

	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// ForwardInput carries the caller-owned buffers of one forward call.
type ForwardInput struct {
	Weights        tensor.Buffer
	WeightsOffsets []int64
	DOffsets       []int32
	TotalD         int
	Indices        []int64
	Offsets        []int64
	Mode           Mode
	// IndiceWeights scales each pooled row. When absent every weight is 1
	// and MEAN pooling divides by the bag length.
	IndiceWeights Option[tensor.Buffer]
}

// Forward pools every (table, batch row) bag into a B×total_D matrix.
//
// Output element type follows Weights, except f16/bf16 weights which produce
// f32. MEAN pooling combined with IndiceWeights does not divide by the bag
// length; the weights are applied as given.
func (k *Kernel) Forward(in ForwardInput) (tensor.Mat, error) {
	l, err := k.decode(&in.Weights, in.WeightsOffsets, in.DOffsets, in.Indices, in.Offsets)
	if err != nil {
		return tensor.Mat{}, err
	}
	if !in.Mode.valid() {
		return tensor.Mat{}, fmt.Errorf("%w: %s", ErrUnsupportedMode, in.Mode)
	}
	if in.TotalD != l.TotalD() {
		return tensor.Mat{}, fmt.Errorf("%w: total_D=%d but D_offsets[T]=%d", layout.ErrInvalidLayout, in.TotalD, l.TotalD())
	}
	iw, weighted := in.IndiceWeights.Get()
	if weighted && iw.Len() != len(in.Indices) {
		return tensor.Mat{}, fmt.Errorf("%w: %d indice weights for %d indices", ErrShape, iw.Len(), len(in.Indices))
	}

	out, err := tensor.NewMat(l.B(), in.TotalD, in.Weights.DType.Accumulator())
	if err != nil {
		return tensor.Mat{}, err
	}
	maxD := maxWidth(l)
	k.eachBagRange(l, func(lo, hi int) {
		f := forwardPass{
			l:        l,
			weights:  &in.Weights,
			indices:  in.Indices,
			mode:     in.Mode,
			iw:       &iw,
			weighted: weighted,
			out:      &out,
			acc:      make([]float64, maxD),
			row:      make([]float64, maxD),
		}
		for bag := range l.BagRange(lo, hi) {
			f.pool(bag)
		}
	})
	return out, nil
}

// forwardPass owns the scratch rows of one worker.
type forwardPass struct {
	l        *layout.Layout
	weights  *tensor.Buffer
	indices  []int64
	mode     Mode
	iw       *tensor.Buffer
	weighted bool
	out      *tensor.Mat
	acc      []float64
	row      []float64
}

func (f *forwardPass) pool(bag layout.Bag) {
	if bag.Empty() {
		return
	}
	d := f.l.Width(bag.Table)
	if d <= 0 {
		return
	}
	scale := 1.0
	if f.mode == ModeMean && !f.weighted {
		scale = 1.0 / float64(bag.Len())
	}

	acc := f.acc[:d]
	clear(acc)
	row := f.row[:d]
	for p := bag.Begin; p < bag.End; p++ {
		begin := f.l.EmbeddingBegin(bag.Table, f.indices[p])
		f.weights.SpanTo(row, int(begin), d)
		w := scale
		if f.weighted {
			w *= f.iw.At(int(p))
		}
		for j, v := range row {
			acc[j] += w * v
		}
	}

	base := bag.Row*f.out.Stride + f.l.DBegin(bag.Table)
	switch f.out.DType {
	case tensor.DTypeF32:
		dst := f.out.Data[base : base+d]
		for j, v := range acc {
			dst[j] += float32(v)
		}
	case tensor.DTypeF64:
		dst := f.out.Data64[base : base+d]
		for j, v := range acc {
			dst[j] += v
		}
	default:
		for j, v := range acc {
			f.out.Buffer.Add(base+j, v)
		}
	}
}

func maxWidth(l *layout.Layout) int {
	w := 0
	for t := range l.T() {
		w = max(w, l.Width(t))
	}
	return w
}
