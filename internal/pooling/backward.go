package pooling

import (
	"fmt"

	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// BackwardInput carries the caller-owned buffers of one backward call. The
// layout and index buffers are the ones the matching forward call used.
type BackwardInput struct {
	// GradOutput is the upstream gradient of the pooled output, B×total_D.
	GradOutput     tensor.Mat
	Weights        tensor.Buffer
	WeightsOffsets []int64
	DOffsets       []int32
	Indices        []int64
	Offsets        []int64
	// FeatureRequiresGrad gates whole tables. Absent means every table
	// requires a gradient.
	FeatureRequiresGrad Option[[]bool]
}

// BackwardIndiceWeights returns, for every pooled index p, the dot product of
// the grad_output slice of p's bag and the embedding row p looked up. The
// result is parallel to Indices and has GradOutput's element type. Entries of
// tables whose FeatureRequiresGrad flag is false stay exactly zero.
func (k *Kernel) BackwardIndiceWeights(in BackwardInput) (tensor.Buffer, error) {
	l, err := k.decode(&in.Weights, in.WeightsOffsets, in.DOffsets, in.Indices, in.Offsets)
	if err != nil {
		return tensor.Buffer{}, err
	}
	if in.GradOutput.R != l.B() || in.GradOutput.C != l.TotalD() {
		return tensor.Buffer{}, fmt.Errorf("%w: grad_output is %dx%d, want %dx%d",
			ErrShape, in.GradOutput.R, in.GradOutput.C, l.B(), l.TotalD())
	}
	mask, gated := in.FeatureRequiresGrad.Get()
	if gated && len(mask) < l.T() {
		return tensor.Buffer{}, fmt.Errorf("%w: feature_requires_grad has %d entries for %d tables", ErrShape, len(mask), l.T())
	}

	grad, err := tensor.NewBuffer(in.GradOutput.DType, len(in.Indices))
	if err != nil {
		return tensor.Buffer{}, err
	}
	maxD := maxWidth(l)
	k.eachBagRange(l, func(lo, hi int) {
		b := backwardPass{
			l:       l,
			gradOut: &in.GradOutput,
			weights: &in.Weights,
			indices: in.Indices,
			grad:    &grad,
			g:       make([]float64, maxD),
			row:     make([]float64, maxD),
		}
		for bag := range l.BagRange(lo, hi) {
			if gated && !mask[bag.Table] {
				continue
			}
			b.dot(bag)
		}
	})
	return grad, nil
}

type backwardPass struct {
	l       *layout.Layout
	gradOut *tensor.Mat
	weights *tensor.Buffer
	indices []int64
	grad    *tensor.Buffer
	g       []float64
	row     []float64
}

func (b *backwardPass) dot(bag layout.Bag) {
	d := b.l.Width(bag.Table)
	if bag.Empty() || d <= 0 {
		return
	}
	g := b.g[:d]
	b.gradOut.RowTo(g, bag.Row, b.l.DBegin(bag.Table), d)
	row := b.row[:d]
	for p := bag.Begin; p < bag.End; p++ {
		begin := b.l.EmbeddingBegin(bag.Table, b.indices[p])
		b.weights.SpanTo(row, int(begin), d)
		var sum float64
		for j, v := range row {
			sum += g[j] * v
		}
		b.grad.Add(int(p), sum)
	}
}
