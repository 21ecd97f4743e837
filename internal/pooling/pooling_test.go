package pooling

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// twoTables is T=2, D=[1,2], B=2 with bag lengths [1,0,2,1].
// Table 0 has 5 rows {1..5}; table 1 has 3 rows {10,11}, {20,21}, {30,31}.
func twoTables() ForwardInput {
	return ForwardInput{
		Weights:        tensor.BufferF32([]float32{1, 2, 3, 4, 5, 10, 11, 20, 21, 30, 31}),
		WeightsOffsets: []int64{0, 5},
		DOffsets:       []int32{0, 1, 3},
		TotalD:         3,
		Indices:        []int64{4, 0, 2, 1},
		Offsets:        []int64{0, 1, 1, 3, 4},
	}
}

func assertMat(t *testing.T, got tensor.Mat, want [][]float64, tol float64) {
	t.Helper()
	if got.R != len(want) || got.C != len(want[0]) {
		t.Fatalf("shape %dx%d want %dx%d", got.R, got.C, len(want), len(want[0]))
	}
	for i := range want {
		for j := range want[i] {
			if d := math.Abs(got.At(i, j) - want[i][j]); d > tol {
				t.Fatalf("out[%d][%d]=%v want %v", i, j, got.At(i, j), want[i][j])
			}
		}
	}
}

func assertBuffer(t *testing.T, got tensor.Buffer, want []float64, tol float64) {
	t.Helper()
	if got.Len() != len(want) {
		t.Fatalf("len=%d want %d", got.Len(), len(want))
	}
	for i, w := range want {
		if d := math.Abs(got.At(i) - w); d > tol {
			t.Fatalf("grad[%d]=%v want %v", i, got.At(i), w)
		}
	}
}

func TestForwardTwoTablesSum(t *testing.T) {
	in := twoTables()
	out, err := Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.DType != tensor.DTypeF32 {
		t.Fatalf("dtype=%s want f32", out.DType)
	}
	assertMat(t, out, [][]float64{{5, 40, 42}, {0, 20, 21}}, 0)
}

func TestForwardTwoTablesMean(t *testing.T) {
	in := twoTables()
	in.Mode = ModeMean
	out, err := Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	assertMat(t, out, [][]float64{{5, 20, 21}, {0, 20, 21}}, 0)
}

func TestForwardAllBagsEmptyIsZero(t *testing.T) {
	for _, mode := range []Mode{ModeSum, ModeMean} {
		in := twoTables()
		in.Mode = mode
		in.Indices = nil
		in.Offsets = []int64{0, 0, 0, 0, 0}
		out, err := Forward(in)
		if err != nil {
			t.Fatal(err)
		}
		assertMat(t, out, [][]float64{{0, 0, 0}, {0, 0, 0}}, 0)
	}
}

func TestForwardSingleScalarTable(t *testing.T) {
	weights := []float32{1.5, -2, 4, 0.25}
	tests := []struct {
		name    string
		indices []int64
		mode    Mode
		want    float64
	}{
		{name: "sum", indices: []int64{0, 1, 2, 3}, mode: ModeSum, want: 3.75},
		{name: "mean", indices: []int64{0, 1, 2, 3}, mode: ModeMean, want: 3.75 / 4},
		{name: "sum repeated", indices: []int64{2, 2, 2}, mode: ModeSum, want: 12},
		{name: "mean empty", indices: nil, mode: ModeMean, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Forward(ForwardInput{
				Weights:        tensor.BufferF32(weights),
				WeightsOffsets: []int64{0},
				DOffsets:       []int32{0, 1},
				TotalD:         1,
				Indices:        tt.indices,
				Offsets:        []int64{0, int64(len(tt.indices))},
				Mode:           tt.mode,
			})
			if err != nil {
				t.Fatal(err)
			}
			assertMat(t, out, [][]float64{{tt.want}}, 1e-6)
		})
	}
}

func TestForwardLinearInIndiceWeights(t *testing.T) {
	iw := []float32{0.5, -1, 2, 3}
	base := twoTables()
	base.IndiceWeights = Some(tensor.BufferF32(iw))
	ref, err := Forward(base)
	if err != nil {
		t.Fatal(err)
	}
	const c = 2.5
	scaled := make([]float32, len(iw))
	for i, v := range iw {
		scaled[i] = v * c
	}
	in := twoTables()
	in.IndiceWeights = Some(tensor.BufferF32(scaled))
	out, err := Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	for i := range out.R {
		for j := range out.C {
			want := c * ref.At(i, j)
			if math.Abs(out.At(i, j)-want) > 1e-4 {
				t.Fatalf("out[%d][%d]=%v want %v", i, j, out.At(i, j), want)
			}
		}
	}
}

func TestForwardMeanIgnoresBagLengthWithIndiceWeights(t *testing.T) {
	in := twoTables()
	in.Mode = ModeMean
	in.IndiceWeights = Some(tensor.BufferF32([]float32{1, 1, 1, 1}))
	out, err := Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	// Same as SUM: the 1/L factor is not applied when weights are given.
	assertMat(t, out, [][]float64{{5, 40, 42}, {0, 20, 21}}, 0)
}

func TestForwardReducedPrecisionUpcasts(t *testing.T) {
	vals := []float32{1, 2, 3, 4, 5, 10, 11, 20, 21, 30, 31}
	for _, dt := range []tensor.DType{tensor.DTypeF16, tensor.DTypeBF16} {
		raw, err := tensor.EncodeRaw(dt, vals)
		if err != nil {
			t.Fatal(err)
		}
		weights, err := tensor.BufferFromRaw(dt, raw)
		if err != nil {
			t.Fatal(err)
		}
		for _, mode := range []Mode{ModeSum, ModeMean} {
			for _, weighted := range []bool{false, true} {
				in := twoTables()
				in.Weights = weights
				in.Mode = mode
				if weighted {
					in.IndiceWeights = Some(tensor.BufferF32([]float32{1, 1, 1, 1}))
				}
				out, err := Forward(in)
				if err != nil {
					t.Fatal(err)
				}
				if out.DType != tensor.DTypeF32 {
					t.Fatalf("%s mode=%s weighted=%v: output dtype %s want f32", dt, mode, weighted, out.DType)
				}
			}
		}
	}
}

func TestForwardF64StaysF64(t *testing.T) {
	in := twoTables()
	in.Weights = tensor.BufferF64([]float64{1, 2, 3, 4, 5, 10, 11, 20, 21, 30, 31})
	out, err := Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.DType != tensor.DTypeF64 {
		t.Fatalf("dtype=%s want f64", out.DType)
	}
	assertMat(t, out, [][]float64{{5, 40, 42}, {0, 20, 21}}, 0)
}

func TestForwardZeroWidthTable(t *testing.T) {
	out, err := Forward(ForwardInput{
		Weights:        tensor.BufferF32([]float32{7, 8}),
		WeightsOffsets: []int64{0, 0},
		DOffsets:       []int32{0, 0, 1},
		TotalD:         1,
		Indices:        []int64{99, 1},
		Offsets:        []int64{0, 1, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertMat(t, out, [][]float64{{8}}, 0)
}

func TestForwardErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ForwardInput)
		want   error
	}{
		{name: "no tables", mutate: func(in *ForwardInput) { in.DOffsets = []int32{0} }, want: layout.ErrInvalidLayout},
		{name: "no batch", mutate: func(in *ForwardInput) { in.Offsets = []int64{0, 1} }, want: layout.ErrInvalidLayout},
		{name: "total_D mismatch", mutate: func(in *ForwardInput) { in.TotalD = 4 }, want: layout.ErrInvalidLayout},
		{name: "none mode", mutate: func(in *ForwardInput) { in.Mode = ModeNone }, want: ErrUnsupportedMode},
		{name: "short indice weights", mutate: func(in *ForwardInput) {
			in.IndiceWeights = Some(tensor.BufferF32([]float32{1}))
		}, want: ErrShape},
		{name: "unknown dtype", mutate: func(in *ForwardInput) { in.Weights = tensor.Buffer{} }, want: tensor.ErrUnsupportedDType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := twoTables()
			tt.mutate(&in)
			if _, err := Forward(in); !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestStrictRejectsOutOfRangeIndex(t *testing.T) {
	in := twoTables()
	in.Indices = []int64{4, 0, 3, 1}
	k := New(Options{Strict: true})
	if _, err := k.Forward(in); !errors.Is(err, layout.ErrOutOfRange) {
		t.Fatalf("forward: got %v want ErrOutOfRange", err)
	}
	grad := tensor.NewMatFromData(2, 3, make([]float32, 6))
	_, err := k.BackwardIndiceWeights(BackwardInput{
		GradOutput:     grad,
		Weights:        in.Weights,
		WeightsOffsets: in.WeightsOffsets,
		DOffsets:       in.DOffsets,
		Indices:        in.Indices,
		Offsets:        in.Offsets,
	})
	if !errors.Is(err, layout.ErrOutOfRange) {
		t.Fatalf("backward: got %v want ErrOutOfRange", err)
	}
}

func TestBackwardDotProduct(t *testing.T) {
	grad, err := BackwardIndiceWeights(BackwardInput{
		GradOutput:     tensor.NewMatFromData(1, 2, []float32{5, 6}),
		Weights:        tensor.BufferF32([]float32{1, 2, 3, 4}),
		WeightsOffsets: []int64{0},
		DOffsets:       []int32{0, 2},
		Indices:        []int64{0, 1},
		Offsets:        []int64{0, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertBuffer(t, grad, []float64{17, 39}, 0)
}

func twoTablesBackward() BackwardInput {
	in := twoTables()
	return BackwardInput{
		GradOutput:     tensor.NewMatFromData(2, 3, []float32{1, 2, 3, 4, 5, 6}),
		Weights:        in.Weights,
		WeightsOffsets: in.WeightsOffsets,
		DOffsets:       in.DOffsets,
		Indices:        in.Indices,
		Offsets:        in.Offsets,
	}
}

func TestBackwardTwoTables(t *testing.T) {
	grad, err := BackwardIndiceWeights(twoTablesBackward())
	if err != nil {
		t.Fatal(err)
	}
	if grad.DType != tensor.DTypeF32 {
		t.Fatalf("dtype=%s want f32", grad.DType)
	}
	assertBuffer(t, grad, []float64{5, 53, 153, 226}, 0)
}

func TestBackwardFeatureRequiresGradGating(t *testing.T) {
	tests := []struct {
		mask []bool
		want []float64
	}{
		{mask: []bool{false, true}, want: []float64{0, 53, 153, 226}},
		{mask: []bool{true, false}, want: []float64{5, 0, 0, 0}},
		{mask: []bool{false, false}, want: []float64{0, 0, 0, 0}},
		{mask: []bool{true, true}, want: []float64{5, 53, 153, 226}},
	}
	for _, tt := range tests {
		in := twoTablesBackward()
		in.FeatureRequiresGrad = Some(tt.mask)
		grad, err := BackwardIndiceWeights(in)
		if err != nil {
			t.Fatal(err)
		}
		assertBuffer(t, grad, tt.want, 0)
	}
}

func TestBackwardKeepsGradOutputDType(t *testing.T) {
	raw, err := tensor.EncodeRaw(tensor.DTypeF16, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := tensor.BufferFromRaw(tensor.DTypeF16, raw)
	if err != nil {
		t.Fatal(err)
	}
	in := twoTablesBackward()
	in.GradOutput, err = tensor.NewMatFromBuffer(2, 3, buf)
	if err != nil {
		t.Fatal(err)
	}
	grad, err := BackwardIndiceWeights(in)
	if err != nil {
		t.Fatal(err)
	}
	if grad.DType != tensor.DTypeF16 {
		t.Fatalf("dtype=%s want f16", grad.DType)
	}
	// All values are small integers, exact in f16.
	assertBuffer(t, grad, []float64{5, 53, 153, 226}, 0)
}

func TestBackwardErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BackwardInput)
		want   error
	}{
		{name: "no tables", mutate: func(in *BackwardInput) { in.DOffsets = nil }, want: layout.ErrInvalidLayout},
		{name: "no batch", mutate: func(in *BackwardInput) { in.Offsets = []int64{0} }, want: layout.ErrInvalidLayout},
		{name: "grad rows", mutate: func(in *BackwardInput) {
			in.GradOutput = tensor.NewMatFromData(1, 3, []float32{1, 2, 3})
		}, want: ErrShape},
		{name: "grad cols", mutate: func(in *BackwardInput) {
			in.GradOutput = tensor.NewMatFromData(2, 2, []float32{1, 2, 3, 4})
		}, want: ErrShape},
		{name: "short mask", mutate: func(in *BackwardInput) { in.FeatureRequiresGrad = Some([]bool{true}) }, want: ErrShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := twoTablesBackward()
			tt.mutate(&in)
			if _, err := BackwardIndiceWeights(in); !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestOption(t *testing.T) {
	var zero Option[[]bool]
	if zero.IsSome() {
		t.Fatal("zero option should be absent")
	}
	if None[int]().IsSome() {
		t.Fatal("None should be absent")
	}
	v, ok := Some(3).Get()
	if !ok || v != 3 {
		t.Fatalf("Some(3).Get()=%v,%v", v, ok)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"sum": ModeSum, "MEAN": ModeMean, "avg": ModeMean} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("max"); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
	var m Mode
	if err := m.UnmarshalText([]byte("mean")); err != nil || m != ModeMean {
		t.Fatalf("UnmarshalText: %v %v", m, err)
	}
	for in, want := range map[string]Mode{`1`: ModeMean, `"sum"`: ModeSum, `0`: ModeSum} {
		var got Mode
		if err := got.UnmarshalJSON([]byte(in)); err != nil || got != want {
			t.Fatalf("UnmarshalJSON(%s)=%v,%v want %v", in, got, err, want)
		}
	}
	if err := m.UnmarshalJSON([]byte(`2`)); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode for code 2, got %v", err)
	}
	if _, err := ModeNone.MarshalText(); err == nil {
		t.Fatal("expected error marshalling ModeNone")
	}
}

// randomProblem builds T tables of mixed width with random bag lengths,
// including empty bags and a zero-width table.
func randomProblem(seed int64, b int) (ForwardInput, []float32) {
	rng := rand.New(rand.NewSource(seed))
	widths := []int32{3, 0, 8, 1, 16}
	rows := []int64{17, 4, 9, 40, 6}
	t := len(widths)

	dOffsets := make([]int32, t+1)
	weightsOffsets := make([]int64, t)
	var arena int64
	for i := range t {
		dOffsets[i+1] = dOffsets[i] + widths[i]
		weightsOffsets[i] = arena
		arena += rows[i] * int64(widths[i])
	}
	weights := make([]float32, arena)
	tensor.FillRand(weights, seed, 2)

	offsets := make([]int64, t*b+1)
	var indices []int64
	for i := range t {
		for j := range b {
			l := rng.Intn(6)
			for range l {
				indices = append(indices, rng.Int63n(rows[i]))
			}
			offsets[i*b+j+1] = int64(len(indices))
		}
	}
	iw := make([]float32, len(indices))
	tensor.FillRand(iw, seed+1, 4)

	return ForwardInput{
		Weights:        tensor.BufferF32(weights),
		WeightsOffsets: weightsOffsets,
		DOffsets:       dOffsets,
		TotalD:         int(dOffsets[t]),
		Indices:        indices,
		Offsets:        offsets,
	}, iw
}

// forwardNaive is the direct triple loop over (t, b, p, d).
func forwardNaive(in ForwardInput, iw []float32) [][]float64 {
	t := len(in.DOffsets) - 1
	b := (len(in.Offsets) - 1) / t
	out := make([][]float64, b)
	for i := range out {
		out[i] = make([]float64, in.TotalD)
	}
	for ti := range t {
		d := int64(in.DOffsets[ti+1] - in.DOffsets[ti])
		for bi := range b {
			begin, end := in.Offsets[ti*b+bi], in.Offsets[ti*b+bi+1]
			scale := 1.0
			if in.Mode == ModeMean && iw == nil && end > begin {
				scale = 1 / float64(end-begin)
			}
			for p := begin; p < end; p++ {
				w := 1.0
				if iw != nil {
					w = float64(iw[p])
				}
				e := in.WeightsOffsets[ti] + in.Indices[p]*d
				for k := range d {
					out[bi][int64(in.DOffsets[ti])+k] += scale * w * in.Weights.At(int(e+k))
				}
			}
		}
	}
	return out
}

func TestForwardMatchesNaiveAcrossWorkers(t *testing.T) {
	in, iw := randomProblem(11, 300)
	for _, mode := range []Mode{ModeSum, ModeMean} {
		for _, weights := range [][]float32{nil, iw} {
			in.Mode = mode
			in.IndiceWeights = None[tensor.Buffer]()
			if weights != nil {
				in.IndiceWeights = Some(tensor.BufferF32(weights))
			}
			want := forwardNaive(in, weights)
			for _, workers := range []int{1, 3, AutoWorkers} {
				out, err := New(Options{Workers: workers, Strict: true}).Forward(in)
				if err != nil {
					t.Fatal(err)
				}
				assertMat(t, out, want, 1e-4)
			}
		}
	}
}

func TestBackwardMatchesNaiveAcrossWorkers(t *testing.T) {
	in, _ := randomProblem(23, 300)
	b := (len(in.Offsets) - 1) / (len(in.DOffsets) - 1)
	g := make([]float32, b*in.TotalD)
	tensor.FillRand(g, 5, 2)
	gradOut := tensor.NewMatFromData(b, in.TotalD, g)
	mask := []bool{true, true, false, true, true}

	want := make([]float64, len(in.Indices))
	for ti := range len(in.DOffsets) - 1 {
		if !mask[ti] {
			continue
		}
		d := int64(in.DOffsets[ti+1] - in.DOffsets[ti])
		for bi := range b {
			for p := in.Offsets[ti*b+bi]; p < in.Offsets[ti*b+bi+1]; p++ {
				e := in.WeightsOffsets[ti] + in.Indices[p]*d
				for k := range d {
					want[p] += gradOut.At(bi, int(int64(in.DOffsets[ti])+k)) * in.Weights.At(int(e+k))
				}
			}
		}
	}

	for _, workers := range []int{1, 4, AutoWorkers} {
		grad, err := New(Options{Workers: workers}).BackwardIndiceWeights(BackwardInput{
			GradOutput:          gradOut,
			Weights:             in.Weights,
			WeightsOffsets:      in.WeightsOffsets,
			DOffsets:            in.DOffsets,
			Indices:             in.Indices,
			Offsets:             in.Offsets,
			FeatureRequiresGrad: Some(mask),
		})
		if err != nil {
			t.Fatal(err)
		}
		assertBuffer(t, grad, want, 1e-4)
	}
}

func BenchmarkForwardSum(b *testing.B) {
	in, _ := randomProblem(1, 2048)
	k := New(Options{})
	for b.Loop() {
		if _, err := k.Forward(in); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkForwardSumParallel(b *testing.B) {
	in, _ := randomProblem(1, 2048)
	k := New(Options{Workers: AutoWorkers})
	for b.Loop() {
		if _, err := k.Forward(in); err != nil {
			b.Fatal(err)
		}
	}
}
