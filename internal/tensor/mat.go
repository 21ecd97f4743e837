package tensor

import (
	"fmt"
	"math/rand"
)

// Mat represents a dense row‑major matrix.
//
// R and C represent the number of rows and columns respectively. Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C). Element storage is the embedded Buffer, so the
// matrix carries its own DType.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out‑of‑range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Buffer
}

// NewMat allocates a zero initialised r×c matrix of the given dtype.
func NewMat(r, c int, dt DType) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	buf, err := NewBuffer(dt, r*c)
	if err != nil {
		return Mat{}, err
	}
	return Mat{R: r, C: c, Stride: c, Buffer: buf}, nil
}

// NewMatFromData creates an f32 matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{R: r, C: c, Stride: c, Buffer: BufferF32(data)}
}

// NewMatFromBuffer views buf as an r×c matrix.
func NewMatFromBuffer(r, c int, buf Buffer) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if buf.Len() != r*c {
		return Mat{}, fmt.Errorf("%w: have %d elements, want %dx%d", errShapeMismatch, buf.Len(), r, c)
	}
	return Mat{R: r, C: c, Stride: c, Buffer: buf}, nil
}

// At returns element (i, j) widened to float64.
func (m *Mat) At(i, j int) float64 {
	return m.Buffer.At(i*m.Stride + j)
}

// Set stores v at (i, j).
func (m *Mat) Set(i, j int, v float64) {
	m.Buffer.Set(i*m.Stride+j, v)
}

// RowTo decodes columns [c0, c0+n) of row i into dst.
func (m *Mat) RowTo(dst []float64, i, c0, n int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if c0 < 0 || c0+n > m.C {
		panic("column range out of range")
	}
	m.SpanTo(dst, i*m.Stride+c0, n)
}

// Rows returns the matrix as nested float64 slices, mainly for encoding.
func (m *Mat) Rows() [][]float64 {
	flat := m.Float64s()
	out := make([][]float64, m.R)
	for i := range out {
		out[i] = flat[i*m.Stride : i*m.Stride+m.C]
	}
	return out
}

// FillRand fills an f32 buffer with reproducible pseudo‑random values in
// roughly (-scale/2, scale/2).
func FillRand(data []float32, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * scale
	}
}
