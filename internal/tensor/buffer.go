package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer is a flat, owned sequence of numeric values in a single encoding.
//
// f32 and f64 values are held decoded in Data and Data64 respectively. f16 and
// bf16 values stay in their little-endian byte form in Raw and are decoded
// inline on access, which keeps large embedding arenas at half the size.
// Exactly one of Data, Data64 or Raw is in use, selected by DType.
type Buffer struct {
	DType  DType
	Data   []float32
	Data64 []float64
	Raw    []byte
}

// NewBuffer allocates a zero-initialised buffer of n elements.
func NewBuffer(dt DType, n int) (Buffer, error) {
	if n < 0 {
		return Buffer{}, errNegativeLen
	}
	switch dt {
	case DTypeF32:
		return Buffer{DType: dt, Data: make([]float32, n)}, nil
	case DTypeF64:
		return Buffer{DType: dt, Data64: make([]float64, n)}, nil
	case DTypeF16, DTypeBF16:
		return Buffer{DType: dt, Raw: make([]byte, n*2)}, nil
	default:
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

// BufferF32 wraps data without copying.
func BufferF32(data []float32) Buffer {
	return Buffer{DType: DTypeF32, Data: data}
}

// BufferF64 wraps data without copying.
func BufferF64(data []float64) Buffer {
	return Buffer{DType: DTypeF64, Data64: data}
}

// BufferFromRaw builds a buffer from little-endian encoded bytes. Reduced
// precision payloads are referenced as-is (raw may point into a mapping);
// f32 and f64 payloads are decoded into a fresh slice.
func BufferFromRaw(dt DType, raw []byte) (Buffer, error) {
	size := dt.ElemSize()
	if size == 0 {
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	if len(raw)%size != 0 {
		return Buffer{}, errRawSizeMismatch
	}
	n := len(raw) / size
	switch dt {
	case DTypeF16, DTypeBF16:
		return Buffer{DType: dt, Raw: raw}, nil
	case DTypeF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return BufferF32(out), nil
	default:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return BufferF64(out), nil
	}
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	switch b.DType {
	case DTypeF32:
		return len(b.Data)
	case DTypeF64:
		return len(b.Data64)
	case DTypeF16, DTypeBF16:
		return len(b.Raw) / 2
	default:
		return 0
	}
}

// At returns element i widened to float64.
func (b *Buffer) At(i int) float64 {
	switch b.DType {
	case DTypeF32:
		return float64(b.Data[i])
	case DTypeF64:
		return b.Data64[i]
	case DTypeF16:
		return float64(decodeF16(u16le(b.Raw, i*2)))
	case DTypeBF16:
		return float64(decodeBF16(u16le(b.Raw, i*2)))
	default:
		panic("unsupported dtype for element read")
	}
}

// Set stores v at i, rounding to the buffer's encoding.
func (b *Buffer) Set(i int, v float64) {
	switch b.DType {
	case DTypeF32:
		b.Data[i] = float32(v)
	case DTypeF64:
		b.Data64[i] = v
	case DTypeF16:
		putU16le(b.Raw, i*2, encodeF16(float32(v)))
	case DTypeBF16:
		putU16le(b.Raw, i*2, encodeBF16(float32(v)))
	default:
		panic("unsupported dtype for element write")
	}
}

// Add accumulates v into element i.
func (b *Buffer) Add(i int, v float64) {
	b.Set(i, b.At(i)+v)
}

// SpanTo decodes the n elements starting at off into dst.
func (b *Buffer) SpanTo(dst []float64, off, n int) {
	if len(dst) < n {
		panic("span buffer too small")
	}
	switch b.DType {
	case DTypeF32:
		for j, v := range b.Data[off : off+n] {
			dst[j] = float64(v)
		}
	case DTypeF64:
		copy(dst[:n], b.Data64[off:off+n])
	case DTypeF16:
		raw := b.Raw[off*2 : (off+n)*2]
		for j := range n {
			dst[j] = float64(decodeF16(u16le(raw, j*2)))
		}
	case DTypeBF16:
		raw := b.Raw[off*2 : (off+n)*2]
		for j := range n {
			dst[j] = float64(decodeBF16(u16le(raw, j*2)))
		}
	default:
		panic("unsupported dtype for span decode")
	}
}

// Float32s returns all elements as float32. For f32 buffers the backing slice
// is returned directly.
func (b *Buffer) Float32s() []float32 {
	switch b.DType {
	case DTypeF32:
		return b.Data
	case DTypeBF16:
		return DecodeBF16(b.Raw)
	default:
		out := make([]float32, b.Len())
		for i := range out {
			out[i] = float32(b.At(i))
		}
		return out
	}
}

// Float64s returns all elements widened to float64 in a fresh slice.
func (b *Buffer) Float64s() []float64 {
	out := make([]float64, b.Len())
	if b.DType == DTypeF64 {
		copy(out, b.Data64)
		return out
	}
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Bytes returns the little-endian encoding of the buffer. Reduced precision
// buffers return Raw itself.
func (b *Buffer) Bytes() ([]byte, error) {
	switch b.DType {
	case DTypeF16, DTypeBF16:
		return b.Raw, nil
	case DTypeF32:
		return EncodeRaw(DTypeF32, b.Data)
	case DTypeF64:
		out := make([]byte, 0, len(b.Data64)*8)
		for _, v := range b.Data64 {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, b.DType)
	}
}

var (
	errNegativeLen     = fmtError("negative buffer length")
	errNegativeDim     = fmtError("negative dimension for matrix")
	errRawSizeMismatch = fmtError("raw data length mismatch")
	errShapeMismatch   = fmtError("buffer length does not match shape")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
