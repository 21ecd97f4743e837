package tensor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType identifies the element encoding of a Buffer or Mat.
// Keep these stable; add new values only.
type DType uint8

const (
	DTypeUnknown DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
)

var ErrUnsupportedDType = errors.New("unsupported dtype")

func (dt DType) String() string {
	switch dt {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// ParseDType accepts both the lower-case names used on the command line and
// the upper-case safetensors spellings.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "float":
		return DTypeF32, nil
	case "f16", "float16", "half":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	case "f64", "float64", "double":
		return DTypeF64, nil
	default:
		return DTypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
}

// ElemSize returns the encoded size of one element in bytes.
func (dt DType) ElemSize() int {
	switch dt {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF64:
		return 8
	default:
		return 0
	}
}

// Reduced reports whether dt is a 16-bit float encoding.
func (dt DType) Reduced() bool {
	return dt == DTypeF16 || dt == DTypeBF16
}

// Accumulator returns the element type results are produced in when reading
// values of type dt. Reduced-precision inputs are widened to f32 so long
// reductions do not lose precision; every other type is kept as is.
func (dt DType) Accumulator() DType {
	if dt.Reduced() {
		return DTypeF32
	}
	return dt
}

func u16le(b []byte, off int) uint16 {
	_ = b[off+1]
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func putU16le(b []byte, off int, v uint16) {
	_ = b[off+1]
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func decodeF16(u uint16) float32 {
	return float16.Frombits(u).Float32()
}

func encodeF16(v float32) uint16 {
	return float16.Fromfloat32(v).Bits()
}

func decodeBF16(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func encodeBF16(v float32) uint16 {
	u := math.Float32bits(v)
	if u&0x7FFFFFFF > 0x7F800000 {
		// quiet NaN, keep sign
		return uint16(u>>16) | 0x40
	}
	// round to nearest even on the dropped half
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

// DecodeBF16 converts a little-endian bf16 payload into float32 values.
func DecodeBF16(raw []byte) []float32 {
	return bfloat16.DecodeFloat32(raw)
}

// EncodeRaw encodes vals into the little-endian byte form of dt.
func EncodeRaw(dt DType, vals []float32) ([]byte, error) {
	raw := make([]byte, len(vals)*dt.ElemSize())
	switch dt {
	case DTypeF16:
		for i, v := range vals {
			putU16le(raw, i*2, encodeF16(v))
		}
	case DTypeBF16:
		for i, v := range vals {
			putU16le(raw, i*2, encodeBF16(v))
		}
	case DTypeF32:
		for i, v := range vals {
			u := math.Float32bits(v)
			raw[i*4] = byte(u)
			raw[i*4+1] = byte(u >> 8)
			raw[i*4+2] = byte(u >> 16)
			raw[i*4+3] = byte(u >> 24)
		}
	case DTypeF64:
		for i, v := range vals {
			u := math.Float64bits(float64(v))
			for k := range 8 {
				raw[i*8+k] = byte(u >> (8 * k))
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	return raw, nil
}
