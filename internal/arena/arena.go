// Package arena loads, saves and generates packed embedding arenas: one flat
// weight buffer holding every table, plus the offset arrays that locate each
// table and its width.
package arena

import (
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/bagpool/internal/safetensors"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// Tensor names inside an arena file.
const (
	NameWeights        = "weights"
	NameWeightsOffsets = "weights_offsets"
	NameDOffsets       = "D_offsets"
)

// Arena is a set of embedding tables packed into one buffer.
type Arena struct {
	Weights        tensor.Buffer
	WeightsOffsets []int64
	DOffsets       []int32

	file *safetensors.File
}

// Table describes one packed table.
type Table struct {
	Index  int   `json:"index"`
	Offset int64 `json:"offset"`
	Width  int   `json:"width"`
	Rows   int64 `json:"rows"`
}

// T returns the number of tables.
func (a *Arena) T() int { return len(a.DOffsets) - 1 }

// TotalD returns the summed table width.
func (a *Arena) TotalD() int {
	if len(a.DOffsets) == 0 {
		return 0
	}
	return int(a.DOffsets[len(a.DOffsets)-1])
}

// Tables lists each table's offset, width and row count. Row counts come from
// the distance to the next table (or the end of the buffer); zero-width
// tables report 0 rows.
func (a *Arena) Tables() []Table {
	n := a.T()
	if n <= 0 {
		return nil
	}
	out := make([]Table, n)
	for t := range n {
		width := int(a.DOffsets[t+1] - a.DOffsets[t])
		end := int64(a.Weights.Len())
		if t+1 < n {
			end = a.WeightsOffsets[t+1]
		}
		var rows int64
		if width > 0 {
			rows = (end - a.WeightsOffsets[t]) / int64(width)
		}
		out[t] = Table{Index: t, Offset: a.WeightsOffsets[t], Width: width, Rows: rows}
	}
	return out
}

// Close releases the backing file of a loaded arena. Weights must not be used
// afterwards when they alias the mapping.
func (a *Arena) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Load opens an arena file. f16/bf16 weights alias the file mapping; f32/f64
// weights are decoded into memory.
func Load(path string) (*Arena, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := fromFile(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func fromFile(f *safetensors.File) (*Arena, error) {
	raw, info, err := f.ReadTensor(NameWeights)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 1 {
		return nil, fmt.Errorf("%s: expected 1D tensor, got shape %v", NameWeights, info.Shape)
	}
	dt, err := tensor.ParseDType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", NameWeights, err)
	}
	weights, err := tensor.BufferFromRaw(dt, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", NameWeights, err)
	}
	wo, err := f.ReadInt64s(NameWeightsOffsets)
	if err != nil {
		return nil, err
	}
	do, err := f.ReadInt32s(NameDOffsets)
	if err != nil {
		return nil, err
	}
	if len(do) != len(wo)+1 {
		return nil, fmt.Errorf("%s has %d entries, %s has %d; want T and T+1", NameWeightsOffsets, len(wo), NameDOffsets, len(do))
	}
	a := &Arena{Weights: weights, WeightsOffsets: wo, DOffsets: do}
	if dt.Reduced() {
		a.file = f
	} else {
		_ = f.Close()
	}
	return a, nil
}

// Save writes a to path.
func Save(path string, a *Arena) error {
	raw, err := a.Weights.Bytes()
	if err != nil {
		return err
	}
	return safetensors.Write(path, []safetensors.Entry{
		{Name: NameWeights, DType: strings.ToUpper(a.Weights.DType.String()), Shape: []int{a.Weights.Len()}, Data: raw},
		{Name: NameWeightsOffsets, DType: "I64", Shape: []int{len(a.WeightsOffsets)}, Data: safetensors.Int64Bytes(a.WeightsOffsets)},
		{Name: NameDOffsets, DType: "I32", Shape: []int{len(a.DOffsets)}, Data: safetensors.Int32Bytes(a.DOffsets)},
	}, map[string]string{"format": "bagpool-arena"})
}

// TableStats summarises the values of one table.
type TableStats struct {
	Index   int     `json:"index"`
	Min     float32 `json:"min"`
	Max     float32 `json:"max"`
	MeanAbs float64 `json:"mean_abs"`
}

// Stats decodes the weights once and reports per-table value ranges. Tables
// with no elements, or whose block falls outside the weights, report zeros.
func (a *Arena) Stats() []TableStats {
	vals := a.Weights.Float32s()
	tables := a.Tables()
	out := make([]TableStats, len(tables))
	for i, t := range tables {
		out[i].Index = t.Index
		n := t.Rows * int64(t.Width)
		if n <= 0 || t.Offset < 0 || t.Offset+n > int64(len(vals)) {
			continue
		}
		block := vals[t.Offset : t.Offset+n]
		lo, hi := block[0], block[0]
		var sum float64
		for _, v := range block {
			lo = min(lo, v)
			hi = max(hi, v)
			sum += math.Abs(float64(v))
		}
		out[i].Min, out[i].Max = lo, hi
		out[i].MeanAbs = sum / float64(n)
	}
	return out
}
