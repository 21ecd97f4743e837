package arena

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/bagpool/internal/tensor"
)

// GenConfig describes a synthetic arena.
type GenConfig struct {
	Rows  []int64 // rows per table; a single entry applies to every table
	Dims  []int   // width per table
	DType tensor.DType
	Seed  int64
	Scale float32 // values fall in (-Scale/2, Scale/2); 0 means 0.02
}

// Generate builds an arena of random tables packed back to back.
func Generate(cfg GenConfig) (*Arena, error) {
	t := len(cfg.Dims)
	if t == 0 {
		return nil, errors.New("generate: at least one table is required")
	}
	rows := cfg.Rows
	switch len(rows) {
	case t:
	case 1:
		rows = make([]int64, t)
		for i := range rows {
			rows[i] = cfg.Rows[0]
		}
	default:
		return nil, fmt.Errorf("generate: %d row counts for %d tables", len(cfg.Rows), t)
	}
	scale := cfg.Scale
	if scale == 0 {
		scale = 0.02
	}

	a := &Arena{
		WeightsOffsets: make([]int64, t),
		DOffsets:       make([]int32, t+1),
	}
	var total int64
	for i, d := range cfg.Dims {
		if d < 0 || rows[i] < 0 {
			return nil, fmt.Errorf("generate: table %d has negative shape %dx%d", i, rows[i], d)
		}
		a.WeightsOffsets[i] = total
		a.DOffsets[i+1] = a.DOffsets[i] + int32(d)
		total += rows[i] * int64(d)
	}

	vals := make([]float32, total)
	tensor.FillRand(vals, cfg.Seed, scale)
	switch cfg.DType {
	case tensor.DTypeF32, tensor.DTypeUnknown:
		a.Weights = tensor.BufferF32(vals)
	case tensor.DTypeF64:
		wide := make([]float64, len(vals))
		for i, v := range vals {
			wide[i] = float64(v)
		}
		a.Weights = tensor.BufferF64(wide)
	default:
		raw, err := tensor.EncodeRaw(cfg.DType, vals)
		if err != nil {
			return nil, err
		}
		a.Weights = tensor.Buffer{DType: cfg.DType, Raw: raw}
	}
	return a, nil
}

// Batch is a synthetic set of bags over an arena.
type Batch struct {
	Indices []int64
	Offsets []int64
}

// RandomBatch draws B bags per table with lengths uniform in
// [0, 2*poolingFactor], so the mean bag length is poolingFactor.
func (a *Arena) RandomBatch(seed int64, b, poolingFactor int) Batch {
	rng := rand.New(rand.NewSource(seed))
	poolingFactor = max(poolingFactor, 0)
	tables := a.Tables()
	offsets := make([]int64, len(tables)*b+1)
	indices := make([]int64, 0, len(tables)*b*poolingFactor)
	for _, tbl := range tables {
		for j := range b {
			n := rng.Intn(2*poolingFactor + 1)
			if tbl.Rows == 0 && tbl.Width > 0 {
				n = 0
			}
			for range n {
				var idx int64
				if tbl.Rows > 0 {
					idx = rng.Int63n(tbl.Rows)
				}
				indices = append(indices, idx)
			}
			offsets[tbl.Index*b+j+1] = int64(len(indices))
		}
	}
	return Batch{Indices: indices, Offsets: offsets}
}
