// Package layout decodes the packed multi-table embedding layout: where each
// table starts in the flat weight arena, how wide its rows are, and which
// slice of the ragged index array belongs to each (table, batch row) bag.
package layout

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLayout reports offset arrays that describe no tables or no
	// batch rows. It is always checked.
	ErrInvalidLayout = errors.New("invalid layout")
	// ErrOutOfRange reports offsets or indices pointing outside their
	// buffers. It is only produced by Validate.
	ErrOutOfRange = errors.New("layout value out of range")
)

// Layout is a read-only view over the caller's offset arrays.
//
// weightsOffsets[t] is the arena position of table t's first row.
// dOffsets has T+1 entries; table t spans output columns
// [dOffsets[t], dOffsets[t+1]). offsets has T*B+1 entries laid out
// table-major, so bag (t, b) covers indices [offsets[t*B+b], offsets[t*B+b+1]).
type Layout struct {
	weightsOffsets []int64
	dOffsets       []int32
	offsets        []int64
	t, b           int
}

// New checks the two always-enforced preconditions (T > 0 and B > 0) and
// returns a decoder over the given slices. The slices are not copied.
//
// B is derived as (len(offsets)-1)/T; a remainder is not rejected here, see
// Validate.
func New(weightsOffsets []int64, dOffsets []int32, offsets []int64) (*Layout, error) {
	t := len(dOffsets) - 1
	if t <= 0 {
		return nil, fmt.Errorf("%w: D_offsets has %d entries, need at least 2", ErrInvalidLayout, len(dOffsets))
	}
	b := (len(offsets) - 1) / t
	if b <= 0 {
		return nil, fmt.Errorf("%w: offsets has %d entries for %d tables", ErrInvalidLayout, len(offsets), t)
	}
	if len(weightsOffsets) < t {
		return nil, fmt.Errorf("%w: weights_offsets has %d entries for %d tables", ErrInvalidLayout, len(weightsOffsets), t)
	}
	return &Layout{
		weightsOffsets: weightsOffsets,
		dOffsets:       dOffsets,
		offsets:        offsets,
		t:              t,
		b:              b,
	}, nil
}

// T returns the number of tables.
func (l *Layout) T() int { return l.t }

// B returns the batch size.
func (l *Layout) B() int { return l.b }

// NumBags returns T*B.
func (l *Layout) NumBags() int { return l.t * l.b }

// TotalD returns the summed width of all tables, i.e. D_offsets[T].
func (l *Layout) TotalD() int { return int(l.dOffsets[l.t]) }

// Width returns D_t.
func (l *Layout) Width(t int) int {
	return int(l.dOffsets[t+1] - l.dOffsets[t])
}

// DBegin returns the first output column owned by table t.
func (l *Layout) DBegin(t int) int { return int(l.dOffsets[t]) }

// TableBegin returns the arena position of table t's row 0.
func (l *Layout) TableBegin(t int) int64 { return l.weightsOffsets[t] }

// EmbeddingBegin returns the arena position of row idx of table t.
func (l *Layout) EmbeddingBegin(t int, idx int64) int64 {
	return l.weightsOffsets[t] + idx*int64(l.Width(t))
}

// Bag returns the bag for table t and batch row b.
func (l *Layout) Bag(t, b int) Bag {
	k := t*l.b + b
	return Bag{
		Table: t,
		Row:   b,
		Begin: l.offsets[k],
		End:   l.offsets[k+1],
	}
}

// Rows returns the number of rows table t holds in an arena of arenaLen
// elements, derived from the distance to the next table's offset (or the end
// of the arena for the last table). Zero-width tables report -1: any index is
// acceptable since nothing is read.
func (l *Layout) Rows(t int, arenaLen int64) int64 {
	d := int64(l.Width(t))
	if d == 0 {
		return -1
	}
	end := arenaLen
	if t+1 < l.t {
		end = l.weightsOffsets[t+1]
	}
	span := end - l.weightsOffsets[t]
	if span < 0 {
		return 0
	}
	return span / d
}
