package layout

import "fmt"

// Validate performs the checks New leaves to the caller: the offsets length
// divides evenly by T, widths and bag boundaries are non-decreasing, every
// bag lies within indices, and every index addresses a row inside its table
// for an arena of arenaLen elements.
//
// Inputs that pass Validate produce identical results with or without it.
func (l *Layout) Validate(indices []int64, arenaLen int64) error {
	if rem := (len(l.offsets) - 1) % l.t; rem != 0 {
		return fmt.Errorf("%w: offsets length %d is not T*B+1 for T=%d", ErrInvalidLayout, len(l.offsets), l.t)
	}
	for t := range l.t {
		if l.dOffsets[t+1] < l.dOffsets[t] {
			return fmt.Errorf("%w: D_offsets decreases at table %d", ErrOutOfRange, t)
		}
		if l.weightsOffsets[t] < 0 || l.weightsOffsets[t] > arenaLen {
			return fmt.Errorf("%w: weights_offsets[%d]=%d outside arena of %d", ErrOutOfRange, t, l.weightsOffsets[t], arenaLen)
		}
		if t > 0 && l.weightsOffsets[t] < l.weightsOffsets[t-1] {
			return fmt.Errorf("%w: weights_offsets decreases at table %d", ErrOutOfRange, t)
		}
	}
	if l.dOffsets[0] < 0 {
		return fmt.Errorf("%w: D_offsets[0]=%d", ErrOutOfRange, l.dOffsets[0])
	}

	n := int64(len(indices))
	prev := l.offsets[0]
	if prev < 0 || prev > n {
		return fmt.Errorf("%w: offsets[0]=%d outside %d indices", ErrOutOfRange, prev, n)
	}
	for k, off := range l.offsets[1 : l.NumBags()+1] {
		if off < prev || off > n {
			return fmt.Errorf("%w: offsets[%d]=%d (previous %d, %d indices)", ErrOutOfRange, k+1, off, prev, n)
		}
		prev = off
	}

	for t := range l.t {
		rows := l.Rows(t, arenaLen)
		if rows < 0 {
			continue
		}
		for bag := range l.TableBags(t) {
			for p := bag.Begin; p < bag.End; p++ {
				if idx := indices[p]; idx < 0 || idx >= rows {
					return fmt.Errorf("%w: indices[%d]=%d, table %d has %d rows", ErrOutOfRange, p, idx, t, rows)
				}
			}
		}
	}
	return nil
}
