package layout

import "iter"

// Bag is the ragged index range pooled into one (table, batch row) slice of
// the output.
type Bag struct {
	Table int
	Row   int
	Begin int64
	End   int64
}

// Len returns the number of pooled elements, L.
func (b Bag) Len() int { return int(b.End - b.Begin) }

// Empty reports whether the bag pools nothing.
func (b Bag) Empty() bool { return b.End <= b.Begin }

// Bags yields every bag in table-major order.
func (l *Layout) Bags() iter.Seq[Bag] {
	return l.BagRange(0, l.NumBags())
}

// BagRange yields the bags with flat positions k in [lo, hi), where
// k = t*B + b. Parallel callers split [0, NumBags()) into disjoint ranges.
func (l *Layout) BagRange(lo, hi int) iter.Seq[Bag] {
	lo = max(lo, 0)
	hi = min(hi, l.NumBags())
	return func(yield func(Bag) bool) {
		for k := lo; k < hi; k++ {
			if !yield(l.Bag(k/l.b, k%l.b)) {
				return
			}
		}
	}
}

// TableBags yields the B bags of table t.
func (l *Layout) TableBags(t int) iter.Seq[Bag] {
	return l.BagRange(t*l.b, (t+1)*l.b)
}
