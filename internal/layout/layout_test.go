package layout

import (
	"errors"
	"slices"
	"testing"
)

// Two tables, D=[1,2], B=2, bag lengths [1,0,2,1].
func twoTableLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New([]int64{0, 5}, []int32{0, 1, 3}, []int64{0, 1, 1, 3, 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNewRejectsEmptyLayouts(t *testing.T) {
	tests := []struct {
		name           string
		weightsOffsets []int64
		dOffsets       []int32
		offsets        []int64
	}{
		{name: "no D_offsets", weightsOffsets: []int64{0}, dOffsets: nil, offsets: []int64{0, 1}},
		{name: "single D_offset", weightsOffsets: []int64{0}, dOffsets: []int32{0}, offsets: []int64{0, 1}},
		{name: "no offsets", weightsOffsets: []int64{0}, dOffsets: []int32{0, 4}, offsets: nil},
		{name: "offsets shorter than T", weightsOffsets: []int64{0, 0, 0}, dOffsets: []int32{0, 1, 2, 3}, offsets: []int64{0, 1, 2}},
		{name: "short weights_offsets", weightsOffsets: []int64{0}, dOffsets: []int32{0, 1, 2}, offsets: []int64{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.weightsOffsets, tt.dOffsets, tt.offsets); !errors.Is(err, ErrInvalidLayout) {
				t.Fatalf("expected ErrInvalidLayout, got %v", err)
			}
		})
	}
}

func TestDecoderAccessors(t *testing.T) {
	l := twoTableLayout(t)
	if l.T() != 2 || l.B() != 2 || l.NumBags() != 4 {
		t.Fatalf("T=%d B=%d bags=%d", l.T(), l.B(), l.NumBags())
	}
	if l.TotalD() != 3 {
		t.Fatalf("TotalD=%d want 3", l.TotalD())
	}
	if l.Width(0) != 1 || l.Width(1) != 2 {
		t.Fatalf("widths %d,%d", l.Width(0), l.Width(1))
	}
	if l.DBegin(1) != 1 {
		t.Fatalf("DBegin(1)=%d want 1", l.DBegin(1))
	}
	if got := l.EmbeddingBegin(1, 2); got != 9 {
		t.Fatalf("EmbeddingBegin(1,2)=%d want 9", got)
	}
	if got := l.Rows(0, 11); got != 5 {
		t.Fatalf("Rows(0)=%d want 5", got)
	}
	if got := l.Rows(1, 11); got != 3 {
		t.Fatalf("Rows(1)=%d want 3", got)
	}
}

func TestBagsTableMajor(t *testing.T) {
	l := twoTableLayout(t)
	var got []Bag
	for bag := range l.Bags() {
		got = append(got, bag)
	}
	want := []Bag{
		{Table: 0, Row: 0, Begin: 0, End: 1},
		{Table: 0, Row: 1, Begin: 1, End: 1},
		{Table: 1, Row: 0, Begin: 1, End: 3},
		{Table: 1, Row: 1, Begin: 3, End: 4},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("bags=%v want %v", got, want)
	}
	lens := []int{got[0].Len(), got[1].Len(), got[2].Len(), got[3].Len()}
	if !slices.Equal(lens, []int{1, 0, 2, 1}) {
		t.Fatalf("lengths=%v", lens)
	}
	if !got[1].Empty() || got[0].Empty() {
		t.Fatal("Empty mismatch")
	}
}

func TestBagRangeClampsAndStops(t *testing.T) {
	l := twoTableLayout(t)
	n := 0
	for range l.BagRange(-3, 100) {
		n++
	}
	if n != 4 {
		t.Fatalf("clamped range yielded %d bags", n)
	}
	n = 0
	for range l.Bags() {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("early break yielded %d", n)
	}
	for bag := range l.TableBags(1) {
		if bag.Table != 1 {
			t.Fatalf("TableBags(1) yielded table %d", bag.Table)
		}
	}
}

func TestZeroWidthTableHasUnboundedRows(t *testing.T) {
	l, err := New([]int64{0, 0}, []int32{0, 0, 2}, []int64{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if l.Width(0) != 0 {
		t.Fatalf("width=%d", l.Width(0))
	}
	if got := l.Rows(0, 4); got != -1 {
		t.Fatalf("Rows=%d want -1", got)
	}
	if err := l.Validate([]int64{1234, 1}, 4); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int64
		indices []int64
		arena   int64
		want    error
	}{
		{name: "valid", offsets: []int64{0, 1, 1, 3, 4}, indices: []int64{4, 0, 2, 1}, arena: 11},
		{name: "remainder", offsets: []int64{0, 1, 1, 3, 4, 4}, indices: []int64{4, 0, 2, 1}, arena: 11, want: ErrInvalidLayout},
		{name: "decreasing offsets", offsets: []int64{0, 2, 1, 3, 4}, indices: []int64{4, 0, 2, 1}, arena: 11, want: ErrOutOfRange},
		{name: "offsets past indices", offsets: []int64{0, 1, 1, 3, 5}, indices: []int64{4, 0, 2, 1}, arena: 11, want: ErrOutOfRange},
		{name: "index past table", offsets: []int64{0, 1, 1, 3, 4}, indices: []int64{5, 0, 2, 1}, arena: 11, want: ErrOutOfRange},
		{name: "index past last table", offsets: []int64{0, 1, 1, 3, 4}, indices: []int64{4, 0, 3, 1}, arena: 11, want: ErrOutOfRange},
		{name: "negative index", offsets: []int64{0, 1, 1, 3, 4}, indices: []int64{-1, 0, 2, 1}, arena: 11, want: ErrOutOfRange},
		{name: "table offset past arena", offsets: []int64{0, 1, 1, 3, 4}, indices: []int64{4, 0, 2, 1}, arena: 4, want: ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New([]int64{0, 5}, []int32{0, 1, 3}, tt.offsets)
			if err != nil {
				t.Fatal(err)
			}
			err = l.Validate(tt.indices, tt.arena)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}
}
