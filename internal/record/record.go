package record

import (
	"fmt"
	"math"
	"strings"

	"github.com/tuannm99/lunasql/pkg/bx"
)

// PayloadKind selects the trailer that follows the key columns of a record.
type PayloadKind uint8

const (
	// PayloadNone: plain table record, no trailer.
	PayloadNone PayloadKind = iota
	// PayloadChild: internal index entry, 4-byte child page.
	PayloadChild
	// PayloadPageSlot: leaf index entry, 4-byte page + 4-byte slot.
	PayloadPageSlot
)

const linkSize = 4

// Record is an ordered tuple of values plus the optional index payload.
// Values[i] corresponds to the i-th column of the owning layout.
type Record struct {
	Values []Value
	// Child is the child page id for internal index entries.
	Child uint32
	// Page and Slot locate the table row for leaf index entries.
	Page uint32
	Slot uint32
}

func New(values ...Value) Record {
	return Record{Values: values}
}

// Layout is the precomputed binary layout for records of a fixed column set.
type Layout struct {
	columns   []Column
	payload   PayloadKind
	offsets   []int
	bitmapLen int
	size      int
}

// NewLayout precomputes offsets for the given columns. The null bitmap
// covers exactly the key columns; payload fields are never null.
func NewLayout(columns []Column, payload PayloadKind) *Layout {
	bitmapLen := (len(columns) + 7) / 8
	offsets := make([]int, len(columns))
	off := bitmapLen
	for i, c := range columns {
		offsets[i] = off
		off += c.Type.Size()
	}
	switch payload {
	case PayloadChild:
		off += linkSize
	case PayloadPageSlot:
		off += 2 * linkSize
	}
	return &Layout{
		columns:   columns,
		payload:   payload,
		offsets:   offsets,
		bitmapLen: bitmapLen,
		size:      off,
	}
}

func (l *Layout) Columns() []Column   { return l.columns }
func (l *Layout) Payload() PayloadKind { return l.payload }
func (l *Layout) BitmapLen() int      { return l.bitmapLen }

// Size is the full record size: bitmap + columns + payload.
func (l *Layout) Size() int { return l.size }

// Decode reads one record starting at buf[off].
func (l *Layout) Decode(buf []byte, off int) Record {
	bitmap := buf[off : off+l.bitmapLen]
	values := make([]Value, len(l.columns))
	for i, c := range l.columns {
		if bitmap[i/8]&(1<<(7-uint(i)%8)) != 0 {
			values[i] = Null()
			continue
		}
		field := buf[off+l.offsets[i] : off+l.offsets[i]+c.Type.Size()]
		switch c.Type.Kind {
		case TypeInt:
			values[i] = NewInt(bx.I32(field))
		case TypeFloat:
			values[i] = NewFloat(math.Float64frombits(bx.U64(field)))
		case TypeVarchar:
			values[i] = NewVarchar(strings.TrimRight(string(field), "\x00"))
		case TypeDate:
			values[i] = Value{Kind: KindDate, Str: string(field)}
		}
	}

	rec := Record{Values: values}
	end := off + l.offsetAfterColumns()
	switch l.payload {
	case PayloadChild:
		rec.Child = bx.U32(buf[end:])
	case PayloadPageSlot:
		rec.Page = bx.U32(buf[end:])
		rec.Slot = bx.U32(buf[end+linkSize:])
	}
	return rec
}

// Encode writes the record starting at buf[off]. The region is zeroed first
// so stale bytes from a previous occupant never leak into varchar padding.
func (l *Layout) Encode(buf []byte, off int, rec Record) error {
	if len(rec.Values) != len(l.columns) {
		return fmt.Errorf("record: %d values for %d columns", len(rec.Values), len(l.columns))
	}
	region := buf[off : off+l.size]
	for i := range region {
		region[i] = 0
	}

	for i, c := range l.columns {
		v := rec.Values[i]
		if v.IsNull() {
			region[i/8] |= 1 << (7 - uint(i)%8)
			continue
		}
		field := region[l.offsets[i] : l.offsets[i]+c.Type.Size()]
		switch c.Type.Kind {
		case TypeInt:
			bx.PutI32(field, v.Int)
		case TypeFloat:
			bx.PutU64(field, math.Float64bits(v.Float))
		case TypeVarchar:
			copy(field, v.Str)
		case TypeDate:
			copy(field, v.Str)
		}
	}

	end := l.offsetAfterColumns()
	switch l.payload {
	case PayloadChild:
		bx.PutU32(region[end:], rec.Child)
	case PayloadPageSlot:
		bx.PutU32(region[end:], rec.Page)
		bx.PutU32(region[end+linkSize:], rec.Slot)
	}
	return nil
}

func (l *Layout) offsetAfterColumns() int {
	if len(l.columns) == 0 {
		return l.bitmapLen
	}
	last := len(l.columns) - 1
	return l.offsets[last] + l.columns[last].Type.Size()
}

// Compare orders two records lexicographically over their values, using the
// index total order (Null least, Null equals Null).
func Compare(a, b Record) int {
	return ComparePrefix(a, b, len(a.Values))
}

// ComparePrefix compares only the first n fields of both records. Used for
// partial-key bounds during index range scans.
func ComparePrefix(a, b Record, n int) int {
	for i := 0; i < n && i < len(a.Values) && i < len(b.Values); i++ {
		if c := OrderCompare(a.Values[i], b.Values[i]); c != 0 {
			return c
		}
	}
	return 0
}

// CompareWithLocation compares leaf index entries: key order first, then
// (page, slot) to keep duplicate keys totally ordered.
func CompareWithLocation(a, b Record) int {
	if c := Compare(a, b); c != 0 {
		return c
	}
	switch {
	case a.Page < b.Page:
		return -1
	case a.Page > b.Page:
		return 1
	case a.Slot < b.Slot:
		return -1
	case a.Slot > b.Slot:
		return 1
	}
	return 0
}

// Project returns a new record holding the values at the given column
// indices, in selector order.
func (r Record) Project(indices []int) Record {
	values := make([]Value, len(indices))
	for i, idx := range indices {
		values[i] = r.Values[idx]
	}
	return Record{Values: values}
}

// Apply replaces the values at the given indices and reports whether any
// field actually changed.
func (r *Record) Apply(indices []int, values []Value) bool {
	changed := false
	for i, idx := range indices {
		if r.Values[idx] != values[i] {
			r.Values[idx] = values[i]
			changed = true
		}
	}
	return changed
}

// Clone returns a deep copy; Values of the receiver stay untouched when the
// copy is mutated.
func (r Record) Clone() Record {
	values := make([]Value, len(r.Values))
	copy(values, r.Values)
	return Record{Values: values, Child: r.Child, Page: r.Page, Slot: r.Slot}
}
