package system

import (
	"log/slog"

	"github.com/tuannm99/lunasql/internal/btree"
	"github.com/tuannm99/lunasql/internal/heap"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

// indexScan is a resolved index range: iterate from the lower bound and
// stop past the upper bound. Bound lengths count the compared key prefix;
// a zero lower length starts at the first entry.
type indexScan struct {
	tree           *btree.Tree
	lower          record.Record
	lowerLen       int
	lowerExclusive bool
	upper          record.Record
	upperLen       int
	upperExclusive bool
}

// matchIndex finds an index whose leading columns are covered by equality
// predicates, optionally followed by one range predicate on the next
// column. Predicates must compare a column of this table against a
// literal.
func (s *System) matchIndex(tbl *heap.Table, where []ast.WhereClause) *indexScan {
	meta := tbl.Meta()

	eq := make(map[string]record.Value)
	type rangeBound struct {
		value     record.Value
		exclusive bool
	}
	lower := make(map[string]rangeBound)
	upper := make(map[string]rangeBound)

	for _, w := range where {
		p, ok := w.(*ast.ComparePred)
		if !ok {
			continue
		}
		if p.Left.Table != "" && p.Left.Table != tbl.Name {
			continue
		}
		if !meta.HasColumn(p.Left.Column) {
			continue
		}
		lit, ok := p.Right.(*ast.Literal)
		if !ok || lit.Value.IsNull() {
			continue
		}
		col := p.Left.Column
		switch p.Op {
		case ast.OpEq:
			if _, dup := eq[col]; !dup {
				eq[col] = lit.Value
			}
		case ast.OpGt:
			lower[col] = rangeBound{value: lit.Value, exclusive: true}
		case ast.OpGe:
			lower[col] = rangeBound{value: lit.Value}
		case ast.OpLt:
			upper[col] = rangeBound{value: lit.Value, exclusive: true}
		case ast.OpLe:
			upper[col] = rangeBound{value: lit.Value}
		}
	}
	if len(eq) == 0 && len(lower) == 0 && len(upper) == 0 {
		return nil
	}

	for _, is := range meta.Schema.Indexes {
		var prefix []record.Value
		for _, col := range is.Columns {
			v, ok := eq[col]
			if !ok {
				break
			}
			prefix = append(prefix, v)
		}

		sc := &indexScan{}
		covered := len(prefix)
		if covered < len(is.Columns) {
			// One range predicate may extend the equality prefix.
			next := is.Columns[covered]
			lo, hasLo := lower[next]
			hi, hasHi := upper[next]
			if covered == 0 && !hasLo && !hasHi {
				continue
			}
			sc.lower = record.Record{Values: append([]record.Value(nil), prefix...)}
			sc.upper = record.Record{Values: append([]record.Value(nil), prefix...)}
			sc.lowerLen, sc.upperLen = covered, covered
			if hasLo {
				sc.lower.Values = append(sc.lower.Values, lo.value)
				sc.lowerLen++
				sc.lowerExclusive = lo.exclusive
			}
			if hasHi {
				sc.upper.Values = append(sc.upper.Values, hi.value)
				sc.upperLen++
				sc.upperExclusive = hi.exclusive
			}
			if sc.lowerLen == 0 && sc.upperLen == 0 {
				continue
			}
		} else {
			// Full equality cover.
			sc.lower = record.Record{Values: prefix}
			sc.upper = record.Record{Values: prefix}
			sc.lowerLen, sc.upperLen = covered, covered
		}

		tree, err := s.indexTree(tbl, is)
		if err != nil {
			continue
		}
		sc.tree = tree
		slog.Debug("index matched", "table", tbl.Name, "index", is.Name,
			"eq_prefix", sc.upperLen)
		return sc
	}
	return nil
}

// scanIndex walks the matched range, fetching rows by their (page, slot).
func (s *System) scanIndex(tbl *heap.Table, sc *indexScan, fn func(rec record.Record, page, slot uint32) error) error {
	var it *btree.Iterator
	var err error
	if sc.lowerLen > 0 {
		it, err = sc.tree.Search(sc.lower, sc.lowerLen)
	} else {
		it, err = sc.tree.First()
	}
	if err != nil || it == nil {
		return err
	}
	for {
		e, err := it.Entry()
		if err != nil {
			return err
		}
		if sc.lowerExclusive && record.ComparePrefix(e, sc.lower, sc.lowerLen) == 0 {
			ok, err := it.Next()
			if err != nil || !ok {
				return err
			}
			continue
		}
		if sc.upperLen > 0 {
			cmp := record.ComparePrefix(e, sc.upper, sc.upperLen)
			if cmp > 0 || (cmp == 0 && sc.upperExclusive) {
				return nil
			}
		}
		rec, err := tbl.Get(e.Page, e.Slot)
		if err != nil {
			return err
		}
		if err := fn(rec, e.Page, e.Slot); err != nil {
			return err
		}
		ok, err := it.Next()
		if err != nil || !ok {
			return err
		}
	}
}

// scanTable produces the rows of one table passing all predicates, using a
// matched index range when one applies and a heap scan otherwise. All
// predicates are re-checked against fetched rows, so consumed bounds need
// no bookkeeping.
func (s *System) scanTable(tbl *heap.Table, where []ast.WhereClause, fn func(rec record.Record, page, slot uint32) error) error {
	rs := tableRowSchema(tbl.Meta())
	visit := func(rec record.Record, page, slot uint32) error {
		ok, err := rs.evalAll(rec, where)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return fn(rec, page, slot)
	}
	if sc := s.matchIndex(tbl, where); sc != nil {
		return s.scanIndex(tbl, sc, visit)
	}
	return tbl.Scan(visit)
}
