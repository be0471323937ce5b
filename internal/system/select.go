package system

import (
	"fmt"
	"sort"

	"github.com/tuannm99/lunasql/internal/heap"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

func (s *System) execSelect(st *ast.Select) (*Result, error) {
	tables := make([]*heap.Table, len(st.Tables))
	for i, name := range st.Tables {
		tbl, err := s.openTable(name)
		if err != nil {
			return nil, err
		}
		tables[i] = tbl
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("select: no tables")
	}

	// Combined row shape of the join, with per-table boundaries.
	combined := &rowSchema{}
	boundaries := make([]int, len(tables)+1)
	for i, tbl := range tables {
		combined = combined.append(tableRowSchema(tbl.Meta()))
		boundaries[i+1] = len(combined.cols)
	}

	// Each predicate runs as soon as its last referenced table is scanned.
	predsFor := make([][]ast.WhereClause, len(tables))
	for _, w := range st.Where {
		ti, err := s.lastTableOf(w, combined, boundaries)
		if err != nil {
			return nil, err
		}
		predsFor[ti] = append(predsFor[ti], w)
	}

	rows, err := s.joinRows(tables, combined, boundaries, predsFor)
	if err != nil {
		return nil, err
	}

	hasAggregate := false
	for _, item := range st.Selectors.Items {
		if _, ok := item.(*ast.AggregateItem); ok {
			hasAggregate = true
		}
	}

	var outCols []string
	var outRows []record.Record
	if hasAggregate {
		outCols, outRows, err = s.aggregate(st, combined, rows)
		if err != nil {
			return nil, err
		}
		if err := orderOutput(st.OrderBy, outCols, outRows); err != nil {
			return nil, err
		}
	} else {
		outCols, outRows, err = s.projectPlain(st, tables, combined, rows)
		if err != nil {
			return nil, err
		}
	}

	outRows = sliceRows(outRows, st.Offset, st.Limit)
	return rowsResult(outCols, outRows), nil
}

// lastTableOf returns the highest table index a predicate references.
func (s *System) lastTableOf(w ast.WhereClause, combined *rowSchema, boundaries []int) (int, error) {
	refs, err := predRefs(w, combined)
	if err != nil {
		return 0, err
	}
	last := 0
	for _, gi := range refs {
		for t := 0; t+1 < len(boundaries); t++ {
			if gi >= boundaries[t] && gi < boundaries[t+1] && t > last {
				last = t
			}
		}
	}
	return last, nil
}

func predRefs(w ast.WhereClause, combined *rowSchema) ([]int, error) {
	var refs []ast.ColumnRef
	switch p := w.(type) {
	case *ast.ComparePred:
		refs = append(refs, p.Left)
		if c, ok := p.Right.(*ast.Column); ok {
			refs = append(refs, c.Ref)
		}
	case *ast.NullPred:
		refs = append(refs, p.Ref)
	case *ast.LikePred:
		refs = append(refs, p.Ref)
	case *ast.InPred:
		refs = append(refs, p.Ref)
	}
	out := make([]int, len(refs))
	for i, r := range refs {
		gi, err := combined.resolve(r)
		if err != nil {
			return nil, err
		}
		out[i] = gi
	}
	return out, nil
}

// joinRows nested-loops over the tables in declaration order. For every
// outer row the inner predicates are localized (outer references replaced
// by literals), which lets the inner scan use an index on the join column.
func (s *System) joinRows(tables []*heap.Table, combined *rowSchema, boundaries []int, predsFor [][]ast.WhereClause) ([]record.Record, error) {
	acc := []record.Record{{}}
	for ti, tbl := range tables {
		var next []record.Record
		for _, outer := range acc {
			local, err := s.localizePreds(predsFor[ti], combined, boundaries[ti], boundaries[ti+1], outer)
			if err != nil {
				return nil, err
			}
			err = s.scanTable(tbl, local, func(rec record.Record, page, slot uint32) error {
				values := make([]record.Value, 0, len(outer.Values)+len(rec.Values))
				values = append(values, outer.Values...)
				values = append(values, rec.Values...)
				next = append(next, record.Record{Values: values})
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		acc = next
	}
	return acc, nil
}

// localizePreds rewrites predicates so that references to already-scanned
// tables become literals carrying the outer row's values.
func (s *System) localizePreds(preds []ast.WhereClause, combined *rowSchema, start, end int, outer record.Record) ([]ast.WhereClause, error) {
	out := make([]ast.WhereClause, 0, len(preds))
	for _, w := range preds {
		p, ok := w.(*ast.ComparePred)
		if !ok {
			out = append(out, w)
			continue
		}
		li, err := combined.resolve(p.Left)
		if err != nil {
			return nil, err
		}
		rewritten := *p
		if c, isCol := p.Right.(*ast.Column); isCol {
			ri, err := combined.resolve(c.Ref)
			if err != nil {
				return nil, err
			}
			if li >= start && li < end && ri < start {
				rewritten.Right = &ast.Literal{Value: outer.Values[ri]}
			} else if ri >= start && ri < end && li < start {
				// Flip so the inner column sits on the left.
				rewritten.Left = c.Ref
				rewritten.Op = mirrorOp(p.Op)
				rewritten.Right = &ast.Literal{Value: outer.Values[li]}
			}
		}
		out = append(out, &rewritten)
	}
	return out, nil
}

func mirrorOp(op ast.CompareOp) ast.CompareOp {
	switch op {
	case ast.OpLt:
		return ast.OpGt
	case ast.OpLe:
		return ast.OpGe
	case ast.OpGt:
		return ast.OpLt
	case ast.OpGe:
		return ast.OpLe
	default:
		return op
	}
}

// ----- aggregation -----

func selectorName(item ast.Selector) string {
	switch it := item.(type) {
	case *ast.ColumnItem:
		return it.Ref.String()
	case *ast.AggregateItem:
		if it.Ref == nil {
			return fmt.Sprintf("%s(*)", it.Func)
		}
		return fmt.Sprintf("%s(%s)", it.Func, it.Ref.String())
	}
	return "?"
}

// aggregate runs the grouped (or global) aggregation step: one output row
// per group, columns in selector order.
func (s *System) aggregate(st *ast.Select, combined *rowSchema, rows []record.Record) ([]string, []record.Record, error) {
	groupIdx := -1
	if st.GroupBy != nil {
		gi, err := combined.resolve(*st.GroupBy)
		if err != nil {
			return nil, nil, err
		}
		groupIdx = gi
	}

	// Validate selectors: plain columns are only allowed when they are the
	// group-by column itself.
	type outCol struct {
		name     string
		agg      *ast.AggregateItem
		inputIdx int // aggregate input column, -1 for COUNT(*)
		isGroup  bool
	}
	var cols []outCol
	if st.Selectors.All {
		return nil, nil, fmt.Errorf("select *: %w", ErrMixedAggregate)
	}
	for _, item := range st.Selectors.Items {
		switch it := item.(type) {
		case *ast.ColumnItem:
			gi, err := combined.resolve(it.Ref)
			if err != nil {
				return nil, nil, err
			}
			if groupIdx < 0 || gi != groupIdx {
				return nil, nil, fmt.Errorf("%q: %w", it.Ref.String(), ErrMixedAggregate)
			}
			cols = append(cols, outCol{name: selectorName(item), isGroup: true})
		case *ast.AggregateItem:
			idx := -1
			if it.Ref != nil {
				gi, err := combined.resolve(*it.Ref)
				if err != nil {
					return nil, nil, err
				}
				idx = gi
			}
			cols = append(cols, outCol{name: selectorName(item), agg: it, inputIdx: idx})
		}
	}

	// Partition rows by group value; group order follows first appearance.
	var groupKeys []record.Value
	groups := make(map[record.Value][]record.Record)
	if groupIdx >= 0 {
		for _, row := range rows {
			key := row.Values[groupIdx]
			if _, ok := groups[key]; !ok {
				groupKeys = append(groupKeys, key)
			}
			groups[key] = append(groups[key], row)
		}
	} else {
		groupKeys = append(groupKeys, record.Null())
		groups[record.Null()] = rows
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	var out []record.Record
	for _, key := range groupKeys {
		groupRows := groups[key]
		values := make([]record.Value, len(cols))
		for i, c := range cols {
			if c.isGroup {
				values[i] = key
				continue
			}
			values[i] = computeAggregate(c.agg.Func, c.inputIdx, groupRows)
		}
		out = append(out, record.Record{Values: values})
	}
	return names, out, nil
}

// computeAggregate applies one aggregator over a group. Null inputs are
// ignored; an all-Null input yields Null (COUNT yields 0).
func computeAggregate(f ast.AggFunc, colIdx int, rows []record.Record) record.Value {
	if f == ast.AggCount {
		if colIdx < 0 {
			return record.NewInt(int32(len(rows)))
		}
		n := 0
		for _, r := range rows {
			if !r.Values[colIdx].IsNull() {
				n++
			}
		}
		return record.NewInt(int32(n))
	}

	var (
		seen     bool
		intSum   int64
		floatSum float64
		isFloat  bool
		best     record.Value
		count    int
	)
	for _, r := range rows {
		v := r.Values[colIdx]
		if v.IsNull() {
			continue
		}
		count++
		switch f {
		case ast.AggSum, ast.AggAvg:
			switch v.Kind {
			case record.KindInt:
				intSum += int64(v.Int)
			case record.KindFloat:
				isFloat = true
				floatSum += v.Float
			}
		case ast.AggMin:
			if !seen || record.OrderCompare(v, best) < 0 {
				best = v
			}
		case ast.AggMax:
			if !seen || record.OrderCompare(v, best) > 0 {
				best = v
			}
		}
		seen = true
	}
	if !seen {
		return record.Null()
	}
	switch f {
	case ast.AggSum:
		if isFloat {
			return record.NewFloat(floatSum + float64(intSum))
		}
		return record.NewInt(int32(intSum))
	case ast.AggAvg:
		// Integer sums promote to float on division.
		return record.NewFloat((floatSum + float64(intSum)) / float64(count))
	default:
		return best
	}
}

// orderOutput sorts aggregated rows by an output column name.
func orderOutput(ob *ast.OrderBy, columns []string, rows []record.Record) error {
	if ob == nil {
		return nil
	}
	idx := -1
	for i, name := range columns {
		if name == ob.Column.String() || name == ob.Column.Column {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("order by %q: %w", ob.Column.String(), schema.ErrUnknownColumn)
	}
	sortRows(rows, idx, ob.Desc)
	return nil
}

func sortRows(rows []record.Record, idx int, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := record.OrderCompare(rows[i].Values[idx], rows[j].Values[idx])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// ----- plain projection -----

func (s *System) projectPlain(st *ast.Select, tables []*heap.Table, combined *rowSchema, rows []record.Record) ([]string, []record.Record, error) {
	qualify := len(tables) > 1

	var indices []int
	var names []string
	if st.Selectors.All {
		for gi, c := range combined.cols {
			indices = append(indices, gi)
			if qualify {
				names = append(names, c.table+"."+c.name)
			} else {
				names = append(names, c.name)
			}
		}
	} else {
		for _, item := range st.Selectors.Items {
			it, ok := item.(*ast.ColumnItem)
			if !ok {
				return nil, nil, fmt.Errorf("select: %w", ErrMixedAggregate)
			}
			gi, err := combined.resolve(it.Ref)
			if err != nil {
				return nil, nil, err
			}
			indices = append(indices, gi)
			names = append(names, selectorName(item))
		}
	}

	// Sort on the full row first, then project: equivalent to carrying the
	// order-by column as an auxiliary projection and dropping it after.
	if st.OrderBy != nil {
		gi, err := combined.resolve(st.OrderBy.Column)
		if err != nil {
			return nil, nil, err
		}
		sortRows(rows, gi, st.OrderBy.Desc)
	}

	out := make([]record.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Project(indices)
	}
	return names, out, nil
}

func sliceRows(rows []record.Record, offset, limit *int) []record.Record {
	if offset != nil {
		if *offset >= len(rows) {
			return nil
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
