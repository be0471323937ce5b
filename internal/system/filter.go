package system

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

// rowColumn is one column of a (possibly joined) row shape.
type rowColumn struct {
	table  string
	name   string
	column record.Column
}

// rowSchema describes the shape of rows flowing through a statement and
// resolves AST column references against it.
type rowSchema struct {
	cols []rowColumn
}

func tableRowSchema(meta *schema.Meta) *rowSchema {
	rs := &rowSchema{}
	for _, c := range meta.Schema.Columns {
		rs.cols = append(rs.cols, rowColumn{table: meta.Name, name: c.Name, column: c})
	}
	return rs
}

func (rs *rowSchema) append(other *rowSchema) *rowSchema {
	out := &rowSchema{cols: make([]rowColumn, 0, len(rs.cols)+len(other.cols))}
	out.cols = append(out.cols, rs.cols...)
	out.cols = append(out.cols, other.cols...)
	return out
}

// resolve maps a column reference to its index. Unqualified names must be
// unambiguous across the joined tables.
func (rs *rowSchema) resolve(ref ast.ColumnRef) (int, error) {
	found := -1
	for i, c := range rs.cols {
		if c.name != ref.Column {
			continue
		}
		if ref.Table != "" && c.table != ref.Table {
			continue
		}
		if found >= 0 {
			return 0, fmt.Errorf("%q: %w", ref.String(), ErrInexactColumn)
		}
		found = i
	}
	if found < 0 {
		return 0, fmt.Errorf("%q: %w", ref.String(), schema.ErrUnknownColumn)
	}
	return found, nil
}

// evalWhere evaluates one predicate against a row. SQL comparison
// semantics: any comparison observing Null is false; only IS [NOT] NULL
// sees Null.
func (rs *rowSchema) evalWhere(row record.Record, w ast.WhereClause) (bool, error) {
	switch p := w.(type) {
	case *ast.ComparePred:
		li, err := rs.resolve(p.Left)
		if err != nil {
			return false, err
		}
		left := row.Values[li]
		var right record.Value
		switch e := p.Right.(type) {
		case *ast.Literal:
			right = e.Value
		case *ast.Column:
			ri, err := rs.resolve(e.Ref)
			if err != nil {
				return false, err
			}
			right = row.Values[ri]
		default:
			return false, fmt.Errorf("system: unsupported expression %T", p.Right)
		}
		return evalCompare(left, p.Op, right)
	case *ast.NullPred:
		i, err := rs.resolve(p.Ref)
		if err != nil {
			return false, err
		}
		isNull := row.Values[i].IsNull()
		if p.Not {
			return !isNull, nil
		}
		return isNull, nil
	case *ast.LikePred:
		i, err := rs.resolve(p.Ref)
		if err != nil {
			return false, err
		}
		v := row.Values[i]
		if v.IsNull() {
			return false, nil
		}
		re, err := likeRegexp(p.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(v.Str), nil
	case *ast.InPred:
		i, err := rs.resolve(p.Ref)
		if err != nil {
			return false, err
		}
		v := row.Values[i]
		for _, cand := range p.Values {
			cmp, ok := record.CompareValues(v, cand)
			if ok && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("system: unsupported predicate %T", w)
	}
}

func evalCompare(left record.Value, op ast.CompareOp, right record.Value) (bool, error) {
	cmp, ok := record.CompareValues(left, right)
	if !ok {
		// Null on either side: every comparison operator yields false.
		return false, nil
	}
	switch op {
	case ast.OpEq:
		return cmp == 0, nil
	case ast.OpNe:
		return cmp != 0, nil
	case ast.OpLt:
		return cmp < 0, nil
	case ast.OpLe:
		return cmp <= 0, nil
	case ast.OpGt:
		return cmp > 0, nil
	case ast.OpGe:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("system: unknown operator %v", op)
	}
}

// evalAll applies every predicate; rows pass only when all do.
func (rs *rowSchema) evalAll(row record.Record, where []ast.WhereClause) (bool, error) {
	for _, w := range where {
		ok, err := rs.evalWhere(row, w)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// likeRegexp translates a LIKE pattern: % becomes .*, _ becomes ., all
// other metacharacters are escaped, anchored at both ends.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
