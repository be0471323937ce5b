package system

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

// insert validates every row of the batch (types, defaults, constraints,
// in-batch duplicates) before applying any of them.
func (s *System) insert(st *ast.Insert) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}

	recs := make([]record.Record, 0, len(st.Rows))
	batch := newBatchState()
	for _, row := range st.Rows {
		rec, err := validateRow(tbl.Meta(), row)
		if err != nil {
			return nil, err
		}
		if err := s.checkRowConstraints(tbl, rec, nil, batch); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	for _, rec := range recs {
		page, slot, err := tbl.Insert(rec)
		if err != nil {
			return nil, err
		}
		if err := s.indexInsert(tbl, rec, page, slot); err != nil {
			return nil, err
		}
	}
	return affectedResult(len(recs)), nil
}

func (s *System) delete(st *ast.Delete) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}

	type match struct {
		rec  record.Record
		page uint32
		slot uint32
	}
	var matches []match
	err = s.scanTable(tbl, st.Where, func(rec record.Record, page, slot uint32) error {
		matches = append(matches, match{rec: rec, page: page, slot: slot})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Restrict checks run over the whole match set before any row goes.
	for _, m := range matches {
		if err := s.checkReferred(tbl, m.rec, nil); err != nil {
			return nil, err
		}
	}
	for _, m := range matches {
		if err := tbl.DeleteAt(m.page, m.slot); err != nil {
			return nil, err
		}
		if err := s.indexRemove(tbl, m.rec, m.page, m.slot); err != nil {
			return nil, err
		}
	}
	return affectedResult(len(matches)), nil
}

func (s *System) update(st *ast.Update) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()

	// Resolve SET pairs once: column indices and coerced values.
	indices := make([]int, len(st.Sets))
	values := make([]record.Value, len(st.Sets))
	for i, set := range st.Sets {
		idx, err := meta.ColumnIndex(set.Column)
		if err != nil {
			return nil, err
		}
		col := meta.Schema.Columns[idx]
		v := set.Value
		if v.IsNull() {
			if col.Default != nil {
				v = *col.Default
			} else if !col.Nullable {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrNullViolation)
			}
		} else {
			if v, err = coerceValue(v, col); err != nil {
				return nil, err
			}
		}
		indices[i] = idx
		values[i] = v
	}

	type plan struct {
		before record.Record
		after  record.Record
		page   uint32
		slot   uint32
	}
	var plans []plan
	err = s.scanTable(tbl, st.Where, func(rec record.Record, page, slot uint32) error {
		after := rec.Clone()
		if !after.Apply(indices, values) {
			// Only rows whose values actually changed count.
			return nil
		}
		plans = append(plans, plan{before: rec, after: after, page: page, slot: slot})
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch := newBatchState()
	for _, p := range plans {
		loc := &location{page: p.page, slot: p.slot}
		if err := s.checkRowConstraints(tbl, p.after, loc, batch); err != nil {
			return nil, err
		}
		if err := s.checkReferred(tbl, p.before, &p.after); err != nil {
			return nil, err
		}
	}
	for _, p := range plans {
		if err := tbl.UpdateAt(p.page, p.slot, p.after); err != nil {
			return nil, err
		}
		if err := s.indexUpdate(tbl, p.before, p.after, p.page, p.slot); err != nil {
			return nil, err
		}
	}
	return affectedResult(len(plans)), nil
}

// load bulk-inserts CSV rows. Coercion failures abort the statement; rows
// already loaded stay (streaming, no pre-validation pass).
func (s *System) load(st *ast.Load) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()

	f, err := os.Open(st.Path)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", st.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if st.Delimiter != "" {
		runes := []rune(st.Delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("delimiter %q: %w", st.Delimiter, ErrBadFormat)
		}
		reader.Comma = runes[0]
	}
	reader.FieldsPerRecord = len(meta.Schema.Columns)

	count := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrBadFormat)
		}
		values := make([]record.Value, len(fields))
		for i, field := range fields {
			v, err := record.FromString(field, meta.Schema.Columns[i].Type)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v: %w", count+1, err, ErrBadFormat)
			}
			values[i] = v
		}
		rec, err := validateRow(meta, values)
		if err != nil {
			return nil, err
		}
		if err := s.checkRowConstraints(tbl, rec, nil, nil); err != nil {
			return nil, err
		}
		page, slot, err := tbl.Insert(rec)
		if err != nil {
			return nil, err
		}
		if err := s.indexInsert(tbl, rec, page, slot); err != nil {
			return nil, err
		}
		count++
	}
	slog.Info("load finished", "table", st.Table, "rows", count)
	return affectedResult(count), nil
}
