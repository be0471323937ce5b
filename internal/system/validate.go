package system

import (
	"fmt"

	"github.com/tuannm99/lunasql/internal/btree"
	"github.com/tuannm99/lunasql/internal/heap"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
)

// location names a stored row.
type location struct {
	page uint32
	slot uint32
}

func hasNull(values []record.Value) bool {
	for _, v := range values {
		if v.IsNull() {
			return true
		}
	}
	return false
}

// keyRecord projects the named columns out of a row into an index key
// carrying the row's location.
func keyRecord(meta *schema.Meta, columns []string, rec record.Record, page, slot uint32) (record.Record, error) {
	values := make([]record.Value, len(columns))
	for i, name := range columns {
		idx, err := meta.ColumnIndex(name)
		if err != nil {
			return record.Record{}, err
		}
		values[i] = rec.Values[idx]
	}
	return record.Record{Values: values, Page: page, Slot: slot}, nil
}

// indexHasKey reports whether any entry matches the key exactly (all key
// fields, ignoring location).
func indexHasKey(tree *btree.Tree, key record.Record) (bool, error) {
	it, err := tree.Search(key, len(key.Values))
	if err != nil || it == nil {
		return false, err
	}
	e, err := it.Entry()
	if err != nil {
		return false, err
	}
	return record.Compare(e, key) == 0, nil
}

// indexKeyOwner returns the location of a row holding the key, excluding
// one location (the row being updated), or nil.
func indexKeyOwner(tree *btree.Tree, key record.Record, exclude *location) (*location, error) {
	it, err := tree.Search(key, len(key.Values))
	if err != nil || it == nil {
		return nil, err
	}
	for {
		e, err := it.Entry()
		if err != nil {
			return nil, err
		}
		if record.Compare(e, key) != 0 {
			return nil, nil
		}
		if exclude == nil || e.Page != exclude.page || e.Slot != exclude.slot {
			return &location{page: e.Page, slot: e.Slot}, nil
		}
		ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
}

// coerceValue converts one value into the storage form of a column,
// applying the Varchar-to-Date promotion for date literals and the int
// promotion for float columns.
func coerceValue(v record.Value, col record.Column) (record.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	if col.Type.Kind == record.TypeDate && v.Kind == record.KindVarchar {
		d, err := record.NewDate(v.Str)
		if err != nil {
			return record.Value{}, fmt.Errorf("column %q: %w", col.Name, record.ErrTypeMismatch)
		}
		return d, nil
	}
	if col.Type.Kind == record.TypeVarchar && v.Kind == record.KindVarchar && len(v.Str) > col.Type.Len {
		return record.Value{}, fmt.Errorf("column %q value %q: %w", col.Name, v.Str, ErrOutOfRange)
	}
	out, err := v.Coerce(col.Type)
	if err != nil {
		return record.Value{}, fmt.Errorf("column %q: %w", col.Name, err)
	}
	return out, nil
}

// validateRow turns a literal tuple into a storable record: field count,
// defaults for nulls, not-null rules and type coercion.
func validateRow(meta *schema.Meta, values []record.Value) (record.Record, error) {
	columns := meta.Schema.Columns
	if len(values) != len(columns) {
		return record.Record{}, fmt.Errorf("%d values for %d columns: %w",
			len(values), len(columns), ErrFieldCount)
	}
	out := make([]record.Value, len(columns))
	for i, col := range columns {
		v := values[i]
		if v.IsNull() {
			if col.Default != nil {
				out[i] = *col.Default
				continue
			}
			if !col.Nullable {
				return record.Record{}, fmt.Errorf("column %q: %w", col.Name, ErrNullViolation)
			}
			out[i] = v
			continue
		}
		coerced, err := coerceValue(v, col)
		if err != nil {
			return record.Record{}, err
		}
		out[i] = coerced
	}
	return record.Record{Values: out}, nil
}

// batchState tracks per-constraint key fingerprints so that duplicates
// inside a single statement are caught before any row is applied.
type batchState struct {
	seen map[string]map[string]bool // constraint name -> key fingerprints
}

func newBatchState() *batchState {
	return &batchState{seen: make(map[string]map[string]bool)}
}

func (b *batchState) conflict(constraint string, key []record.Value) bool {
	fp := fingerprint(key)
	set := b.seen[constraint]
	if set == nil {
		set = make(map[string]bool)
		b.seen[constraint] = set
	}
	if set[fp] {
		return true
	}
	set[fp] = true
	return false
}

// checkRowConstraints enforces primary-key/unique lookups and outgoing
// foreign keys for one candidate row, before any mutation. exclude names
// the row being replaced during an update. batch catches duplicates within
// one multi-row statement.
func (s *System) checkRowConstraints(tbl *heap.Table, rec record.Record, exclude *location, batch *batchState) error {
	meta := tbl.Meta()
	for _, c := range meta.Schema.Constraints {
		key, err := keyRecord(meta, c.Columns, rec, 0, 0)
		if err != nil {
			return err
		}
		switch c.Kind {
		case schema.PrimaryKey, schema.Unique:
			// Unique constraints ignore keys with null components.
			if hasNull(key.Values) {
				continue
			}
			is := meta.IndexOnColumns(c.Columns)
			if is == nil {
				return fmt.Errorf("constraint %q has no supporting index", c.Name)
			}
			tree, err := s.indexTree(tbl, is)
			if err != nil {
				return err
			}
			owner, err := indexKeyOwner(tree, key, exclude)
			if err != nil {
				return err
			}
			if owner != nil {
				return fmt.Errorf("constraint %q key (%s): %w",
					c.Name, fingerprintDisplay(key.Values), ErrUniqueViolation)
			}
			if batch != nil && batch.conflict(c.Name, key.Values) {
				return fmt.Errorf("constraint %q key (%s): %w",
					c.Name, fingerprintDisplay(key.Values), ErrUniqueViolation)
			}
		case schema.ForeignKey:
			// MATCH SIMPLE: null components skip the check.
			if hasNull(key.Values) {
				continue
			}
			ref, err := s.openTable(c.RefTable)
			if err != nil {
				return err
			}
			refIndex := ref.Meta().IndexOnColumns(c.RefColumns)
			if refIndex == nil {
				return fmt.Errorf("constraint %q has no supporting index", c.Name)
			}
			refTree, err := s.indexTree(ref, refIndex)
			if err != nil {
				return err
			}
			ok, err := indexHasKey(refTree, key)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("constraint %q key (%s): %w",
					c.Name, fingerprintDisplay(key.Values), ErrForeignKeyViolation)
			}
		}
	}
	return nil
}

// checkReferred enforces restrict semantics on incoming foreign keys when
// a row is deleted or its referenced columns change value. after is nil
// for deletes; for updates the check is skipped when the referenced
// column values are unchanged.
func (s *System) checkReferred(tbl *heap.Table, old record.Record, after *record.Record) error {
	meta := tbl.Meta()
	for _, r := range meta.Schema.Referred {
		key, err := keyRecord(meta, r.Constraint.RefColumns, old, 0, 0)
		if err != nil {
			return err
		}
		if after != nil {
			newKey, err := keyRecord(meta, r.Constraint.RefColumns, *after, 0, 0)
			if err != nil {
				return err
			}
			if record.Compare(key, newKey) == 0 {
				continue
			}
		}
		if hasNull(key.Values) {
			continue
		}
		referring, err := s.openTable(r.Table)
		if err != nil {
			return err
		}
		is := referring.Meta().IndexOnColumns(r.Constraint.Columns)
		if is == nil {
			return fmt.Errorf("constraint %q has no supporting index", r.Constraint.Name)
		}
		tree, err := s.indexTree(referring, is)
		if err != nil {
			return err
		}
		ok, err := indexHasKey(tree, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("constraint %q: %w", r.Constraint.Name, ErrReferencedByForeignKey)
		}
	}
	return nil
}

func fingerprintDisplay(values []record.Value) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += v.String()
	}
	return out
}

// ----- index maintenance -----

func (s *System) indexInsert(tbl *heap.Table, rec record.Record, page, slot uint32) error {
	meta := tbl.Meta()
	for _, is := range meta.Schema.Indexes {
		tree, err := s.indexTree(tbl, is)
		if err != nil {
			return err
		}
		key, err := keyRecord(meta, is.Columns, rec, page, slot)
		if err != nil {
			return err
		}
		if err := tree.Insert(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) indexRemove(tbl *heap.Table, rec record.Record, page, slot uint32) error {
	meta := tbl.Meta()
	for _, is := range meta.Schema.Indexes {
		tree, err := s.indexTree(tbl, is)
		if err != nil {
			return err
		}
		key, err := keyRecord(meta, is.Columns, rec, page, slot)
		if err != nil {
			return err
		}
		if _, err := tree.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// indexUpdate refreshes every index whose key changed between two versions
// of a row at a fixed location.
func (s *System) indexUpdate(tbl *heap.Table, before, after record.Record, page, slot uint32) error {
	meta := tbl.Meta()
	for _, is := range meta.Schema.Indexes {
		oldKey, err := keyRecord(meta, is.Columns, before, page, slot)
		if err != nil {
			return err
		}
		newKey, err := keyRecord(meta, is.Columns, after, page, slot)
		if err != nil {
			return err
		}
		if record.Compare(oldKey, newKey) == 0 {
			continue
		}
		tree, err := s.indexTree(tbl, is)
		if err != nil {
			return err
		}
		if _, err := tree.Remove(oldKey); err != nil {
			return err
		}
		if err := tree.Insert(newKey); err != nil {
			return err
		}
	}
	return nil
}
