package system

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tuannm99/lunasql/internal/btree"
	"github.com/tuannm99/lunasql/internal/heap"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

func (s *System) createTable(st *ast.CreateTable) (*Result, error) {
	db, err := s.dbPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(schema.TablePath(db, st.Name)); err == nil {
		return nil, fmt.Errorf("%q: %w", st.Name, ErrTableExists)
	}

	columns := make([]record.Column, len(st.Columns))
	for i, def := range st.Columns {
		columns[i] = record.Column{
			Name:     def.Name,
			Type:     def.Type,
			Nullable: !def.NotNull,
			Default:  def.Default,
		}
	}

	ts := &schema.TableSchema{Columns: columns}
	var constraints []schema.Constraint
	for _, tc := range st.Constraints {
		c := schema.Constraint{
			Kind:       tc.Kind,
			Name:       schema.ConstraintName(tc.Kind, tc.Name, tc.Columns),
			Columns:    tc.Columns,
			RefTable:   tc.RefTable,
			RefColumns: tc.RefColumns,
		}
		if c.Kind == schema.PrimaryKey {
			for _, other := range constraints {
				if other.Kind == schema.PrimaryKey {
					return nil, fmt.Errorf("%q: %w", st.Name, ErrMultiplePrimaryKeys)
				}
			}
			// Primary key columns are implicitly NOT NULL.
			for _, name := range c.Columns {
				found := false
				for i := range ts.Columns {
					if ts.Columns[i].Name == name {
						ts.Columns[i].Nullable = false
						found = true
					}
				}
				if !found {
					return nil, fmt.Errorf("%q: %w", name, schema.ErrUnknownColumn)
				}
			}
		}
		constraints = append(constraints, c)
	}
	ts.Constraints = constraints

	meta, err := schema.Create(db, st.Name, ts)
	if err != nil {
		return nil, err
	}
	// Touch the data file so the table exists on disk even before the
	// first insert.
	f, err := os.OpenFile(meta.DataPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	tbl, err := s.openTable(st.Name)
	if err != nil {
		return nil, err
	}

	// A supporting index backs every declared constraint; foreign keys are
	// validated against the referenced table first.
	for _, c := range tbl.Meta().Schema.Constraints {
		if c.Kind == schema.ForeignKey {
			if err := s.validateForeignKeyTarget(tbl, c); err != nil {
				return nil, err
			}
		}
		if tbl.Meta().IndexOnColumns(c.Columns) == nil {
			if err := s.createIndex(tbl, c.Name, c.Columns, false); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range tbl.Meta().Schema.Constraints {
		if c.Kind == schema.ForeignKey {
			if err := s.registerReferred(tbl.Name, c); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("table created", "name", st.Name)
	return affectedResult(0), nil
}

// validateForeignKeyTarget checks that an outgoing foreign key points at a
// primary or unique key of the referenced table with matching column types.
func (s *System) validateForeignKeyTarget(tbl *heap.Table, c schema.Constraint) error {
	if len(c.Columns) != len(c.RefColumns) || len(c.Columns) == 0 {
		return fmt.Errorf("constraint %q: %w", c.Name, ErrBadForeignKey)
	}
	ref, err := s.openTable(c.RefTable)
	if err != nil {
		return err
	}
	backed := false
	for _, rc := range ref.Meta().Schema.Constraints {
		if rc.Kind != schema.ForeignKey && sameColumns(rc.Columns, c.RefColumns) {
			backed = true
			break
		}
	}
	if !backed {
		return fmt.Errorf("constraint %q: %w", c.Name, ErrBadForeignKey)
	}
	for i, name := range c.Columns {
		li, err := tbl.Meta().ColumnIndex(name)
		if err != nil {
			return err
		}
		ri, err := ref.Meta().ColumnIndex(c.RefColumns[i])
		if err != nil {
			return err
		}
		if tbl.Meta().Schema.Columns[li].Type != ref.Meta().Schema.Columns[ri].Type {
			return fmt.Errorf("constraint %q: %w", c.Name, record.ErrTypeMismatch)
		}
	}
	return nil
}

// registerReferred records an incoming foreign key on the referenced table.
func (s *System) registerReferred(fromTable string, c schema.Constraint) error {
	target, err := s.openTable(c.RefTable)
	if err != nil {
		return err
	}
	for _, r := range target.Meta().Schema.Referred {
		if r.Table == fromTable && r.Constraint.Name == c.Name {
			return nil
		}
	}
	target.Meta().Schema.Referred = append(target.Meta().Schema.Referred, schema.Referred{
		Table:      fromTable,
		Constraint: c,
	})
	return nil
}

func (s *System) unregisterReferred(fromTable string, c schema.Constraint) error {
	target, err := s.openTable(c.RefTable)
	if err != nil {
		return err
	}
	referred := target.Meta().Schema.Referred
	for i, r := range referred {
		if r.Table == fromTable && r.Constraint.Name == c.Name {
			target.Meta().Schema.Referred = append(referred[:i], referred[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *System) dropTable(name string) (*Result, error) {
	tbl, err := s.openTable(name)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()

	for _, r := range meta.Schema.Referred {
		if r.Table != name {
			return nil, fmt.Errorf("table %q referenced by %q: %w",
				name, r.Constraint.Name, ErrReferencedByForeignKey)
		}
	}
	// Deregister this table's outgoing foreign keys from their targets.
	for _, c := range meta.Schema.Constraints {
		if c.Kind == schema.ForeignKey && c.RefTable != name {
			if err := s.unregisterReferred(name, c); err != nil {
				return nil, err
			}
		}
	}

	indexes := make([]*schema.IndexSchema, len(meta.Schema.Indexes))
	copy(indexes, meta.Schema.Indexes)

	if err := s.forgetTable(name); err != nil {
		return nil, err
	}

	dir := meta.Dir()
	for _, is := range indexes {
		if err := os.Remove(schema.IndexPath(dir, name, is.Name)); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.Remove(schema.IndexDataPath(dir, name, is.Name)); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := os.Remove(schema.DataPath(dir, name)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.Remove(schema.TablePath(dir, name)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	slog.Info("table dropped", "name", name)
	return affectedResult(0), nil
}

func (s *System) descTable(name string) (*Result, error) {
	tbl, err := s.openTable(name)
	if err != nil {
		return nil, err
	}
	pk := tbl.Meta().PrimaryKeyConstraint()
	var rows []recordRow
	for _, c := range tbl.Meta().Schema.Columns {
		null := "YES"
		if !c.Nullable {
			null = "NO"
		}
		def := record.Null()
		if c.Default != nil {
			def = *c.Default
		}
		key := ""
		if pk != nil {
			for _, pc := range pk.Columns {
				if pc == c.Name {
					key = "PRI"
				}
			}
		}
		rows = append(rows, recordRow{
			varcharValue(c.Name),
			varcharValue(c.Type.String()),
			varcharValue(null),
			def,
			varcharValue(key),
		})
	}
	return rowsFromValues([]string{"Field", "Type", "Null", "Default", "Key"}, rows), nil
}

// createIndex registers a new index and backfills it from every existing
// row.
func (s *System) createIndex(tbl *heap.Table, name string, columns []string, explicit bool) error {
	meta := tbl.Meta()
	if _, err := meta.Index(name); err == nil {
		return fmt.Errorf("index %q: %w", name, ErrDuplicateName)
	}

	candidate := schema.IndexSchema{Name: name, Columns: columns, Explicit: explicit}
	im, err := schema.NewIndexMeta(meta, &candidate)
	if err != nil {
		return err
	}
	if err := btree.CheckCapacity(im); err != nil {
		return err
	}

	is := meta.AddIndex(candidate)
	tree, err := s.openIndex(tbl, is)
	if err != nil {
		return err
	}

	slog.Info("building index", "table", tbl.Name, "index", name, "columns", joinColumns(columns))
	return tbl.Scan(func(rec record.Record, page, slot uint32) error {
		key, err := keyRecord(meta, columns, rec, page, slot)
		if err != nil {
			return err
		}
		return tree.Insert(key)
	})
}

func (s *System) addIndex(st *ast.AddIndex) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	name := st.Name
	if name == "" {
		name = schema.ConstraintName(0, "", st.Columns)
	}
	if err := s.createIndex(tbl, name, st.Columns, true); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}

func (s *System) dropIndex(st *ast.DropIndex) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	is, err := tbl.Meta().Index(st.Name)
	if err != nil {
		return nil, err
	}
	if !is.Explicit {
		return nil, fmt.Errorf("index %q: %w", st.Name, ErrImplicitIndex)
	}
	if err := s.removeIndex(tbl, st.Name); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}

// removeIndex closes the index file and deletes schema plus data.
func (s *System) removeIndex(tbl *heap.Table, name string) error {
	key := indexKey{table: tbl.Name, index: name}
	if tree, ok := s.indexes[key]; ok {
		if err := s.cache.Close(tree.FD()); err != nil {
			return err
		}
		delete(s.indexes, key)
	}
	return tbl.Meta().RemoveIndex(name)
}

// dropSupportingIndex removes the implicit index on a column set, unless
// another constraint still needs it.
func (s *System) dropSupportingIndex(tbl *heap.Table, columns []string) error {
	is := tbl.Meta().IndexOnColumns(columns)
	if is == nil || is.Explicit {
		return nil
	}
	for _, c := range tbl.Meta().Schema.Constraints {
		if sameColumns(c.Columns, columns) {
			return nil
		}
	}
	return s.removeIndex(tbl, is.Name)
}

func (s *System) addPrimaryKey(st *ast.AddPrimaryKey) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	if meta.PrimaryKeyConstraint() != nil {
		return nil, fmt.Errorf("%q: %w", st.Table, ErrMultiplePrimaryKeys)
	}
	indices := make([]int, len(st.Columns))
	for i, col := range st.Columns {
		idx, err := meta.ColumnIndex(col)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
	}

	// Existing rows must already be non-null and unique on the key.
	seen := make(map[string]bool)
	err = tbl.Scan(func(rec record.Record, page, slot uint32) error {
		values := make([]record.Value, len(indices))
		for i, idx := range indices {
			if rec.Values[idx].IsNull() {
				return fmt.Errorf("column %q: %w", st.Columns[i], ErrNullViolation)
			}
			values[i] = rec.Values[idx]
		}
		fp := fingerprint(values)
		if seen[fp] {
			return fmt.Errorf("primary key on (%s): %w", joinColumns(st.Columns), ErrUniqueViolation)
		}
		seen[fp] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := schema.Constraint{
		Kind:    schema.PrimaryKey,
		Name:    schema.ConstraintName(schema.PrimaryKey, st.Name, st.Columns),
		Columns: st.Columns,
	}
	meta.Schema.Constraints = append(meta.Schema.Constraints, c)
	for _, idx := range indices {
		meta.Schema.Columns[idx].Nullable = false
	}
	if meta.IndexOnColumns(st.Columns) == nil {
		if err := s.createIndex(tbl, c.Name, st.Columns, false); err != nil {
			return nil, err
		}
	}
	return affectedResult(0), nil
}

func (s *System) dropPrimaryKey(st *ast.DropPrimaryKey) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	pk := meta.PrimaryKeyConstraint()
	if pk == nil {
		return nil, fmt.Errorf("%q: %w", st.Table, ErrNoPrimaryKey)
	}
	if st.Name != "" && st.Name != pk.Name {
		return nil, fmt.Errorf("constraint %q not found on %q", st.Name, st.Table)
	}
	for _, r := range meta.Schema.Referred {
		if sameColumns(r.Constraint.RefColumns, pk.Columns) {
			return nil, fmt.Errorf("primary key referenced by %q: %w",
				r.Constraint.Name, ErrReferencedByForeignKey)
		}
	}
	columns := pk.Columns
	meta.RemoveConstraint(pk.Name)
	if err := s.dropSupportingIndex(tbl, columns); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}

func (s *System) addForeignKey(st *ast.AddForeignKey) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	c := schema.Constraint{
		Kind:       schema.ForeignKey,
		Name:       schema.ConstraintName(schema.ForeignKey, st.Name, st.Columns),
		Columns:    st.Columns,
		RefTable:   st.RefTable,
		RefColumns: st.RefColumns,
	}
	if err := s.validateForeignKeyTarget(tbl, c); err != nil {
		return nil, err
	}

	// Existing rows must reference existing target rows.
	ref, err := s.openTable(c.RefTable)
	if err != nil {
		return nil, err
	}
	refIndex := ref.Meta().IndexOnColumns(c.RefColumns)
	if refIndex == nil {
		return nil, fmt.Errorf("constraint %q: %w", c.Name, ErrBadForeignKey)
	}
	refTree, err := s.indexTree(ref, refIndex)
	if err != nil {
		return nil, err
	}
	err = tbl.Scan(func(rec record.Record, page, slot uint32) error {
		key, err := keyRecord(meta, c.Columns, rec, page, slot)
		if err != nil {
			return err
		}
		if hasNull(key.Values) {
			return nil
		}
		ok, err := indexHasKey(refTree, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("constraint %q: %w", c.Name, ErrForeignKeyViolation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta.Schema.Constraints = append(meta.Schema.Constraints, c)
	if meta.IndexOnColumns(c.Columns) == nil {
		if err := s.createIndex(tbl, c.Name, c.Columns, false); err != nil {
			return nil, err
		}
	}
	if err := s.registerReferred(tbl.Name, c); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}

func (s *System) dropForeignKey(st *ast.DropForeignKey) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	c, err := meta.Constraint(st.Name)
	if err != nil || c.Kind != schema.ForeignKey {
		return nil, fmt.Errorf("foreign key %q not found on %q", st.Name, st.Table)
	}
	dropped := *c
	meta.RemoveConstraint(st.Name)
	if err := s.unregisterReferred(tbl.Name, dropped); err != nil {
		return nil, err
	}
	if err := s.dropSupportingIndex(tbl, dropped.Columns); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}

func (s *System) addUnique(st *ast.AddUnique) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	c := schema.Constraint{
		Kind:    schema.Unique,
		Name:    schema.ConstraintName(schema.Unique, st.Name, st.Columns),
		Columns: st.Columns,
	}
	seen := make(map[string]bool)
	err = tbl.Scan(func(rec record.Record, page, slot uint32) error {
		key, err := keyRecord(meta, c.Columns, rec, page, slot)
		if err != nil {
			return err
		}
		if hasNull(key.Values) {
			return nil
		}
		fp := fingerprint(key.Values)
		if seen[fp] {
			return fmt.Errorf("unique on (%s): %w", joinColumns(c.Columns), ErrUniqueViolation)
		}
		seen[fp] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	meta.Schema.Constraints = append(meta.Schema.Constraints, c)
	if meta.IndexOnColumns(c.Columns) == nil {
		if err := s.createIndex(tbl, c.Name, c.Columns, false); err != nil {
			return nil, err
		}
	}
	return affectedResult(0), nil
}

func (s *System) dropUnique(st *ast.DropUnique) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	meta := tbl.Meta()
	c, err := meta.Constraint(st.Name)
	if err != nil || c.Kind != schema.Unique {
		return nil, fmt.Errorf("unique constraint %q not found on %q", st.Name, st.Table)
	}
	for _, r := range meta.Schema.Referred {
		if sameColumns(r.Constraint.RefColumns, c.Columns) {
			return nil, fmt.Errorf("unique key referenced by %q: %w",
				r.Constraint.Name, ErrReferencedByForeignKey)
		}
	}
	columns := c.Columns
	meta.RemoveConstraint(st.Name)
	if err := s.dropSupportingIndex(tbl, columns); err != nil {
		return nil, err
	}
	return affectedResult(0), nil
}
