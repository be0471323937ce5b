// Package schema holds the per-table metadata catalog: columns, constraints,
// indexes and the page-list heads, persisted as JSON sidecars next to the
// binary data files.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
)

var (
	ErrUnknownColumn = errors.New("schema: unknown column")
	ErrUnknownIndex  = errors.New("schema: unknown index")
)

// TableSchema is the JSON-persisted shape of a table's metadata.
// Free and Full are the heads of the two intrusive page lists; nil means
// the list is empty.
type TableSchema struct {
	Columns     []record.Column `json:"columns"`
	Constraints []Constraint    `json:"constraints"`
	Referred    []Referred      `json:"referred"`
	Indexes     []*IndexSchema  `json:"indexes"`
	Free        *uint32         `json:"free"`
	Full        *uint32         `json:"full"`
	Pages       uint32          `json:"pages"`
}

// Meta wraps a TableSchema with everything precomputed on load: the record
// layout, the column name map and the page geometry.
type Meta struct {
	Name   string
	Schema *TableSchema

	dir        string
	layout     *record.Layout
	colIndex   map[string]int
	maxRecords int
	bitmapLen  int
}

// Create writes a fresh sidecar for a new table and returns its Meta.
func Create(dir, name string, ts *TableSchema) (*Meta, error) {
	m, err := wrap(dir, name, ts)
	if err != nil {
		return nil, err
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads the table sidecar from <dir>/<name>.json.
func Load(dir, name string) (*Meta, error) {
	data, err := os.ReadFile(TablePath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("schema: read sidecar for %s: %w", name, err)
	}
	var ts TableSchema
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("schema: decode sidecar for %s: %w", name, err)
	}
	return wrap(dir, name, &ts)
}

func wrap(dir, name string, ts *TableSchema) (*Meta, error) {
	colIndex := make(map[string]int, len(ts.Columns))
	for i, c := range ts.Columns {
		if _, ok := colIndex[c.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate column %q in table %s", c.Name, name)
		}
		colIndex[c.Name] = i
	}

	layout := record.NewLayout(ts.Columns, record.PayloadNone)
	maxRecords, bitmapLen := pageGeometry(layout.Size())

	return &Meta{
		Name:       name,
		Schema:     ts,
		dir:        dir,
		layout:     layout,
		colIndex:   colIndex,
		maxRecords: maxRecords,
		bitmapLen:  bitmapLen,
	}, nil
}

// pageGeometry computes how many records fit a slotted page:
// floor((PAGE_SIZE - link) / (record_size + 1/8)), then verified against the
// rounded-up bitmap length.
func pageGeometry(recordSize int) (maxRecords, bitmapLen int) {
	maxRecords = (pagecache.PageSize - pagecache.LinkSize) * 8 / (recordSize*8 + 1)
	for maxRecords > 0 {
		bitmapLen = (maxRecords + 7) / 8
		if pagecache.LinkSize+bitmapLen+maxRecords*recordSize <= pagecache.PageSize {
			break
		}
		maxRecords--
	}
	return maxRecords, bitmapLen
}

// TablePath is the JSON sidecar path for a table.
func TablePath(dir, table string) string {
	return filepath.Join(dir, table+".json")
}

// DataPath is the binary page file path for a table.
func DataPath(dir, table string) string {
	return filepath.Join(dir, table+".data")
}

// IndexPath is the JSON sidecar path for an index.
func IndexPath(dir, table, index string) string {
	return filepath.Join(dir, table+"."+index+".json")
}

// IndexDataPath is the binary page file path for an index.
func IndexDataPath(dir, table, index string) string {
	return filepath.Join(dir, table+"."+index+".data")
}

func (m *Meta) Dir() string { return m.dir }

func (m *Meta) DataPath() string { return DataPath(m.dir, m.Name) }

// Save persists the table sidecar and one sidecar per index. Called at
// statement boundaries: metadata is on disk before the next statement
// observes it.
func (m *Meta) Save() error {
	data, err := json.MarshalIndent(m.Schema, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(TablePath(m.dir, m.Name), data, 0o644); err != nil {
		return fmt.Errorf("schema: write sidecar for %s: %w", m.Name, err)
	}
	for _, is := range m.Schema.Indexes {
		data, err := json.MarshalIndent(is, "", "  ")
		if err != nil {
			return err
		}
		path := IndexPath(m.dir, m.Name, is.Name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("schema: write index sidecar %s: %w", is.Name, err)
		}
	}
	return nil
}

func (m *Meta) Layout() *record.Layout { return m.layout }
func (m *Meta) MaxRecords() int        { return m.maxRecords }
func (m *Meta) BitmapLen() int         { return m.bitmapLen }

// ColumnIndex resolves a column name to its position.
func (m *Meta) ColumnIndex(name string) (int, error) {
	i, ok := m.colIndex[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownColumn)
	}
	return i, nil
}

func (m *Meta) HasColumn(name string) bool {
	_, ok := m.colIndex[name]
	return ok
}

// AllocPage extends the table file by one page and returns its id.
func (m *Meta) AllocPage() uint32 {
	id := m.Schema.Pages
	m.Schema.Pages++
	return id
}

// Index returns the index schema with the given name.
func (m *Meta) Index(name string) (*IndexSchema, error) {
	for _, is := range m.Schema.Indexes {
		if is.Name == name {
			return is, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownIndex)
}

// IndexOnColumns returns the index whose key is exactly the given column
// list, in order. Used to find the supporting index of a constraint.
func (m *Meta) IndexOnColumns(columns []string) *IndexSchema {
	for _, is := range m.Schema.Indexes {
		if len(is.Columns) != len(columns) {
			continue
		}
		match := true
		for j := range columns {
			if is.Columns[j] != columns[j] {
				match = false
				break
			}
		}
		if match {
			return is
		}
	}
	return nil
}

// AddIndex registers a new index schema on the table.
// The returned pointer stays valid across later registrations; open trees
// hold it.
func (m *Meta) AddIndex(is IndexSchema) *IndexSchema {
	p := &is
	m.Schema.Indexes = append(m.Schema.Indexes, p)
	return p
}

// RemoveIndex drops the named index schema and deletes its sidecar files.
func (m *Meta) RemoveIndex(name string) error {
	for i, is := range m.Schema.Indexes {
		if is.Name != name {
			continue
		}
		m.Schema.Indexes = append(m.Schema.Indexes[:i], m.Schema.Indexes[i+1:]...)
		if err := os.Remove(IndexPath(m.dir, m.Name, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(IndexDataPath(m.dir, m.Name, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return fmt.Errorf("%q: %w", name, ErrUnknownIndex)
}

// Constraint returns the named constraint.
func (m *Meta) Constraint(name string) (*Constraint, error) {
	for i := range m.Schema.Constraints {
		if m.Schema.Constraints[i].Name == name {
			return &m.Schema.Constraints[i], nil
		}
	}
	return nil, fmt.Errorf("schema: constraint %q not found", name)
}

// RemoveConstraint drops the named constraint from the schema.
func (m *Meta) RemoveConstraint(name string) bool {
	for i := range m.Schema.Constraints {
		if m.Schema.Constraints[i].Name == name {
			m.Schema.Constraints = append(m.Schema.Constraints[:i], m.Schema.Constraints[i+1:]...)
			return true
		}
	}
	return false
}

// PrimaryKeyConstraint returns the table's primary key, if declared.
func (m *Meta) PrimaryKeyConstraint() *Constraint {
	for i := range m.Schema.Constraints {
		if m.Schema.Constraints[i].Kind == PrimaryKey {
			return &m.Schema.Constraints[i]
		}
	}
	return nil
}

// KeyColumns maps constraint/index column names to their record.Column
// definitions.
func (m *Meta) KeyColumns(names []string) ([]record.Column, error) {
	cols := make([]record.Column, len(names))
	for i, n := range names {
		idx, err := m.ColumnIndex(n)
		if err != nil {
			return nil, err
		}
		cols[i] = m.Schema.Columns[idx]
	}
	return cols, nil
}
