package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
)

func testSchema() *TableSchema {
	return &TableSchema{
		Columns: []record.Column{
			{Name: "id", Type: record.Int(), Nullable: false},
			{Name: "name", Type: record.Varchar(16), Nullable: true},
		},
		Constraints: []Constraint{
			{Kind: PrimaryKey, Name: "pk_id", Columns: []string{"id"}},
		},
		Indexes: []*IndexSchema{
			{Name: "pk_id", Columns: []string{"id"}},
		},
	}
}

func TestCreateAndLoad(t *testing.T) {
	dir := t.TempDir()
	m, err := Create(dir, "users", testSchema())
	require.NoError(t, err)
	require.Equal(t, "users", m.Name)

	loaded, err := Load(dir, "users")
	require.NoError(t, err)
	require.Equal(t, m.Schema.Columns, loaded.Schema.Columns)
	require.Equal(t, m.Schema.Constraints, loaded.Schema.Constraints)
	require.Len(t, loaded.Schema.Indexes, 1)
	require.Equal(t, m.MaxRecords(), loaded.MaxRecords())
}

func TestPageListHeadsPersist(t *testing.T) {
	dir := t.TempDir()
	m, err := Create(dir, "users", testSchema())
	require.NoError(t, err)

	free := uint32(3)
	m.Schema.Free = &free
	m.Schema.Pages = 4
	require.NoError(t, m.Save())

	loaded, err := Load(dir, "users")
	require.NoError(t, err)
	require.NotNil(t, loaded.Schema.Free)
	require.Equal(t, uint32(3), *loaded.Schema.Free)
	require.Nil(t, loaded.Schema.Full)
	require.Equal(t, uint32(4), loaded.Schema.Pages)
}

func TestPageGeometry(t *testing.T) {
	m, err := Create(t.TempDir(), "t", testSchema())
	require.NoError(t, err)

	// Every page must hold the computed record count plus its header.
	size := m.Layout().Size()
	used := pagecache.LinkSize + m.BitmapLen() + m.MaxRecords()*size
	require.LessOrEqual(t, used, pagecache.PageSize)

	// One more record must not fit.
	require.Greater(t, used+size, pagecache.PageSize)
}

func TestDuplicateColumnRejected(t *testing.T) {
	ts := &TableSchema{
		Columns: []record.Column{
			{Name: "x", Type: record.Int()},
			{Name: "x", Type: record.Int()},
		},
	}
	_, err := Create(t.TempDir(), "t", ts)
	require.Error(t, err)
}

func TestColumnIndex(t *testing.T) {
	m, err := Create(t.TempDir(), "t", testSchema())
	require.NoError(t, err)

	i, err := m.ColumnIndex("name")
	require.NoError(t, err)
	require.Equal(t, 1, i)

	_, err = m.ColumnIndex("missing")
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestIndexRegistry(t *testing.T) {
	dir := t.TempDir()
	m, err := Create(dir, "t", testSchema())
	require.NoError(t, err)

	require.NotNil(t, m.IndexOnColumns([]string{"id"}))
	require.Nil(t, m.IndexOnColumns([]string{"name"}))

	m.AddIndex(IndexSchema{Name: "byname", Columns: []string{"name"}, Explicit: true})
	require.NoError(t, m.Save())

	loaded, err := Load(dir, "t")
	require.NoError(t, err)
	is, err := loaded.Index("byname")
	require.NoError(t, err)
	require.True(t, is.Explicit)

	require.NoError(t, loaded.RemoveIndex("byname"))
	_, err = loaded.Index("byname")
	require.ErrorIs(t, err, ErrUnknownIndex)
}

func TestIndexMetaLayouts(t *testing.T) {
	m, err := Create(t.TempDir(), "t", testSchema())
	require.NoError(t, err)

	is, err := m.Index("pk_id")
	require.NoError(t, err)
	im, err := NewIndexMeta(m, is)
	require.NoError(t, err)

	// Leaf entry: 1B bitmap + 4B int key + 8B (page, slot).
	require.Equal(t, 13, im.Leaf().Size())
	// Internal entry: 1B bitmap + 4B int key + 4B child.
	require.Equal(t, 9, im.Internal().Size())
}
