package heap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
)

// newTestTable builds a heap table in a temp directory and returns it with
// its cache for reopen tests.
func newTestTable(t *testing.T, dir string) (*Table, *pagecache.Cache) {
	t.Helper()

	ts := &schema.TableSchema{
		Columns: []record.Column{
			{Name: "id", Type: record.Int(), Nullable: false},
			{Name: "name", Type: record.Varchar(8), Nullable: true},
		},
	}
	var meta *schema.Meta
	var err error
	if _, statErr := schema.Load(dir, "users"); statErr == nil {
		meta, err = schema.Load(dir, "users")
	} else {
		meta, err = schema.Create(dir, "users", ts)
	}
	require.NoError(t, err)

	cache := pagecache.New()
	t.Cleanup(func() { _ = cache.Clear() })
	fd, err := cache.Open(meta.DataPath())
	require.NoError(t, err)

	return New("users", fd, meta, cache), cache
}

func row(id int32, name string) record.Record {
	return record.New(record.NewInt(id), record.NewVarchar(name))
}

func TestInsertAndGet(t *testing.T) {
	tbl, _ := newTestTable(t, t.TempDir())

	page, slot, err := tbl.Insert(row(1, "a"))
	require.NoError(t, err)

	got, err := tbl.Get(page, slot)
	require.NoError(t, err)
	require.Equal(t, record.NewInt(1), got.Values[0])
	require.Equal(t, "a", got.Values[1].Str)
}

func TestScanVisitsAllRows(t *testing.T) {
	tbl, _ := newTestTable(t, t.TempDir())

	const n = 50
	for i := int32(0); i < n; i++ {
		_, _, err := tbl.Insert(row(i, fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}

	seen := make(map[int32]bool)
	err := tbl.Scan(func(rec record.Record, page, slot uint32) error {
		seen[rec.Values[0].Int] = true
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, n)
}

func TestDeleteAndSlotReuse(t *testing.T) {
	tbl, _ := newTestTable(t, t.TempDir())

	p0, s0, err := tbl.Insert(row(1, "a"))
	require.NoError(t, err)
	_, _, err = tbl.Insert(row(2, "b"))
	require.NoError(t, err)

	require.NoError(t, tbl.DeleteAt(p0, s0))
	_, err = tbl.Get(p0, s0)
	require.ErrorIs(t, err, ErrEmptySlot)

	// First free slot is reused.
	p, s, err := tbl.Insert(row(3, "c"))
	require.NoError(t, err)
	require.Equal(t, p0, p)
	require.Equal(t, s0, s)
}

func TestUpdateAt(t *testing.T) {
	tbl, _ := newTestTable(t, t.TempDir())

	page, slot, err := tbl.Insert(row(1, "old"))
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateAt(page, slot, row(1, "new")))

	got, err := tbl.Get(page, slot)
	require.NoError(t, err)
	require.Equal(t, "new", got.Values[1].Str)
}

// Filling a page must move it from the free list to the full list, and a
// delete must move it back. A page is always on exactly one list.
func TestFreeFullListDiscipline(t *testing.T) {
	tbl, _ := newTestTable(t, t.TempDir())
	meta := tbl.Meta()

	max := meta.MaxRecords()
	for i := 0; i < max; i++ {
		_, _, err := tbl.Insert(row(int32(i), "x"))
		require.NoError(t, err)
	}
	// Page 0 is now full.
	require.Nil(t, meta.Schema.Free)
	require.NotNil(t, meta.Schema.Full)
	require.Equal(t, uint32(0), *meta.Schema.Full)

	// The next insert allocates page 1 on the free list.
	page, _, err := tbl.Insert(row(9999, "y"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), page)
	require.NotNil(t, meta.Schema.Free)
	require.Equal(t, uint32(1), *meta.Schema.Free)

	// Deleting from the full page moves it back to the free list.
	require.NoError(t, tbl.DeleteAt(0, 0))
	require.NotNil(t, meta.Schema.Free)
	require.Equal(t, uint32(0), *meta.Schema.Free)
	require.Nil(t, meta.Schema.Full)

	// Scan still sees every surviving row across both pages.
	count := 0
	require.NoError(t, tbl.Scan(func(record.Record, uint32, uint32) error {
		count++
		return nil
	}))
	require.Equal(t, max, count)
}

func TestPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	tbl, cache := newTestTable(t, dir)
	for i := int32(0); i < 10; i++ {
		_, _, err := tbl.Insert(row(i, "p"))
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Meta().Save())
	require.NoError(t, cache.Clear())

	reopened, _ := newTestTable(t, dir)
	count := 0
	require.NoError(t, reopened.Scan(func(rec record.Record, page, slot uint32) error {
		count++
		return nil
	}))
	require.Equal(t, 10, count)
}
