package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
)

// newTestTree builds a single-column int index in a temp directory.
func newTestTree(t *testing.T) *Tree {
	t.Helper()

	dir := t.TempDir()
	ts := &schema.TableSchema{
		Columns: []record.Column{
			{Name: "id", Type: record.Int(), Nullable: false},
			{Name: "name", Type: record.Varchar(8), Nullable: true},
		},
	}
	meta, err := schema.Create(dir, "users", ts)
	require.NoError(t, err)

	is := meta.AddIndex(schema.IndexSchema{Name: "byid", Columns: []string{"id"}, Explicit: true})
	im, err := schema.NewIndexMeta(meta, is)
	require.NoError(t, err)
	require.NoError(t, CheckCapacity(im))

	cache := pagecache.New()
	t.Cleanup(func() { _ = cache.Clear() })
	fd, err := cache.Open(schema.IndexDataPath(dir, "users", "byid"))
	require.NoError(t, err)

	return New(fd, im, cache)
}

func entry(key int32, page, slot uint32) record.Record {
	return record.Record{Values: []record.Value{record.NewInt(key)}, Page: page, Slot: slot}
}

func collect(t *testing.T, tree *Tree) []record.Record {
	t.Helper()
	var out []record.Record
	it, err := tree.First()
	require.NoError(t, err)
	if it == nil {
		return out
	}
	for {
		e, err := it.Entry()
		require.NoError(t, err)
		out = append(out, e)
		ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
	}
}

func TestInsertAndSearch(t *testing.T) {
	tree := newTestTree(t)

	for i := int32(1); i <= 10; i++ {
		require.NoError(t, tree.Insert(entry(i, 0, uint32(i))))
	}

	it, err := tree.Search(entry(5, 0, 0), 1)
	require.NoError(t, err)
	require.NotNil(t, it)
	e, err := it.Entry()
	require.NoError(t, err)
	require.Equal(t, record.NewInt(5), e.Values[0])
	require.Equal(t, uint32(5), e.Slot)

	// Lower bound lands on the next key when the exact one is absent.
	require.NoError(t, tree.Insert(entry(20, 0, 20)))
	it, err = tree.Search(entry(15, 0, 0), 1)
	require.NoError(t, err)
	require.NotNil(t, it)
	e, err = it.Entry()
	require.NoError(t, err)
	require.Equal(t, record.NewInt(20), e.Values[0])

	// Past the largest key there is nothing to return.
	it, err = tree.Search(entry(99, 0, 0), 1)
	require.NoError(t, err)
	require.Nil(t, it)
}

func TestInsertContains(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(entry(7, 3, 4)))

	ok, err := tree.Contains(entry(7, 3, 4))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Contains(entry(7, 3, 5))
	require.NoError(t, err)
	require.False(t, ok)
}

// Enough entries to split leaves several times; the leaf chain must visit
// keys in strictly ascending order.
func TestSplitKeepsLeafOrder(t *testing.T) {
	tree := newTestTree(t)

	const n = 5000
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range perm {
		require.NoError(t, tree.Insert(entry(int32(k), uint32(k/100), uint32(k%100))))
	}

	entries := collect(t, tree)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		require.Less(t, entries[i-1].Values[0].Int, entries[i].Values[0].Int)
	}
}

func TestDuplicateKeys(t *testing.T) {
	tree := newTestTree(t)

	for slot := uint32(0); slot < 10; slot++ {
		require.NoError(t, tree.Insert(entry(42, 1, slot)))
	}
	require.NoError(t, tree.Insert(entry(41, 0, 0)))
	require.NoError(t, tree.Insert(entry(43, 2, 0)))

	it, err := tree.Search(entry(42, 0, 0), 1)
	require.NoError(t, err)
	require.NotNil(t, it)

	count := 0
	for {
		e, err := it.Entry()
		require.NoError(t, err)
		if e.Values[0].Int != 42 {
			break
		}
		count++
		ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	require.Equal(t, 10, count)
}

func TestRemoveExactLocation(t *testing.T) {
	tree := newTestTree(t)

	for slot := uint32(0); slot < 5; slot++ {
		require.NoError(t, tree.Insert(entry(7, 1, slot)))
	}

	found, err := tree.Remove(entry(7, 1, 2))
	require.NoError(t, err)
	require.True(t, found)

	ok, err := tree.Contains(entry(7, 1, 2))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = tree.Contains(entry(7, 1, 3))
	require.NoError(t, err)
	require.True(t, ok)

	found, err = tree.Remove(entry(7, 1, 2))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveAllEmptiesTree(t *testing.T) {
	tree := newTestTree(t)

	const n = 2000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(entry(int32(i), 0, uint32(i))))
	}
	for i := 0; i < n; i++ {
		found, err := tree.Remove(entry(int32(i), 0, uint32(i)))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Nil(t, tree.Meta().Schema.Root)
	require.Empty(t, collect(t, tree))

	// Freed pages are reused before the file grows.
	pagesBefore := tree.Meta().Schema.Pages
	require.NoError(t, tree.Insert(entry(1, 0, 0)))
	require.Equal(t, pagesBefore, tree.Meta().Schema.Pages)
}

func TestNullSortsFirst(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Insert(entry(5, 0, 1)))
	require.NoError(t, tree.Insert(record.Record{
		Values: []record.Value{record.Null()}, Page: 0, Slot: 2,
	}))
	require.NoError(t, tree.Insert(entry(-3, 0, 3)))

	entries := collect(t, tree)
	require.Len(t, entries, 3)
	require.True(t, entries[0].Values[0].IsNull())
	require.Equal(t, int32(-3), entries[1].Values[0].Int)
	require.Equal(t, int32(5), entries[2].Values[0].Int)
}

func TestRangeScanAcrossLeaves(t *testing.T) {
	tree := newTestTree(t)

	const n = 3000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(entry(int32(i), 0, uint32(i))))
	}

	it, err := tree.Search(entry(1500, 0, 0), 1)
	require.NoError(t, err)
	require.NotNil(t, it)

	expect := int32(1500)
	for expect < 1600 {
		e, err := it.Entry()
		require.NoError(t, err)
		require.Equal(t, expect, e.Values[0].Int)
		expect++
		ok, err := it.Next()
		require.NoError(t, err)
		require.True(t, ok)
	}
}
