package pagecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	c := New()
	t.Cleanup(func() { _ = c.Clear() })
	return c, filepath.Join(t.TempDir(), "pages")
}

func TestReadPastEOFIsZeroFilled(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.Get(fd, 7)
	require.NoError(t, err)
	require.Len(t, buf, PageSize)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestWriteBackOnClear(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.GetMut(fd, 3)
	require.NoError(t, err)
	copy(buf, "hello, pages")
	require.NoError(t, c.Clear())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 4*PageSize)
	require.Equal(t, "hello, pages", string(data[3*PageSize:3*PageSize+12]))
}

func TestReadBackThroughNewCache(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.GetMut(fd, 1)
	require.NoError(t, err)
	copy(buf, "first")
	buf, err = c.GetMut(fd, 5)
	require.NoError(t, err)
	copy(buf, "second")
	require.NoError(t, c.Clear())

	c2 := New()
	defer func() { _ = c2.Clear() }()
	fd2, err := c2.Open(path)
	require.NoError(t, err)

	got, err := c2.Get(fd2, 1)
	require.NoError(t, err)
	require.Equal(t, "first", string(got[:5]))
	got, err = c2.Get(fd2, 5)
	require.NoError(t, err)
	require.Equal(t, "second", string(got[:6]))
}

func TestCloseFlushesFile(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.GetMut(fd, 0)
	require.NoError(t, err)
	copy(buf, "dirty")
	require.NoError(t, c.Close(fd))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "dirty", string(data[:5]))

	_, err = c.Get(fd, 0)
	require.ErrorIs(t, err, ErrUnknownFile)
}

// After CACHE_SIZE+1 distinct fetches the first page is no longer resident:
// its dirty buffer must have been written back by eviction alone.
func TestLRUEvictionWritesBack(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.GetMut(fd, 0)
	require.NoError(t, err)
	copy(buf, "evict me")

	for p := uint32(1); p <= CacheSize; p++ {
		_, err := c.Get(fd, p)
		require.NoError(t, err)
	}

	// No flush: only the eviction path can have persisted page 0.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), PageSize)
	require.Equal(t, "evict me", string(data[:8]))
}

func TestFlushSingleFile(t *testing.T) {
	c, path := newTestCache(t)
	fd, err := c.Open(path)
	require.NoError(t, err)

	buf, err := c.GetMut(fd, 2)
	require.NoError(t, err)
	copy(buf, "flushed")
	require.NoError(t, c.Flush(fd))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "flushed", string(data[2*PageSize:2*PageSize+7]))
}
