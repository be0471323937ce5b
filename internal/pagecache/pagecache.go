// Package pagecache mediates all disk I/O through fixed-size pages kept in
// an LRU-managed pool with dirty tracking and write-back.
package pagecache

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

const (
	// PageSize is the fixed unit of disk I/O and cache residency.
	PageSize = 8192
	// CacheSize is the capacity of the page pool, in pages.
	CacheSize = 16384
	// LinkSize is the width of an on-disk page link.
	LinkSize = 4
)

var ErrUnknownFile = errors.New("pagecache: unknown file handle")

// FileID is an opaque copyable handle naming an open file, so multiple
// components may refer to the same file without coordinating lifetime.
type FileID = uuid.UUID

type entryKey struct {
	file FileID
	page uint32
}

type entry struct {
	key   entryKey
	buf   []byte
	dirty bool
}

// Cache owns the open-file registry and the page pool. Single-threaded use
// only; the owning system serializes all access.
type Cache struct {
	files    map[FileID]*os.File
	elems    map[entryKey]*list.Element
	lru      *list.List // front = most recently used
	capacity int
}

func New() *Cache {
	return &Cache{
		files:    make(map[FileID]*os.File),
		elems:    make(map[entryKey]*list.Element),
		lru:      list.New(),
		capacity: CacheSize,
	}
}

// Open opens (or creates) a file for paged access and returns its handle.
func (c *Cache) Open(path string) (FileID, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return FileID{}, fmt.Errorf("pagecache: open %s: %w", path, err)
	}
	id := uuid.New()
	c.files[id] = f
	slog.Debug("pagecache.open", "path", path, "fd", id)
	return id, nil
}

// Close flushes and evicts every cached page of the file, then closes it.
func (c *Cache) Close(id FileID) error {
	f, ok := c.files[id]
	if !ok {
		return ErrUnknownFile
	}
	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry)
		if e.key.file != id {
			continue
		}
		if err := c.writeBack(e); err != nil {
			return err
		}
		c.lru.Remove(el)
		delete(c.elems, e.key)
	}
	delete(c.files, id)
	if err := f.Close(); err != nil {
		return fmt.Errorf("pagecache: close: %w", err)
	}
	return nil
}

// Get returns a read-only view of page p. The slice is only valid until the
// next cache call.
func (c *Cache) Get(id FileID, page uint32) ([]byte, error) {
	e, err := c.probe(id, page)
	if err != nil {
		return nil, err
	}
	return e.buf, nil
}

// GetMut returns a writable view of page p and marks the entry dirty.
// The slice is only valid until the next cache call; finish all writes to
// it before touching the cache again.
func (c *Cache) GetMut(id FileID, page uint32) ([]byte, error) {
	e, err := c.probe(id, page)
	if err != nil {
		return nil, err
	}
	e.dirty = true
	return e.buf, nil
}

// Flush writes back every dirty page of one file.
func (c *Cache) Flush(id FileID) error {
	if _, ok := c.files[id]; !ok {
		return ErrUnknownFile
	}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.key.file == id {
			if err := c.writeBack(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteBack flushes every dirty page of every open file.
func (c *Cache) WriteBack() error {
	slog.Debug("pagecache.write_back")
	for el := c.lru.Front(); el != nil; el = el.Next() {
		if err := c.writeBack(el.Value.(*entry)); err != nil {
			return err
		}
	}
	return nil
}

// Clear flushes everything, closes all files and empties the pool.
func (c *Cache) Clear() error {
	if err := c.WriteBack(); err != nil {
		return err
	}
	for id, f := range c.files {
		if err := f.Close(); err != nil {
			return fmt.Errorf("pagecache: close: %w", err)
		}
		delete(c.files, id)
	}
	c.lru.Init()
	c.elems = make(map[entryKey]*list.Element)
	return nil
}

// probe returns the cached entry for (id, page), loading from disk on a
// miss and updating the LRU position.
func (c *Cache) probe(id FileID, page uint32) (*entry, error) {
	key := entryKey{file: id, page: page}
	if el, ok := c.elems[key]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*entry), nil
	}

	f, ok := c.files[id]
	if !ok {
		return nil, ErrUnknownFile
	}

	slog.Debug("pagecache.miss", "fd", id, "page", page)
	buf := make([]byte, PageSize)
	n, err := f.ReadAt(buf, int64(page)*PageSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("pagecache: read page %d: %w", page, err)
	}
	// Reading past end-of-file is not an error: the rest stays zero-filled.
	_ = n

	e := &entry{key: key, buf: buf}
	c.elems[key] = c.lru.PushFront(e)

	if c.lru.Len() > c.capacity {
		back := c.lru.Back()
		victim := back.Value.(*entry)
		slog.Debug("pagecache.evict", "fd", victim.key.file, "page", victim.key.page)
		if err := c.writeBack(victim); err != nil {
			return nil, err
		}
		c.lru.Remove(back)
		delete(c.elems, victim.key)
	}
	return e, nil
}

func (c *Cache) writeBack(e *entry) error {
	if !e.dirty {
		return nil
	}
	f, ok := c.files[e.key.file]
	if !ok {
		return ErrUnknownFile
	}
	if _, err := f.WriteAt(e.buf, int64(e.key.page)*PageSize); err != nil {
		return fmt.Errorf("pagecache: write page %d: %w", e.key.page, err)
	}
	e.dirty = false
	return nil
}
