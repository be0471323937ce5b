// Package btree implements the on-disk B+-tree index: one node per page,
// composite record keys, and a doubly-linked leaf chain for range scans.
package btree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/pkg/bx"
)

// Node header, 20 bytes for both node kinds:
//
//	| leaf | pad | size | prev | next | parent |
//	|   1B |  3B |   4B |   4B |   4B |     4B |
//
// prev/next are only meaningful on leaves. Links use the 0 = none,
// page+1 encoding shared with the heap store.
const (
	offLeaf    = 0
	offSize    = 4
	offPrev    = 8
	offNext    = 12
	offParent  = 16
	headerSize = 20
)

var ErrCapacity = errors.New("btree: entry does not fit a page")

// Tree is a B+-tree bound to one open index file.
type Tree struct {
	fd    pagecache.FileID
	meta  *schema.IndexMeta
	cache *pagecache.Cache
}

func New(fd pagecache.FileID, meta *schema.IndexMeta, cache *pagecache.Cache) *Tree {
	return &Tree{fd: fd, meta: meta, cache: cache}
}

func (t *Tree) Meta() *schema.IndexMeta { return t.meta }
func (t *Tree) FD() pagecache.FileID    { return t.fd }

// LeafCapacity is the maximum entry count of a leaf node.
func (t *Tree) LeafCapacity() int {
	return (pagecache.PageSize - headerSize) / t.meta.Leaf().Size()
}

// InternalCapacity is the maximum entry count of an internal node.
func (t *Tree) InternalCapacity() int {
	return (pagecache.PageSize - headerSize) / t.meta.Internal().Size()
}

func encLink(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p + 1
}

func decLink(v uint32) *uint32 {
	if v == 0 {
		return nil
	}
	p := v - 1
	return &p
}

// node is the in-memory image of one tree page. Mutations follow the
// fetch, copy out, mutate, write back discipline: a node is decoded in
// full, changed, and rewritten, so no two mutable page views coexist.
type node struct {
	page    uint32
	leaf    bool
	prev    *uint32
	next    *uint32
	parent  *uint32
	entries []record.Record
}

func (n *node) layoutOf(t *Tree) *record.Layout {
	if n.leaf {
		return t.meta.Leaf()
	}
	return t.meta.Internal()
}

func (t *Tree) readNode(page uint32) (*node, error) {
	buf, err := t.cache.Get(t.fd, page)
	if err != nil {
		return nil, err
	}
	n := &node{
		page:   page,
		leaf:   buf[offLeaf] == 1,
		prev:   decLink(bx.U32At(buf, offPrev)),
		next:   decLink(bx.U32At(buf, offNext)),
		parent: decLink(bx.U32At(buf, offParent)),
	}
	layout := n.layoutOf(t)
	size := int(bx.U32At(buf, offSize))
	n.entries = make([]record.Record, size)
	for i := 0; i < size; i++ {
		n.entries[i] = layout.Decode(buf, headerSize+i*layout.Size())
	}
	return n, nil
}

func (t *Tree) writeNode(n *node) error {
	buf, err := t.cache.GetMut(t.fd, n.page)
	if err != nil {
		return err
	}
	if n.leaf {
		buf[offLeaf] = 1
	} else {
		buf[offLeaf] = 0
	}
	buf[1], buf[2], buf[3] = 0, 0, 0
	bx.PutU32At(buf, offSize, uint32(len(n.entries)))
	bx.PutU32At(buf, offPrev, encLink(n.prev))
	bx.PutU32At(buf, offNext, encLink(n.next))
	bx.PutU32At(buf, offParent, encLink(n.parent))

	layout := n.layoutOf(t)
	for i, e := range n.entries {
		if err := layout.Encode(buf, headerSize+i*layout.Size(), e); err != nil {
			return err
		}
	}
	return nil
}

// patchParent rewrites only the parent link of a page.
func (t *Tree) patchParent(page uint32, parent *uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	bx.PutU32At(buf, offParent, encLink(parent))
	return nil
}

// patchPrev rewrites only the prev link of a leaf page.
func (t *Tree) patchPrev(page uint32, prev *uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	bx.PutU32At(buf, offPrev, encLink(prev))
	return nil
}

// patchNext rewrites only the next link of a leaf page.
func (t *Tree) patchNext(page uint32, next *uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	bx.PutU32At(buf, offNext, encLink(next))
	return nil
}

// allocPage reuses the head of the index free list, or extends the file.
func (t *Tree) allocPage() (uint32, error) {
	if t.meta.Schema.Free != nil {
		page := *t.meta.Schema.Free
		buf, err := t.cache.Get(t.fd, page)
		if err != nil {
			return 0, err
		}
		t.meta.Schema.Free = decLink(bx.U32(buf))
		slog.Debug("btree.alloc_reuse", "index", t.meta.Schema.Name, "page", page)
		return page, nil
	}
	page := t.meta.AllocPage()
	slog.Debug("btree.alloc", "index", t.meta.Schema.Name, "page", page)
	return page, nil
}

// freePage pushes a deallocated page onto the index free list, linking
// through its first 4 bytes.
func (t *Tree) freePage(page uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	bx.PutU32(buf, encLink(t.meta.Schema.Free))
	p := page
	t.meta.Schema.Free = &p
	return nil
}

// CheckCapacity is a sanity check used at index creation time: both node
// kinds must hold at least two entries for splits to terminate.
func CheckCapacity(meta *schema.IndexMeta) error {
	leaf := (pagecache.PageSize - headerSize) / meta.Leaf().Size()
	internal := (pagecache.PageSize - headerSize) / meta.Internal().Size()
	if leaf < 2 || internal < 2 {
		return fmt.Errorf("index %s: %w", meta.Schema.Name, ErrCapacity)
	}
	return nil
}
