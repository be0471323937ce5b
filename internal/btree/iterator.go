package btree

import (
	"sort"

	"github.com/tuannm99/lunasql/internal/record"
)

// Iterator is a (leaf page, entry index) cursor over the tree's ordered
// entries.
type Iterator struct {
	tree *Tree
	page uint32
	slot int
}

// Entry decodes the entry under the cursor.
func (it *Iterator) Entry() (record.Record, error) {
	n, err := it.tree.readNode(it.page)
	if err != nil {
		return record.Record{}, err
	}
	return n.entries[it.slot], nil
}

// Next advances the cursor, following the leaf chain at page boundaries.
// It reports false when the cursor moved past the last entry.
func (it *Iterator) Next() (bool, error) {
	n, err := it.tree.readNode(it.page)
	if err != nil {
		return false, err
	}
	if it.slot+1 < len(n.entries) {
		it.slot++
		return true, nil
	}
	for n.next != nil {
		page := *n.next
		n, err = it.tree.readNode(page)
		if err != nil {
			return false, err
		}
		if len(n.entries) > 0 {
			it.page = page
			it.slot = 0
			return true, nil
		}
	}
	return false, nil
}

// Search positions an iterator at the first entry whose leading prefix
// fields compare >= key, or nil when no such entry exists.
func (t *Tree) Search(key record.Record, prefix int) (*Iterator, error) {
	if t.meta.Schema.Root == nil {
		return nil, nil
	}
	page, err := t.descend(key, prefix)
	if err != nil {
		return nil, err
	}
	for {
		n, err := t.readNode(page)
		if err != nil {
			return nil, err
		}
		pos := sort.Search(len(n.entries), func(i int) bool {
			return record.ComparePrefix(n.entries[i], key, prefix) >= 0
		})
		if pos < len(n.entries) {
			return &Iterator{tree: t, page: page, slot: pos}, nil
		}
		if n.next == nil {
			return nil, nil
		}
		page = *n.next
	}
}

// First positions an iterator at the smallest entry, or nil on an empty
// tree.
func (t *Tree) First() (*Iterator, error) {
	if t.meta.Schema.Root == nil {
		return nil, nil
	}
	page := *t.meta.Schema.Root
	for {
		n, err := t.readNode(page)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			if len(n.entries) == 0 {
				return nil, nil
			}
			return &Iterator{tree: t, page: page, slot: 0}, nil
		}
		page = n.entries[0].Child
	}
}

// Contains reports whether the exact (key, page, slot) entry is present.
func (t *Tree) Contains(entry record.Record) (bool, error) {
	it, err := t.Search(entry, len(entry.Values))
	if err != nil || it == nil {
		return false, err
	}
	for {
		e, err := it.Entry()
		if err != nil {
			return false, err
		}
		if record.Compare(e, entry) != 0 {
			return false, nil
		}
		if e.Page == entry.Page && e.Slot == entry.Slot {
			return true, nil
		}
		ok, err := it.Next()
		if err != nil || !ok {
			return false, err
		}
	}
}
