package btree

import (
	"sort"

	"github.com/tuannm99/lunasql/internal/record"
)

// Remove deletes the leaf entry matching the full (key, page, slot) triple;
// the triple keeps removal deterministic under duplicate keys. It reports
// whether an entry was removed.
//
// Underflowed nodes are left in place (space is reclaimed on rebuild), but
// emptied leaves are unlinked from the chain and emptied or single-child
// internal roots are collapsed.
func (t *Tree) Remove(entry record.Record) (bool, error) {
	if t.meta.Schema.Root == nil {
		return false, nil
	}
	page, err := t.descend(entry, len(entry.Values))
	if err != nil {
		return false, err
	}

	// Walk duplicates, following the leaf chain, until the exact location.
	for {
		n, err := t.readNode(page)
		if err != nil {
			return false, err
		}
		pos := sort.Search(len(n.entries), func(i int) bool {
			return record.Compare(n.entries[i], entry) >= 0
		})
		for ; pos < len(n.entries); pos++ {
			cmp := record.Compare(n.entries[pos], entry)
			if cmp > 0 {
				return false, nil
			}
			if n.entries[pos].Page == entry.Page && n.entries[pos].Slot == entry.Slot {
				return true, t.removeAt(n, pos)
			}
		}
		if n.next == nil {
			return false, nil
		}
		page = *n.next
	}
}

func (t *Tree) removeAt(n *node, pos int) error {
	n.entries = append(n.entries[:pos], n.entries[pos+1:]...)
	if len(n.entries) > 0 {
		return t.writeNode(n)
	}

	// Empty leaf: unlink from the chain, drop from the parent, free the page.
	if n.prev != nil {
		if err := t.patchNext(*n.prev, n.next); err != nil {
			return err
		}
	}
	if n.next != nil {
		if err := t.patchPrev(*n.next, n.prev); err != nil {
			return err
		}
	}
	if n.parent == nil {
		// Last entry of a root leaf: the tree is now empty.
		t.meta.Schema.Root = nil
		return t.freePage(n.page)
	}
	parent := *n.parent
	if err := t.freePage(n.page); err != nil {
		return err
	}
	return t.removeChild(parent, n.page)
}

// removeChild drops the entry pointing at a freed child, collapsing the
// root when it ends up empty or with a single child.
func (t *Tree) removeChild(page, child uint32) error {
	n, err := t.readNode(page)
	if err != nil {
		return err
	}
	for i, e := range n.entries {
		if e.Child == child {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			break
		}
	}

	if n.parent == nil {
		switch len(n.entries) {
		case 0:
			t.meta.Schema.Root = nil
			return t.freePage(n.page)
		case 1:
			sole := n.entries[0].Child
			if err := t.patchParent(sole, nil); err != nil {
				return err
			}
			t.meta.Schema.Root = &sole
			return t.freePage(n.page)
		default:
			return t.writeNode(n)
		}
	}

	if len(n.entries) == 0 {
		parent := *n.parent
		if err := t.freePage(n.page); err != nil {
			return err
		}
		return t.removeChild(parent, n.page)
	}
	return t.writeNode(n)
}
