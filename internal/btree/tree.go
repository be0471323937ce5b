package btree

import (
	"sort"

	"github.com/tuannm99/lunasql/internal/record"
)

// keyOf strips an entry down to its key values, for use as an internal
// separator.
func keyOf(e record.Record) record.Record {
	values := make([]record.Value, len(e.Values))
	copy(values, e.Values)
	return record.Record{Values: values}
}

// descend walks from the root to the leaf that may contain the first entry
// whose key prefix is >= key. At each internal node it follows the last
// child whose separator is strictly less than the key, or the leftmost
// child. The strict comparison matters under duplicate keys: equal entries
// may end just left of a separator equal to them.
func (t *Tree) descend(key record.Record, prefix int) (uint32, error) {
	page := *t.meta.Schema.Root
	for {
		n, err := t.readNode(page)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			return page, nil
		}
		// Last separator strictly below the key; index 0 when none is.
		idx := sort.Search(len(n.entries), func(i int) bool {
			return record.ComparePrefix(n.entries[i], key, prefix) >= 0
		})
		if idx > 0 {
			idx--
		}
		page = n.entries[idx].Child
	}
}

// Insert adds one leaf entry (key values plus the row's page and slot).
// Within a leaf, entries stay sorted by (key, page, slot).
func (t *Tree) Insert(entry record.Record) error {
	if t.meta.Schema.Root == nil {
		page, err := t.allocPage()
		if err != nil {
			return err
		}
		n := &node{page: page, leaf: true, entries: []record.Record{entry}}
		if err := t.writeNode(n); err != nil {
			return err
		}
		t.meta.Schema.Root = &page
		return nil
	}

	leafPage, err := t.descend(entry, len(entry.Values))
	if err != nil {
		return err
	}
	n, err := t.readNode(leafPage)
	if err != nil {
		return err
	}

	pos := sort.Search(len(n.entries), func(i int) bool {
		return record.CompareWithLocation(n.entries[i], entry) >= 0
	})
	n.entries = append(n.entries, record.Record{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = entry

	if len(n.entries) <= t.LeafCapacity() {
		return t.writeNode(n)
	}
	return t.splitLeaf(n)
}

// splitLeaf splits an overflowing leaf of M+1 entries into ceil(M/2) and
// floor(M/2)+1, stitches the leaf chain, and pushes the right node's
// smallest key into the parent.
func (t *Tree) splitLeaf(n *node) error {
	mid := (t.LeafCapacity() + 1) / 2
	rightEntries := append([]record.Record(nil), n.entries[mid:]...)
	n.entries = n.entries[:mid]

	rightPage, err := t.allocPage()
	if err != nil {
		return err
	}
	right := &node{
		page:    rightPage,
		leaf:    true,
		prev:    &n.page,
		next:    n.next,
		parent:  n.parent,
		entries: rightEntries,
	}
	oldNext := n.next
	n.next = &rightPage

	if err := t.writeNode(n); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	if oldNext != nil {
		if err := t.patchPrev(*oldNext, &rightPage); err != nil {
			return err
		}
	}
	return t.insertIntoParent(n, rightPage, keyOf(rightEntries[0]))
}

// insertIntoParent registers a freshly split-off right sibling under the
// left node's parent, growing a new root when the left node was the root.
func (t *Tree) insertIntoParent(left *node, rightPage uint32, rightMin record.Record) error {
	if left.parent == nil {
		rootPage, err := t.allocPage()
		if err != nil {
			return err
		}
		leftNode, err := t.readNode(left.page)
		if err != nil {
			return err
		}
		first := keyOf(leftNode.entries[0])
		first.Child = left.page
		second := rightMin
		second.Child = rightPage

		root := &node{page: rootPage, leaf: false, entries: []record.Record{first, second}}
		if err := t.writeNode(root); err != nil {
			return err
		}
		if err := t.patchParent(left.page, &rootPage); err != nil {
			return err
		}
		if err := t.patchParent(rightPage, &rootPage); err != nil {
			return err
		}
		t.meta.Schema.Root = &rootPage
		return nil
	}

	parent, err := t.readNode(*left.parent)
	if err != nil {
		return err
	}
	pos := 0
	for i, e := range parent.entries {
		if e.Child == left.page {
			pos = i + 1
			break
		}
	}
	entry := rightMin
	entry.Child = rightPage
	parent.entries = append(parent.entries, record.Record{})
	copy(parent.entries[pos+1:], parent.entries[pos:])
	parent.entries[pos] = entry

	if err := t.patchParent(rightPage, left.parent); err != nil {
		return err
	}

	if len(parent.entries) <= t.InternalCapacity() {
		return t.writeNode(parent)
	}
	return t.splitInternal(parent)
}

// splitInternal splits an overflowing internal node; children moved to the
// right sibling get their parent links rewritten.
func (t *Tree) splitInternal(n *node) error {
	mid := (t.InternalCapacity() + 1) / 2
	rightEntries := append([]record.Record(nil), n.entries[mid:]...)
	n.entries = n.entries[:mid]

	rightPage, err := t.allocPage()
	if err != nil {
		return err
	}
	right := &node{
		page:    rightPage,
		leaf:    false,
		parent:  n.parent,
		entries: rightEntries,
	}
	if err := t.writeNode(n); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	for _, e := range rightEntries {
		if err := t.patchParent(e.Child, &rightPage); err != nil {
			return err
		}
	}
	return t.insertIntoParent(n, rightPage, keyOf(rightEntries[0]))
}
