// Package heap implements the slotted-page table store. Pages are organized
// into two intrusive singly-linked lists, free and full, so an insertion
// point is found in O(1).
package heap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/pkg/bx"
)

var (
	ErrEmptySlot = errors.New("heap: slot is empty")
	ErrNotOnList = errors.New("heap: page not found on list")
)

// Page layout: [ next : 4B ][ free bitmap ][ slot 0 | slot 1 | ... ]
// The link field points into whichever list the page currently belongs to.
// Bitmap bit i (MSB-first) marks slot i occupied.

// Table is a heap table bound to an open data file.
type Table struct {
	Name  string
	fd    pagecache.FileID
	meta  *schema.Meta
	cache *pagecache.Cache
}

func New(name string, fd pagecache.FileID, meta *schema.Meta, cache *pagecache.Cache) *Table {
	return &Table{Name: name, fd: fd, meta: meta, cache: cache}
}

func (t *Table) Meta() *schema.Meta   { return t.meta }
func (t *Table) FD() pagecache.FileID { return t.fd }

// Link encoding on disk: 0 = none, otherwise page+1.
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

func (t *Table) slotOffset(slot int) int {
	return pagecache.LinkSize + t.meta.BitmapLen() + slot*t.meta.Layout().Size()
}

func occupied(buf []byte, slot int) bool {
	return buf[pagecache.LinkSize+slot/8]&(1<<(7-uint(slot)%8)) != 0
}

func setOccupied(buf []byte, slot int, on bool) {
	if on {
		buf[pagecache.LinkSize+slot/8] |= 1 << (7 - uint(slot)%8)
	} else {
		buf[pagecache.LinkSize+slot/8] &^= 1 << (7 - uint(slot)%8)
	}
}

// firstFree returns the first empty slot, or -1 when the page is full.
func (t *Table) firstFree(buf []byte) int {
	for i := 0; i < t.meta.MaxRecords(); i++ {
		if !occupied(buf, i) {
			return i
		}
	}
	return -1
}

// newPage extends the file by one page and pushes it onto the free list.
func (t *Table) newPage() (uint32, error) {
	page := t.meta.AllocPage()
	slog.Debug("heap.new_page", "table", t.Name, "page", page)

	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return 0, err
	}
	// Fresh pages read back zero-filled; reset the header region anyway.
	header := pagecache.LinkSize + t.meta.BitmapLen()
	for i := 0; i < header; i++ {
		buf[i] = 0
	}
	bx.PutU32(buf, encLink(t.meta.Schema.Free))
	t.meta.Schema.Free = &page
	return page, nil
}

// pushPage links a page at the head of a list.
func (t *Table) pushPage(head **uint32, page uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	bx.PutU32(buf, encLink(*head))
	p := page
	*head = &p
	return nil
}

// unlinkPage removes a page from a list. Removal from the middle walks from
// the head; the store is single-user and lists stay short.
func (t *Table) unlinkPage(head **uint32, page uint32) error {
	if *head != nil && **head == page {
		buf, err := t.cache.Get(t.fd, page)
		if err != nil {
			return err
		}
		*head = decLink(bx.U32(buf))
		return nil
	}
	cur := *head
	for cur != nil {
		buf, err := t.cache.Get(t.fd, *cur)
		if err != nil {
			return err
		}
		next := decLink(bx.U32(buf))
		if next != nil && *next == page {
			pbuf, err := t.cache.Get(t.fd, page)
			if err != nil {
				return err
			}
			after := bx.U32(pbuf)
			curBuf, err := t.cache.GetMut(t.fd, *cur)
			if err != nil {
				return err
			}
			bx.PutU32(curBuf, after)
			return nil
		}
		cur = next
	}
	return fmt.Errorf("page %d: %w", page, ErrNotOnList)
}

// Insert writes a record into the first free slot, allocating a page when
// the free list is empty, and returns the assigned location.
func (t *Table) Insert(rec record.Record) (page, slot uint32, err error) {
	if t.meta.Schema.Free == nil {
		if _, err := t.newPage(); err != nil {
			return 0, 0, err
		}
	}
	page = *t.meta.Schema.Free

	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return 0, 0, err
	}
	free := t.firstFree(buf)
	if free < 0 {
		return 0, 0, fmt.Errorf("heap: free-list page %d has no empty slot", page)
	}
	if err := t.meta.Layout().Encode(buf, t.slotOffset(free), rec); err != nil {
		return 0, 0, err
	}
	setOccupied(buf, free, true)
	slog.Debug("heap.insert", "table", t.Name, "page", page, "slot", free)

	if t.firstFree(buf) < 0 {
		// Page became full: move it from the free list to the full list.
		if err := t.unlinkPage(&t.meta.Schema.Free, page); err != nil {
			return 0, 0, err
		}
		if err := t.pushPage(&t.meta.Schema.Full, page); err != nil {
			return 0, 0, err
		}
	}
	return page, uint32(free), nil
}

// Get decodes the record at (page, slot).
func (t *Table) Get(page, slot uint32) (record.Record, error) {
	buf, err := t.cache.Get(t.fd, page)
	if err != nil {
		return record.Record{}, err
	}
	if !occupied(buf, int(slot)) {
		return record.Record{}, fmt.Errorf("page %d slot %d: %w", page, slot, ErrEmptySlot)
	}
	return t.meta.Layout().Decode(buf, t.slotOffset(int(slot))), nil
}

// UpdateAt overwrites the record at a known location.
func (t *Table) UpdateAt(page, slot uint32, rec record.Record) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	if !occupied(buf, int(slot)) {
		return fmt.Errorf("page %d slot %d: %w", page, slot, ErrEmptySlot)
	}
	return t.meta.Layout().Encode(buf, t.slotOffset(int(slot)), rec)
}

// DeleteAt clears the slot. A page that was full moves back onto the free
// list; a page already on the free list stays there.
func (t *Table) DeleteAt(page, slot uint32) error {
	buf, err := t.cache.GetMut(t.fd, page)
	if err != nil {
		return err
	}
	if !occupied(buf, int(slot)) {
		return fmt.Errorf("page %d slot %d: %w", page, slot, ErrEmptySlot)
	}
	wasFull := t.firstFree(buf) < 0
	setOccupied(buf, int(slot), false)
	slog.Debug("heap.delete", "table", t.Name, "page", page, "slot", slot)

	if wasFull {
		if err := t.unlinkPage(&t.meta.Schema.Full, page); err != nil {
			return err
		}
		if err := t.pushPage(&t.meta.Schema.Free, page); err != nil {
			return err
		}
	}
	return nil
}

// Scan visits every live record, free-list pages first, then full-list
// pages, in list order.
func (t *Table) Scan(fn func(rec record.Record, page, slot uint32) error) error {
	if err := t.scanList(t.meta.Schema.Free, fn); err != nil {
		return err
	}
	return t.scanList(t.meta.Schema.Full, fn)
}

func (t *Table) scanList(head *uint32, fn func(rec record.Record, page, slot uint32) error) error {
	cur := head
	for cur != nil {
		page := *cur
		buf, err := t.cache.Get(t.fd, page)
		if err != nil {
			return err
		}
		next := decLink(bx.U32(buf))

		for slot := 0; slot < t.meta.MaxRecords(); slot++ {
			if !occupied(buf, slot) {
				continue
			}
			rec := t.meta.Layout().Decode(buf, t.slotOffset(slot))
			if err := fn(rec, page, uint32(slot)); err != nil {
				return err
			}
			// The callback may have touched the cache; re-pin the page.
			buf, err = t.cache.Get(t.fd, page)
			if err != nil {
				return err
			}
		}
		cur = next
	}
	return nil
}
