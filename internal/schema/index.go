package schema

import (
	"github.com/tuannm99/lunasql/internal/record"
)

// IndexSchema is the JSON-persisted shape of one B+-tree index.
// Root is nil until the first entry is inserted; Free heads the list of
// deallocated pages, linked through their first 4 bytes.
type IndexSchema struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	Explicit bool     `json:"explicit"`
	Root     *uint32  `json:"root"`
	Free     *uint32  `json:"free"`
	Pages    uint32   `json:"pages"`
}

// IndexMeta binds an IndexSchema to its table and precomputes the record
// layouts for both node kinds.
type IndexMeta struct {
	Table  string
	Schema *IndexSchema

	keyColumns []record.Column
	leaf       *record.Layout
	internal   *record.Layout
}

// NewIndexMeta resolves the key columns against the table and builds the
// leaf and internal entry layouts.
func NewIndexMeta(table *Meta, is *IndexSchema) (*IndexMeta, error) {
	keyColumns, err := table.KeyColumns(is.Columns)
	if err != nil {
		return nil, err
	}
	return &IndexMeta{
		Table:      table.Name,
		Schema:     is,
		keyColumns: keyColumns,
		leaf:       record.NewLayout(keyColumns, record.PayloadPageSlot),
		internal:   record.NewLayout(keyColumns, record.PayloadChild),
	}, nil
}

func (im *IndexMeta) KeyColumns() []record.Column { return im.keyColumns }

// Leaf is the entry layout of leaf nodes: key columns + (page, slot).
func (im *IndexMeta) Leaf() *record.Layout { return im.leaf }

// Internal is the entry layout of internal nodes: key columns + child page.
func (im *IndexMeta) Internal() *record.Layout { return im.internal }

// AllocPage extends the index file by one page and returns its id.
func (im *IndexMeta) AllocPage() uint32 {
	id := im.Schema.Pages
	im.Schema.Pages++
	return id
}
