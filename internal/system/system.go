// Package system is the database system manager: it owns the data
// directory, the page cache, the open-table and open-index registries, and
// executes parsed statements against the stores.
package system

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuannm99/lunasql/internal/btree"
	"github.com/tuannm99/lunasql/internal/heap"
	"github.com/tuannm99/lunasql/internal/pagecache"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

type indexKey struct {
	table string
	index string
}

// System is single-threaded: one instance exclusively owns its page cache
// and all files under the data root.
type System struct {
	base    string
	dbName  string
	cache   *pagecache.Cache
	tables  map[string]*heap.Table
	indexes map[indexKey]*btree.Tree
}

func New(base string) *System {
	return &System{
		base:    base,
		cache:   pagecache.New(),
		tables:  make(map[string]*heap.Table),
		indexes: make(map[indexKey]*btree.Tree),
	}
}

// CurrentDatabase returns the selected database name, or "" when none is.
func (s *System) CurrentDatabase() string { return s.dbName }

func (s *System) dbPath() (string, error) {
	if s.dbName == "" {
		return "", ErrNoDatabase
	}
	return filepath.Join(s.base, s.dbName), nil
}

// Execute runs one parsed statement. After a successful statement, sidecar
// metadata of every open table is persisted before returning, so it is on
// disk before the next statement begins observing it. A failed statement
// returns its error without saving; its in-memory metadata is written by
// the next successful statement or by Shutdown.
func (s *System) Execute(stmt ast.Statement) (*Result, error) {
	res, err := s.dispatch(stmt)
	if err != nil {
		return nil, err
	}
	if err := s.saveAll(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *System) dispatch(stmt ast.Statement) (*Result, error) {
	switch st := stmt.(type) {
	case *ast.CreateDatabase:
		return s.createDatabase(st.Name)
	case *ast.DropDatabase:
		return s.dropDatabase(st.Name)
	case *ast.UseDatabase:
		return s.useDatabase(st.Name)
	case *ast.ShowDatabases:
		return s.showDatabases()
	case *ast.ShowTables:
		return s.showTables()
	case *ast.ShowIndexes:
		return s.showIndexes(st)
	case *ast.CreateTable:
		return s.createTable(st)
	case *ast.DropTable:
		return s.dropTable(st.Name)
	case *ast.Desc:
		return s.descTable(st.Name)
	case *ast.Load:
		return s.load(st)
	case *ast.Insert:
		return s.insert(st)
	case *ast.Delete:
		return s.delete(st)
	case *ast.Update:
		return s.update(st)
	case *ast.Select:
		return s.execSelect(st)
	case *ast.AddIndex:
		return s.addIndex(st)
	case *ast.DropIndex:
		return s.dropIndex(st)
	case *ast.AddPrimaryKey:
		return s.addPrimaryKey(st)
	case *ast.DropPrimaryKey:
		return s.dropPrimaryKey(st)
	case *ast.AddForeignKey:
		return s.addForeignKey(st)
	case *ast.DropForeignKey:
		return s.dropForeignKey(st)
	case *ast.AddUnique:
		return s.addUnique(st)
	case *ast.DropUnique:
		return s.dropUnique(st)
	default:
		return nil, fmt.Errorf("system: unsupported statement type %T", stmt)
	}
}

func (s *System) saveAll() error {
	for _, tbl := range s.tables {
		if err := tbl.Meta().Save(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown flushes the cache, persists metadata and closes every file.
func (s *System) Shutdown() error {
	if err := s.saveAll(); err != nil {
		return err
	}
	return s.cache.Clear()
}

// ----- databases -----

func (s *System) createDatabase(name string) (*Result, error) {
	path := filepath.Join(s.base, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrDatabaseExists)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("system: create database %q: %w", name, err)
	}
	slog.Info("database created", "name", name)
	return affectedResult(1), nil
}

func (s *System) dropDatabase(name string) (*Result, error) {
	path := filepath.Join(s.base, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownDatabase)
	}
	if name == s.dbName {
		// Dropping the current database: flush and forget everything open.
		slog.Info("dropping current database, flushing cache", "name", name)
		if err := s.cache.Clear(); err != nil {
			return nil, err
		}
		s.tables = make(map[string]*heap.Table)
		s.indexes = make(map[indexKey]*btree.Tree)
		s.dbName = ""
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("system: drop database %q: %w", name, err)
	}
	slog.Info("database dropped", "name", name)
	return affectedResult(1), nil
}

func (s *System) useDatabase(name string) (*Result, error) {
	path := filepath.Join(s.base, name)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownDatabase)
	}
	if name == s.dbName {
		return affectedResult(0), nil
	}

	// Save and flush before leaving the old database.
	if err := s.saveAll(); err != nil {
		return nil, err
	}
	if err := s.cache.Clear(); err != nil {
		return nil, err
	}
	s.tables = make(map[string]*heap.Table)
	s.indexes = make(map[indexKey]*btree.Tree)
	s.dbName = name
	slog.Info("using database", "name", name)
	return affectedResult(0), nil
}

func (s *System) showDatabases() (*Result, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("system: read data root: %w", err)
	}
	var rows []recordRow
	for _, e := range entries {
		if e.IsDir() {
			rows = append(rows, recordRow{varcharValue(e.Name())})
		}
	}
	return rowsFromValues([]string{"Database"}, rows), nil
}

func (s *System) showTables() (*Result, error) {
	db, err := s.dbPath()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(db)
	if err != nil {
		return nil, fmt.Errorf("system: read database dir: %w", err)
	}
	var rows []recordRow
	for _, e := range entries {
		name := e.Name()
		// One <table>.json per table; index sidecars have two dots.
		if filepath.Ext(name) != ".json" {
			continue
		}
		base := name[:len(name)-len(".json")]
		if filepath.Ext(base) != "" {
			continue
		}
		rows = append(rows, recordRow{varcharValue(base)})
	}
	return rowsFromValues([]string{"Table"}, rows), nil
}

func (s *System) showIndexes(st *ast.ShowIndexes) (*Result, error) {
	tbl, err := s.openTable(st.Table)
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	for _, is := range tbl.Meta().Schema.Indexes {
		kind := "implicit"
		if is.Explicit {
			kind = "explicit"
		}
		rows = append(rows, recordRow{
			varcharValue(tbl.Name),
			varcharValue(is.Name),
			varcharValue(joinColumns(is.Columns)),
			varcharValue(kind),
		})
	}
	return rowsFromValues([]string{"Table", "Index", "Columns", "Kind"}, rows), nil
}

// ----- open-table/index registry -----

// openTable loads a table (and all its indexes) into the registry.
func (s *System) openTable(name string) (*heap.Table, error) {
	if tbl, ok := s.tables[name]; ok {
		return tbl, nil
	}
	db, err := s.dbPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(schema.TablePath(db, name)); err != nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownTable)
	}

	meta, err := schema.Load(db, name)
	if err != nil {
		return nil, err
	}
	fd, err := s.cache.Open(meta.DataPath())
	if err != nil {
		return nil, err
	}
	tbl := heap.New(name, fd, meta, s.cache)
	s.tables[name] = tbl

	for _, is := range meta.Schema.Indexes {
		if _, err := s.openIndex(tbl, is); err != nil {
			return nil, err
		}
	}
	slog.Debug("table opened", "name", name)
	return tbl, nil
}

func (s *System) openIndex(tbl *heap.Table, is *schema.IndexSchema) (*btree.Tree, error) {
	key := indexKey{table: tbl.Name, index: is.Name}
	if tree, ok := s.indexes[key]; ok {
		return tree, nil
	}
	im, err := schema.NewIndexMeta(tbl.Meta(), is)
	if err != nil {
		return nil, err
	}
	fd, err := s.cache.Open(schema.IndexDataPath(tbl.Meta().Dir(), tbl.Name, is.Name))
	if err != nil {
		return nil, err
	}
	tree := btree.New(fd, im, s.cache)
	s.indexes[key] = tree
	return tree, nil
}

// indexTree returns the open tree for a registered index schema.
func (s *System) indexTree(tbl *heap.Table, is *schema.IndexSchema) (*btree.Tree, error) {
	return s.openIndex(tbl, is)
}

// forgetTable closes a table's files and drops it from the registry.
func (s *System) forgetTable(name string) error {
	tbl, ok := s.tables[name]
	if !ok {
		return nil
	}
	for key, tree := range s.indexes {
		if key.table != name {
			continue
		}
		if err := s.cache.Close(tree.FD()); err != nil {
			return err
		}
		delete(s.indexes, key)
	}
	if err := s.cache.Close(tbl.FD()); err != nil {
		return err
	}
	delete(s.tables, name)
	return nil
}
