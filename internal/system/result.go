package system

import "github.com/tuannm99/lunasql/internal/record"

// Result is the outcome of one statement: either a row set or an
// affected-row count. Pretty-printing is the shell's business.
type Result struct {
	Columns  []string
	Rows     []record.Record
	Affected int
	IsQuery  bool
}

func rowsResult(columns []string, rows []record.Record) *Result {
	return &Result{Columns: columns, Rows: rows, IsQuery: true}
}

func affectedResult(n int) *Result {
	return &Result{Affected: n}
}
