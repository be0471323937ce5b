package system

import (
	"strings"

	"github.com/tuannm99/lunasql/internal/record"
)

type recordRow = []record.Value

func varcharValue(s string) record.Value { return record.NewVarchar(s) }

func rowsFromValues(columns []string, rows []recordRow) *Result {
	out := make([]record.Record, len(rows))
	for i, r := range rows {
		out[i] = record.Record{Values: r}
	}
	return rowsResult(columns, out)
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}

// fingerprint builds an in-memory key for duplicate detection inside one
// statement. \x00 never occurs in stored text.
func fingerprint(values []record.Value) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(v.String())
		b.WriteByte(0)
	}
	return b.String()
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
