// Package ast defines the statement tree handed to the executor. The node
// set is closed: the executor switches exhaustively over these shapes.
package ast

import (
	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
)

// Statement is the root interface for all SQL statements.
type Statement interface {
	stmtNode()
}

// ----- Database ops -----

type CreateDatabase struct{ Name string }
type DropDatabase struct{ Name string }
type UseDatabase struct{ Name string }
type ShowDatabases struct{}
type ShowTables struct{}
type ShowIndexes struct{ Table string }

func (*CreateDatabase) stmtNode() {}
func (*DropDatabase) stmtNode()   {}
func (*UseDatabase) stmtNode()    {}
func (*ShowDatabases) stmtNode()  {}
func (*ShowTables) stmtNode()     {}
func (*ShowIndexes) stmtNode()    {}

// ----- Table DDL -----

type ColumnDef struct {
	Name    string
	Type    record.Type
	NotNull bool
	Default *record.Value
}

type TableConstraint struct {
	Kind       schema.ConstraintKind
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	Constraints []TableConstraint
}

type DropTable struct{ Name string }
type Desc struct{ Name string }

func (*CreateTable) stmtNode() {}
func (*DropTable) stmtNode()   {}
func (*Desc) stmtNode()        {}

// ----- ALTER -----

type AddIndex struct {
	Table   string
	Name    string
	Columns []string
}

type DropIndex struct {
	Table string
	Name  string
}

type AddPrimaryKey struct {
	Table   string
	Name    string
	Columns []string
}

type DropPrimaryKey struct {
	Table string
	Name  string
}

type AddForeignKey struct {
	Table      string
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

type DropForeignKey struct {
	Table string
	Name  string
}

type AddUnique struct {
	Table   string
	Name    string
	Columns []string
}

type DropUnique struct {
	Table string
	Name  string
}

func (*AddIndex) stmtNode()       {}
func (*DropIndex) stmtNode()      {}
func (*AddPrimaryKey) stmtNode()  {}
func (*DropPrimaryKey) stmtNode() {}
func (*AddForeignKey) stmtNode()  {}
func (*DropForeignKey) stmtNode() {}
func (*AddUnique) stmtNode()      {}
func (*DropUnique) stmtNode()     {}

// ----- Data -----

type Load struct {
	Path      string
	Table     string
	Delimiter string
}

type Insert struct {
	Table string
	Rows  [][]record.Value
}

type Delete struct {
	Table string
	Where []WhereClause
}

type SetPair struct {
	Column string
	Value  record.Value
}

type Update struct {
	Table string
	Sets  []SetPair
	Where []WhereClause
}

type OrderBy struct {
	Column ColumnRef
	Desc   bool
}

type Select struct {
	Selectors Selectors
	Tables    []string
	Where     []WhereClause
	GroupBy   *ColumnRef
	OrderBy   *OrderBy
	Limit     *int
	Offset    *int
}

func (*Load) stmtNode()   {}
func (*Insert) stmtNode() {}
func (*Delete) stmtNode() {}
func (*Update) stmtNode() {}
func (*Select) stmtNode() {}

// ----- Selectors -----

// ColumnRef names a column, optionally qualified by table.
type ColumnRef struct {
	Table  string
	Column string
}

func (r ColumnRef) String() string {
	if r.Table == "" {
		return r.Column
	}
	return r.Table + "." + r.Column
}

type AggFunc uint8

const (
	AggCount AggFunc = iota + 1
	AggAvg
	AggSum
	AggMin
	AggMax
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggAvg:
		return "AVG"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "?"
	}
}

// Selectors is either `*` (All) or an ordered item list.
type Selectors struct {
	All   bool
	Items []Selector
}

type Selector interface {
	selectorNode()
}

// ColumnItem selects a plain column.
type ColumnItem struct{ Ref ColumnRef }

// AggregateItem selects an aggregate; Ref is nil for COUNT(*).
type AggregateItem struct {
	Func AggFunc
	Ref  *ColumnRef
}

func (*ColumnItem) selectorNode()    {}
func (*AggregateItem) selectorNode() {}

// ----- Where predicates -----

type CompareOp uint8

const (
	OpEq CompareOp = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

type WhereClause interface {
	whereNode()
}

// Expr is the right-hand side of a comparison: a literal or a column.
type Expr interface {
	exprNode()
}

type Literal struct{ Value record.Value }
type Column struct{ Ref ColumnRef }

func (*Literal) exprNode() {}
func (*Column) exprNode()  {}

// ComparePred is `col OP expr`.
type ComparePred struct {
	Left  ColumnRef
	Op    CompareOp
	Right Expr
}

// NullPred is `col IS [NOT] NULL`.
type NullPred struct {
	Ref ColumnRef
	Not bool
}

// LikePred is `col LIKE 'pattern'`.
type LikePred struct {
	Ref     ColumnRef
	Pattern string
}

// InPred is `col IN (literal, ...)`.
type InPred struct {
	Ref    ColumnRef
	Values []record.Value
}

func (*ComparePred) whereNode() {}
func (*NullPred) whereNode()    {}
func (*LikePred) whereNode()    {}
func (*InPred) whereNode()      {}
