// Package parser turns SQL text into the closed AST node set consumed by
// the executor. Hand-rolled recursive descent over a small token stream.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

var ErrSyntax = errors.New("syntax error")

type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses one statement. A trailing semicolon is accepted.
func Parse(input string) (ast.Statement, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSyntax)
	}
	p := &Parser{tokens: tokens}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.accept(TokenSymbol, ";")
	if p.peek().Type != TokenEOF {
		return nil, p.errorf("unexpected %q after statement", p.peek().Literal)
	}
	return stmt, nil
}

func (p *Parser) peek() Token { return p.tokens[p.pos] }

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(typ TokenType, lit string) bool {
	if p.peek().Type == typ && p.peek().Literal == lit {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType, lit string) error {
	if !p.accept(typ, lit) {
		return p.errorf("expected %q, found %q", lit, p.peek().Literal)
	}
	return nil
}

func (p *Parser) expectKeyword(kw string) error { return p.expect(TokenKeyword, kw) }

func (p *Parser) acceptKeyword(kw string) bool { return p.accept(TokenKeyword, kw) }

func (p *Parser) ident() (string, error) {
	tok := p.peek()
	if tok.Type != TokenIdent {
		return "", p.errorf("expected identifier, found %q", tok.Literal)
	}
	p.advance()
	return tok.Literal, nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrSyntax)...)
}

func (p *Parser) parseStatement() (ast.Statement, error) {
	switch {
	case p.acceptKeyword("CREATE"):
		if p.acceptKeyword("DATABASE") {
			name, err := p.ident()
			return &ast.CreateDatabase{Name: name}, err
		}
		if p.acceptKeyword("TABLE") {
			return p.parseCreateTable()
		}
		return nil, p.errorf("expected DATABASE or TABLE after CREATE")
	case p.acceptKeyword("DROP"):
		if p.acceptKeyword("DATABASE") {
			name, err := p.ident()
			return &ast.DropDatabase{Name: name}, err
		}
		if p.acceptKeyword("TABLE") {
			name, err := p.ident()
			return &ast.DropTable{Name: name}, err
		}
		return nil, p.errorf("expected DATABASE or TABLE after DROP")
	case p.acceptKeyword("USE"):
		p.acceptKeyword("DATABASE")
		name, err := p.ident()
		return &ast.UseDatabase{Name: name}, err
	case p.acceptKeyword("SHOW"):
		if p.acceptKeyword("DATABASES") {
			return &ast.ShowDatabases{}, nil
		}
		if p.acceptKeyword("TABLES") {
			return &ast.ShowTables{}, nil
		}
		if p.acceptKeyword("INDEXES") {
			if err := p.expectKeyword("FROM"); err != nil {
				return nil, err
			}
			name, err := p.ident()
			return &ast.ShowIndexes{Table: name}, err
		}
		return nil, p.errorf("expected DATABASES, TABLES or INDEXES after SHOW")
	case p.acceptKeyword("DESC"):
		name, err := p.ident()
		return &ast.Desc{Name: name}, err
	case p.acceptKeyword("LOAD"):
		return p.parseLoad()
	case p.acceptKeyword("INSERT"):
		return p.parseInsert()
	case p.acceptKeyword("DELETE"):
		return p.parseDelete()
	case p.acceptKeyword("UPDATE"):
		return p.parseUpdate()
	case p.acceptKeyword("SELECT"):
		return p.parseSelect()
	case p.acceptKeyword("ALTER"):
		return p.parseAlter()
	default:
		return nil, p.errorf("unexpected %q", p.peek().Literal)
	}
}

// ----- CREATE TABLE -----

func (p *Parser) parseCreateTable() (ast.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenSymbol, "("); err != nil {
		return nil, err
	}
	stmt := &ast.CreateTable{Name: name}
	for {
		switch {
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			cols, err := p.parseColumnList()
			if err != nil {
				return nil, err
			}
			stmt.Constraints = append(stmt.Constraints, ast.TableConstraint{
				Kind: schema.PrimaryKey, Columns: cols,
			})
		case p.acceptKeyword("UNIQUE"):
			cols, err := p.parseColumnList()
			if err != nil {
				return nil, err
			}
			stmt.Constraints = append(stmt.Constraints, ast.TableConstraint{
				Kind: schema.Unique, Columns: cols,
			})
		case p.acceptKeyword("FOREIGN"):
			fk, err := p.parseForeignKeyClause("")
			if err != nil {
				return nil, err
			}
			stmt.Constraints = append(stmt.Constraints, *fk)
		default:
			def, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, *def)
		}
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expect(TokenSymbol, ")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (*ast.ColumnDef, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	def := &ast.ColumnDef{Name: name, Type: typ}
	for {
		if p.acceptKeyword("NOT") {
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			def.NotNull = true
			continue
		}
		if p.acceptKeyword("DEFAULT") {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			def.Default = &v
			continue
		}
		return def, nil
	}
}

func (p *Parser) parseType() (record.Type, error) {
	switch {
	case p.acceptKeyword("INT"), p.acceptKeyword("INTEGER"):
		return record.Int(), nil
	case p.acceptKeyword("FLOAT"):
		return record.Float(), nil
	case p.acceptKeyword("DATE"):
		return record.Date(), nil
	case p.acceptKeyword("VARCHAR"):
		if err := p.expect(TokenSymbol, "("); err != nil {
			return record.Type{}, err
		}
		tok := p.advance()
		n, err := strconv.Atoi(tok.Literal)
		if err != nil || n <= 0 {
			return record.Type{}, p.errorf("bad varchar length %q", tok.Literal)
		}
		if err := p.expect(TokenSymbol, ")"); err != nil {
			return record.Type{}, err
		}
		return record.Varchar(n), nil
	default:
		return record.Type{}, p.errorf("expected type, found %q", p.peek().Literal)
	}
}

func (p *Parser) parseColumnList() ([]string, error) {
	if err := p.expect(TokenSymbol, "("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		cols = append(cols, name)
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expect(TokenSymbol, ")"); err != nil {
		return nil, err
	}
	return cols, nil
}

func (p *Parser) parseForeignKeyClause(name string) (*ast.TableConstraint, error) {
	if err := p.expectKeyword("KEY"); err != nil {
		return nil, err
	}
	cols, err := p.parseColumnList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("REFERENCES"); err != nil {
		return nil, err
	}
	refTable, err := p.ident()
	if err != nil {
		return nil, err
	}
	refCols, err := p.parseColumnList()
	if err != nil {
		return nil, err
	}
	return &ast.TableConstraint{
		Kind:       schema.ForeignKey,
		Name:       name,
		Columns:    cols,
		RefTable:   refTable,
		RefColumns: refCols,
	}, nil
}

// ----- literals -----

func (p *Parser) parseLiteral() (record.Value, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Literal, 10, 32)
		if err != nil {
			return record.Value{}, p.errorf("integer %q out of range", tok.Literal)
		}
		return record.NewInt(int32(n)), nil
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return record.Value{}, p.errorf("bad float %q", tok.Literal)
		}
		return record.NewFloat(f), nil
	case TokenString:
		p.advance()
		return record.NewVarchar(tok.Literal), nil
	case TokenKeyword:
		if tok.Literal == "NULL" {
			p.advance()
			return record.Null(), nil
		}
	}
	return record.Value{}, p.errorf("expected literal, found %q", tok.Literal)
}

// ----- LOAD -----

func (p *Parser) parseLoad() (ast.Statement, error) {
	if err := p.expectKeyword("DATA"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INFILE"); err != nil {
		return nil, err
	}
	path := p.peek()
	if path.Type != TokenString {
		return nil, p.errorf("expected file path string")
	}
	p.advance()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &ast.Load{Path: path.Literal, Table: table, Delimiter: ","}
	if p.acceptKeyword("FIELDS") {
		if err := p.expectKeyword("TERMINATED"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		delim := p.peek()
		if delim.Type != TokenString {
			return nil, p.errorf("expected delimiter string")
		}
		p.advance()
		stmt.Delimiter = delim.Literal
	}
	return stmt, nil
}

// ----- INSERT -----

func (p *Parser) parseInsert() (ast.Statement, error) {
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	stmt := &ast.Insert{Table: table}
	for {
		if err := p.expect(TokenSymbol, "("); err != nil {
			return nil, err
		}
		var row []record.Value
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			if p.accept(TokenSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expect(TokenSymbol, ")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}
	return stmt, nil
}

// ----- DELETE / UPDATE -----

func (p *Parser) parseDelete() (ast.Statement, error) {
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	return &ast.Delete{Table: table, Where: where}, nil
}

func (p *Parser) parseUpdate() (ast.Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &ast.Update{Table: table}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenSymbol, "="); err != nil {
			return nil, err
		}
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, ast.SetPair{Column: col, Value: v})
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	stmt.Where = where
	return stmt, nil
}

// ----- SELECT -----

func (p *Parser) parseSelect() (ast.Statement, error) {
	stmt := &ast.Select{}
	selectors, err := p.parseSelectors()
	if err != nil {
		return nil, err
	}
	stmt.Selectors = selectors

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	for {
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Tables = append(stmt.Tables, table)
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}

	if stmt.Where, err = p.parseOptionalWhere(); err != nil {
		return nil, err
	}
	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		ref, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = &ref
	}
	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		ref, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		ob := &ast.OrderBy{Column: ref}
		if p.acceptKeyword("ASC") {
		} else if p.acceptKeyword("DESC") {
			ob.Desc = true
		}
		stmt.OrderBy = ob
	}
	if p.acceptKeyword("LIMIT") {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
		if p.acceptKeyword("OFFSET") {
			k, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			stmt.Offset = &k
		}
	}
	return stmt, nil
}

func (p *Parser) parseInt() (int, error) {
	tok := p.peek()
	if tok.Type != TokenInt {
		return 0, p.errorf("expected integer, found %q", tok.Literal)
	}
	p.advance()
	n, err := strconv.Atoi(tok.Literal)
	if err != nil || n < 0 {
		return 0, p.errorf("bad count %q", tok.Literal)
	}
	return n, nil
}

func (p *Parser) parseSelectors() (ast.Selectors, error) {
	if p.accept(TokenSymbol, "*") {
		return ast.Selectors{All: true}, nil
	}
	var items []ast.Selector
	for {
		item, err := p.parseSelector()
		if err != nil {
			return ast.Selectors{}, err
		}
		items = append(items, item)
		if p.accept(TokenSymbol, ",") {
			continue
		}
		break
	}
	return ast.Selectors{Items: items}, nil
}

var aggFuncs = map[string]ast.AggFunc{
	"COUNT": ast.AggCount,
	"AVG":   ast.AggAvg,
	"SUM":   ast.AggSum,
	"MIN":   ast.AggMin,
	"MAX":   ast.AggMax,
}

func (p *Parser) parseSelector() (ast.Selector, error) {
	tok := p.peek()
	if tok.Type == TokenKeyword {
		if f, ok := aggFuncs[tok.Literal]; ok {
			p.advance()
			if err := p.expect(TokenSymbol, "("); err != nil {
				return nil, err
			}
			if p.accept(TokenSymbol, "*") {
				if f != ast.AggCount {
					return nil, p.errorf("%s(*) is not supported", tok.Literal)
				}
				if err := p.expect(TokenSymbol, ")"); err != nil {
					return nil, err
				}
				return &ast.AggregateItem{Func: f}, nil
			}
			ref, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenSymbol, ")"); err != nil {
				return nil, err
			}
			return &ast.AggregateItem{Func: f, Ref: &ref}, nil
		}
	}
	ref, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}
	return &ast.ColumnItem{Ref: ref}, nil
}

func (p *Parser) parseColumnRef() (ast.ColumnRef, error) {
	first, err := p.ident()
	if err != nil {
		return ast.ColumnRef{}, err
	}
	if p.accept(TokenSymbol, ".") {
		second, err := p.ident()
		if err != nil {
			return ast.ColumnRef{}, err
		}
		return ast.ColumnRef{Table: first, Column: second}, nil
	}
	return ast.ColumnRef{Column: first}, nil
}

// ----- WHERE -----

func (p *Parser) parseOptionalWhere() ([]ast.WhereClause, error) {
	if !p.acceptKeyword("WHERE") {
		return nil, nil
	}
	var out []ast.WhereClause
	for {
		clause, err := p.parseWhereClause()
		if err != nil {
			return nil, err
		}
		out = append(out, clause)
		if p.acceptKeyword("AND") {
			continue
		}
		return out, nil
	}
}

var compareOps = map[string]ast.CompareOp{
	"=":  ast.OpEq,
	"<>": ast.OpNe,
	"<":  ast.OpLt,
	"<=": ast.OpLe,
	">":  ast.OpGt,
	">=": ast.OpGe,
}

func (p *Parser) parseWhereClause() (ast.WhereClause, error) {
	ref, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	if tok.Type == TokenSymbol {
		if op, ok := compareOps[tok.Literal]; ok {
			p.advance()
			// Right side: column reference or literal.
			if p.peek().Type == TokenIdent {
				right, err := p.parseColumnRef()
				if err != nil {
					return nil, err
				}
				return &ast.ComparePred{Left: ref, Op: op, Right: &ast.Column{Ref: right}}, nil
			}
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			return &ast.ComparePred{Left: ref, Op: op, Right: &ast.Literal{Value: v}}, nil
		}
	}

	switch {
	case p.acceptKeyword("IS"):
		not := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &ast.NullPred{Ref: ref, Not: not}, nil
	case p.acceptKeyword("LIKE"):
		pattern := p.peek()
		if pattern.Type != TokenString {
			return nil, p.errorf("expected pattern string after LIKE")
		}
		p.advance()
		return &ast.LikePred{Ref: ref, Pattern: pattern.Literal}, nil
	case p.acceptKeyword("IN"):
		if err := p.expect(TokenSymbol, "("); err != nil {
			return nil, err
		}
		var values []record.Value
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.accept(TokenSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expect(TokenSymbol, ")"); err != nil {
			return nil, err
		}
		return &ast.InPred{Ref: ref, Values: values}, nil
	default:
		return nil, p.errorf("expected predicate, found %q", p.peek().Literal)
	}
}

// ----- ALTER -----

func (p *Parser) parseAlter() (ast.Statement, error) {
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}

	switch {
	case p.acceptKeyword("ADD"):
		switch {
		case p.acceptKeyword("INDEX"):
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			cols, err := p.parseColumnList()
			if err != nil {
				return nil, err
			}
			return &ast.AddIndex{Table: table, Name: name, Columns: cols}, nil
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			cols, err := p.parseColumnList()
			if err != nil {
				return nil, err
			}
			return &ast.AddPrimaryKey{Table: table, Columns: cols}, nil
		case p.acceptKeyword("UNIQUE"):
			cols, err := p.parseColumnList()
			if err != nil {
				return nil, err
			}
			return &ast.AddUnique{Table: table, Columns: cols}, nil
		case p.acceptKeyword("CONSTRAINT"):
			var name string
			if p.peek().Type == TokenIdent {
				name, _ = p.ident()
			}
			if !p.acceptKeyword("FOREIGN") {
				return nil, p.errorf("expected FOREIGN KEY after CONSTRAINT")
			}
			fk, err := p.parseForeignKeyClause(name)
			if err != nil {
				return nil, err
			}
			return &ast.AddForeignKey{
				Table: table, Name: fk.Name, Columns: fk.Columns,
				RefTable: fk.RefTable, RefColumns: fk.RefColumns,
			}, nil
		case p.acceptKeyword("FOREIGN"):
			fk, err := p.parseForeignKeyClause("")
			if err != nil {
				return nil, err
			}
			return &ast.AddForeignKey{
				Table: table, Columns: fk.Columns,
				RefTable: fk.RefTable, RefColumns: fk.RefColumns,
			}, nil
		default:
			return nil, p.errorf("unsupported ALTER TABLE ADD %q", p.peek().Literal)
		}
	case p.acceptKeyword("DROP"):
		switch {
		case p.acceptKeyword("INDEX"):
			name, err := p.ident()
			return &ast.DropIndex{Table: table, Name: name}, err
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			var name string
			if p.peek().Type == TokenIdent {
				name, _ = p.ident()
			}
			return &ast.DropPrimaryKey{Table: table, Name: name}, nil
		case p.acceptKeyword("FOREIGN"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			name, err := p.ident()
			return &ast.DropForeignKey{Table: table, Name: name}, err
		case p.acceptKeyword("UNIQUE"):
			name, err := p.ident()
			return &ast.DropUnique{Table: table, Name: name}, err
		default:
			return nil, p.errorf("unsupported ALTER TABLE DROP %q", p.peek().Literal)
		}
	default:
		return nil, p.errorf("expected ADD or DROP in ALTER TABLE")
	}
}
