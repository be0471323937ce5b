package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/lunasql/internal/record"
	"github.com/tuannm99/lunasql/internal/schema"
	"github.com/tuannm99/lunasql/internal/sql/ast"
)

func TestParseDatabaseStatements(t *testing.T) {
	stmt, err := Parse("CREATE DATABASE d;")
	require.NoError(t, err)
	require.Equal(t, &ast.CreateDatabase{Name: "d"}, stmt)

	stmt, err = Parse("use d")
	require.NoError(t, err)
	require.Equal(t, &ast.UseDatabase{Name: "d"}, stmt)

	stmt, err = Parse("SHOW DATABASES;")
	require.NoError(t, err)
	require.IsType(t, &ast.ShowDatabases{}, stmt)

	stmt, err = Parse("SHOW INDEXES FROM t;")
	require.NoError(t, err)
	require.Equal(t, &ast.ShowIndexes{Table: "t"}, stmt)
}

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE t (
		id INT NOT NULL,
		name VARCHAR(8) DEFAULT 'anon',
		score FLOAT,
		born DATE,
		PRIMARY KEY (id),
		FOREIGN KEY (name) REFERENCES u (uname)
	);`)
	require.NoError(t, err)

	ct, ok := stmt.(*ast.CreateTable)
	require.True(t, ok)
	require.Equal(t, "t", ct.Name)
	require.Len(t, ct.Columns, 4)
	require.Equal(t, record.Int(), ct.Columns[0].Type)
	require.True(t, ct.Columns[0].NotNull)
	require.Equal(t, record.Varchar(8), ct.Columns[1].Type)
	require.NotNil(t, ct.Columns[1].Default)
	require.Equal(t, "anon", ct.Columns[1].Default.Str)
	require.Equal(t, record.Float(), ct.Columns[2].Type)
	require.Equal(t, record.Date(), ct.Columns[3].Type)

	require.Len(t, ct.Constraints, 2)
	require.Equal(t, schema.PrimaryKey, ct.Constraints[0].Kind)
	require.Equal(t, []string{"id"}, ct.Constraints[0].Columns)
	require.Equal(t, schema.ForeignKey, ct.Constraints[1].Kind)
	require.Equal(t, "u", ct.Constraints[1].RefTable)
	require.Equal(t, []string{"uname"}, ct.Constraints[1].RefColumns)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse("INSERT INTO t VALUES (1,'a'), (2, NULL), (-3, 'c');")
	require.NoError(t, err)

	ins, ok := stmt.(*ast.Insert)
	require.True(t, ok)
	require.Equal(t, "t", ins.Table)
	require.Len(t, ins.Rows, 3)
	require.Equal(t, record.NewInt(1), ins.Rows[0][0])
	require.True(t, ins.Rows[1][1].IsNull())
	require.Equal(t, record.NewInt(-3), ins.Rows[2][0])
}

func TestParseSelect(t *testing.T) {
	stmt, err := Parse("SELECT id, name FROM t WHERE id >= 2 AND name LIKE 'a%' ORDER BY id DESC LIMIT 10 OFFSET 5;")
	require.NoError(t, err)

	sel, ok := stmt.(*ast.Select)
	require.True(t, ok)
	require.False(t, sel.Selectors.All)
	require.Len(t, sel.Selectors.Items, 2)
	require.Equal(t, []string{"t"}, sel.Tables)
	require.Len(t, sel.Where, 2)

	cmp, ok := sel.Where[0].(*ast.ComparePred)
	require.True(t, ok)
	require.Equal(t, ast.OpGe, cmp.Op)

	like, ok := sel.Where[1].(*ast.LikePred)
	require.True(t, ok)
	require.Equal(t, "a%", like.Pattern)

	require.NotNil(t, sel.OrderBy)
	require.True(t, sel.OrderBy.Desc)
	require.NotNil(t, sel.Limit)
	require.Equal(t, 10, *sel.Limit)
	require.NotNil(t, sel.Offset)
	require.Equal(t, 5, *sel.Offset)
}

func TestParseSelectAggregates(t *testing.T) {
	stmt, err := Parse("SELECT g, SUM(v), COUNT(*) FROM s GROUP BY g ORDER BY g ASC;")
	require.NoError(t, err)

	sel := stmt.(*ast.Select)
	require.Len(t, sel.Selectors.Items, 3)
	agg, ok := sel.Selectors.Items[1].(*ast.AggregateItem)
	require.True(t, ok)
	require.Equal(t, ast.AggSum, agg.Func)
	require.Equal(t, "v", agg.Ref.Column)
	count := sel.Selectors.Items[2].(*ast.AggregateItem)
	require.Equal(t, ast.AggCount, count.Func)
	require.Nil(t, count.Ref)
	require.NotNil(t, sel.GroupBy)
	require.Equal(t, "g", sel.GroupBy.Column)
}

func TestParseJoinSelect(t *testing.T) {
	stmt, err := Parse("SELECT t.id, u.fid FROM t, u WHERE t.id = u.fid;")
	require.NoError(t, err)

	sel := stmt.(*ast.Select)
	require.Equal(t, []string{"t", "u"}, sel.Tables)
	cmp := sel.Where[0].(*ast.ComparePred)
	require.Equal(t, ast.ColumnRef{Table: "t", Column: "id"}, cmp.Left)
	col, ok := cmp.Right.(*ast.Column)
	require.True(t, ok)
	require.Equal(t, ast.ColumnRef{Table: "u", Column: "fid"}, col.Ref)
}

func TestParseUpdateDelete(t *testing.T) {
	stmt, err := Parse("UPDATE t SET name='x', score=1.5 WHERE id = 1;")
	require.NoError(t, err)
	up := stmt.(*ast.Update)
	require.Len(t, up.Sets, 2)
	require.Equal(t, record.NewFloat(1.5), up.Sets[1].Value)
	require.Len(t, up.Where, 1)

	stmt, err = Parse("DELETE FROM t WHERE name IS NOT NULL;")
	require.NoError(t, err)
	del := stmt.(*ast.Delete)
	np, ok := del.Where[0].(*ast.NullPred)
	require.True(t, ok)
	require.True(t, np.Not)
}

func TestParseIn(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t WHERE id IN (1, 2, 3);")
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	in, ok := sel.Where[0].(*ast.InPred)
	require.True(t, ok)
	require.Len(t, in.Values, 3)
}

func TestParseAlter(t *testing.T) {
	stmt, err := Parse("ALTER TABLE t ADD INDEX byid (id);")
	require.NoError(t, err)
	require.Equal(t, &ast.AddIndex{Table: "t", Name: "byid", Columns: []string{"id"}}, stmt)

	stmt, err = Parse("ALTER TABLE t DROP INDEX byid;")
	require.NoError(t, err)
	require.Equal(t, &ast.DropIndex{Table: "t", Name: "byid"}, stmt)

	stmt, err = Parse("ALTER TABLE t ADD PRIMARY KEY (id);")
	require.NoError(t, err)
	require.Equal(t, &ast.AddPrimaryKey{Table: "t", Columns: []string{"id"}}, stmt)

	stmt, err = Parse("ALTER TABLE u ADD FOREIGN KEY (fid) REFERENCES t (id);")
	require.NoError(t, err)
	require.Equal(t, &ast.AddForeignKey{
		Table: "u", Columns: []string{"fid"}, RefTable: "t", RefColumns: []string{"id"},
	}, stmt)

	stmt, err = Parse("ALTER TABLE t ADD UNIQUE (name);")
	require.NoError(t, err)
	require.Equal(t, &ast.AddUnique{Table: "t", Columns: []string{"name"}}, stmt)

	stmt, err = Parse("ALTER TABLE t DROP UNIQUE uk_name;")
	require.NoError(t, err)
	require.Equal(t, &ast.DropUnique{Table: "t", Name: "uk_name"}, stmt)
}

func TestParseLoad(t *testing.T) {
	stmt, err := Parse("LOAD DATA INFILE '/tmp/x.csv' INTO TABLE t FIELDS TERMINATED BY ';';")
	require.NoError(t, err)
	require.Equal(t, &ast.Load{Path: "/tmp/x.csv", Table: "t", Delimiter: ";"}, stmt)
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"SELEC * FROM t;",
		"INSERT INTO t VALUES (1,;",
		"CREATE TABLE t (id INT",
		"SELECT * FROM t WHERE id ?? 3;",
	} {
		_, err := Parse(input)
		require.ErrorIs(t, err, ErrSyntax, "input: %s", input)
	}
}
