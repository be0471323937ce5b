package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tuannm99/lunasql/internal/sql/parser"
	"github.com/tuannm99/lunasql/internal/system"
)

// shellMain runs the interactive REPL: multi-line statements buffered until
// a terminating semicolon, one error line per failed statement.
func shellMain(sys *system.System) error {
	rl, err := readline.New("")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Welcome to lunasql!")

	var buf strings.Builder
	for {
		db := sys.CurrentDatabase()
		if db == "" {
			db = "(none)"
		}
		if buf.Len() == 0 {
			rl.SetPrompt(fmt.Sprintf("lunasql %s> ", db))
		} else {
			rl.SetPrompt(strings.Repeat(" ", len("lunasql "+db)) + "-> ")
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println("Bye")
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.HasSuffix(strings.TrimRight(line, " \t"), ";") {
			continue
		}

		statement := buf.String()
		buf.Reset()
		runStatement(sys, statement)
	}
}

// batchMain executes semicolon-terminated statements from a reader,
// stopping at the first failure.
func batchMain(sys *system.System, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var buf strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.HasSuffix(strings.TrimRight(line, " \t"), ";") {
			continue
		}
		if err := execOne(sys, buf.String()); err != nil {
			return err
		}
		buf.Reset()
	}
	if buf.Len() > 0 {
		if err := execOne(sys, buf.String()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func execOne(sys *system.System, statement string) error {
	stmt, err := parser.Parse(statement)
	if err != nil {
		return err
	}
	res, err := sys.Execute(stmt)
	if err != nil {
		return err
	}
	printResult(res, 0)
	return nil
}

func runStatement(sys *system.System, statement string) {
	start := time.Now()
	stmt, err := parser.Parse(statement)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	res, err := sys.Execute(stmt)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printResult(res, time.Since(start))
}

func printResult(res *system.Result, elapsed time.Duration) {
	if res.IsQuery {
		printTable(res)
		switch n := len(res.Rows); {
		case n == 0:
			fmt.Print("Empty set")
		case n == 1:
			fmt.Print("1 row in set")
		default:
			fmt.Printf("%d rows in set", n)
		}
	} else {
		if res.Affected == 1 {
			fmt.Print("Query OK, 1 row affected")
		} else {
			fmt.Printf("Query OK, %d rows affected", res.Affected)
		}
	}
	if elapsed > 0 {
		fmt.Printf(" (%.2f sec)", elapsed.Seconds())
	}
	fmt.Println()
}

// printTable renders a result set with aligned columns.
func printTable(res *system.Result) {
	if len(res.Columns) == 0 {
		return
	}
	widths := make([]int, len(res.Columns))
	for i, c := range res.Columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(res.Rows))
	for r, row := range res.Rows {
		cells[r] = make([]string, len(row.Values))
		for i, v := range row.Values {
			s := v.String()
			cells[r][i] = s
			if i < len(widths) && len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	sep := "+"
	for _, w := range widths {
		sep += strings.Repeat("-", w+2) + "+"
	}
	fmt.Println(sep)
	header := "|"
	for i, c := range res.Columns {
		header += fmt.Sprintf(" %-*s |", widths[i], c)
	}
	fmt.Println(header)
	fmt.Println(sep)
	for _, row := range cells {
		line := "|"
		for i, c := range row {
			line += fmt.Sprintf(" %-*s |", widths[i], c)
		}
		fmt.Println(line)
	}
	fmt.Println(sep)
}
