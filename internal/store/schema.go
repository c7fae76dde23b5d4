package store

import (
	"fmt"
	"strings"
)

// ColumnType is the SQL affinity of a key column.
type ColumnType string

const (
	Text    ColumnType = "TEXT"
	Integer ColumnType = "INTEGER"
)

// Column is one key column of a counter table.
type Column struct {
	Name string
	Type ColumnType
}

// Table maps a counter onto a SQL table. Columns[i] stores key component i
// of the counter, outermost first; the count lives in a "count" column.
type Table struct {
	Name    string
	Columns []Column
}

// Depth is the counter depth the table stores.
func (t Table) Depth() int {
	return len(t.Columns)
}

// ColumnIndex returns the position of the named key column, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Counter tables.
var (
	// CountTable holds token counts per year.
	CountTable = Table{
		Name: "count",
		Columns: []Column{
			{Name: "year", Type: Integer},
			{Name: "token", Type: Text},
		},
	}

	// AnchoredCountTable holds token counts per year bucketed by the anchor
	// token's count on the same page.
	AnchoredCountTable = Table{
		Name: "anchored_count",
		Columns: []Column{
			{Name: "year", Type: Integer},
			{Name: "anchor_count", Type: Integer},
			{Name: "token", Type: Text},
		},
	}

	// YearCountTable holds total token counts per year.
	YearCountTable = Table{
		Name: "year_count",
		Columns: []Column{
			{Name: "year", Type: Integer},
		},
	}
)

// Tables lists every counter table created by the schema.
var Tables = []Table{CountTable, AnchoredCountTable, YearCountTable}

// TableByName finds one of Tables.
func TableByName(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (t Table) columnList() string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quote(c.Name)
	}
	return strings.Join(names, ", ")
}

func (t Table) createSQL() string {
	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", quote(c.Name), c.Type))
	}
	defs = append(defs,
		`"count" INTEGER NOT NULL CHECK ("count" >= 0)`,
		fmt.Sprintf("PRIMARY KEY (%s)", t.columnList()),
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(t.Name), strings.Join(defs, ",\n\t"))
}

// upsertSQL adds excluded.count to an existing row instead of replacing it.
func (t Table) upsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)+1), ", ")
	return fmt.Sprintf(
		`INSERT INTO %s (%s, "count") VALUES (%s) ON CONFLICT(%s) DO UPDATE SET "count" = "count" + excluded."count"`,
		quote(t.Name), t.columnList(), placeholders, t.columnList(),
	)
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	job TEXT NOT NULL,
	table_name TEXT NOT NULL,
	rows INTEGER NOT NULL,
	total INTEGER NOT NULL,
	flushed_at TEXT NOT NULL
)`
