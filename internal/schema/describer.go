package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
)

var ErrUnknownTable = errors.New("unknown table")

const DefaultPreviewRows = 10

const listTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// Key roles follow the PRI/UNI/MUL convention: the strongest constraint a
// column takes part in wins.
const listColumnsQuery = `
SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(k.key_role, '') AS key_role
FROM information_schema.columns c
LEFT JOIN (
	SELECT kcu.column_name,
		CASE MIN(CASE tc.constraint_type WHEN 'PRIMARY KEY' THEN 1 WHEN 'UNIQUE' THEN 2 ELSE 3 END)
			WHEN 1 THEN 'PRI' WHEN 2 THEN 'UNI' ELSE 'MUL' END AS key_role
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
		AND tc.table_name = kcu.table_name
	WHERE tc.table_schema = $1 AND tc.table_name = $2
	GROUP BY kcu.column_name
) k ON k.column_name = c.column_name
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Key      string `json:"key,omitempty"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Describer introspects one database schema through information_schema.
type Describer struct {
	db     *sql.DB
	schema string
}

func NewDescriber(db *sql.DB, schemaName string) *Describer {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		schemaName = "public"
	}
	return &Describer{db: db, schema: schemaName}
}

func (d *Describer) Schema() string {
	return d.schema
}

func (d *Describer) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, listTablesQuery, d.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (d *Describer) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, listColumnsQuery, d.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			column   Column
			nullable string
		)
		if err := rows.Scan(&column.Name, &column.Type, &nullable, &column.Key); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		column.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return columns, nil
}

// Load returns the tables named in filter, or every table when filter is
// empty. Filter names are matched exactly and unknown names are an error.
func (d *Describer) Load(ctx context.Context, filter []string) ([]Table, error) {
	names, err := d.Tables(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectTables(names, filter)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(selected))
	for _, name := range selected {
		columns, err := d.Columns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: columns})
	}
	return tables, nil
}

// Describe renders the schema as prompt text. The output is rebuilt from
// live introspection on every call.
func (d *Describer) Describe(ctx context.Context, filter []string) (string, error) {
	tables, err := d.Load(ctx, filter)
	if err != nil {
		return "", err
	}
	return Render(tables), nil
}

// Preview returns the first rows of a known table through the execution
// engine.
func (d *Describer) Preview(ctx context.Context, engine query.Engine, table string, limit int) (query.Result, error) {
	names, err := d.Tables(ctx)
	if err != nil {
		return query.Result{}, err
	}
	if _, err := selectTables(names, []string{table}); err != nil {
		return query.Result{}, err
	}
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	return engine.Execute(ctx, query.Request{
		SQL:      fmt.Sprintf("SELECT * FROM %s.%s", QuoteIdent(d.schema), QuoteIdent(table)),
		RowLimit: limit,
	})
}

func Render(tables []Table) string {
	var b strings.Builder
	for i, table := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\nColumns:\n", table.Name)
		for _, column := range table.Columns {
			parts := []string{"  -", column.Name, "(" + column.Type + ")"}
			if column.Key != "" {
				parts = append(parts, column.Key)
			}
			if column.Nullable {
				parts = append(parts, "NULL")
			} else {
				parts = append(parts, "NOT NULL")
			}
			b.WriteString(strings.Join(parts, " "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseFilter splits a comma separated table list, dropping blanks.
func ParseFilter(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func selectTables(names, filter []string) ([]string, error) {
	if len(filter) == 0 {
		return names, nil
	}
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}
	selected := make([]string, 0, len(filter))
	seen := make(map[string]struct{}, len(filter))
	for _, name := range filter {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, name)
	}
	return selected, nil
}
