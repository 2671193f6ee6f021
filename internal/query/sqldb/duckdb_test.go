package sqldb

import (
	"context"
	"testing"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/database"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
)

func TestExecuteAgainstInMemoryDuckDB(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Driver: config.DriverDuckDB, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER, name VARCHAR)`,
		`INSERT INTO users VALUES (1, 'ada'), (2, 'grace'), (3, 'linus')`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	engine := NewEngine(db, Options{})
	result, err := engine.Execute(ctx, query.Request{SQL: "SELECT name FROM users ORDER BY id;", RowLimit: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", result.RowCount)
	}
	if result.Rows[0][0] != "ada" || result.Rows[1][0] != "grace" {
		t.Fatalf("Rows = %#v", result.Rows)
	}
}
