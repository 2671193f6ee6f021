package nl2sql

import "testing"

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "sql fence", raw: "```sql\nSELECT id, name FROM users\n```", want: "SELECT id, name FROM users"},
		{name: "sql fence with semicolon", raw: "Here you go:\n```sql\nSELECT 1;\n```\nEnjoy", want: "SELECT 1"},
		{name: "upper-case tag", raw: "```SQL\nSELECT 2\n```", want: "SELECT 2"},
		{name: "unterminated sql fence", raw: "```sql\nSELECT 3 FROM t", want: "SELECT 3 FROM t"},
		{name: "plain fence", raw: "```\nSELECT * FROM orders\n```", want: "SELECT * FROM orders"},
		{name: "plain fence with info string", raw: "```postgresql\nSELECT * FROM orders\n```", want: "SELECT * FROM orders"},
		{name: "sql fence wins over earlier plain fence", raw: "```\nnote\n```\n```sql\nSELECT 4\n```", want: "SELECT 4"},
		{name: "first select line", raw: "The query is:\nselect count(*) from users;\nThanks", want: "select count(*) from users"},
		{name: "multi-line select kept whole", raw: "SELECT id\nFROM users\nWHERE id > 1;", want: "SELECT id\nFROM users\nWHERE id > 1"},
		{name: "chinese preamble", raw: "SQL语句：SELECT * FROM products", want: "SELECT * FROM products"},
		{name: "long chinese preamble", raw: "根据您的查询需求，生成的SQL语句如下：SELECT 1", want: "SELECT 1"},
		{name: "english preamble", raw: "SQL: SELECT name FROM users;", want: "SELECT name FROM users"},
		{name: "sentinel untouched", raw: "  ERROR: 无法生成对应的SQL查询  ", want: "ERROR: 无法生成对应的SQL查询"},
		{name: "nothing matches", raw: "  I do not know  ", want: "I do not know"},
		{name: "only one semicolon stripped", raw: "SELECT 1;;", want: "SELECT 1;"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractSQL(tc.raw); got != tc.want {
				t.Fatalf("ExtractSQL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractSQLFencedRoundTrip(t *testing.T) {
	interiors := []string{
		"SELECT id, name FROM users",
		"  SELECT u.id\n  FROM users u\n  JOIN orders o ON o.user_id = u.id  ",
		"WITH recent AS (SELECT * FROM orders)\nSELECT count(*) FROM recent;",
		"SELECT ';' AS sep;",
	}
	wants := []string{
		"SELECT id, name FROM users",
		"SELECT u.id\n  FROM users u\n  JOIN orders o ON o.user_id = u.id",
		"WITH recent AS (SELECT * FROM orders)\nSELECT count(*) FROM recent",
		"SELECT ';' AS sep",
	}
	for i, interior := range interiors {
		raw := "```sql\n" + interior + "\n```"
		if got := ExtractSQL(raw); got != wants[i] {
			t.Fatalf("ExtractSQL(%q) = %q, want %q", raw, got, wants[i])
		}
	}
}

func TestClassify(t *testing.T) {
	got := Classify("ERROR: 无法生成对应的SQL查询")
	if got.OK || got.Reason != "ERROR: 无法生成对应的SQL查询" {
		t.Fatalf("Classify(sentinel) = %+v", got)
	}

	got = Classify("error: lower-case is not a sentinel")
	if got.OK || got.Reason != ReasonNotSelect {
		t.Fatalf("Classify(lower-case error) = %+v", got)
	}

	got = Classify("DELETE FROM users")
	if got.OK || got.Reason != ReasonNotSelect {
		t.Fatalf("Classify(delete) = %+v", got)
	}

	got = Classify("  select 1 ")
	if !got.OK || got.SQL != "select 1" {
		t.Fatalf("Classify(select) = %+v", got)
	}
}

func TestNormalizeScenario(t *testing.T) {
	got := Normalize("```sql\nSELECT id, name FROM users\n```")
	if !got.OK || got.SQL != "SELECT id, name FROM users" {
		t.Fatalf("Normalize() = %+v", got)
	}
}
