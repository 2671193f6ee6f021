package nl2sql

import (
	"fmt"
	"strings"
)

// FailureSentinel is the exact answer backends are told to give when the
// request cannot be expressed against the schema.
const FailureSentinel = "ERROR: unable to generate a matching SQL query"

const DefaultDialect = "PostgreSQL"

// SystemInstructions is the shared rule block for both prompt shapes.
func SystemInstructions(dialect string) string {
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = DefaultDialect
	}
	rules := []string{
		"Generate only SELECT statements. Never generate INSERT, UPDATE, DELETE or any statement that changes data or schema.",
		fmt.Sprintf("Make sure the SQL is valid %s syntax.", dialect),
		"Quote table and column names with double quotes when they collide with reserved words.",
		"Use explicit JOIN clauses when the request spans several tables.",
		"Return only the SQL statement, without explanations or markdown.",
		fmt.Sprintf("If the request cannot be answered from the schema below, return exactly: %s", FailureSentinel),
		"Use the conversation history to resolve follow-up requests.",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a SQL assistant. Turn the user's natural-language request into one %s SELECT query.\n\nRules:\n", dialect)
	for i, rule := range rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	return b.String()
}

// SchemaSection wraps a schema description for inclusion in a prompt.
func SchemaSection(schemaDescription string) string {
	return "Database schema:\n" + strings.TrimSpace(schemaDescription)
}
