package query

import (
	"context"
	"strings"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	RowCount int           `json:"row_count"`
	Duration time.Duration `json:"duration"`
}

// Engine executes statements that were already certified read-only.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// StripTrailingSemicolons removes any run of trailing ";" and surrounding
// whitespace.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
