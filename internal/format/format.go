package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
)

const (
	Table  = "table"
	JSON   = "json"
	CSV    = "csv"
	Simple = "simple"

	DefaultMaxWidth = 50
	EmptyResult     = "query returned no rows"
)

// Supported reports whether name is a known output format.
func Supported(name string) bool {
	switch name {
	case Table, JSON, CSV, Simple:
		return true
	default:
		return false
	}
}

type Formatter struct {
	Format   string
	MaxWidth int
}

func New(format string, maxWidth int) Formatter {
	format = strings.ToLower(strings.TrimSpace(format))
	if !Supported(format) {
		format = Table
	}
	return Formatter{Format: format, MaxWidth: maxWidth}
}

// Render formats a result. Unknown formats fall back to the table layout.
// Truncation to MaxWidth applies to the table and simple layouts only.
func (f Formatter) Render(result query.Result) (string, error) {
	if len(result.Rows) == 0 {
		return EmptyResult, nil
	}
	switch f.Format {
	case JSON:
		return renderJSON(result)
	case CSV:
		return renderCSV(result)
	case Simple:
		return renderSimple(result, f.MaxWidth), nil
	default:
		return renderTable(result, f.MaxWidth)
	}
}

func renderTable(result query.Result, maxWidth int) (string, error) {
	data := make(pterm.TableData, 0, len(result.Rows)+1)
	data = append(data, append([]string(nil), result.Columns...))
	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i := range cells {
			cells[i] = Truncate(cellText(valueAt(row, i)), maxWidth)
		}
		data = append(data, cells)
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	return out, nil
}

func renderSimple(result query.Result, maxWidth int) string {
	header := strings.Join(result.Columns, " | ")
	lines := []string{header, strings.Repeat("-", len(header))}
	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i := range cells {
			cells[i] = Truncate(cellText(valueAt(row, i)), maxWidth)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}

func renderCSV(result query.Result) (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(result.Columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range result.Rows {
		record := make([]string, len(result.Columns))
		for i := range record {
			value := valueAt(row, i)
			if value == nil {
				continue
			}
			record[i] = cellText(value)
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

type orderedRow struct {
	columns []string
	values  []any
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, column := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(jsonValue(valueAt(r.values, i)))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Records returns rows as JSON objects keyed by column, preserving column
// order.
func Records(result query.Result) []json.Marshaler {
	out := make([]json.Marshaler, 0, len(result.Rows))
	for _, row := range result.Rows {
		out = append(out, orderedRow{columns: result.Columns, values: row})
	}
	return out
}

func renderJSON(result query.Result) (string, error) {
	data, err := json.MarshalIndent(Records(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(data), nil
}

// Summary describes the shape of a result.
func Summary(result query.Result) string {
	if len(result.Rows) == 0 {
		return EmptyResult
	}
	return fmt.Sprintf("Rows: %d\nColumns: %d\nColumn names: %s",
		len(result.Rows), len(result.Columns), strings.Join(result.Columns, ", "))
}

// Error renders a titled error box for terminal output.
func Error(title, message string) string {
	styled := pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint(title)
	return pterm.DefaultBox.WithTitle(styled).WithPadding(1).Sprint(message)
}

// Truncate shortens s to maxWidth runes, ending in "...". maxWidth <= 0
// disables truncation.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return string(runes[:maxWidth])
	}
	return string(runes[:maxWidth-3]) + "..."
}

func valueAt(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}

func cellText(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func jsonValue(value any) any {
	switch typed := value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return cellText(typed)
	}
}
