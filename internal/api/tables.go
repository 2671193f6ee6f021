package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
)

const maxPreviewRows = 1000

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependency is not configured", false, nil)
		return
	}
	tables, err := deps.Schema.Tables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables, "count": len(tables)})
}

func handleTableColumns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependency is not configured", false, nil)
		return
	}
	table := strings.TrimSpace(r.PathValue("table"))
	columns, err := deps.Schema.Columns(r.Context(), table)
	if err != nil {
		writeSchemaError(w, r, table, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": columns})
}

func handleTablePreview(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil || deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "preview dependencies are not configured", false, nil)
		return
	}
	limit := deps.PreviewRows
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxPreviewRows {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000", false, nil)
			return
		}
		limit = parsed
	}

	table := strings.TrimSpace(r.PathValue("table"))
	result, err := deps.Schema.Preview(r.Context(), deps.QueryEngine, table, limit)
	if err != nil {
		writeSchemaError(w, r, table, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":     table,
		"columns":   result.Columns,
		"rows":      rows,
		"row_count": len(rows),
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependency is not configured", false, nil)
		return
	}
	filter := schema.ParseFilter(r.URL.Query().Get("tables"))
	description, err := deps.Schema.Describe(r.Context(), filter)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownTable) {
			writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_TABLE", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to describe schema", true, map[string]any{"details": err.Error()})
		return
	}
	if filter == nil {
		filter = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": filter, "schema": description})
}

func writeSchemaError(w http.ResponseWriter, r *http.Request, table string, err error) {
	if errors.Is(err, schema.ErrUnknownTable) {
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_TABLE", err.Error(), false, map[string]any{"table": table})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to read table", true, map[string]any{"table": table, "details": err.Error()})
}
