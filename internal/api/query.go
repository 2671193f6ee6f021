package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
)

type queryRequest struct {
	Prompt string   `json:"prompt"`
	Tables []string `json:"tables"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Prompt     string   `json:"prompt,omitempty"`
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	DurationMs int64    `json:"duration_ms"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}

	var request queryRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	outcome, err := deps.Pipeline.Ask(r.Context(), request.Prompt, cleanTables(request.Tables))
	if err != nil {
		if errors.Is(err, schema.ErrUnknownTable) {
			writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_TABLE", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}
	writeOutcome(w, r, outcome)
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	request, ok := decodeSQLRequest(w, r)
	if !ok {
		return
	}
	writeOutcome(w, r, deps.Pipeline.ExecuteSQL(r.Context(), request.SQL))
}

func handleValidateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	request, ok := decodeSQLRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Pipeline.Validate(request.SQL))
}

func decodeSQLRequest(w http.ResponseWriter, r *http.Request) (sqlRequest, bool) {
	var request sqlRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sql request body", false, map[string]any{"details": err.Error()})
		return sqlRequest{}, false
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return sqlRequest{}, false
	}
	return request, true
}

// writeOutcome maps a pipeline outcome onto the response envelope. Failed
// outcomes become error envelopes whose status reflects the failing stage.
func writeOutcome(w http.ResponseWriter, r *http.Request, outcome pipeline.Outcome) {
	if outcome.OK {
		rows := outcome.Rows
		if rows == nil {
			rows = [][]any{}
		}
		writeJSON(w, http.StatusOK, queryResponse{
			Prompt:     outcome.Prompt,
			SQL:        outcome.SQL,
			Columns:    outcome.Columns,
			Rows:       rows,
			RowCount:   outcome.RowCount,
			DurationMs: outcome.Duration.Milliseconds(),
		})
		return
	}

	extra := map[string]any{}
	if outcome.Prompt != "" {
		extra["prompt"] = outcome.Prompt
	}
	switch outcome.ErrorKind {
	case pipeline.ErrorBackend:
		extra["backend_error"] = string(outcome.BackendKind)
		switch outcome.BackendKind {
		case nl2sql.KindTimeout:
			writeError(r.Context(), w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT", outcome.Error, true, extra)
		case nl2sql.KindUnauthorized:
			writeError(r.Context(), w, http.StatusBadGateway, "BACKEND_UNAUTHORIZED", outcome.Error, false, extra)
		case nl2sql.KindEmpty:
			writeError(r.Context(), w, http.StatusBadGateway, "BACKEND_EMPTY", outcome.Error, true, extra)
		default:
			writeError(r.Context(), w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", outcome.Error, true, extra)
		}
	case pipeline.ErrorMalformed:
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "MALFORMED_RESPONSE", outcome.Error, false, extra)
	case pipeline.ErrorUnsafe:
		extra["partial_sql"] = outcome.PartialSQL
		extra["rule"] = outcome.Rule
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "UNSAFE_STATEMENT", outcome.Error, false, extra)
	default:
		extra["sql"] = outcome.SQL
		writeError(r.Context(), w, http.StatusBadRequest, "EXECUTION_FAILED", outcome.Error, false, extra)
	}
}

func cleanTables(tables []string) []string {
	out := make([]string, 0, len(tables))
	for _, table := range tables {
		if table = strings.TrimSpace(table); table != "" {
			out = append(out, table)
		}
	}
	return out
}
