package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/conversation"
	"github.com/liumaishenjian/natural-language-to-sql/internal/observability"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
	"github.com/liumaishenjian/natural-language-to-sql/internal/sqlguard"
)

type ReadinessCheck func(ctx context.Context) error

// Service is the session-owning query pipeline behind the query and session
// routes.
type Service interface {
	Ask(ctx context.Context, text string, tables []string) (pipeline.Outcome, error)
	ExecuteSQL(ctx context.Context, sql string) pipeline.Outcome
	Validate(sql string) sqlguard.Report
	Summary() conversation.Summary
	History() []conversation.Turn
	Reset() conversation.Summary
	Export(ctx context.Context) (conversation.ExportResult, error)
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
	Backend() (name, model string)
	PromptMode() string
}

type SchemaBrowser interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]schema.Column, error)
	Describe(ctx context.Context, filter []string) (string, error)
	Preview(ctx context.Context, engine query.Engine, table string, limit int) (query.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          Service
	Schema            SchemaBrowser
	QueryEngine       query.Engine
	PreviewRows       int
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(cfg, deps, w, r)
	})

	mux.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sql/validate", func(w http.ResponseWriter, r *http.Request) {
		handleValidateSQL(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sql/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	})

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("GET /v1/tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	mux.HandleFunc("GET /v1/tables/{table}/columns", func(w http.ResponseWriter, r *http.Request) {
		handleTableColumns(deps, w, r)
	})
	mux.HandleFunc("GET /v1/tables/{table}/preview", func(w http.ResponseWriter, r *http.Request) {
		handleTablePreview(deps, w, r)
	})

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		handleListModels(deps, w, r)
	})
	mux.HandleFunc("POST /v1/backend/test", func(w http.ResponseWriter, r *http.Request) {
		handleBackendTest(deps, w, r)
	})

	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		handleSession(deps, w, r)
	})
	mux.HandleFunc("POST /v1/session/reset", func(w http.ResponseWriter, r *http.Request) {
		handleSessionReset(deps, w, r)
	})
	mux.HandleFunc("POST /v1/session/export", func(w http.ResponseWriter, r *http.Request) {
		handleSessionExport(deps, w, r)
	})

	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(deps.Logger))
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
