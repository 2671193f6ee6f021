package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/conversation"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
)

func handleStatus(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	backend, model := deps.Pipeline.Backend()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     cfg.Service.Name,
		"profile":     string(cfg.Profile),
		"driver":      cfg.Database.Driver,
		"backend":     backend,
		"model":       model,
		"prompt_mode": deps.Pipeline.PromptMode(),
		"strict":      cfg.Guard.Strict,
		"session":     deps.Pipeline.Summary(),
	})
}

func handleListModels(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	backend, current := deps.Pipeline.Backend()
	models, err := deps.Pipeline.ListModels(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrModelsUnsupported) {
			writeError(r.Context(), w, http.StatusNotImplemented, "MODELS_UNSUPPORTED", err.Error(), false, map[string]any{"backend": backend})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "MODELS_FAILED", "failed to list backend models", true, map[string]any{"backend": backend, "details": err.Error()})
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backend": backend, "current": current, "models": models})
}

func handleBackendTest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	backend, model := deps.Pipeline.Backend()
	if err := deps.Pipeline.Ping(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, nl2sql.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(r.Context(), w, status, "BACKEND_UNREACHABLE", err.Error(), true, map[string]any{"backend": backend, "model": model})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "backend": backend, "model": model})
}

func handleSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	history := deps.Pipeline.History()
	if history == nil {
		history = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": deps.Pipeline.Summary(),
		"history": history,
	})
}

func handleSessionReset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "summary": deps.Pipeline.Reset()})
}

func handleSessionExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	result, err := deps.Pipeline.Export(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrExportDisabled) {
			writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export conversation", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
