package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
)

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("nl2sql", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestNewGeneratorSelectsBackend(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
	}{
		{map[string]string{}, "ollama"},
		{map[string]string{"NL2SQL_BACKEND": "openai", "NL2SQL_OPENAI_API_KEY": "k"}, "openai"},
	}
	for _, tt := range tests {
		cfg := testConfig(t, tt.env)
		gen, err := NewGenerator(context.Background(), cfg.Backend)
		if err != nil {
			t.Fatalf("NewGenerator(%v) error = %v", tt.env, err)
		}
		if gen.Name() != tt.name {
			t.Fatalf("Name() = %q, want %q", gen.Name(), tt.name)
		}
		if gen.Model() != config.DefaultModel(cfg.Backend.Kind) {
			t.Fatalf("Model() = %q", gen.Model())
		}
	}
}

func TestNewGeneratorRequiresAPIKeys(t *testing.T) {
	for _, kind := range []string{"openai", "gemini"} {
		cfg := testConfig(t, map[string]string{"NL2SQL_BACKEND": kind})
		if _, err := NewGenerator(context.Background(), cfg.Backend); err == nil {
			t.Fatalf("NewGenerator(%s) expected error without api key", kind)
		}
	}
}

func TestNewExportStoreDefaultsToLocalDir(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, map[string]string{"NL2SQL_EXPORT_DIR": dir})
	store, location, err := NewExportStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewExportStore() error = %v", err)
	}
	if store == nil || location != dir {
		t.Fatalf("location = %q, want %q", location, dir)
	}
}

func TestBuildWithInMemoryDuckDB(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"NL2SQL_DB_DRIVER":  "duckdb",
		"NL2SQL_EXPORT_DIR": t.TempDir(),
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if a.Describer.Schema() != "main" {
		t.Fatalf("Describer.Schema() = %q", a.Describer.Schema())
	}
	if a.Pipeline.PromptMode() != config.PromptModeText {
		t.Fatalf("PromptMode() = %q", a.Pipeline.PromptMode())
	}
	if err := a.ExportCheck(context.Background()); err != nil {
		t.Fatalf("ExportCheck() error = %v", err)
	}
}

func TestExportCheckReportsMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	cfg := testConfig(t, map[string]string{"NL2SQL_EXPORT_DIR": dir})
	store, _, err := NewExportStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewExportStore() error = %v", err)
	}
	a := &App{Exports: store}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if err := a.ExportCheck(context.Background()); err == nil {
		t.Fatal("ExportCheck() expected error")
	}
	if err := (&App{}).ExportCheck(context.Background()); err != nil {
		t.Fatalf("ExportCheck() without sink error = %v", err)
	}
}
