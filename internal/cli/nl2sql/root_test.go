package nl2sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pterm/pterm"

	"github.com/liumaishenjian/natural-language-to-sql/internal/app"
	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/conversation"
	"github.com/liumaishenjian/natural-language-to-sql/internal/database"
	core "github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query/sqldb"
	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
	"github.com/liumaishenjian/natural-language-to-sql/internal/sqlguard"
	"github.com/liumaishenjian/natural-language-to-sql/internal/storage/local"
)

func init() {
	pterm.DisableColor()
}

type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	models  []string
}

func (g *scriptedGenerator) Name() string  { return "scripted" }
func (g *scriptedGenerator) Model() string { return "scripted-1" }

func (g *scriptedGenerator) Generate(context.Context, core.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *scriptedGenerator) Ping(context.Context) error { return g.err }

func (g *scriptedGenerator) ListModels(context.Context) ([]string, error) {
	return g.models, nil
}

type harness struct {
	opts      Options
	stdout    *bytes.Buffer
	stderr    *bytes.Buffer
	exportDir string
	opened    *config.Config
}

// newHarness wires the command line to an in-memory DuckDB database holding a
// small users table and a scripted backend.
func newHarness(t *testing.T, gen *scriptedGenerator, env map[string]string) *harness {
	t.Helper()
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, exportDir: t.TempDir()}
	if env == nil {
		env = map[string]string{}
	}
	env["NL2SQL_DB_DRIVER"] = "duckdb"
	env["NL2SQL_LOG_LEVEL"] = "error"
	h.opts = Options{
		Lookup: func(key string) (string, bool) {
			value, ok := env[key]
			return value, ok
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
		Open: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error) {
			h.opened = &cfg
			db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
			if err != nil {
				return nil, err
			}
			for _, stmt := range []string{
				`CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR NOT NULL, city VARCHAR)`,
				`INSERT INTO users VALUES (1, 'ada', 'london'), (2, 'grace', 'new york')`,
			} {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					_ = db.Close()
					return nil, err
				}
			}
			store, err := local.New(h.exportDir)
			if err != nil {
				return nil, err
			}
			exporter, err := conversation.NewExporter(store, cfg.Export.Format)
			if err != nil {
				return nil, err
			}
			engine := sqldb.NewEngine(db, sqldb.Options{})
			describer := schema.NewDescriber(db, cfg.Database.Schema)
			p, err := pipeline.New(pipeline.Options{
				Generator:  gen,
				Validator:  sqlguard.NewValidator(cfg.Guard.Strict),
				Engine:     engine,
				Schema:     describer,
				Exporter:   exporter,
				PromptMode: cfg.Backend.ResolvedPromptMode(),
				Logger:     logger,
			})
			if err != nil {
				return nil, err
			}
			return &app.App{
				Config:    cfg,
				DB:        db,
				Describer: describer,
				Engine:    engine,
				Generator: gen,
				Pipeline:  p,
				ExportDst: store.Location(),
			}, nil
		},
	}
	return h
}

func (h *harness) run(args ...string) int {
	return Run(context.Background(), args, h.opts)
}

func TestAskPrintsResultTable(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{replies: []string{"```sql\nSELECT name FROM users ORDER BY id;\n```"}}, nil)

	if code := h.run("ask", "list", "user", "names"); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s, stdout=%s", code, h.stderr.String(), h.stdout.String())
	}
	out := h.stdout.String()
	for _, want := range []string{"SELECT", "ada", "grace", "2 row(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAskWithCSVFormat(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{replies: []string{"SELECT id, name FROM users ORDER BY id"}}, map[string]string{
		"NL2SQL_OUTPUT_SHOW_SQL": "false",
	})

	if code := h.run("--format", "csv", "ask", "everyone"); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "id,name\n1,ada\n2,grace") {
		t.Fatalf("csv output = %q", h.stdout.String())
	}
}

func TestAskReportsUnsafeStatement(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{replies: []string{"DROP TABLE users"}}, nil)

	if code := h.run("ask", "remove", "users"); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	out := h.stdout.String()
	if !strings.Contains(out, "Statement rejected") || !strings.Contains(out, "DROP TABLE users") {
		t.Fatalf("output = %s", out)
	}
	if h.stderr.Len() != 0 && strings.Contains(h.stderr.String(), "error:") {
		t.Fatalf("reported failure printed twice: %s", h.stderr.String())
	}
}

func TestAskReportsBackendFailure(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{err: core.ErrUnavailable}, nil)

	if code := h.run("ask", "anything"); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(h.stdout.String(), "Backend unavailable") {
		t.Fatalf("output = %s", h.stdout.String())
	}
}

func TestAskUnknownTableFilter(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{replies: []string{"SELECT 1"}}, nil)

	if code := h.run("--tables", "ghosts", "ask", "anything"); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(h.stderr.String(), "unknown table") {
		t.Fatalf("stderr = %s", h.stderr.String())
	}
}

func TestBackendAndModelFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{}, nil)

	if code := h.run("--backend", "openai", "--model", "qwen-max", "tables"); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if h.opened == nil || h.opened.Backend.Kind != config.BackendOpenAI || h.opened.Backend.Model != "qwen-max" {
		t.Fatalf("opened config = %+v", h.opened)
	}

	if code := h.run("--backend", "claude", "tables"); code != 1 {
		t.Fatalf("invalid backend exit code = %d", code)
	}
}

func TestTablesAndSchemaCommands(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{}, nil)

	if code := h.run("tables"); code != 0 {
		t.Fatalf("tables exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if strings.TrimSpace(h.stdout.String()) != "users" {
		t.Fatalf("tables output = %q", h.stdout.String())
	}

	h.stdout.Reset()
	if code := h.run("schema"); code != 0 {
		t.Fatalf("schema exit code = %d, stderr=%s", code, h.stderr.String())
	}
	out := h.stdout.String()
	if !strings.Contains(out, "Table: users") || !strings.Contains(out, "  - id (INTEGER) PRI NOT NULL") {
		t.Fatalf("schema output = %q", out)
	}
}

func TestModelsAndPingCommands(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{models: []string{"scripted-1", "scripted-2"}}, nil)

	if code := h.run("models"); code != 0 {
		t.Fatalf("models exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "1. scripted-1 (current)") {
		t.Fatalf("models output = %q", h.stdout.String())
	}

	h.stdout.Reset()
	if code := h.run("ping"); code != 0 {
		t.Fatalf("ping exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "backend scripted (scripted-1): ok") {
		t.Fatalf("ping output = %q", h.stdout.String())
	}
}

func TestPingReportsBackendError(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{err: errors.New("connection refused")}, nil)
	if code := h.run("ping"); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(h.stderr.String(), "backend scripted") {
		t.Fatalf("stderr = %s", h.stderr.String())
	}
}

func TestValidateCommandDoesNotOpenDatabase(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{}, nil)

	if code := h.run("validate", "SELECT name FROM users"); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if !strings.HasPrefix(h.stdout.String(), "SAFE: check passed") {
		t.Fatalf("output = %q", h.stdout.String())
	}

	h.stdout.Reset()
	if code := h.run("validate", "SELECT", "*", "FROM", "users;", "DROP", "TABLE", "users"); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(h.stdout.String(), "REJECTED: dangerous keyword detected: DROP") {
		t.Fatalf("output = %q", h.stdout.String())
	}
	if h.opened != nil {
		t.Fatal("validate opened the application")
	}
}

func TestReplSessionCommands(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{replies: []string{
		"SELECT COUNT(*) AS total FROM users",
		"DELETE FROM users",
	}}, nil)
	h.opts.Stdin = strings.NewReader(strings.Join([]string{
		"help",
		"how many users",
		"",
		"now delete them",
		"history",
		"export",
		"clear",
		"history",
		"exit",
		"never reached",
	}, "\n"))

	if code := h.run("repl"); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, h.stderr.String())
	}
	out := h.stdout.String()
	for _, want := range []string{
		"Commands:",
		"total",
		"Statement rejected",
		"you: how many users",
		"sql (ok): SELECT COUNT(*) AS total FROM users",
		"sql (failed): DELETE FROM users",
		"exported 4 entries to exports/conversation_export_",
		"conversation cleared",
		"no conversation yet",
		"bye",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("repl output missing %q:\n%s", want, out)
		}
	}

	matches, err := filepath.Glob(filepath.Join(h.exportDir, "exports", "*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("export files = %v, err = %v", matches, err)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(raw), `"total_entries": 4`) {
		t.Fatalf("export = %s", raw)
	}
}

func TestReplEndsAtEndOfInput(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{}, nil)
	h.opts.Stdin = strings.NewReader("schema\n")

	if code := h.run(); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "Table: users") {
		t.Fatalf("output = %s", h.stdout.String())
	}
}
