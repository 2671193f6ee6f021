package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/conversation"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/observability"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
	"github.com/liumaishenjian/natural-language-to-sql/internal/sqlguard"
)

type ErrorKind string

const (
	ErrorBackend   ErrorKind = "backend"
	ErrorMalformed ErrorKind = "malformed_response"
	ErrorUnsafe    ErrorKind = "unsafe_statement"
	ErrorExecution ErrorKind = "execution"
)

var (
	ErrExportDisabled    = errors.New("conversation export is not configured")
	ErrModelsUnsupported = errors.New("backend cannot list models")
)

// Outcome is the result of one query cycle. Failures are values, never
// panics: OK is false and ErrorKind says which stage stopped the cycle.
type Outcome struct {
	OK          bool             `json:"ok"`
	Prompt      string           `json:"prompt"`
	SQL         string           `json:"sql,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	Rows        [][]any          `json:"rows,omitempty"`
	RowCount    int              `json:"row_count"`
	Duration    time.Duration    `json:"duration"`
	ErrorKind   ErrorKind        `json:"error_kind,omitempty"`
	BackendKind nl2sql.ErrorKind `json:"backend_error,omitempty"`
	Error       string           `json:"error,omitempty"`
	PartialSQL  string           `json:"partial_sql,omitempty"`
	Rule        string           `json:"rule,omitempty"`
}

// Result returns the rows of a successful outcome in executor form.
func (o Outcome) Result() query.Result {
	return query.Result{Columns: o.Columns, Rows: o.Rows, RowCount: o.RowCount, Duration: o.Duration}
}

type SchemaSource interface {
	Describe(ctx context.Context, filter []string) (string, error)
}

type Options struct {
	Generator       nl2sql.Generator
	Store           *conversation.Store
	Validator       *sqlguard.Validator
	Engine          query.Engine
	Schema          SchemaSource
	Exporter        *conversation.Exporter
	PromptMode      string
	GenerateTimeout time.Duration
	PingTimeout     time.Duration
	RowLimit        int
	Logger          *slog.Logger
}

// Pipeline owns one session. A single mutex covers each whole invocation, so
// concurrent callers are served one at a time.
type Pipeline struct {
	mu              sync.Mutex
	generator       nl2sql.Generator
	store           *conversation.Store
	validator       *sqlguard.Validator
	engine          query.Engine
	schema          SchemaSource
	exporter        *conversation.Exporter
	promptMode      string
	generateTimeout time.Duration
	pingTimeout     time.Duration
	rowLimit        int
	logger          *slog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	store := opts.Store
	if store == nil {
		store = conversation.NewStore(conversation.Options{})
	}
	validator := opts.Validator
	if validator == nil {
		validator = sqlguard.NewValidator(true)
	}
	mode := opts.PromptMode
	switch mode {
	case config.PromptModeText, config.PromptModeMessages:
	case "", config.PromptModeAuto:
		mode = config.PromptModeMessages
	default:
		return nil, fmt.Errorf("unsupported prompt mode %q", opts.PromptMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		generator:       opts.Generator,
		store:           store,
		validator:       validator,
		engine:          opts.Engine,
		schema:          opts.Schema,
		exporter:        opts.Exporter,
		promptMode:      mode,
		generateTimeout: opts.GenerateTimeout,
		pingTimeout:     opts.PingTimeout,
		rowLimit:        opts.RowLimit,
		logger:          logger,
	}, nil
}

func (p *Pipeline) Backend() (name, model string) {
	return p.generator.Name(), p.generator.Model()
}

func (p *Pipeline) PromptMode() string {
	return p.promptMode
}

// Ask describes the schema fresh and runs one query cycle. The returned error
// is non-nil only when the schema could not be described; nothing is recorded
// in that case.
func (p *Pipeline) Ask(ctx context.Context, text string, tables []string) (Outcome, error) {
	if p.schema == nil {
		return Outcome{}, fmt.Errorf("schema source is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	description, err := p.schema.Describe(ctx, tables)
	if err != nil {
		return Outcome{}, fmt.Errorf("describe schema: %w", err)
	}
	return p.processLocked(ctx, text, description), nil
}

// Process runs prompt building, generation, normalization, validation and
// execution for one request. Unvalidated SQL never reaches the engine.
func (p *Pipeline) Process(ctx context.Context, text, schemaDescription string) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processLocked(ctx, text, schemaDescription)
}

func (p *Pipeline) processLocked(ctx context.Context, text, schemaDescription string) Outcome {
	start := time.Now()
	text = strings.TrimSpace(text)
	outcome := Outcome{Prompt: text}
	defer func() {
		observability.SetSessionTurns(p.store.Len())
	}()

	prompt := p.buildPrompt(schemaDescription, text)
	p.store.RecordUserTurn(text)

	backend := p.generator.Name()
	raw, err := nl2sql.Generate(ctx, p.generator, prompt, p.generateTimeout)
	if err != nil {
		kind := nl2sql.KindOf(err)
		observability.ObserveGeneration(backend, string(kind), time.Since(start))
		p.store.RecordAssistantTurn("", false, err.Error())
		p.logger.Warn("generation failed", "backend", backend, "kind", string(kind), "error", err)
		outcome.ErrorKind = ErrorBackend
		outcome.BackendKind = kind
		outcome.Error = err.Error()
		outcome.Duration = time.Since(start)
		return outcome
	}
	observability.ObserveGeneration(backend, "ok", time.Since(start))

	generated := nl2sql.Normalize(raw)
	if !generated.OK {
		p.store.RecordAssistantTurn("", false, generated.Reason)
		p.logger.Info("backend produced no usable statement", "backend", backend, "reason", generated.Reason)
		outcome.ErrorKind = ErrorMalformed
		outcome.Error = generated.Reason
		outcome.Duration = time.Since(start)
		return outcome
	}

	p.logger.Debug("generated sql", "backend", backend, "sql", generated.SQL)
	result, failed := p.executeLocked(ctx, generated.SQL)
	outcome.Duration = time.Since(start)
	if failed != nil {
		failed.Prompt = text
		failed.Duration = outcome.Duration
		sql := failed.SQL
		if sql == "" {
			sql = failed.PartialSQL
		}
		p.store.RecordAssistantTurn(sql, false, failed.Error)
		return *failed
	}

	p.store.RecordAssistantTurn(generated.SQL, true, "")
	outcome.OK = true
	outcome.SQL = generated.SQL
	outcome.Columns = result.Columns
	outcome.Rows = result.Rows
	outcome.RowCount = len(result.Rows)
	p.logger.Info("query answered",
		"backend", backend,
		"rows", outcome.RowCount,
		"duration_ms", outcome.Duration.Milliseconds(),
	)
	return outcome
}

// ExecuteSQL validates and runs a statement typed by the user. It does not
// touch the conversation history.
func (p *Pipeline) ExecuteSQL(ctx context.Context, sql string) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	sql = strings.TrimSpace(sql)
	result, failed := p.executeLocked(ctx, sql)
	if failed != nil {
		failed.Duration = time.Since(start)
		return *failed
	}
	return Outcome{
		OK:       true,
		SQL:      sql,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: len(result.Rows),
		Duration: time.Since(start),
	}
}

func (p *Pipeline) executeLocked(ctx context.Context, sql string) (query.Result, *Outcome) {
	verdict := p.validator.Validate(sql)
	if !verdict.Safe {
		observability.IncrementValidationRejection(verdict.Rule)
		p.logger.Warn("statement rejected", "rule", verdict.Rule, "message", verdict.Message)
		return query.Result{}, &Outcome{
			ErrorKind:  ErrorUnsafe,
			Error:      verdict.Message,
			PartialSQL: sql,
			Rule:       verdict.Rule,
		}
	}

	start := time.Now()
	result, err := p.engine.Execute(ctx, query.Request{SQL: sql, RowLimit: p.rowLimit})
	if err != nil {
		observability.ObserveExecution("error", time.Since(start))
		p.logger.Warn("statement execution failed", "sql", sql, "error", err)
		return query.Result{}, &Outcome{
			ErrorKind: ErrorExecution,
			Error:     err.Error(),
			SQL:       sql,
		}
	}
	observability.ObserveExecution("ok", time.Since(start))
	return result, nil
}

func (p *Pipeline) buildPrompt(schemaDescription, text string) nl2sql.Prompt {
	if p.promptMode == config.PromptModeText {
		return nl2sql.TextPrompt(p.store.BuildFreeTextPrompt(schemaDescription, text))
	}
	return nl2sql.MessagePrompt(p.store.BuildStructuredPrompt(schemaDescription, text))
}

// Validate reports how a statement fares against every safety check.
func (p *Pipeline) Validate(sql string) sqlguard.Report {
	return p.validator.Report(sql)
}

func (p *Pipeline) Summary() conversation.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Summary()
}

func (p *Pipeline) History() []conversation.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Turns()
}

func (p *Pipeline) Reset() conversation.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Reset()
	observability.SetSessionTurns(0)
	p.logger.Info("conversation reset", "session_id", p.store.SessionID())
	return p.store.Summary()
}

// Export writes the current session. A failed export leaves the session
// untouched.
func (p *Pipeline) Export(ctx context.Context) (conversation.ExportResult, error) {
	if p.exporter == nil {
		return conversation.ExportResult{}, ErrExportDisabled
	}
	p.mu.Lock()
	snapshot := p.store.Snapshot()
	p.mu.Unlock()

	result, err := p.exporter.Export(ctx, snapshot)
	if err != nil {
		p.logger.Error("conversation export failed", "error", err)
		return conversation.ExportResult{}, err
	}
	p.logger.Info("conversation exported", "key", result.Key, "entries", result.Entries)
	return result, nil
}

// Ping checks backend connectivity within the ping timeout.
func (p *Pipeline) Ping(ctx context.Context) error {
	return nl2sql.Ping(ctx, p.generator, p.pingTimeout)
}

func (p *Pipeline) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := p.generator.(nl2sql.ModelLister)
	if !ok {
		return nil, ErrModelsUnsupported
	}
	return nl2sql.ListModels(ctx, lister, p.generator.Name(), p.pingTimeout)
}
