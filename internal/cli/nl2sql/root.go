// Package nl2sql is the interactive command line front end: one-shot questions,
// a read-eval loop with session commands, and schema and backend inspection.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liumaishenjian/natural-language-to-sql/internal/app"
	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/format"
	"github.com/liumaishenjian/natural-language-to-sql/internal/observability"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
	"github.com/liumaishenjian/natural-language-to-sql/internal/sqlguard"
)

// errReported marks a failure that was already printed for the user.
var errReported = errors.New("reported")

// Opener builds the running application from a resolved configuration.
type Opener func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error)

type Options struct {
	Lookup config.LookupFunc
	Open   Opener
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type flagValues struct {
	backend string
	model   string
	format  string
	tables  string
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	root := NewRootCommand(opts)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Open == nil {
		opts.Open = app.Build
	}
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	flags := &flagValues{}
	root := &cobra.Command{
		Use:           "nl2sql",
		Short:         "Ask questions about a database in natural language",
		Long:          "nl2sql turns natural-language questions into validated, read-only SQL and runs it against the configured database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, flags, func(s *session) error {
				return s.repl(cmd.Context(), opts.Stdin)
			})
		},
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	persistent := root.PersistentFlags()
	persistent.StringVar(&flags.backend, "backend", "", "generation backend: ollama, openai or gemini")
	persistent.StringVar(&flags.model, "model", "", "model name (defaults to the backend's default model)")
	persistent.StringVar(&flags.format, "format", "", "result format: table, json, csv or simple")
	persistent.StringVar(&flags.tables, "tables", "", "comma separated tables to describe to the model")

	root.AddCommand(
		&cobra.Command{
			Use:   "ask <question>",
			Short: "Answer one question and exit",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.ask(cmd.Context(), strings.Join(args, " "))
				})
			},
		},
		&cobra.Command{
			Use:   "repl",
			Short: "Start an interactive session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.repl(cmd.Context(), opts.Stdin)
				})
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the schema description sent to the model",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.printSchema(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "tables",
			Short: "List the tables in the configured schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.printTables(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "models",
			Short: "List the models the backend offers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.printModels(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "ping",
			Short: "Check database and backend connectivity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withSession(cmd, opts, flags, func(s *session) error {
					return s.ping(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "validate <sql>",
			Short: "Run the safety checks on a statement without executing it",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := resolveConfig(opts, flags)
				if err != nil {
					return err
				}
				report := sqlguard.NewValidator(cfg.Guard.Strict).Report(strings.Join(args, " "))
				printReport(opts.Stdout, report)
				if !report.Safe {
					return errReported
				}
				return nil
			},
		},
	)
	return root
}

// resolveConfig loads the environment configuration and applies flag
// overrides on top of it.
func resolveConfig(opts Options, flags *flagValues) (config.Config, error) {
	cfg, err := config.Load("nl2sql", opts.Lookup)
	if err != nil {
		return config.Config{}, err
	}
	if backend := strings.ToLower(strings.TrimSpace(flags.backend)); backend != "" {
		if backend != cfg.Backend.Kind {
			cfg.Backend.Kind = backend
			cfg.Backend.Model = config.DefaultModel(backend)
		}
	}
	if model := strings.TrimSpace(flags.model); model != "" {
		cfg.Backend.Model = model
	}
	if f := strings.ToLower(strings.TrimSpace(flags.format)); f != "" {
		cfg.Output.Format = f
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func withSession(cmd *cobra.Command, opts Options, flags *flagValues, fn func(*session) error) error {
	cfg, err := resolveConfig(opts, flags)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg, opts.Stderr)
	application, err := opts.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	return fn(&session{
		app:       application,
		pipeline:  application.Pipeline,
		cfg:       cfg,
		out:       opts.Stdout,
		formatter: format.New(cfg.Output.Format, cfg.Output.MaxWidth),
		tables:    schema.ParseFilter(flags.tables),
	})
}

type session struct {
	app       *app.App
	pipeline  *pipeline.Pipeline
	cfg       config.Config
	out       io.Writer
	formatter format.Formatter
	tables    []string
}

func (s *session) ask(ctx context.Context, question string) error {
	outcome, err := s.pipeline.Ask(ctx, question, s.tables)
	if err != nil {
		return err
	}
	return s.printOutcome(outcome)
}

func (s *session) printOutcome(outcome pipeline.Outcome) error {
	if !outcome.OK {
		message := outcome.Error
		if sql := firstNonEmpty(outcome.PartialSQL, outcome.SQL); sql != "" {
			message += "\n\nSQL: " + sql
		}
		_, _ = fmt.Fprintln(s.out, format.Error(failureTitle(outcome), message))
		return errReported
	}
	if s.cfg.Output.ShowSQL {
		_, _ = fmt.Fprintf(s.out, "SQL:\n%s\n\n", sqlguard.Sanitize(outcome.SQL))
	}
	rendered, err := s.formatter.Render(outcome.Result())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(s.out, rendered)
	if outcome.RowCount > 0 && s.formatter.Format == format.Table {
		_, _ = fmt.Fprintf(s.out, "\n%d row(s) in %d ms\n", outcome.RowCount, outcome.Duration.Milliseconds())
	}
	return nil
}

func (s *session) printSchema(ctx context.Context) error {
	description, err := s.app.Describer.Describe(ctx, s.tables)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(s.out, description)
	return nil
}

func (s *session) printTables(ctx context.Context) error {
	tables, err := s.app.Describer.Tables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		_, _ = fmt.Fprintf(s.out, "no tables in schema %s\n", s.app.Describer.Schema())
		return nil
	}
	for _, table := range tables {
		_, _ = fmt.Fprintln(s.out, table)
	}
	return nil
}

func (s *session) printModels(ctx context.Context) error {
	backend, current := s.pipeline.Backend()
	models, err := s.pipeline.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list %s models: %w", backend, err)
	}
	if len(models) == 0 {
		_, _ = fmt.Fprintf(s.out, "%s reports no models\n", backend)
		return nil
	}
	_, _ = fmt.Fprintf(s.out, "%s models:\n", backend)
	for i, model := range models {
		marker := ""
		if model == current || strings.HasPrefix(model, current+":") {
			marker = " (current)"
		}
		_, _ = fmt.Fprintf(s.out, "  %d. %s%s\n", i+1, model, marker)
	}
	return nil
}

func (s *session) ping(ctx context.Context) error {
	if err := s.app.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	_, _ = fmt.Fprintf(s.out, "database %s: ok\n", s.cfg.Database.Driver)

	backend, model := s.pipeline.Backend()
	if err := s.pipeline.Ping(ctx); err != nil {
		return fmt.Errorf("backend %s: %w", backend, err)
	}
	_, _ = fmt.Fprintf(s.out, "backend %s (%s): ok\n", backend, model)
	return nil
}

func printReport(w io.Writer, report sqlguard.Report) {
	verdict := "SAFE"
	if !report.Safe {
		verdict = "REJECTED"
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", verdict, report.Message)
	for _, check := range report.Checks {
		status := "ok"
		if !check.Passed {
			status = "fail"
		}
		line := fmt.Sprintf("  [%s] %s", status, check.Name)
		if check.Detail != "" {
			line += ": " + check.Detail
		}
		_, _ = fmt.Fprintln(w, line)
	}
	if report.Sanitized != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", report.Sanitized)
	}
}

func failureTitle(outcome pipeline.Outcome) string {
	switch outcome.ErrorKind {
	case pipeline.ErrorBackend:
		return "Backend " + string(outcome.BackendKind)
	case pipeline.ErrorMalformed:
		return "No SQL generated"
	case pipeline.ErrorUnsafe:
		return "Statement rejected"
	default:
		return "Query failed"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
