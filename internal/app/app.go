package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/conversation"
	"github.com/liumaishenjian/natural-language-to-sql/internal/database"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql/gemini"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql/ollama"
	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql/openai"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query"
	"github.com/liumaishenjian/natural-language-to-sql/internal/query/sqldb"
	"github.com/liumaishenjian/natural-language-to-sql/internal/schema"
	"github.com/liumaishenjian/natural-language-to-sql/internal/sqlguard"
	"github.com/liumaishenjian/natural-language-to-sql/internal/storage"
	"github.com/liumaishenjian/natural-language-to-sql/internal/storage/local"
	s3store "github.com/liumaishenjian/natural-language-to-sql/internal/storage/s3"
)

// App holds everything one running instance owns: the database handle, the
// schema describer, the execution engine and the session pipeline.
type App struct {
	Config    config.Config
	DB        *sql.DB
	Describer *schema.Describer
	Engine    query.Engine
	Generator nl2sql.Generator
	Pipeline  *pipeline.Pipeline
	Exports   storage.ObjectStore
	ExportDst string
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// ExportCheck reports whether the export sink is reachable. Sinks that
// cannot be probed are assumed healthy.
func (a *App) ExportCheck(ctx context.Context) error {
	pinger, ok := a.Exports.(storage.Pinger)
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("export sink: %w", err)
	}
	return nil
}

// HealthCheck pings the query database.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.DB == nil {
		return fmt.Errorf("database is not open")
	}
	return a.DB.PingContext(ctx)
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	generator, err := NewGenerator(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, err
	}

	objects, location, err := NewExportStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	exporter, err := conversation.NewExporter(objects, cfg.Export.Format)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	engine := sqldb.NewEngine(db, sqldb.Options{ReadOnlyTx: cfg.Query.ReadOnlyTx, Timeout: cfg.Query.Timeout})
	describer := schema.NewDescriber(db, cfg.Database.Schema)
	store := conversation.NewStore(conversation.Options{
		MaxHistory: cfg.Conversation.MaxHistory,
		Dialect:    database.Dialect(cfg.Database.Driver),
	})

	p, err := pipeline.New(pipeline.Options{
		Generator:       generator,
		Store:           store,
		Validator:       sqlguard.NewValidator(cfg.Guard.Strict),
		Engine:          engine,
		Schema:          describer,
		Exporter:        exporter,
		PromptMode:      cfg.Backend.ResolvedPromptMode(),
		GenerateTimeout: cfg.Backend.GenerateTimeout,
		PingTimeout:     cfg.Backend.PingTimeout,
		RowLimit:        cfg.Query.RowLimit,
		Logger:          logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("pipeline ready",
		slog.String("backend", generator.Name()),
		slog.String("model", generator.Model()),
		slog.String("driver", cfg.Database.Driver),
		slog.String("prompt_mode", p.PromptMode()),
		slog.String("export", location),
	)

	return &App{
		Config:    cfg,
		DB:        db,
		Describer: describer,
		Engine:    engine,
		Generator: generator,
		Pipeline:  p,
		Exports:   objects,
		ExportDst: location,
	}, nil
}

// NewGenerator builds the backend named by cfg.Kind.
func NewGenerator(ctx context.Context, cfg config.BackendConfig) (nl2sql.Generator, error) {
	model := cfg.Model
	if model == "" {
		model = config.DefaultModel(cfg.Kind)
	}
	var (
		generator nl2sql.Generator
		err       error
	)
	switch cfg.Kind {
	case config.BackendOllama:
		var client *ollama.Client
		client, err = ollama.New(ollama.Config{
			BaseURL:     cfg.OllamaURL,
			Model:       model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.GenerateTimeout,
			PollTries:   cfg.OllamaPollTries,
			PollDelay:   cfg.OllamaPollDelay,
		})
		generator = client
	case config.BackendOpenAI:
		var client *openai.Client
		client, err = openai.New(openai.Config{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.GenerateTimeout,
		})
		generator = client
	case config.BackendGemini:
		var client *gemini.Client
		client, err = gemini.New(ctx, gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.GenerateTimeout,
		})
		generator = client
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Kind, err)
	}
	return generator, nil
}

// NewExportStore opens the sink conversation exports are written to and
// returns a printable location for it.
func NewExportStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, string, error) {
	switch cfg.Export.Sink {
	case config.SinkS3:
		store, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			return nil, "", err
		}
		return store, store.Location(), nil
	default:
		store, err := local.New(cfg.Export.Dir)
		if err != nil {
			return nil, "", err
		}
		return store, store.Location(), nil
	}
}
