package nl2sql

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/liumaishenjian/natural-language-to-sql/internal/format"
	"github.com/liumaishenjian/natural-language-to-sql/internal/pipeline"
)

const replPrompt = "nl2sql> "

// repl reads one question or command per line until exit or end of input.
// A failed question is reported and the loop continues.
func (s *session) repl(ctx context.Context, in io.Reader) error {
	backend, model := s.pipeline.Backend()
	_, _ = fmt.Fprintf(s.out, "nl2sql: %s (%s) on %s\n", backend, model, s.cfg.Database.Driver)
	_, _ = fmt.Fprintln(s.out, "Type a question, or 'help' for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, _ = fmt.Fprint(s.out, "\n"+replPrompt)
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		done, err := s.command(ctx, line)
		if err != nil && !errors.Is(err, errReported) {
			_, _ = fmt.Fprintln(s.out, format.Error("Error", err.Error()))
		}
		if done {
			_, _ = fmt.Fprintln(s.out, "bye")
			return nil
		}
	}
}

// command runs one line of input. It reports done when the session should end.
func (s *session) command(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "exit", "quit":
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "schema":
		return false, s.printSchema(ctx)
	case "models":
		return false, s.printModels(ctx)
	case "history":
		s.printHistory()
		return false, nil
	case "clear":
		summary := s.pipeline.Reset()
		_, _ = fmt.Fprintf(s.out, "conversation cleared, new session %s\n", summary.SessionID)
		return false, nil
	case "export":
		result, err := s.pipeline.Export(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrExportDisabled) {
				return false, err
			}
			return false, fmt.Errorf("export conversation: %w", err)
		}
		_, _ = fmt.Fprintf(s.out, "exported %d entries to %s (%s)\n", result.Entries, result.Key, s.app.ExportDst)
		return false, nil
	}
	return false, s.ask(ctx, line)
}

func (s *session) printHelp() {
	backend, model := s.pipeline.Backend()
	_, _ = fmt.Fprintf(s.out, `Backend: %s (%s)

Ask a question in plain language, for example:
  how many users signed up this year
  top 5 products by revenue

Commands:
  help      show this help
  schema    show the tables described to the model
  models    list the models the backend offers
  history   show this session's questions and generated SQL
  clear     forget the conversation and start a new session
  export    write the conversation to the export sink
  exit      leave (also: quit)

Only single SELECT statements are executed; anything else is rejected before
it reaches the database.
`, backend, model)
}

func (s *session) printHistory() {
	turns := s.pipeline.History()
	if len(turns) == 0 {
		_, _ = fmt.Fprintln(s.out, "no conversation yet")
		return
	}
	for _, turn := range turns {
		stamp := turn.Timestamp.Format("15:04:05")
		if turn.Text != "" {
			_, _ = fmt.Fprintf(s.out, "[%s] you: %s\n", stamp, turn.Text)
			continue
		}
		status := "failed"
		if turn.Succeeded != nil && *turn.Succeeded {
			status = "ok"
		}
		detail := turn.SQL
		if detail == "" {
			detail = turn.Error
		}
		_, _ = fmt.Fprintf(s.out, "[%s] sql (%s): %s\n", stamp, status, detail)
	}
}
