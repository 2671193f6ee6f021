package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
)

type fakeModels struct {
	reply    string
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func (f *fakeModels) List(context.Context, *genai.ListModelsConfig) (genai.Page[genai.Model], error) {
	if f.err != nil {
		return genai.Page[genai.Model]{}, f.err
	}
	return genai.Page[genai.Model]{Items: []*genai.Model{
		{Name: "models/gemini-2.0-flash"},
		{Name: "models/gemini-1.5-pro"},
	}}, nil
}

func TestGenerateMapsRolesToGeminiContents(t *testing.T) {
	fake := &fakeModels{reply: "SELECT 1"}
	client := NewWithModels(fake, Config{Temperature: 0.1})

	got, err := client.Generate(context.Background(), nl2sql.MessagePrompt([]nl2sql.Message{
		{Role: nl2sql.RoleSystem, Content: "rules"},
		{Role: nl2sql.RoleUser, Content: "users"},
		{Role: nl2sql.RoleAssistant, Content: "SELECT * FROM users"},
		{Role: nl2sql.RoleUser, Content: "only names"},
	}))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Generate() = %q", got)
	}
	if fake.model != DefaultModel {
		t.Fatalf("model = %q", fake.model)
	}
	if fake.config.SystemInstruction == nil || fake.config.SystemInstruction.Parts[0].Text != "rules" {
		t.Fatalf("system instruction = %+v", fake.config.SystemInstruction)
	}
	if len(fake.contents) != 3 {
		t.Fatalf("len(contents) = %d", len(fake.contents))
	}
	if fake.contents[1].Role != "model" || fake.contents[2].Role != "user" {
		t.Fatalf("roles = %q, %q", fake.contents[1].Role, fake.contents[2].Role)
	}
	if fake.config.Temperature == nil || *fake.config.Temperature != float32(0.1) {
		t.Fatalf("temperature = %v", fake.config.Temperature)
	}
}

func TestGenerateTextPromptHasNoSystemInstruction(t *testing.T) {
	fake := &fakeModels{reply: "SELECT 2"}
	client := NewWithModels(fake, Config{Model: "gemini-1.5-flash"})
	if _, err := client.Generate(context.Background(), nl2sql.TextPrompt("count")); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if fake.config.SystemInstruction != nil {
		t.Fatal("text prompt should not set a system instruction")
	}
	if len(fake.contents) != 1 || fake.contents[0].Role != "user" {
		t.Fatalf("contents = %+v", fake.contents)
	}
	if fake.model != "gemini-1.5-flash" {
		t.Fatalf("model = %q", fake.model)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{err: errors.New("Error 400, Message: API key not valid, Status: INVALID_ARGUMENT, Details: [API_KEY_INVALID]"), want: nl2sql.ErrUnauthorized},
		{err: errors.New("Error 403, Status: PERMISSION_DENIED"), want: nl2sql.ErrUnauthorized},
		{err: errors.New("dial tcp: connection refused"), want: nl2sql.ErrUnavailable},
		{err: context.DeadlineExceeded, want: nl2sql.ErrTimeout},
	}
	for _, tc := range tests {
		client := NewWithModels(&fakeModels{err: tc.err}, Config{})
		_, err := client.Generate(context.Background(), nl2sql.TextPrompt("q"))
		if !errors.Is(err, tc.want) {
			t.Fatalf("Generate() error = %v, want %v", err, tc.want)
		}
	}

	client := NewWithModels(&fakeModels{reply: " "}, Config{})
	if _, err := client.Generate(context.Background(), nl2sql.TextPrompt("q")); !errors.Is(err, nl2sql.ErrEmpty) {
		t.Fatalf("Generate() error = %v, want ErrEmpty", err)
	}
}

func TestListModelsTrimsPrefix(t *testing.T) {
	client := NewWithModels(&fakeModels{}, Config{})
	got, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(got) != 2 || got[0] != "gemini-2.0-flash" {
		t.Fatalf("ListModels() = %v", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
