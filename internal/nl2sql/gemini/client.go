package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
)

const DefaultModel = "gemini-2.0-flash"

type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// models is the slice of the genai Models service this package uses.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	List(ctx context.Context, config *genai.ListModelsConfig) (genai.Page[genai.Model], error)
}

type Client struct {
	models      models
	model       string
	temperature float32
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithModels(sdk.Models, cfg), nil
}

func NewWithModels(m models, cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{models: m, model: model, temperature: float32(cfg.Temperature)}
}

func (c *Client) Name() string  { return "gemini" }
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt nl2sql.Prompt) (string, error) {
	system, contents := toContents(prompt)
	temperature := c.temperature
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", classify(err))
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned an empty response: %w", nl2sql.ErrEmpty)
	}
	return text, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Generate(ctx, nl2sql.TextPrompt("Reply with: connection ok"))
	return err
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return nil, fmt.Errorf("list gemini models: %w", classify(err))
	}
	var names []string
	for {
		for _, model := range page.Items {
			names = append(names, strings.TrimPrefix(model.Name, "models/"))
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gemini models: %w", classify(err))
		}
	}
	return names, nil
}

// toContents maps the shared prompt shape onto Gemini's: system text moves to
// the system instruction and assistant turns use the "model" role.
func toContents(prompt nl2sql.Prompt) (*genai.Content, []*genai.Content) {
	var systemParts []*genai.Part
	var contents []*genai.Content
	for _, msg := range prompt.AsMessages() {
		switch msg.Role {
		case nl2sql.RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: msg.Content})
		case nl2sql.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

var unauthorizedMarkers = []string{"API_KEY_INVALID", "PERMISSION_DENIED", "UNAUTHENTICATED", "401", "403"}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, nl2sql.ErrTimeout)
	}
	msg := err.Error()
	for _, marker := range unauthorizedMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %w", msg, nl2sql.ErrUnauthorized)
		}
	}
	return fmt.Errorf("%s: %w", msg, nl2sql.ErrUnavailable)
}
