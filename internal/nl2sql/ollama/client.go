package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwen2"
)

type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	PollTries   int
	PollDelay   time.Duration
}

// Client talks to a local Ollama server: /api/generate for text prompts and
// /api/chat for message prompts.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	pollTries   int
	pollDelay   time.Duration
	client      *http.Client
	ready       atomic.Bool
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid ollama base URL %q", cfg.BaseURL)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tries := cfg.PollTries
	if tries <= 0 {
		tries = 3
	}
	delay := cfg.PollDelay
	if delay < 0 {
		delay = 0
	}
	return &Client{
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		pollTries:   tries,
		pollDelay:   delay,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string  { return "ollama" }
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt nl2sql.Prompt) (string, error) {
	if err := c.ensureModel(ctx); err != nil {
		return "", err
	}
	if prompt.IsStructured() {
		return c.chat(ctx, prompt.Messages)
	}
	return c.generate(ctx, prompt.Text)
}

// Ping checks that the server answers and that the configured model is pulled.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build ollama health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %v: %w", err, nl2sql.ErrUnavailable)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ollama health check status=%d: %w", resp.StatusCode, nl2sql.ErrorForStatus(resp.StatusCode))
	}
	return c.ensureModel(ctx)
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build ollama tags request: %w", err)
	}
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.do(req, &parsed); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parsed.Models))
	for _, model := range parsed.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

// ensureModel polls /api/tags until the model shows up. Success is latched;
// failures are retried on the next call.
func (c *Client) ensureModel(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= c.pollTries; attempt++ {
		names, err := c.ListModels(ctx)
		if err == nil {
			if hasModel(names, c.model) {
				c.ready.Store(true)
				return nil
			}
			lastErr = fmt.Errorf("model %q not found in ollama (available: %s): %w", c.model, strings.Join(names, ", "), nl2sql.ErrUnavailable)
		} else {
			lastErr = err
		}
		if attempt == c.pollTries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for ollama model: %w", ctx.Err())
		case <-time.After(c.pollDelay):
		}
	}
	return lastErr
}

// hasModel matches the way Ollama tags models: "qwen2" is satisfied by "qwen2:latest".
func hasModel(names []string, model string) bool {
	for _, name := range names {
		if strings.Contains(name, model) {
			return true
		}
	}
	return false
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":   c.model,
		"prompt":  prompt,
		"stream":  false,
		"options": map[string]any{"temperature": c.temperature},
	}
	var parsed struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/generate", payload, &parsed); err != nil {
		return "", err
	}
	return checkText(parsed.Response)
}

func (c *Client) chat(ctx context.Context, messages []nl2sql.Message) (string, error) {
	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options":  map[string]any{"temperature": c.temperature},
	}
	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := c.post(ctx, "/api/chat", payload, &parsed); err != nil {
		return "", err
	}
	return checkText(parsed.Message.Content)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ollama payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request ollama %s: %v: %w", req.URL.Path, err, nl2sql.ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ollama response body: %v: %w", err, nl2sql.ErrUnavailable)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ollama %s failed status=%d body=%s: %w", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)), nl2sql.ErrorForStatus(resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode ollama response: %v: %w", err, nl2sql.ErrUnavailable)
	}
	return nil
}

func checkText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("ollama returned an empty response: %w", nl2sql.ErrEmpty)
	}
	return text, nil
}
