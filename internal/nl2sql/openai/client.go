package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen-plus"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client is a generator backed by any OpenAI-compatible chat-completions endpoint.
type Client struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		api:         goopenai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
	}, nil
}

func (c *Client) Name() string  { return "openai" }
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt nl2sql.Prompt) (string, error) {
	return c.complete(ctx, toChatMessages(prompt.AsMessages()), c.maxTokens)
}

// Ping asks for a tiny completion; several compatible providers do not serve /models.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleUser, Content: "Reply with: connection ok"},
	}, 16)
	return err
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", classify(err))
	}
	names := make([]string, 0, len(list.Models))
	for _, model := range list.Models {
		names = append(names, model.ID)
	}
	return names, nil
}

func (c *Client) complete(ctx context.Context, messages []goopenai.ChatCompletionMessage, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices: %w", nl2sql.ErrEmpty)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned empty content: %w", nl2sql.ErrEmpty)
	}
	return text, nil
}

func toChatMessages(messages []nl2sql.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := goopenai.ChatMessageRoleUser
		switch msg.Role {
		case nl2sql.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case nl2sql.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}

// classify keeps the provider's message and attaches the matching sentinel.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.Message, nl2sql.ErrorForStatus(apiErr.HTTPStatusCode))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%v: %w", reqErr.Err, nl2sql.ErrorForStatus(reqErr.HTTPStatusCode))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, nl2sql.ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, nl2sql.ErrUnavailable)
}
