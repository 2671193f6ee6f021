package nl2sql

import (
	"context"
	"errors"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is either a single free-text blob or a role-tagged message sequence.
// When Messages is non-empty it takes precedence over Text.
type Prompt struct {
	Text     string    `json:"text,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

func TextPrompt(text string) Prompt {
	return Prompt{Text: text}
}

func MessagePrompt(messages []Message) Prompt {
	return Prompt{Messages: messages}
}

func (p Prompt) IsStructured() bool {
	return len(p.Messages) > 0
}

// AsMessages returns the structured form; a text prompt becomes one user message.
func (p Prompt) AsMessages() []Message {
	if p.IsStructured() {
		out := make([]Message, len(p.Messages))
		copy(out, p.Messages)
		return out
	}
	return []Message{{Role: RoleUser, Content: p.Text}}
}

// Flatten renders a structured prompt as a readable transcript.
func (p Prompt) Flatten() string {
	if !p.IsStructured() {
		return p.Text
	}
	var b strings.Builder
	for i, msg := range p.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case RoleSystem:
			b.WriteString(msg.Content)
		case RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(msg.Content)
		default:
			b.WriteString("User: ")
			b.WriteString(msg.Content)
		}
	}
	return b.String()
}

// Generator is one generative backend. Implementations must not write shared
// state from Generate: a call may be abandoned by its caller and still finish.
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Ping(ctx context.Context) error
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

var (
	ErrUnavailable  = errors.New("backend unavailable")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrEmpty        = errors.New("backend returned no text")
	ErrTimeout      = errors.New("backend timed out")
)

type ErrorKind string

const (
	KindUnavailable  ErrorKind = "unavailable"
	KindUnauthorized ErrorKind = "unauthorized"
	KindEmpty        ErrorKind = "empty"
	KindTimeout      ErrorKind = "timeout"
)

// KindOf classifies a generation error. Unknown errors count as unavailable.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrEmpty):
		return KindEmpty
	default:
		return KindUnavailable
	}
}

// ErrorForStatus maps an HTTP status from a backend to its sentinel.
func ErrorForStatus(status int) error {
	switch status {
	case 401, 403:
		return ErrUnauthorized
	default:
		return ErrUnavailable
	}
}
