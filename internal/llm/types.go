// Package llm calls AI providers for chat completions.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request is a chat completion request for one provider.
type Request struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the first choice of a completion.
type Response struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrEmptyResponse = errors.New("provider returned no choices")
)

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Validate checks the parts of a request every provider needs.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}
	return nil
}
