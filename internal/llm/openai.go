package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vdavid/mailpilot/internal/provider"
)

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAICompatible talks to any provider exposing POST {base}/chat/completions.
type OpenAICompatible struct {
	registry   *provider.Registry
	httpClient *http.Client
}

// NewOpenAICompatible returns a client whose every call is bounded by timeout.
func NewOpenAICompatible(registry *provider.Registry, timeout time.Duration) *OpenAICompatible {
	return &OpenAICompatible{
		registry:   registry,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAICompatible) Complete(ctx context.Context, req *Request) (*Response, error) {
	if !c.registry.IsConfigured(req.Provider) {
		return nil, fmt.Errorf("%s: %w", req.Provider, ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = c.registry.DefaultModel(req.Provider)
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.registry.BaseURL(req.Provider), "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.registry.APIKey(req.Provider))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.Provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(req.Provider, resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", req.Provider, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Provider, ErrEmptyResponse)
	}

	if parsed.Model == "" {
		parsed.Model = model
	}
	return &Response{
		Provider:     req.Provider,
		Model:        parsed.Model,
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

func readAPIError(providerName string, resp *http.Response) *APIError {
	apiErr := &APIError{Provider: providerName, StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
