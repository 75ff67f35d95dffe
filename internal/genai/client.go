package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jmd-jude/db-chat/internal/prompt"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultOllamaBaseURL    = "http://localhost:11434"

	defaultTimeout = 60 * time.Second
)

// Client implements the Service interface over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new generation client for the configured provider.
func NewClient(config Config) (*Client, error) {
	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key required for provider %s", config.Provider)
		}
		if config.BaseURL == "" {
			config.BaseURL = defaultOpenAIBaseURL
		}
	case ProviderAnthropic:
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key required for provider %s", config.Provider)
		}
		if config.BaseURL == "" {
			config.BaseURL = defaultAnthropicBaseURL
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = defaultOllamaBaseURL
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model required for provider %s", config.Provider)
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Generate sends the rendered request to the configured provider and returns
// the raw response text with call metadata.
func (c *Client) Generate(ctx context.Context, req *prompt.Request) (*RawResponse, error) {
	if req == nil {
		return nil, &FatalError{Reason: "nil request"}
	}

	rendered := req.Render()
	start := time.Now()

	var (
		resp *RawResponse
		err  error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		resp, err = c.generateOpenAI(ctx, rendered)
	case ProviderAnthropic:
		resp, err = c.generateAnthropic(ctx, rendered)
	case ProviderOllama:
		resp, err = c.generateOllama(ctx, rendered)
	default:
		return nil, &FatalError{Reason: "unsupported provider: " + c.config.Provider}
	}

	if err != nil {
		return nil, err
	}

	resp.Latency = time.Since(start)

	return resp, nil
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) generateOpenAI(ctx context.Context, rendered string) (*RawResponse, error) {
	payload := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "user", Content: rendered},
		},
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	}

	body, err := c.post(ctx, c.config.BaseURL+"/chat/completions", payload, headers)
	if err != nil {
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Snippet: snippet(body)}
	}

	if parsed.Error != nil {
		return nil, &FatalError{Reason: parsed.Error.Message}
	}

	if len(parsed.Choices) == 0 {
		return nil, &MalformedResponseError{Snippet: snippet(body)}
	}

	return &RawResponse{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) generateAnthropic(ctx context.Context, rendered string) (*RawResponse, error) {
	payload := anthropicRequest{
		Model:     c.config.Model,
		MaxTokens: 2048,
		Messages: []anthropicMessage{
			{Role: "user", Content: rendered},
		},
	}

	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	}

	body, err := c.post(ctx, c.config.BaseURL+"/messages", payload, headers)
	if err != nil {
		return nil, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Snippet: snippet(body)}
	}

	if parsed.Error != nil {
		return nil, &FatalError{Reason: parsed.Error.Message}
	}

	if len(parsed.Content) == 0 {
		return nil, &MalformedResponseError{Snippet: snippet(body)}
	}

	return &RawResponse{
		Text:             parsed.Content[0].Text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *Client) generateOllama(ctx context.Context, rendered string) (*RawResponse, error) {
	payload := ollamaRequest{
		Model:  c.config.Model,
		Prompt: rendered,
		Stream: false,
	}

	body, err := c.post(ctx, c.config.BaseURL+"/api/generate", payload, nil)
	if err != nil {
		return nil, err
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Snippet: snippet(body)}
	}

	return &RawResponse{
		Text:             parsed.Response,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

// post sends the JSON payload and classifies failures: timeouts, rate
// limiting, and 5xx responses are transient; other non-2xx statuses are
// fatal.
func (c *Client) post(ctx context.Context, url string, payload any, headers map[string]string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &FatalError{Reason: "encoding request: " + err.Error(), Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, &FatalError{Reason: "building request: " + err.Error(), Cause: err}
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TransientError{Cause: err}
		}

		return nil, &FatalError{Reason: "sending request: " + err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Cause: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{
			Status: resp.StatusCode,
			Cause:  fmt.Errorf("provider returned %s", resp.Status),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FatalError{
			Status: resp.StatusCode,
			Reason: strings.TrimSpace(snippet(body)),
		}
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snippet(body []byte) string {
	const max = 120

	text := strings.TrimSpace(string(body))
	if len(text) > max {
		return text[:max] + "..."
	}

	return text
}
