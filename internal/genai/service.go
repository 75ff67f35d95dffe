// Package genai dispatches assembled generation requests to an external
// text-generation backend. It is the only package in the module that
// performs network I/O.
package genai

import (
	"context"
	"fmt"
	"time"

	"github.com/jmd-jude/db-chat/internal/prompt"
)

// Service defines the interface for the generation backend.
type Service interface {
	Generate(ctx context.Context, req *prompt.Request) (*RawResponse, error)
}

// RawResponse is the backend's raw textual response plus call metadata.
// Token counts are zero when the provider does not report them.
type RawResponse struct {
	Text             string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Config represents generation backend configuration
type Config struct {
	Provider string        `json:"provider"` // openai, anthropic, ollama
	Model    string        `json:"model"`
	APIKey   string        `json:"api_key,omitempty"`
	BaseURL  string        `json:"base_url,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Provider constants for the supported backends
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// TransientError is a retryable backend failure: rate limiting, timeouts,
// or server-side errors.
type TransientError struct {
	Status int
	Cause  error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient generation failure (status %d): %v", e.Status, e.Cause)
	}

	return fmt.Sprintf("transient generation failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// FatalError is a non-retryable backend failure: authentication problems or
// a request the backend rejected as malformed. Surfaced immediately.
type FatalError struct {
	Status int
	Reason string
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generation request rejected (status %d): %s", e.Status, e.Reason)
	}

	return "generation request rejected: " + e.Reason
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError indicates the backend responded but the response
// contains no SQL at all. Not retryable.
type MalformedResponseError struct {
	Snippet string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("response contains no SQL: %q", e.Snippet)
}
