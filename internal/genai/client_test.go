package genai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmd-jude/db-chat/internal/prompt"
)

func testRequest() *prompt.Request {
	return &prompt.Request{
		SchemaContext: "Table: orders",
		Question:      "How many orders were placed last month?",
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid openai config",
			config: Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"},
		},
		{
			name:   "valid ollama config without key",
			config: Config{Provider: ProviderOllama, Model: "llama3.2"},
		},
		{
			name:    "openai without key",
			config:  Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			wantErr: "API key required",
		},
		{
			name:    "anthropic without key",
			config:  Config{Provider: ProviderAnthropic, Model: "claude-sonnet-4"},
			wantErr: "API key required",
		},
		{
			name:    "missing model",
			config:  Config{Provider: ProviderOllama},
			wantErr: "model required",
		},
		{
			name:    "unsupported provider",
			config:  Config{Provider: "cohere", Model: "command"},
			wantErr: "unsupported provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestGenerateOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "SELECT COUNT(*) FROM orders"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 9}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM orders", resp.Text)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 9, resp.CompletionTokens)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestGenerateAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"text": "SELECT name FROM customers"}],
			"usage": {"input_tokens": 80, "output_tokens": 6}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderAnthropic,
		Model:    "claude-sonnet-4",
		APIKey:   "sk-ant-test",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM customers", resp.Text)
	assert.Equal(t, 80, resp.PromptTokens)
	assert.Equal(t, 6, resp.CompletionTokens)
}

func TestGenerateOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response": "SELECT 1", "prompt_eval_count": 40, "eval_count": 3}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Text)
}

func TestGenerateErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error": {"message": "rate limit exceeded"}}`,
			transient: true,
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      `internal error`,
			transient: true,
		},
		{
			name:      "service unavailable",
			status:    http.StatusServiceUnavailable,
			body:      `overloaded`,
			transient: true,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error": {"message": "invalid api key"}}`,
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error": {"message": "model not found"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(Config{
				Provider: ProviderOpenAI,
				Model:    "gpt-4o-mini",
				APIKey:   "sk-test",
				BaseURL:  server.URL,
			})
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), testRequest())
			require.Error(t, err)

			var transientErr *TransientError
			var fatalErr *FatalError

			if tt.transient {
				require.ErrorAs(t, err, &transientErr)
				assert.Equal(t, tt.status, transientErr.Status)
			} else {
				require.ErrorAs(t, err, &fatalErr)
				assert.Equal(t, tt.status, fatalErr.Status)
			}
		})
	}
}

func TestGenerateTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var transientErr *TransientError
	assert.ErrorAs(t, err, &transientErr)
}

func TestGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testRequest())

	var malformedErr *MalformedResponseError
	assert.ErrorAs(t, err, &malformedErr)
}
