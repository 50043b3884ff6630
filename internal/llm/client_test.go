package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/logging"
)

func TestOpenAIURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, openAIURL(tc.base, "/chat/completions"), "base=%q", tc.base)
	}
}

func TestNewOpenAIClient_Validation(t *testing.T) {
	_, err := NewOpenAIClient("", "gpt", "emb")
	assert.Error(t, err)
	_, err = NewOpenAIClient("sk-test", "", "emb")
	assert.Error(t, err)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"gpt-4.1","choices":[{"message":{"role":"assistant","content":"Bebe agua."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", "gpt-4.1", "text-embedding-3-large", WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:      "Eres SAÚ",
		Messages:    []Message{{Role: RoleUser, Content: "¿Cuánta agua?"}},
		Temperature: Float(0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bebe agua.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	assert.Equal(t, "gpt-4.1", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", "gpt-4.1", "", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.Equal(t, "Rate limit reached", pe.Message)
	assert.True(t, IsRetryable(err))
}

func TestOpenAIClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req openAIEmbeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-large", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		// Out of order on purpose.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", "gpt-4.1", "text-embedding-3-large", WithBaseURL(srv.URL))
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1}, {0.2}}, vecs)
}

func TestOllamaClient_CompleteAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req ollamaChatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Equal(t, "llama3.1", req.Model)
			assert.InDelta(t, 0.7, req.Options["temperature"], 1e-9)
			fmt.Fprint(w, `{"model":"llama3.1","message":{"role":"assistant","content":"Duerme 8 horas."},"done_reason":"stop","eval_count":4}`)
		case "/api/embed":
			fmt.Fprint(w, `{"embeddings":[[1,2,3]]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "llama3.1", "nomic-embed-text")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: "¿Cuánto dormir?"}},
		Temperature: Float(0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Duerme 8 horas.", resp.Content)
	assert.Equal(t, 4, resp.Usage.OutputTokens)

	vecs, err := c.Embed(context.Background(), []string{"hola"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}}, vecs)
}

func TestOllamaClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "nope", "").Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 404, pe.Code)
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"429", &ProviderError{Provider: "openai", Code: 429}, true},
		{"503 wrapped", fmt.Errorf("qa: %w", &ProviderError{Provider: "openai", Code: 503}), true},
		{"400", &ProviderError{Provider: "openai", Code: 400}, false},
		{"overloaded", errors.New("server overloaded"), true},
		{"plain", errors.New("bad prompt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	openai := &MockClient{ProviderName: "openai"}
	ollama := &MockClient{ProviderName: "ollama"}
	reg.Register("openai", openai)
	reg.Register("ollama", ollama)
	reg.Alias("llama3.1", "ollama")

	c, err := reg.Resolve("ollama")
	require.NoError(t, err)
	assert.Same(t, ollama, c)

	c, err = reg.Resolve("llama3.1")
	require.NoError(t, err)
	assert.Same(t, ollama, c)

	_, err = reg.Resolve("unknown")
	assert.Error(t, err)

	reg.SetFallback("openai")
	c, err = reg.Resolve("unknown")
	require.NoError(t, err)
	assert.Same(t, openai, c)

	assert.Equal(t, []string{"ollama", "openai"}, reg.List())

	e, err := reg.Embedder("openai")
	require.NoError(t, err)
	assert.Same(t, openai, e)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.Defaults().QA
	cfg.APIKey = "sk-test"
	cfg.FallbackProvider = "ollama"

	reg, err := NewRegistryFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "openai"}, reg.List())

	c, err := reg.Resolve("anything")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = reg.Resolve("ollama")
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", c.(*OllamaClient).Model())

	cfg.Provider = "mistral"
	_, err = NewRegistryFromConfig(cfg, logging.Nop())
	assert.Error(t, err)
}

func TestNewRegistryFromConfig_CompletionOnlyFallbacks(t *testing.T) {
	cfg := config.Defaults().QA
	cfg.APIKey = "sk-test"
	cfg.FallbackProvider = "claude"
	cfg.AnthropicAPIKey = "sk-ant-test"

	reg, err := NewRegistryFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "openai"}, reg.List())

	c, err := reg.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", c.(*ClaudeClient).Model())

	_, err = reg.Embedder("claude")
	assert.ErrorContains(t, err, "does not support embeddings")

	cfg.FallbackProvider = "gemini"
	cfg.FallbackModel = "gemini-2.5-pro"
	cfg.GeminiAPIKey = "g-test"
	reg, err = NewRegistryFromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	c, err = reg.Resolve("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", c.(*GeminiClient).Model())

	cfg.GeminiAPIKey = ""
	_, err = NewRegistryFromConfig(cfg, logging.Nop())
	assert.ErrorContains(t, err, "gemini: api key")
}

func TestClaudeClient_Complete(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"Come "},{"type":"text","text":"fruta."}],"stop_reason":"end_turn","usage":{"input_tokens":20,"output_tokens":4}}`)
	}))
	defer srv.Close()

	c, err := NewClaudeClient("sk-ant-test", "claude-sonnet-4-20250514", srv.URL)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model:  "claude",
		System: "Eres SAÚ",
		Messages: []Message{
			{Role: RoleSystem, Content: "Responde en español"},
			{Role: RoleUser, Content: "¿Qué desayuno?"},
		},
		Temperature: Float(0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Come fruta.", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)

	assert.Equal(t, "claude-sonnet-4-20250514", got.Model)
	assert.Equal(t, "Eres SAÚ\n\nResponde en español", got.System)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "¿Qué desayuno?"}}, got.Messages)
	assert.Equal(t, claudeDefaultMaxTokens, got.MaxTokens)
}

func TestClaudeClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	c, err := NewClaudeClient("sk-ant-test", "claude-sonnet-4-20250514", srv.URL)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "claude", pe.Provider)
	assert.Equal(t, 529, pe.Code)
	assert.Equal(t, "Overloaded", pe.Message)
	assert.True(t, IsRetryable(err))

	_, err = NewClaudeClient(" ", "m", "")
	assert.Error(t, err)
}

func TestGeminiClient_Complete(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-test", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Duerme "},{"text":"8 horas."}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":15,"candidatesTokenCount":5},"modelVersion":"gemini-2.5-flash-001"}`)
	}))
	defer srv.Close()

	c, err := NewGeminiClient("g-test", "gemini-2.5-flash", srv.URL)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model:  "gemini",
		System: "Eres SAÚ",
		Messages: []Message{
			{Role: RoleUser, Content: "hola"},
			{Role: RoleAssistant, Content: "¡Hola!"},
			{Role: RoleUser, Content: "¿Cuánto dormir?"},
		},
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "Duerme 8 horas.", resp.Content)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.Equal(t, 15, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, []geminiPart{{Text: "Eres SAÚ"}}, got.SystemInstruction.Parts)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "¿Cuánto dormir?", got.Contents[2].Parts[0].Text)
	assert.Equal(t, 256, got.GenerationConfig.MaxOutputTokens)
	assert.Nil(t, got.GenerationConfig.Temperature)
}

func TestGeminiClient_Errors(t *testing.T) {
	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}

	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`)
	}))
	defer overloaded.Close()

	c, err := NewGeminiClient("g-test", "gemini-2.5-flash", overloaded.URL)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), req)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 503, pe.Code)
	assert.Equal(t, "The model is overloaded.", pe.Message)
	assert.True(t, IsRetryable(err))

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer empty.Close()

	c, err = NewGeminiClient("g-test", "gemini-2.5-flash", empty.URL)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), req)
	assert.ErrorContains(t, err, "no candidates")
}

func TestFailoverClient_FallsBackToClaude(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"respuesta de respaldo"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	claude, err := NewClaudeClient("sk-ant-test", "claude-sonnet-4-20250514", srv.URL)
	require.NoError(t, err)

	reg := NewRegistry(logging.Nop())
	reg.Register("openai", &MockClient{ProviderName: "openai", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		return nil, &ProviderError{Provider: "openai", Code: 429, Message: "quota exceeded"}
	}})
	reg.Register("claude", claude)

	resp, err := NewFailoverClient(reg, "openai", []string{"claude"}, logging.Nop()).Complete(context.Background(),
		CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hola"}}})
	require.NoError(t, err)
	assert.Equal(t, "respuesta de respaldo", resp.Content)
}

func TestFailoverClient(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	var calls []string
	reg.Register("openai", &MockClient{ProviderName: "openai", CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
		calls = append(calls, req.Model)
		return nil, &ProviderError{Provider: "openai", Code: 503, Message: "unavailable"}
	}})
	reg.Register("ollama", &MockClient{ProviderName: "ollama", CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
		calls = append(calls, req.Model)
		return &CompletionResponse{Content: "ok"}, nil
	}})

	f := NewFailoverClient(reg, "openai", []string{"ollama"}, logging.Nop())
	resp, err := f.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"openai", "ollama"}, calls)
}

func TestFailoverClient_StopsOnPermanentError(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	bad := errors.New("invalid request")
	reg.Register("openai", &MockClient{ProviderName: "openai", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		return nil, bad
	}})
	called := false
	reg.Register("ollama", &MockClient{ProviderName: "ollama", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		called = true
		return &CompletionResponse{}, nil
	}})

	_, err := NewFailoverClient(reg, "openai", []string{"ollama"}, logging.Nop()).Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, bad)
	assert.False(t, called)
}
