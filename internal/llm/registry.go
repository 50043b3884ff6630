package llm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/logging"
)

// Registry manages provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model name → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider used when no model or provider matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name, alias, fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// Embedder returns the named provider if it can produce embeddings.
func (r *Registry) Embedder(provider string) (Embedder, error) {
	c, err := r.Resolve(provider)
	if err != nil {
		return nil, err
	}
	e, ok := c.(Embedder)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support embeddings", c.Name())
	}
	return e, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig registers the primary provider and, when set, the
// fallback provider. The primary becomes the registry fallback.
func NewRegistryFromConfig(cfg config.QAConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)
	for _, name := range []string{cfg.Provider, cfg.FallbackProvider} {
		if name == "" || slices.Contains(reg.List(), name) {
			continue
		}
		client, err := newProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		reg.Register(name, client)
		reg.Alias(modelFor(name, cfg), name)
	}
	reg.SetFallback(cfg.Provider)
	return reg, nil
}

func newProvider(name string, cfg config.QAConfig) (Client, error) {
	switch name {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, modelFor(name, cfg), embeddingModelFor(name, cfg), WithBaseURL(cfg.BaseURL))
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL, modelFor(name, cfg), embeddingModelFor(name, cfg)), nil
	case "claude":
		return NewClaudeClient(cfg.AnthropicAPIKey, modelFor(name, cfg), "")
	case "gemini":
		return NewGeminiClient(cfg.GeminiAPIKey, modelFor(name, cfg), "")
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

// defaultModels are the chat models used when none is configured.
var defaultModels = map[string]string{
	"openai": "gpt-4.1-2025-04-14",
	"ollama": "llama3.1",
	"claude": "claude-sonnet-4-20250514",
	"gemini": "gemini-2.5-flash",
}

// modelFor uses the configured model for the primary or fallback provider and
// the provider's own default otherwise.
func modelFor(name string, cfg config.QAConfig) string {
	if name == cfg.Provider && cfg.Model != "" {
		return cfg.Model
	}
	if name == cfg.FallbackProvider && cfg.FallbackModel != "" {
		return cfg.FallbackModel
	}
	return defaultModels[name]
}

func embeddingModelFor(name string, cfg config.QAConfig) string {
	if name == cfg.Provider && cfg.EmbeddingModel != "" {
		return cfg.EmbeddingModel
	}
	if name == "ollama" {
		return "nomic-embed-text"
	}
	return "text-embedding-3-large"
}
