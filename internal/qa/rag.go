package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apversus/sauai/internal/llm"
	"github.com/apversus/sauai/internal/logging"
)

// Info describes the retrieval setup.
type Info struct {
	BotName        string `json:"bot_name"`
	Specialty      string `json:"specialty"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
	Collection     string `json:"collection"`
	SearchK        int    `json:"search_k"`
}

// Options configures a RAG service.
type Options struct {
	Client         llm.Client
	Embedder       llm.Embedder
	Retriever      Retriever
	SystemPrompt   string   // DefaultSystemPrompt when empty
	Temperature    *float64 // 0.7 when nil
	TopK           int      // 3 when zero
	ChatModel      string
	EmbeddingModel string
	Collection     string
}

// RAG is the retrieval-augmented QA chain.
type RAG struct {
	opts Options
	log  *logging.Logger
}

// NewRAG validates opts and fills in defaults.
func NewRAG(opts Options, log *logging.Logger) (*RAG, error) {
	if opts.Client == nil || opts.Embedder == nil || opts.Retriever == nil {
		return nil, errors.New("qa: client, embedder and retriever are required")
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Temperature == nil {
		opts.Temperature = llm.Float(0.7)
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &RAG{opts: opts, log: log.Sub("qa")}, nil
}

// Ask answers question from the passages closest to it.
func (r *RAG) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	start := time.Now()

	vecs, err := r.opts.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return "", errors.New("embed question: empty embedding")
	}

	passages, err := r.opts.Retriever.Retrieve(ctx, vecs[0], r.opts.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve passages: %w", err)
	}

	resp, err := r.opts.Client.Complete(ctx, llm.CompletionRequest{
		Model:       r.opts.ChatModel,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(r.opts.SystemPrompt, passages, question)}},
		Temperature: r.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}

	r.log.Debug().
		Int("passages", len(passages)).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Dur("elapsed", time.Since(start)).
		Msg("question answered")
	return strings.TrimSpace(resp.Content), nil
}

// SetSystemPrompt replaces the persona. Not safe to call while Ask runs.
func (r *RAG) SetSystemPrompt(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	r.opts.SystemPrompt = prompt
}

// Info reports the models and collection in use.
func (r *RAG) Info() Info {
	return Info{
		BotName:        "Saú AI",
		Specialty:      "Asistente especializado en vida saludable y salud preventiva",
		ChatModel:      r.opts.ChatModel,
		EmbeddingModel: r.opts.EmbeddingModel,
		Collection:     r.opts.Collection,
		SearchK:        r.opts.TopK,
	}
}
