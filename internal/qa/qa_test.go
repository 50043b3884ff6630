package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/llm"
	"github.com/apversus/sauai/internal/logging"
)

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("  Eres SAÚ\n", []Passage{{Text: "Bebe agua."}, {Text: "  "}, {Text: "Duerme bien."}}, "¿Consejos?")
	assert.Equal(t, "Eres SAÚ\n\nContext: Bebe agua.\n\nDuerme bien.\nQuestion: ¿Consejos?\nAnswer:", got)
}

func TestDefaultSystemPrompt(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultSystemPrompt, "Eres SAÚ"))
	assert.Contains(t, WelcomeMessage, "Soy SAÚ")
}

func TestStaticRetriever(t *testing.T) {
	r := &StaticRetriever{Docs: []StaticDoc{
		{Passage: Passage{Text: "sueño"}, Vector: []float32{0, 1}},
		{Passage: Passage{Text: "agua"}, Vector: []float32{1, 0}},
		{Passage: Passage{Text: "mixto"}, Vector: []float32{1, 1}},
	}}

	got, err := r.Retrieve(context.Background(), []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "agua", got[0].Text)
	assert.Equal(t, "mixto", got[1].Text)
	assert.Greater(t, got[0].Score, got[1].Score)

	all, err := r.Retrieve(context.Background(), []float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func newTestRAG(t *testing.T, client *llm.MockClient) *RAG {
	t.Helper()
	r, err := NewRAG(Options{
		Client:   client,
		Embedder: client,
		Retriever: &StaticRetriever{Docs: []StaticDoc{
			{Passage: Passage{Text: "Camina 30 minutos al día."}, Vector: []float32{1, 0}},
			{Passage: Passage{Text: "Duerme entre 7 y 9 horas."}, Vector: []float32{0, 1}},
		}},
		ChatModel:      "gpt-4.1-2025-04-14",
		EmbeddingModel: "text-embedding-3-large",
		Collection:     "sauai",
	}, logging.Nop())
	require.NoError(t, err)
	return r
}

func TestRAG_Ask(t *testing.T) {
	var req llm.CompletionRequest
	client := &llm.MockClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			assert.Equal(t, []string{"¿Cuánto caminar?"}, texts)
			return [][]float32{{1, 0}}, nil
		},
		CompleteFunc: func(_ context.Context, r llm.CompletionRequest) (*llm.CompletionResponse, error) {
			req = r
			return &llm.CompletionResponse{Content: "  Unos 30 minutos.\n"}, nil
		},
	}
	rag := newTestRAG(t, client)

	answer, err := rag.Ask(context.Background(), "  ¿Cuánto caminar? ")
	require.NoError(t, err)
	assert.Equal(t, "Unos 30 minutos.", answer)

	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Content
	assert.True(t, strings.HasPrefix(prompt, "Eres SAÚ"))
	assert.Contains(t, prompt, "Context: Camina 30 minutos al día.\n\nDuerme entre 7 y 9 horas.")
	assert.True(t, strings.HasSuffix(prompt, "\nQuestion: ¿Cuánto caminar?\nAnswer:"))
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
}

func TestRAG_Errors(t *testing.T) {
	boom := errors.New("boom")

	rag := newTestRAG(t, &llm.MockClient{})
	_, err := rag.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	rag = newTestRAG(t, &llm.MockClient{EmbedFunc: func(context.Context, []string) ([][]float32, error) { return nil, boom }})
	_, err = rag.Ask(context.Background(), "hola")
	assert.ErrorIs(t, err, boom)

	rag = newTestRAG(t, &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, boom
	}})
	_, err = rag.Ask(context.Background(), "hola")
	assert.ErrorIs(t, err, boom)
}

func TestNewRAG_RequiresCollaborators(t *testing.T) {
	_, err := NewRAG(Options{}, logging.Nop())
	assert.Error(t, err)
}

func TestRAG_InfoAndPrompt(t *testing.T) {
	rag := newTestRAG(t, &llm.MockClient{})
	info := rag.Info()
	assert.Equal(t, "gpt-4.1-2025-04-14", info.ChatModel)
	assert.Equal(t, "text-embedding-3-large", info.EmbeddingModel)
	assert.Equal(t, "sauai", info.Collection)
	assert.Equal(t, 3, info.SearchK)

	rag.SetSystemPrompt("Eres un coach.")
	assert.Equal(t, "Eres un coach.", rag.opts.SystemPrompt)
	rag.SetSystemPrompt("")
	assert.Equal(t, DefaultSystemPrompt, rag.opts.SystemPrompt)
}
