// Package qa answers health questions with retrieval-augmented generation:
// embed the question, fetch the closest passages and complete a prompt.
package qa

import (
	"context"
	_ "embed"
	"errors"
	"strings"
)

// WelcomeMessage greets a user on their first contact.
const WelcomeMessage = "¡Hola! Soy SAÚ 😊\n\nEstoy aquí para ayudarte con temas de vida saludable. ¿En qué puedo apoyarte?"

// DefaultSystemPrompt is the assistant persona.
//
//go:embed system_prompt.md
var DefaultSystemPrompt string

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("qa: empty question")

// Service answers a single question.
type Service interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Passage is one retrieved document fragment.
type Passage struct {
	Text   string
	Source string
	Score  float32
}

// Retriever returns the k passages closest to vector, best first.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, k int) ([]Passage, error)
}

// Func adapts a plain function to Service.
type Func func(ctx context.Context, question string) (string, error)

// Ask calls f.
func (f Func) Ask(ctx context.Context, question string) (string, error) { return f(ctx, question) }

// BuildPrompt renders the single-turn prompt sent to the model.
func BuildPrompt(system string, passages []Passage, question string) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	b.WriteString("\n\nContext: ")
	b.WriteString(strings.Join(texts, "\n\n"))
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
