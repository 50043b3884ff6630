package routing

import (
	"fmt"
	"strings"

	"github.com/apversus/sauai/internal/domain"
)

// ComposeQuestion enriches the user's question with what is known about them
// and the recent turns of the conversation. Without either it returns the
// question unchanged.
func ComposeQuestion(u *domain.User, recent, question string) string {
	var parts []string
	if u != nil {
		if u.PersonalName != "" {
			parts = append(parts, "El usuario se llama "+u.PersonalName)
		}
		if u.Age != nil && *u.Age > 0 {
			parts = append(parts, fmt.Sprintf("tiene %d años", *u.Age))
		}
		if u.Needs != "" {
			parts = append(parts, "sus objetivos son: "+u.Needs)
		}
	}
	if len(parts) == 0 && recent == "" {
		return question
	}

	info := strings.Join(parts, ". ")
	if recent != "" {
		info += "\n\nConversación reciente:\n" + recent
	}
	return "Contexto: " + info + "\n\nPregunta: " + question
}
