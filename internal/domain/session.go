package domain

import "time"

// Role labels used when rendering history into prompt context.
const (
	RoleLabelUser      = "Usuario"
	RoleLabelAssistant = "SAÚ"
)

// Session is a conversation container owned by one user.
type Session struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Preferences  map[string]any `json:"preferences"`
}

// HistoryEntry is one append-only turn of a session.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	FromUser  bool      `json:"fromUser"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleLabel returns the speaker label for prompt rendering.
func (h HistoryEntry) RoleLabel() string {
	if h.FromUser {
		return RoleLabelUser
	}
	return RoleLabelAssistant
}

// ContextLine renders the entry as "<Role>: <text>".
func (h HistoryEntry) ContextLine() string {
	return h.RoleLabel() + ": " + h.Content
}
