package domain

import (
	"errors"
	"strings"
	"time"
)

// Origin identifies the transport a message came through.
type Origin string

const (
	OriginTelegram Origin = "telegram"
	OriginWeb      Origin = "web"
	OriginIRC      Origin = "irc"
	OriginCLI      Origin = "cli"
)

// ResponseKind tags a MessageResponse.
type ResponseKind string

const (
	KindText   ResponseKind = "text"
	KindTyping ResponseKind = "typing"
	KindError  ResponseKind = "error"
)

// ErrInvalidInput is returned by MessageInput.Validate.
var ErrInvalidInput = errors.New("invalid message input")

// PlatformAttributes are the profile fields a chat platform reports with every message.
type PlatformAttributes struct {
	UserID       int64  `json:"userId"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
	IsPremium    bool   `json:"isPremium,omitempty"`
}

// MessageInput is the transport-neutral inbound envelope.
type MessageInput struct {
	Username string              `json:"username"`
	Text     string              `json:"message"`
	Origin   Origin              `json:"origin"`
	Platform *PlatformAttributes `json:"platform,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// Validate rejects envelopes that cannot enter the router.
func (in MessageInput) Validate() error {
	if strings.TrimSpace(in.Username) == "" {
		return errors.Join(ErrInvalidInput, errors.New("username is required"))
	}
	if strings.TrimSpace(in.Text) == "" {
		return errors.Join(ErrInvalidInput, errors.New("message is required"))
	}
	return nil
}

// MessageResponse is the transport-neutral outbound envelope.
type MessageResponse struct {
	Content  string         `json:"content"`
	Kind     ResponseKind   `json:"response_type"`
	Metadata map[string]any `json:"metadata"`
}

// InboundMessage is a MessageInput received by a chat channel, with the
// conversation it must be answered in.
type InboundMessage struct {
	ChannelID string       `json:"channelId"`
	ChatID    string       `json:"chatId"`
	Input     MessageInput `json:"input"`
	Timestamp time.Time    `json:"timestamp"`
}
