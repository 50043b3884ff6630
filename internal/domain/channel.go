package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a chat transport that delivers inbound messages and sends replies.
type Channel interface {
	// ID returns the channel identifier (e.g. "telegram", "irc").
	ID() string

	// Start connects the channel and begins listening for messages.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers a response into the given chat. Typing responses are
	// not delivered as text.
	Send(ctx context.Context, chatID string, resp MessageResponse) error

	// SendTyping shows a typing indicator where the platform supports one.
	SendTyping(ctx context.Context, chatID string) error

	// OnMessage registers a handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))

	// Status reports connection state.
	Status() ChannelStatus
}
