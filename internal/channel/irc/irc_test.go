package irc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lrstanley/girc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

func TestNew(t *testing.T) {
	ch := New(config.IRCConfig{Server: "irc.libera.chat", Nick: "sau", Channels: []string{"#salud"}}, logging.Nop())
	assert.Equal(t, "irc", ch.ID())

	status := ch.Status()
	assert.Equal(t, "irc", status.ChannelID)
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
}

func TestPort(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.IRCConfig
		want int
	}{
		{"explicit", config.IRCConfig{Port: 7000, UseTLS: true}, 7000},
		{"tls default", config.IRCConfig{UseTLS: true}, 6697},
		{"plain default", config.IRCConfig{}, 6667},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.cfg, logging.Nop()).port())
		})
	}
}

func TestClientConfig(t *testing.T) {
	sasl := New(config.IRCConfig{Server: "irc.test", Nick: "sau", Password: "pw", SASL: true, UseTLS: true}, logging.Nop()).clientConfig()
	require.NotNil(t, sasl.SASL)
	assert.Empty(t, sasl.ServerPass)
	require.NotNil(t, sasl.TLSConfig)
	assert.Equal(t, "irc.test", sasl.TLSConfig.ServerName)
	assert.Contains(t, sasl.SupportedCaps, capMultiline)
	assert.Contains(t, sasl.SupportedCaps, capMessageTags)

	plain := New(config.IRCConfig{Server: "irc.test", Nick: "sau", Password: "pw"}, logging.Nop()).clientConfig()
	assert.Nil(t, plain.SASL)
	assert.Equal(t, "pw", plain.ServerPass)
	assert.Nil(t, plain.TLSConfig)
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, logging.Nop())
	err := ch.Send(context.Background(), "#salud", domain.MessageResponse{Content: "hola", Kind: domain.KindText})
	assert.ErrorIs(t, err, errNotConnected)
	assert.ErrorIs(t, ch.SendTyping(context.Background(), "#salud"), errNotConnected)
}

func TestSend_TypingResponseIsSkipped(t *testing.T) {
	ch := New(config.IRCConfig{}, logging.Nop())
	assert.NoError(t, ch.Send(context.Background(), "#salud", domain.MessageResponse{Kind: domain.KindTyping}))
}

func TestAddressed(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{"sau: ¿qué es el colesterol?", " ¿qué es el colesterol?", true},
		{"SAU, hola", " hola", true},
		{"sau:", "", true},
		{"sausage: hola", "", false},
		{"hola sau: hola", "", false},
		{"sau hola", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := addressed(tt.body, "sau")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInbound(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	msg, ok := inbound("ana", "#salud", "sau: ¿cuántas horas debo dormir?", "sau", at)
	require.True(t, ok)
	assert.Equal(t, "irc", msg.ChannelID)
	assert.Equal(t, "#salud", msg.ChatID)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "ana", msg.Input.Username)
	assert.Equal(t, "¿cuántas horas debo dormir?", msg.Input.Text)
	assert.Equal(t, domain.OriginIRC, msg.Input.Origin)
	assert.Nil(t, msg.Input.Platform)
	assert.Equal(t, "#salud", msg.Input.Metadata["irc_target"])

	dm, ok := inbound("ana", "sau", "hola", "sau", at)
	require.True(t, ok)
	assert.Equal(t, "ana", dm.ChatID)
	assert.Equal(t, "hola", dm.Input.Text)

	_, ok = inbound("ana", "#salud", "hola a todos", "sau", at)
	assert.False(t, ok, "unaddressed channel line")
	_, ok = inbound("sau", "#salud", "sau: eco", "sau", at)
	assert.False(t, ok, "own line")
	_, ok = inbound("ana", "#salud", "sau:   ", "sau", at)
	assert.False(t, ok, "blank question")
}

func TestDispatch_CallsHandler(t *testing.T) {
	ch := New(config.IRCConfig{}, logging.Nop())

	var got []domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { got = append(got, msg) })

	ch.dispatch("ana", "#salud", "sau, hola", "sau")
	ch.dispatch("ana", "#salud", "hola", "sau")

	require.Len(t, got, 1)
	assert.Equal(t, "hola", got[0].Input.Text)
}

func TestOnBatch_ReassemblesMultiline(t *testing.T) {
	ch := New(config.IRCConfig{}, logging.Nop())
	var got []domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { got = append(got, msg) })

	src := &girc.Source{Name: "ana"}
	ch.batches.start("b1", capMultiline, "sau", src)
	ch.batches.add("b1", "primera línea", false)
	ch.batches.add("b1", "segunda ", false)
	ch.batches.add("b1", "parte", true)

	target, source, body, ok := ch.batches.end("b1")
	require.True(t, ok)
	assert.Equal(t, "sau", target)
	assert.Same(t, src, source)
	assert.Equal(t, "primera línea\nsegunda parte", body)

	ch.dispatch(source.Name, target, body, "sau")
	require.Len(t, got, 1)
	assert.Equal(t, "ana", got[0].ChatID)
	assert.False(t, ch.batches.has("b1"))
}

func TestReplyLines(t *testing.T) {
	long := strings.Repeat("palabra ", 80)
	lines := replyLines("uno\n\ndos\n" + long)

	require.Greater(t, len(lines), 3)
	assert.Equal(t, "uno", lines[0])
	assert.Equal(t, "dos", lines[1])
	for _, l := range lines {
		assert.NotEmpty(t, l)
		assert.LessOrEqual(t, len(l), MaxLineBytes)
	}
}
