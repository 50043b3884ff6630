// Package irc implements the IRC chat channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/apversus/sauai/internal/channel"
	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

// MaxLineBytes bounds the text of one PRIVMSG, leaving room for the
// prefix, command and target inside the 512-byte IRC line.
const MaxLineBytes = 400

const (
	capMessageTags = "message-tags"
	tagTyping      = "+typing"
)

var errNotConnected = errors.New("irc: not connected")

// Channel implements domain.Channel for IRC. In channels it answers lines
// addressed to its nick ("sau: ..."); private messages are always answered.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string

	batches *batchTracker
	mlMu    sync.RWMutex
	mlCaps  multilineCaps
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		log:     log.Sub("irc"),
		batches: newBatchTracker(),
	}
}

func (c *Channel) ID() string { return string(domain.OriginIRC) }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: c.ID(),
		Connected: c.connected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) connected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Channel) port() int {
	switch {
	case c.cfg.Port != 0:
		return c.cfg.Port
	case c.cfg.UseTLS:
		return 6697
	default:
		return 6667
	}
}

func (c *Channel) clientConfig() girc.Config {
	cfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "SAÚ AI",
		SSL:     c.cfg.UseTLS,
		Version: "sauai",
		SupportedCaps: map[string][]string{
			capMultiline:   nil,
			capMessageTags: nil,
		},
	}
	if c.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	switch {
	case c.cfg.SASL && c.cfg.Password != "":
		cfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	case c.cfg.Password != "":
		cfg.ServerPass = c.cfg.Password
	}
	return cfg
}

// Start connects to the server and blocks until the connection ends or
// ctx is done.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.clientConfig())

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
	client.Handlers.Add(girc.CAP, c.onCAP)
	client.Handlers.Add(cmdBATCH, c.onBatch)
	client.Handlers.Add(cmdFAIL, c.onFail)

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		client.Close()
		err = ctx.Err()
	}

	c.mu.Lock()
	c.running = false
	if err != nil && ctx.Err() == nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("irc connect: %w", err)
	}
	return err
}

// Stop quits the server.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("SAÚ AI shutting down")
	}
	c.running = false
	return nil
}

// Send delivers resp to a channel or nick. Replies with several lines go
// out as one draft/multiline batch when the server supports it, otherwise
// as one PRIVMSG per MaxLineBytes chunk.
func (c *Channel) Send(_ context.Context, chatID string, resp domain.MessageResponse) error {
	if resp.Kind == domain.KindTyping {
		return nil
	}
	c.mu.RLock()
	client, up := c.client, c.connected()
	c.mu.RUnlock()
	if !up {
		return errNotConnected
	}
	if chatID == "" {
		return errors.New("irc: no target specified")
	}

	if strings.Contains(resp.Content, "\n") && client.HasCapability(capMultiline) {
		c.mlMu.RLock()
		caps := c.mlCaps
		c.mlMu.RUnlock()
		for _, batch := range planBatches(resp.Content, caps) {
			sendBatch(client, chatID, batch)
		}
		c.log.Debug().Str("to", chatID).Msg("sent multiline reply")
		return nil
	}

	lines := replyLines(resp.Content)
	for _, line := range lines {
		client.Cmd.Message(chatID, line)
	}
	c.log.Debug().Str("to", chatID).Int("lines", len(lines)).Msg("sent reply")
	return nil
}

// SendTyping sends a "+typing=active" TAGMSG when message tags are enabled.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	c.mu.RLock()
	client, up := c.client, c.connected()
	c.mu.RUnlock()
	if !up {
		return errNotConnected
	}
	if !client.HasCapability(capMessageTags) {
		return nil
	}
	client.Send(&girc.Event{
		Command: "TAGMSG",
		Params:  []string{chatID},
		Tags:    girc.Tags{tagTyping: "active"},
	})
	return nil
}

// replyLines flattens text into non-empty PRIVMSG payloads.
func replyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, channel.SplitBytes(line, MaxLineBytes)...)
	}
	return out
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, name := range c.cfg.Channels {
		client.Cmd.Join(name)
		c.log.Info().Str("channel", name).Msg("joined channel")
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	if id, ok := batchRef(e); ok && c.batches.has(id) {
		c.batches.add(id, e.Last(), hasConcat(e))
		return
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}
	c.dispatch(e.Source.Name, e.Params[0], body, client.GetNick())
}

// dispatch hands an addressed line to the handler.
func (c *Channel) dispatch(nick, target, body, self string) {
	msg, ok := inbound(nick, target, body, self, time.Now())
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	c.log.Debug().Str("nick", nick).Str("chat", msg.ChatID).Msg("message received")
	if handler != nil {
		handler(msg)
	}
}

// inbound builds the message for a line from nick sent to target. Channel
// lines must start with "<self>:" or "<self>,"; the prefix is removed.
// Private messages are answered to the sender.
func inbound(nick, target, body, self string, at time.Time) (domain.InboundMessage, bool) {
	if nick == "" || strings.EqualFold(nick, self) {
		return domain.InboundMessage{}, false
	}

	chatID := target
	if girc.IsValidChannel(target) {
		text, ok := addressed(body, self)
		if !ok {
			return domain.InboundMessage{}, false
		}
		body = text
	} else {
		chatID = nick
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{
		ChannelID: string(domain.OriginIRC),
		ChatID:    chatID,
		Timestamp: at,
		Input: domain.MessageInput{
			Username: nick,
			Text:     body,
			Origin:   domain.OriginIRC,
			Metadata: map[string]any{
				"irc_nick":   nick,
				"irc_target": target,
			},
		},
	}, true
}

// addressed strips a leading "<nick>:" or "<nick>," (case-insensitive).
func addressed(body, nick string) (string, bool) {
	if nick == "" || len(body) <= len(nick) {
		return "", false
	}
	if !strings.EqualFold(body[:len(nick)], nick) {
		return "", false
	}
	switch body[len(nick)] {
	case ':', ',':
		return body[len(nick)+1:], true
	}
	return "", false
}

func (c *Channel) onBatch(client *girc.Client, e girc.Event) {
	if id, kind, target, ok := parseBatchStart(e); ok {
		if c.batches.start(id, kind, target, e.Source) {
			c.log.Debug().Str("batch", id).Str("target", target).Msg("multiline batch started")
		}
		return
	}
	if id, ok := parseBatchEnd(e); ok {
		target, source, body, found := c.batches.end(id)
		if !found || source == nil {
			return
		}
		c.dispatch(source.Name, target, body, client.GetNick())
	}
}

func (c *Channel) onCAP(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 3 {
		return
	}
	switch e.Params[1] {
	case "LS", "NEW", "ACK":
	default:
		return
	}
	caps, found := capsFromLS(e.Last())
	if !found {
		return
	}
	c.mlMu.Lock()
	c.mlCaps = caps
	c.mlMu.Unlock()
	c.log.Info().Int("maxBytes", caps.maxBytes).Int("maxLines", caps.maxLines).Msg("draft/multiline available")
}

func (c *Channel) onFail(_ *girc.Client, e girc.Event) {
	if code, ok := multilineFailure(e); ok {
		c.log.Warn().Str("code", code).Str("detail", e.Last()).Msg("multiline batch rejected by server")
	}
}
