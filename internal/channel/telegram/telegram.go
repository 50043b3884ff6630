// Package telegram implements the Telegram chat channel with long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/apversus/sauai/internal/channel"
	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

// MaxMessageLength is the longest text sent in a single Telegram message.
const MaxMessageLength = 4000

const defaultPollTimeout = 10

var errNotConnected = errors.New("telegram: not connected")

// Channel implements domain.Channel for a Telegram bot.
type Channel struct {
	cfg      config.TelegramConfig
	log      *logging.Logger
	endpoint string
	client   tgbotapi.HTTPClient

	mu      sync.RWMutex
	bot     *tgbotapi.BotAPI
	stop    func()
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// Option customizes a Channel.
type Option func(*Channel)

// WithEndpoint overrides the Bot API endpoint format
// ("https://api.telegram.org/bot%s/%s").
func WithEndpoint(endpoint string) Option {
	return func(c *Channel) { c.endpoint = endpoint }
}

// WithHTTPClient sets the HTTP client used for Bot API calls.
func WithHTTPClient(client tgbotapi.HTTPClient) Option {
	return func(c *Channel) { c.client = client }
}

// New creates a Telegram channel from configuration.
func New(cfg config.TelegramConfig, log *logging.Logger, opts ...Option) *Channel {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	c := &Channel{
		cfg:      cfg,
		log:      log.Sub("telegram"),
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) ID() string { return string(domain.OriginTelegram) }

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
		Connected: c.bot != nil && c.running,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start authenticates the bot and polls for updates until ctx is done or
// Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	if c.cfg.Token == "" {
		return errors.New("telegram: bot token is required")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.cfg.Token, c.endpoint, c.client)
	if err != nil {
		c.setError(err)
		return fmt.Errorf("telegram connect: %w", err)
	}
	bot.Debug = c.cfg.Debug

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeout
	updates := bot.GetUpdatesChan(u)

	var once sync.Once
	stop := func() { once.Do(bot.StopReceivingUpdates) }

	c.mu.Lock()
	c.bot = bot
	c.stop = stop
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info().
		Str("bot", bot.Self.UserName).
		Int("pollTimeout", c.cfg.PollTimeout).
		Msg("telegram polling started")

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			stop()
			// The poller exits after its in-flight request; drain so it
			// is never stuck on a send.
			go func() {
				for range updates {
				}
			}()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleUpdate(update)
		}
	}
}

// Stop ends polling.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.RLock()
	stop := c.stop
	c.mu.RUnlock()

	if stop != nil {
		c.log.Info().Msg("stopping telegram polling")
		stop()
	}
	return nil
}

// Send delivers resp into chatID, split into MaxMessageLength chunks.
// Typing responses send nothing.
func (c *Channel) Send(ctx context.Context, chatID string, resp domain.MessageResponse) error {
	if resp.Kind == domain.KindTyping {
		return nil
	}
	bot, id, err := c.target(chatID)
	if err != nil {
		return err
	}

	chunks := channel.SplitText(resp.Content, MaxMessageLength)
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := bot.Send(tgbotapi.NewMessage(id, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	c.log.Debug().
		Str("chat", chatID).
		Int("parts", len(chunks)).
		Msg("sent telegram message")
	return nil
}

// SendTyping shows the "typing" chat action.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	bot, id, err := c.target(chatID)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram typing: %w", err)
	}
	return nil
}

func (c *Channel) target(chatID string) (*tgbotapi.BotAPI, int64, error) {
	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot == nil {
		return nil, 0, errNotConnected
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: invalid chat id %q", chatID)
	}
	return bot, id, nil
}

func (c *Channel) setError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Channel) handleUpdate(update tgbotapi.Update) {
	msg, ok := inbound(update)
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	c.log.Debug().
		Str("username", msg.Input.Username).
		Str("chat", msg.ChatID).
		Msg("message received")

	if handler != nil {
		handler(msg)
	}
}

// inbound converts a text message update. Other updates, bot authors and
// non-text messages are skipped.
func inbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" || m.From.IsBot {
		return domain.InboundMessage{}, false
	}

	from := m.From
	username := from.UserName
	if username == "" {
		username = fmt.Sprintf("user_%d", from.ID)
	}

	return domain.InboundMessage{
		ChannelID: string(domain.OriginTelegram),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Timestamp: m.Time(),
		Input: domain.MessageInput{
			Username: username,
			Text:     m.Text,
			Origin:   domain.OriginTelegram,
			Platform: &domain.PlatformAttributes{
				UserID:       from.ID,
				FirstName:    from.FirstName,
				LastName:     from.LastName,
				LanguageCode: from.LanguageCode,
			},
			Metadata: map[string]any{
				"telegram_user_id": from.ID,
				"first_name":       from.FirstName,
				"last_name":        from.LastName,
			},
		},
	}, true
}
