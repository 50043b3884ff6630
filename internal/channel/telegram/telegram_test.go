package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

// fakeBotAPI serves the Bot API methods the channel uses.
type fakeBotAPI struct {
	mu      sync.Mutex
	pending []string
	calls   []fakeCall
}

type fakeCall struct {
	method string
	chatID string
	text   string
	action string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{
		method: method,
		chatID: r.PostForm.Get("chat_id"),
		text:   r.PostForm.Get("text"),
		action: r.PostForm.Get("action"),
	})
	var result string
	switch method {
	case "getMe":
		result = `{"id":1,"is_bot":true,"first_name":"Saú","username":"sau_bot"}`
	case "getUpdates":
		result = "[" + strings.Join(f.pending, ",") + "]"
		f.pending = nil
	case "sendMessage":
		result = `{"message_id":10,"date":1700000000,"chat":{"id":42,"type":"private"}}`
	default:
		result = "true"
	}
	f.mu.Unlock()

	if result == "[]" {
		time.Sleep(10 * time.Millisecond)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func (f *fakeBotAPI) queue(update string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, update)
}

func (f *fakeBotAPI) sent(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestChannel(t *testing.T) (*Channel, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ch := New(config.TelegramConfig{Token: "TEST"}, logging.Nop(),
		WithEndpoint(srv.URL+"/bot%s/%s"),
		WithHTTPClient(srv.Client()))
	return ch, api
}

func startChannel(t *testing.T, ch *Channel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return ch.Status().Running }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	ch := New(config.TelegramConfig{Token: "x"}, logging.Nop())
	assert.Equal(t, "telegram", ch.ID())
	assert.Equal(t, defaultPollTimeout, ch.cfg.PollTimeout)
	assert.Equal(t, tgbotapi.APIEndpoint, ch.endpoint)

	status := ch.Status()
	assert.False(t, status.Running)
	assert.False(t, status.Connected)
}

func TestStart_RequiresToken(t *testing.T) {
	ch := New(config.TelegramConfig{}, logging.Nop())
	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(config.TelegramConfig{Token: "x"}, logging.Nop())
	err := ch.Send(context.Background(), "42", domain.MessageResponse{Content: "hola", Kind: domain.KindText})
	assert.ErrorIs(t, err, errNotConnected)
	assert.ErrorIs(t, ch.SendTyping(context.Background(), "42"), errNotConnected)
}

func TestStart_DeliversTextMessages(t *testing.T) {
	ch, api := newTestChannel(t)

	received := make(chan domain.InboundMessage, 4)
	ch.OnMessage(func(msg domain.InboundMessage) { received <- msg })

	api.queue(`{"update_id":1,"message":{"message_id":5,"date":1700000000,"text":"¿Cuánta agua debo tomar?",
		"chat":{"id":42,"type":"private"},
		"from":{"id":7,"is_bot":false,"first_name":"Ana","last_name":"Pérez","username":"ana","language_code":"es"}}}`)
	api.queue(`{"update_id":2,"message":{"message_id":6,"date":1700000001,"text":"hola",
		"chat":{"id":43,"type":"private"},
		"from":{"id":8,"is_bot":false,"first_name":"Luis"}}}`)
	startChannel(t, ch)

	var msgs []domain.InboundMessage
	for range 2 {
		select {
		case m := <-received:
			msgs = append(msgs, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}

	first := msgs[0]
	assert.Equal(t, "telegram", first.ChannelID)
	assert.Equal(t, "42", first.ChatID)
	assert.Equal(t, "ana", first.Input.Username)
	assert.Equal(t, "¿Cuánta agua debo tomar?", first.Input.Text)
	assert.Equal(t, domain.OriginTelegram, first.Input.Origin)
	require.NotNil(t, first.Input.Platform)
	assert.Equal(t, int64(7), first.Input.Platform.UserID)
	assert.Equal(t, "Pérez", first.Input.Platform.LastName)
	assert.Equal(t, "es", first.Input.Platform.LanguageCode)
	assert.Equal(t, time.Unix(1700000000, 0), first.Timestamp)

	assert.Equal(t, "user_8", msgs[1].Input.Username)
}

func TestSend_SplitsLongReplies(t *testing.T) {
	ch, api := newTestChannel(t)
	startChannel(t, ch)

	long := strings.Repeat("Camina treinta minutos al día.\n", 200)
	err := ch.Send(context.Background(), "42", domain.MessageResponse{Content: long, Kind: domain.KindText})
	require.NoError(t, err)

	calls := api.sent("sendMessage")
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "42", c.chatID)
		assert.LessOrEqual(t, len([]rune(c.text)), MaxMessageLength)
	}
}

func TestSend_TypingResponseSendsNothing(t *testing.T) {
	ch, api := newTestChannel(t)
	startChannel(t, ch)

	require.NoError(t, ch.Send(context.Background(), "42", domain.MessageResponse{Kind: domain.KindTyping}))
	assert.Empty(t, api.sent("sendMessage"))
}

func TestSend_ErrorResponseIsDelivered(t *testing.T) {
	ch, api := newTestChannel(t)
	startChannel(t, ch)

	require.NoError(t, ch.Send(context.Background(), "42", domain.MessageResponse{Content: "fallo", Kind: domain.KindError}))
	calls := api.sent("sendMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "fallo", calls[0].text)
}

func TestSend_InvalidChatID(t *testing.T) {
	ch, _ := newTestChannel(t)
	startChannel(t, ch)

	err := ch.Send(context.Background(), "not-a-number", domain.MessageResponse{Content: "hola", Kind: domain.KindText})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chat id")
}

func TestSendTyping(t *testing.T) {
	ch, api := newTestChannel(t)
	startChannel(t, ch)

	require.NoError(t, ch.SendTyping(context.Background(), "42"))
	calls := api.sent("sendChatAction")
	require.Len(t, calls, 1)
	assert.Equal(t, "typing", calls[0].action)
	assert.Equal(t, "42", calls[0].chatID)
}

func TestStop_EndsPolling(t *testing.T) {
	ch, _ := newTestChannel(t)

	done := make(chan error, 1)
	go func() { done <- ch.Start(context.Background()) }()
	require.Eventually(t, func() bool { return ch.Status().Running }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Stop(context.Background()))
	require.NoError(t, ch.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, ch.Status().Running)
}

func TestInbound_Skips(t *testing.T) {
	bot := &tgbotapi.User{ID: 9, IsBot: true}
	human := &tgbotapi.User{ID: 7}
	chat := &tgbotapi.Chat{ID: 1}

	tests := []struct {
		name   string
		update tgbotapi.Update
	}{
		{"no message", tgbotapi.Update{UpdateID: 1}},
		{"no sender", tgbotapi.Update{Message: &tgbotapi.Message{Text: "hola", Chat: chat}}},
		{"bot sender", tgbotapi.Update{Message: &tgbotapi.Message{Text: "hola", Chat: chat, From: bot}}},
		{"no text", tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat, From: human}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := inbound(tt.update)
			assert.False(t, ok)
		})
	}
}
