// Package hooks is the in-process event bus of the message pipeline. The
// router, the web API and the database pool emit into it; serve logs it.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apversus/sauai/internal/logging"
)

// Event names.
const (
	EventMessageReceived = "message_received"
	EventUserCreated     = "user_created"
	EventSessionResolved = "session_resolved"
	EventMessageAnswered = "message_answered"
	EventMessageFailed   = "message_failed"
	EventPoolRebuilt     = "pool_rebuilt"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// AllEvents lists every event the pipeline emits, in lifecycle order.
var AllEvents = []string{
	EventMessageReceived,
	EventUserCreated,
	EventSessionResolved,
	EventMessageAnswered,
	EventMessageFailed,
	EventPoolRebuilt,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Str returns Data[key] when it is a string.
func (p Payload) Str(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// Handler observes one event. A returned error or a panic is logged and
// never reaches the emitter.
type Handler func(ctx context.Context, p Payload) error

type subscriber struct {
	name    string
	handler Handler
}

// Manager dispatches events to subscribers. A nil *Manager accepts and
// drops every event, so emitters need no nil checks.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
	log  *logging.Logger
	now  func() time.Time

	async sync.WaitGroup
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscriber),
		log:  log.Sub("hooks"),
		now:  time.Now,
	}
}

// On subscribes handler to event under name. Names need not be unique.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = append(m.subs[event], subscriber{name: name, handler: handler})
}

// OnAll subscribes handler to every event in AllEvents.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, event := range AllEvents {
		m.On(event, name, handler)
	}
}

// Off drops every subscriber of event registered under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.subs[event][:0:0]
	for _, s := range m.subs[event] {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	m.subs[event] = kept
}

// Count returns the number of subscribers of event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

func (m *Manager) prepare(event string, data map[string]any) ([]subscriber, Payload) {
	m.mu.RLock()
	subs := append([]subscriber(nil), m.subs[event]...)
	m.mu.RUnlock()
	return subs, Payload{Event: event, At: m.now(), Data: data}
}

// Emit runs the subscribers of event in registration order and returns when
// all of them have.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	subs, p := m.prepare(event, data)
	for _, s := range subs {
		m.call(ctx, s, p)
	}
}

// EmitAsync runs every subscriber of event in its own goroutine and returns
// at once. Wait blocks until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	subs, p := m.prepare(event, data)
	m.async.Add(len(subs))
	for _, s := range subs {
		go func() {
			defer m.async.Done()
			m.call(ctx, s, p)
		}()
	}
}

// Wait blocks until every EmitAsync handler has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) call(ctx context.Context, s subscriber, p Payload) {
	defer func() {
		if v := recover(); v != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", s.name).
				Str("panic", fmt.Sprint(v)).
				Msg("hook handler panicked")
		}
	}()
	if err := s.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", s.name).
			Msg("hook handler error")
	}
}

// LogHandler writes every event to log at debug level with its data as fields.
func LogHandler(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event)
		for k, v := range p.Data {
			ev = ev.Interface(k, v)
		}
		ev.Msg("hook event")
		return nil
	}
}
