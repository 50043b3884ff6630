// Package routing is the transport-neutral message core: it resolves the user
// and session behind every inbound message, asks the QA service and records
// both sides of the exchange.
package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/apversus/sauai/internal/channel"
	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/hooks"
	"github.com/apversus/sauai/internal/logging"
	"github.com/apversus/sauai/internal/qa"
	"github.com/apversus/sauai/internal/retry"
	"github.com/apversus/sauai/internal/workers"
)

// Replies used when an answer cannot be produced.
const (
	ReplyTimeout       = "❌ Lo siento, el procesamiento está tomando demasiado tiempo. Por favor, intenta con una pregunta más simple."
	ReplyFailure       = "❌ Lo siento, ocurrió un error al procesar tu pregunta. Por favor, intenta nuevamente."
	DefaultErrorDetail = "Error interno del servidor"
)

// DefaultTypingSeconds is how long a typing indicator lasts.
const DefaultTypingSeconds = 3

// Deps are the collaborators of a Router.
type Deps struct {
	Users    UserStore
	Sessions SessionStore
	QA       qa.Service
	Hooks    *hooks.Manager // optional
	Log      *logging.Logger
}

// Options tune a Router. Zero values take the defaults noted per field.
type Options struct {
	Workers      int          // 10
	Store        retry.Policy // 3 attempts, 1s backoff
	QA           retry.Policy // 2 attempts, 2s backoff after errors, 60s timeout
	ContextLimit int          // 5
	Now          func() time.Time
}

// OptionsFromConfig maps the router section of the configuration.
func OptionsFromConfig(c config.RouterConfig) Options {
	return Options{
		Workers:      c.Workers,
		Store:        retry.Policy{Attempts: c.StoreAttempts, Backoff: c.StoreBackoff},
		QA:           retry.Policy{Attempts: c.QAAttempts, Backoff: c.QABackoff, Timeout: c.QATimeout},
		ContextLimit: c.ContextLimit,
	}
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.Store.Attempts <= 0 {
		o.Store.Attempts = 3
	}
	if o.Store.Backoff == 0 {
		o.Store.Backoff = time.Second
	}
	if o.QA.Attempts <= 0 {
		o.QA.Attempts = 2
	}
	if o.QA.Backoff == 0 {
		o.QA.Backoff = 2 * time.Second
	}
	if o.QA.Timeout == 0 {
		o.QA.Timeout = 60 * time.Second
	}
	// A timed-out question is asked again at once.
	o.QA.NoBackoffOnTimeout = true
	if o.ContextLimit == 0 {
		o.ContextLimit = 5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Router processes inbound messages from every transport.
type Router struct {
	users    UserStore
	sessions SessionStore
	qa       qa.Service
	hooks    *hooks.Manager
	log      *logging.Logger
	opts     Options

	pool *workers.Pool

	// base bounds channel-driven processing; cancelled by Close.
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewRouter creates a router and starts its worker pool.
func NewRouter(deps Deps, opts Options) (*Router, error) {
	if deps.Users == nil || deps.Sessions == nil || deps.QA == nil {
		return nil, errors.New("routing: users, sessions and qa are required")
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	opts.applyDefaults()

	log := deps.Log.Sub("router")
	base, cancel := context.WithCancel(context.Background())
	return &Router{
		users:    deps.Users,
		sessions: deps.Sessions,
		qa:       deps.QA,
		hooks:    deps.Hooks,
		log:      log,
		opts:     opts,
		pool:     workers.New(opts.Workers, log),
		base:     base,
		cancel:   cancel,
	}, nil
}

// Process runs one message through the pipeline. It never returns an error:
// failures are reported as a response of kind error.
func (r *Router) Process(ctx context.Context, in domain.MessageInput) domain.MessageResponse {
	start := r.opts.Now()
	log := r.log.With("username", in.Username).With("origin", string(in.Origin))

	if err := in.Validate(); err != nil {
		log.Warn().Err(err).Msg("rejecting message")
		return r.failure(ctx, in, err)
	}
	log.Info().Int("length", len(in.Text)).Msg("processing message")
	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"username": in.Username,
		"origin":   string(in.Origin),
	})

	user, err := r.resolveUser(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("resolving user failed")
		return r.failure(ctx, in, err)
	}

	sess, err := retry.Value(ctx, r.opts.Store, r.onRetry(log, "get or create session"), func(ctx context.Context) (*domain.Session, error) {
		return runOn(ctx, r.pool, func(ctx context.Context) (*domain.Session, error) {
			return r.sessions.GetOrCreate(ctx, in.Username)
		})
	})
	if err != nil {
		log.Error().Err(err).Msg("resolving session failed")
		return r.failure(ctx, in, err)
	}
	r.hooks.Emit(ctx, hooks.EventSessionResolved, map[string]any{
		"username":   in.Username,
		"session_id": sess.ID,
	})

	if err := r.appendMessage(ctx, log, sess.ID, in.Text, true); err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("storing user message failed")
		return r.failure(ctx, in, err)
	}

	answer, degraded := r.answer(ctx, log, user, sess.ID, in.Text)

	if err := r.appendMessage(ctx, log, sess.ID, answer, false); err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("storing answer failed")
		return r.failure(ctx, in, err)
	}

	now := r.opts.Now()
	elapsed := now.Sub(start)
	log.Info().Str("session", sess.ID).Bool("degraded", degraded).Dur("elapsed", elapsed).Msg("message answered")
	r.hooks.Emit(ctx, hooks.EventMessageAnswered, map[string]any{
		"username":   in.Username,
		"origin":     string(in.Origin),
		"session_id": sess.ID,
		"degraded":   degraded,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	return domain.MessageResponse{
		Content: answer,
		Kind:    domain.KindText,
		Metadata: map[string]any{
			"session_id": sess.ID,
			"username":   in.Username,
			"origin":     string(in.Origin),
			"timestamp":  now.Format(time.RFC3339),
		},
	}
}

// resolveUser loads or creates the profile and counts the message. Platform
// messages go through CreateOrUpdate, which counts on its own.
func (r *Router) resolveUser(ctx context.Context, in domain.MessageInput) (*domain.User, error) {
	log := r.log.With("username", in.Username)

	if in.Platform != nil {
		attrs := *in.Platform
		u, err := retry.Value(ctx, r.opts.Store, r.onRetry(log, "record platform user"), func(ctx context.Context) (*domain.User, error) {
			return runOn(ctx, r.pool, func(ctx context.Context) (*domain.User, error) {
				return r.users.CreateOrUpdate(ctx, in.Username, attrs)
			})
		})
		if err != nil {
			return nil, err
		}
		if u.MessageCount == 1 {
			r.userCreated(ctx, in)
		}
		return u, nil
	}

	u, err := retry.Value(ctx, r.opts.Store, r.onRetry(log, "get or create user"), func(ctx context.Context) (*domain.User, error) {
		return runOn(ctx, r.pool, func(ctx context.Context) (*domain.User, error) {
			u, err := r.users.Get(ctx, in.Username)
			if err != nil || u != nil {
				return u, err
			}
			log.Info().Msg("creating user")
			u, err = r.users.CreateWebUser(ctx, in.Username, strings.ReplaceAll(in.Username, "@", ""), "")
			if err == nil && u.MessageCount == 0 {
				r.userCreated(ctx, in)
			}
			return u, err
		})
	})
	if err != nil {
		return nil, err
	}

	err = retry.Do(ctx, r.opts.Store, r.onRetry(log, "count message"), func(ctx context.Context) error {
		_, err := runOn(ctx, r.pool, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.users.IncrementMessageCount(ctx, in.Username)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	u.MessageCount++
	return u, nil
}

func (r *Router) userCreated(ctx context.Context, in domain.MessageInput) {
	r.hooks.Emit(ctx, hooks.EventUserCreated, map[string]any{
		"username": in.Username,
		"origin":   string(in.Origin),
	})
}

func (r *Router) appendMessage(ctx context.Context, log *logging.Logger, sessionID, text string, fromUser bool) error {
	return retry.Do(ctx, r.opts.Store, r.onRetry(log, "append message"), func(ctx context.Context) error {
		_, err := runOn(ctx, r.pool, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.sessions.AppendMessage(ctx, sessionID, text, fromUser)
		})
		return err
	})
}

// answer asks the QA service under the QA policy. It always returns a reply;
// degraded reports that it is one of the canned failure replies.
func (r *Router) answer(ctx context.Context, log *logging.Logger, user *domain.User, sessionID, question string) (string, bool) {
	recent, err := runOn(ctx, r.pool, func(ctx context.Context) (string, error) {
		return r.sessions.RecentContext(ctx, sessionID, r.opts.ContextLimit)
	})
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("recent context unavailable, answering without it")
		recent = ""
	}
	prompt := ComposeQuestion(user, recent, question)

	answer, err := retry.Value(ctx, r.opts.QA, r.onRetry(log, "ask"), func(ctx context.Context) (string, error) {
		return runOn(ctx, r.pool, func(ctx context.Context) (string, error) {
			return r.qa.Ask(ctx, prompt)
		})
	})
	switch {
	case err == nil:
		return answer, false
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warn().Err(err).Msg("qa timed out")
		return ReplyTimeout, true
	default:
		log.Warn().Err(err).Msg("qa failed")
		return ReplyFailure, true
	}
}

func (r *Router) onRetry(log *logging.Logger, op string) retry.OnRetry {
	return func(attempt int, err error) {
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("attempt failed, retrying")
	}
}

func (r *Router) failure(ctx context.Context, in domain.MessageInput, err error) domain.MessageResponse {
	r.hooks.Emit(ctx, hooks.EventMessageFailed, map[string]any{
		"username": in.Username,
		"origin":   string(in.Origin),
		"error":    err.Error(),
	})
	return domain.MessageResponse{
		Content: ReplyFailure,
		Kind:    domain.KindError,
		Metadata: map[string]any{
			"error":     err.Error(),
			"username":  in.Username,
			"origin":    string(in.Origin),
			"timestamp": r.opts.Now().Format(time.RFC3339),
		},
	}
}

// TypingResponse is the typing indicator envelope. Non-positive durations
// use DefaultTypingSeconds.
func (r *Router) TypingResponse(seconds int) domain.MessageResponse {
	if seconds <= 0 {
		seconds = DefaultTypingSeconds
	}
	return domain.MessageResponse{
		Kind:     domain.KindTyping,
		Metadata: map[string]any{"duration": seconds},
	}
}

// ErrorResponse is a generic error envelope. An empty detail uses
// DefaultErrorDetail.
func (r *Router) ErrorResponse(detail string) domain.MessageResponse {
	if detail == "" {
		detail = DefaultErrorDetail
	}
	return domain.MessageResponse{
		Content:  "❌ " + detail,
		Kind:     domain.KindError,
		Metadata: map[string]any{"timestamp": r.opts.Now().Format(time.RFC3339)},
	}
}

// Wire makes the router the message handler of every registered channel.
// Each message gets a typing indicator, is processed in its own goroutine and
// the reply is sent back into the chat it came from.
func (r *Router) Wire(channels *channel.Registry) {
	for _, id := range channels.List() {
		ch, ok := channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.HandleInbound(r.base, ch, msg)
			}()
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// HandleInbound answers one channel message in place.
func (r *Router) HandleInbound(ctx context.Context, ch domain.Channel, msg domain.InboundMessage) {
	if msg.Input.Origin == "" {
		msg.Input.Origin = domain.Origin(ch.ID())
	}
	if err := ch.SendTyping(ctx, msg.ChatID); err != nil {
		r.log.Debug().Err(err).Str("channel", ch.ID()).Msg("typing indicator failed")
	}

	resp := r.Process(ctx, msg.Input)
	if err := ch.Send(ctx, msg.ChatID, resp); err != nil {
		r.log.Error().Err(err).
			Str("channel", ch.ID()).
			Str("chat", msg.ChatID).
			Msg("failed to send reply")
	}
}

// Close waits for channel messages being processed, then stops the worker
// pool. When ctx ends first the remaining work is cancelled.
func (r *Router) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.cancel()
	}
	defer r.cancel()
	return r.pool.Shutdown(ctx)
}

// runOn executes fn on the worker pool. A closed pool is not worth retrying.
func runOn[T any](ctx context.Context, pool *workers.Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := pool.Submit(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		if errors.Is(err, workers.ErrClosed) {
			err = retry.Permanent(err)
		}
		return zero, err
	}
	return out, nil
}
