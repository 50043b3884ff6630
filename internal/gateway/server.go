// Package gateway serves the SAÚ AI web API: JSON endpoints for the web
// front-ends and a WebSocket chat stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apversus/sauai/internal/channel"
	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/hooks"
	"github.com/apversus/sauai/internal/logging"
)

// Chatter answers messages.
type Chatter interface {
	Process(ctx context.Context, in domain.MessageInput) domain.MessageResponse
	TypingResponse(seconds int) domain.MessageResponse
}

// Users is the part of the user store the API reads and writes.
type Users interface {
	Get(ctx context.Context, username string) (*domain.User, error)
	CreateWebUser(ctx context.Context, username, name, email string) (*domain.User, error)
}

// Database reports store health.
type Database interface {
	HealthCheck(ctx context.Context) bool
}

// Deps are the collaborators behind the endpoints. Chat and Users are
// required.
type Deps struct {
	Chat     Chatter
	Users    Users
	DB       Database
	Channels *channel.Registry
	Hooks    *hooks.Manager
}

// Server is the HTTP + WebSocket server.
type Server struct {
	cfg     config.WebConfig
	deps    Deps
	log     *logging.Logger
	clients *ClientRegistry
	limiter *ipLimiter
	handler http.Handler

	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	startedAt  time.Time
}

// New creates a server. Routes and middleware are built eagerly so
// Handler can be served without Start.
func New(cfg config.WebConfig, deps Deps, log *logging.Logger) (*Server, error) {
	if deps.Chat == nil || deps.Users == nil {
		return nil, errors.New("gateway: chat and users are required")
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log.Sub("gateway"),
		limiter: newIPLimiter(cfg.ChatRatePerMinute, cfg.ChatBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	s.clients = NewClientRegistry(s.log.Sub("ws"))

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = withMiddleware(mux, s.log, cfg.AllowedOrigins)
	return s, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Clients returns the connected WebSocket clients.
func (s *Server) Clients() *ClientRegistry { return s.clients }

// checkWebSocketOrigin accepts non-browser clients (no Origin) and the
// configured front-ends.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Start listens on host:port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat replies wait for the model: two 60s attempts plus backoff.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().Str("addr", s.Addr()).Msg("web API listening")
	s.deps.Hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.Addr()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down web API")
		s.deps.Hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.clients.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("web API shutdown incomplete")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
