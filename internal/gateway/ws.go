package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
	"github.com/apversus/sauai/internal/routing"
)

// WebSocket frame types.
const (
	FrameChat     = "chat"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameTyping   = "typing"
	FrameResponse = "response"
	FrameError    = "error"
)

// ErrClientClosed is returned when writing to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

// InboundFrame is a client message on /api/ws.
type InboundFrame struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Username string         `json:"username,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OutboundFrame is a server message on /api/ws.
type OutboundFrame struct {
	Type     string                  `json:"type"`
	ID       string                  `json:"id,omitempty"`
	Response *domain.MessageResponse `json:"response,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	ConnID      string
	Socket      *websocket.Conn
	RemoteIP    string
	UserAgent   string
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, r *http.Request) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Socket:      conn,
		RemoteIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
		ConnectedAt: time.Now(),
	}
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(f OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.Socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.Socket.WriteJSON(f)
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("remote", c.RemoteIP).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		_ = c.Close()
		delete(r.clients, id)
	}
}

// handleWebSocket upgrades the request and serves chat frames until the
// client goes away. Frames of one connection are answered in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	client := NewClient(conn, r)
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		_ = client.Close()
	}()

	ctx := context.WithoutCancel(r.Context())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("websocket read ended")
			}
			return
		}
		if err := s.serveFrame(ctx, client, data); err != nil {
			s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("websocket write failed")
			return
		}
	}
}

// serveFrame answers one client frame. It returns an error only when the
// connection can no longer be written.
func (s *Server) serveFrame(ctx context.Context, c *Client, data []byte) error {
	var in InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return c.Send(OutboundFrame{Type: FrameError, Error: msgInvalidJSON})
	}

	switch in.Type {
	case FramePing:
		return c.Send(OutboundFrame{Type: FramePong, ID: in.ID})
	case FrameChat:
	default:
		return c.Send(OutboundFrame{Type: FrameError, ID: in.ID, Error: "Tipo de mensaje desconocido: " + in.Type})
	}

	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Message) == "" {
		return c.Send(OutboundFrame{Type: FrameError, ID: in.ID, Error: msgChatFields})
	}

	typing := s.deps.Chat.TypingResponse(routing.DefaultTypingSeconds)
	if err := c.Send(OutboundFrame{Type: FrameTyping, ID: in.ID, Response: &typing}); err != nil {
		return err
	}

	metadata := map[string]any{
		"user_agent": c.UserAgent,
		"ip":         c.RemoteIP,
		"transport":  "websocket",
	}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	resp := s.deps.Chat.Process(ctx, domain.MessageInput{
		Username: in.Username,
		Text:     in.Message,
		Origin:   domain.OriginWeb,
		Metadata: metadata,
	})
	return c.Send(OutboundFrame{Type: FrameResponse, ID: in.ID, Response: &resp})
}
