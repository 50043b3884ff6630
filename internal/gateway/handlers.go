package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/routing"
	"github.com/apversus/sauai/internal/version"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

const (
	msgChatFields    = "Se requieren 'username' y 'message'"
	msgEmailRequired = "Se requieren 'email' en el request"
	msgInvalidJSON   = "JSON inválido"
	msgInternalError = routing.DefaultErrorDetail
	msgRateLimited   = "Demasiadas solicitudes, intenta más tarde"
	msgNotFound      = "Ruta no encontrada"
	msgUserReady     = "Usuario listo para usar SAÚ AI"
)

// Endpoints lists the public API routes reported by /api/health.
var Endpoints = map[string]string{
	"chat":       "/api/chat",
	"check_user": "/api/check-user",
	"typing":     "/api/typing",
	"websocket":  "/api/ws",
	"channels":   "/api/channels",
}

// registerRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/chat", s.limiter.middleware(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/check-user", s.handleCheckUser)
	mux.HandleFunc("POST /api/typing", s.handleTyping)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	mux.HandleFunc("/", handleNotFound)
}

type chatRequest struct {
	Username *string        `json:"username"`
	Message  *string        `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

type chatReply struct {
	Success  bool                   `json:"success"`
	Response domain.MessageResponse `json:"response"`
}

// handleChat runs one web message through the router. The router always
// produces a response, so failures surface as an "error" response type.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if req.Username == nil || req.Message == nil {
		writeError(w, http.StatusBadRequest, msgChatFields)
		return
	}

	metadata := map[string]any{
		"user_agent": r.UserAgent(),
		"ip":         clientIP(r),
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	in := domain.MessageInput{
		Username: *req.Username,
		Text:     *req.Message,
		Origin:   domain.OriginWeb,
		Metadata: metadata,
	}
	// A client hanging up must not cut a conversation turn in half.
	resp := s.deps.Chat.Process(context.WithoutCancel(r.Context()), in)

	writeJSON(w, http.StatusOK, chatReply{Success: true, Response: resp})
}

// HealthReply is the body of GET /api/health.
type HealthReply struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Message   string                 `json:"message"`
	Database  bool                   `json:"database"`
	Clients   int                    `json:"websocket_clients"`
	Channels  []domain.ChannelStatus `json:"channels,omitempty"`
	Endpoints map[string]string      `json:"endpoints"`
}

// handleHealth reports liveness and store health. A failing database
// check answers 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.deps.DB != nil {
		dbOK = s.deps.DB.HealthCheck(r.Context())
	}

	reply := HealthReply{
		Status:    "healthy",
		Service:   "SAÚ AI Web API",
		Version:   version.Version,
		Message:   "SAÚ AI Backend is running",
		Database:  dbOK,
		Clients:   s.clients.Count(),
		Endpoints: Endpoints,
	}
	if s.deps.Channels != nil {
		reply.Channels = s.deps.Channels.Status()
	}

	status := http.StatusOK
	if !dbOK {
		reply.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, reply)
}

type checkUserRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	APVUserID string `json:"apv_user_id"`
}

type checkUserReply struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
	Exists   bool   `json:"exists"`
	Message  string `json:"message"`
}

// WebUsername derives the "@handle" of a web user from their email.
func WebUsername(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return "@" + local
}

// handleCheckUser maps a front-end account to its chat identity. When a
// name is supplied and the user is new, the profile is created up front.
func (s *Server) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	var req checkUserRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, msgEmailRequired)
		return
	}

	username := WebUsername(req.Email)
	if username == "@" {
		writeError(w, http.StatusBadRequest, msgEmailRequired)
		return
	}

	user, err := s.deps.Users.Get(r.Context(), username)
	if err != nil {
		s.log.Error().Err(err).Str("username", username).Msg("check-user lookup failed")
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	exists := user != nil

	if !exists && strings.TrimSpace(req.Name) != "" {
		if _, err := s.deps.Users.CreateWebUser(r.Context(), username, strings.TrimSpace(req.Name), req.Email); err != nil {
			s.log.Error().Err(err).Str("username", username).Msg("check-user create failed")
			writeError(w, http.StatusInternalServerError, msgInternalError)
			return
		}
		s.log.Info().Str("username", username).Str("apvUserId", req.APVUserID).Msg("web user registered")
	}

	writeJSON(w, http.StatusOK, checkUserReply{
		Success:  true,
		Username: username,
		Exists:   exists,
		Message:  msgUserReady,
	})
}

type typingRequest struct {
	Duration *int `json:"duration"`
}

type typingReply struct {
	Success  bool        `json:"success"`
	Response typingShape `json:"response"`
}

type typingShape struct {
	Kind     domain.ResponseKind `json:"response_type"`
	Metadata map[string]any      `json:"metadata"`
}

// handleTyping returns a typing indicator. The body is optional.
func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	seconds := routing.DefaultTypingSeconds
	if req.Duration != nil {
		seconds = *req.Duration
	}

	resp := s.deps.Chat.TypingResponse(seconds)
	writeJSON(w, http.StatusOK, typingReply{
		Success:  true,
		Response: typingShape{Kind: resp.Kind, Metadata: resp.Metadata},
	})
}

// handleChannels reports the chat transports.
func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	statuses := []domain.ChannelStatus{}
	if s.deps.Channels != nil {
		statuses = s.deps.Channels.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channels": statuses})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"error":   msgNotFound,
		"path":    r.URL.Path,
	})
}

// decodeJSON reads a bounded JSON body into dst. With optional set an
// empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
