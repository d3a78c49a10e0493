package notify

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// SessionParam is the route parameter naming the session.
const SessionParam = "session_id"

// Handler upgrades GET /ws/{session_id} to a WebSocket registered with the
// Hub under that session.
type Handler struct {
	hub      *Hub
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler for hub.
func NewHandler(hub *Hub, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	h := &Handler{
		hub:    hub,
		config: config,
		logger: logger.With("component", "notify_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 || slices.Contains(h.config.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(h.config.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin)
	})
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := strings.TrimSpace(chi.URLParam(r, SessionParam))
	if session == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Info("websocket upgrade failed", "session_id", session, "error", err)
		return
	}

	client := newClient(conn, session, h.config, h.logger)
	h.hub.Register(session, client)
	h.logger.Info("websocket connected", "session_id", session, "remote_addr", r.RemoteAddr)

	_ = client.Send(NewMessage(TypeConnected, "", ConnectedPayload{
		SessionID: session,
		Message:   "connected",
	}))

	go client.writePump()
	client.readPump(h.hub)

	h.logger.Info("websocket disconnected", "session_id", session)
}
