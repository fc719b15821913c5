// Package ws serves the duplex streaming endpoint: it upgrades the HTTP
// request, feeds inbound frames to the session manager and keeps the
// connection alive with pings.
package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/service/session"
)

// Config tunes the transport.
type Config struct {
	ReadLimit      int64         // max inbound frame size in bytes
	PingInterval   time.Duration // zero disables keepalive pings
	AllowedOrigins []string      // empty allows any origin
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ReadLimit:    4 << 20,
		PingInterval: 20 * time.Second,
	}
}

// Handler upgrades requests on the streaming route.
type Handler struct {
	cfg      Config
	manager  *session.Manager
	origins  map[string]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler that opens one session per connection.
func NewHandler(cfg Config, manager *session.Manager) *Handler {
	h := &Handler{
		cfg:     cfg,
		manager: manager,
		origins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		logger:  logging.WithComponent("ws"),
	}
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

func (h *Handler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeHTTP runs the receive loop for one connection. Query parameters
// language and scenario select the session's initial settings.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	q := r.URL.Query()
	s, err := h.manager.Open(r.Context(), conn, strings.TrimSpace(q.Get("language")), strings.TrimSpace(strings.ToLower(q.Get("scenario"))))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to open session")
		_ = conn.Close()
		return
	}
	logger := logging.WithConnection(s.ID())

	if h.cfg.PingInterval > 0 {
		pongWait := 2 * h.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go h.keepalive(conn, s)
	}

	reason := h.readLoop(conn, s, logger)
	h.manager.Close(s, reason)
}

func (h *Handler) readLoop(conn *websocket.Conn, s *session.Session, logger zerolog.Logger) string {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			}
			return "disconnect"
		}

		var f session.Frame
		switch mt {
		case websocket.BinaryMessage:
			f = session.Frame{Binary: true, Data: data}
		case websocket.TextMessage:
			f = session.Frame{Data: data}
		default:
			continue
		}

		out := h.manager.Dispatch(s, f)
		switch out.Kind {
		case session.OutcomeClose:
			logger.Debug().Err(out.Err).Msg("Dispatch requested close")
			return "transport_closed"
		case session.OutcomeError:
			logger.Debug().Err(out.Err).Msg("Frame rejected")
		}
	}
}

// keepalive pings until the session ends. WriteControl is safe to call
// concurrently with the session's JSON writes.
func (h *Handler) keepalive(conn *websocket.Conn, s *session.Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
