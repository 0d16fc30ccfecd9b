package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"medicall/middleware"
	"medicall/models"
	"medicall/services/call"
	"medicall/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // SDP offers with many candidates run to a few KB
)

// SocketHandler upgrades authenticated requests and pumps events between
// the websocket and the call controller.
type SocketHandler struct {
	ctrl     *call.Controller
	upgrader websocket.Upgrader
}

// NewSocketHandler accepts browser handshakes only from allowedOrigins.
// "*" allows any origin; a request without an Origin header is not a
// browser and is always allowed.
func NewSocketHandler(ctrl *call.Controller, allowedOrigins []string) *SocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &SocketHandler{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Serve handles GET /ws. SocketAuthMiddleware must run first.
func (h *SocketHandler) Serve(c *gin.Context) {
	logger := getLogger(c)

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		utils.JSONError(c, http.StatusUnauthorized, "Insufficient authorization", "no identity on request")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logger.Warn("WebSocket upgrade failed", zap.String("userID", identity.UserID), zap.Error(err))
		return
	}

	s := h.ctrl.Open(identity)
	logger.Info("Socket connected",
		zap.String("sessionID", s.ID()),
		zap.String("userID", identity.UserID),
		zap.String("role", identity.Role))

	done := make(chan struct{})
	go h.writePump(conn, s, logger, done)

	h.readPump(c.Request.Context(), conn, s, logger)

	h.ctrl.Disconnect(s)
	<-done
	logger.Info("Socket disconnected", zap.String("sessionID", s.ID()))
}

// readPump feeds inbound events to the controller one at a time until the
// connection fails.
func (h *SocketHandler) readPump(ctx context.Context, conn *websocket.Conn, s *call.Session, logger *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Info("Socket read failed", zap.String("sessionID", s.ID()), zap.Error(err))
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			logger.Debug("Ignoring malformed socket message", zap.String("sessionID", s.ID()))
			continue
		}
		h.ctrl.HandleEvent(ctx, s, ev)
	}
}

// writePump is the only writer on conn. It closes conn when the session's
// outbound queue is closed, which also ends readPump.
func (h *SocketHandler) writePump(conn *websocket.Conn, s *call.Session, logger *zap.Logger, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case ev, ok := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, text := websocket.CloseNormalClosure, ""
				if s.Stalled() && s.State() != call.StateTerminated {
					code, text = websocket.ClosePolicyViolation, "too slow"
					logger.Warn("Dropping slow socket", zap.String("sessionID", s.ID()))
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Socket write failed", zap.String("sessionID", s.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
