package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/middleware/jwt"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
)

// SendFunc persists a text message and publishes it through the router.
type SendFunc func(ctx context.Context, userID, chatID, content string) error

// Handler upgrades authenticated requests to sockets and dispatches client
// events.
type Handler struct {
	router   *Router
	tokens   *jwt.TokenManager
	send     SendFunc
	cfg      config.WebsocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(router *Router, tokens *jwt.TokenManager, send SendFunc, cfg config.WebsocketConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		router: router,
		tokens: tokens,
		send:   send,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS handles GET /ws?token=<jwt>. Browsers cannot set headers on a
// websocket handshake, so the token may also travel as a query parameter.
func (h *Handler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearer(c.GetHeader("Authorization"))
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": "unauthorized"})
		return
	}
	claims, err := h.tokens.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthorized"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}

	conn := NewConnection(context.Background(), claims.UserID, claims.Name, ws, h.cfg.SendBufferSize)
	h.Accept(conn)

	go h.writePump(conn)
	go h.readPump(conn)
}

// Accept registers conn and greets it with connected.
func (h *Handler) Accept(conn *Connection) {
	h.router.Register(conn)
	h.router.Send(conn, EventConnected, SetupPayload{ID: conn.UserID, Name: conn.UserName})
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (h *Handler) readPump(conn *Connection) {
	defer h.router.Disconnect(conn)

	if h.cfg.MaxMessageSize > 0 {
		conn.Conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	conn.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		messageType, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket closed unexpectedly", zap.String("user_id", conn.UserID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.router.Send(conn, EventError, ErrorPayload{Code: "bad_frame", Message: "malformed frame"})
			continue
		}
		h.Dispatch(conn, frame)
	}
}

func (h *Handler) writePump(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", zap.String("user_id", conn.UserID), zap.Error(err))
				h.router.Disconnect(conn)
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.router.Disconnect(conn)
				return
			}
		}
	}
}

// Dispatch handles one client event. Failures are reported to the sender
// as an error event; the connection stays open.
func (h *Handler) Dispatch(conn *Connection, frame Frame) {
	ctx, cancel := context.WithTimeout(conn.Context(), 10*time.Second)
	defer cancel()

	var err error
	switch frame.Event {
	case EventSetup:
		h.router.Send(conn, EventConnected, SetupPayload{ID: conn.UserID, Name: conn.UserName})
	case EventJoinChat:
		err = h.joinChat(ctx, conn, frame.Data)
	case EventLeaveChat:
		var p RoomPayload
		if err = decode(frame.Data, &p); err == nil {
			h.router.LeaveRoom(conn, p.RoomID)
		}
	case EventTyping, EventStopTyping:
		var p RoomPayload
		if err = decode(frame.Data, &p); err == nil {
			if !h.router.InRoom(conn, p.RoomID) {
				err = errNotJoined
				break
			}
			h.router.PublishTyping(p.RoomID, conn.UserID, conn.UserName, frame.Event == EventTyping)
		}
	case EventNewMessage:
		var p NewMessagePayload
		if err = decode(frame.Data, &p); err == nil {
			err = h.send(ctx, conn.UserID, p.ChatID, p.Content)
		}
	case EventUserOnline:
		h.router.BroadcastStatus(conn.UserID, true)
	case EventUserOffline:
		h.router.BroadcastStatus(conn.UserID, false)
	default:
		err = errs.Validation("unknown event %q", frame.Event)
	}

	if err != nil {
		h.logger.Debug("socket event rejected",
			zap.String("user_id", conn.UserID),
			zap.String("event", frame.Event),
			zap.Error(err),
		)
		h.router.Send(conn, EventError, ErrorPayload{
			Event:   frame.Event,
			Code:    errs.CodeOf(err),
			Message: errs.MessageOf(err),
		})
	}
}

var (
	errNotJoined   = errs.New(errs.ErrForbidden, "not_joined", "join the chat first")
	errNotMember   = errs.New(errs.ErrForbidden, "not_member", "you are not a member of this chat")
	errMissingRoom = errs.Validation("roomId is required")
)

func (h *Handler) joinChat(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p RoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if h.router.members != nil {
		ids, err := h.router.members.MemberIDs(ctx, p.RoomID)
		if err != nil {
			return err
		}
		if !slices.Contains(ids, conn.UserID) {
			return errNotMember
		}
	}
	h.router.JoinRoom(conn, p.RoomID)
	return nil
}

func decode[T any](data json.RawMessage, out *T) error {
	if len(data) == 0 {
		return errs.Validation("event payload is required")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Validation("malformed event payload")
	}
	if p, ok := any(out).(*RoomPayload); ok && p.RoomID == "" {
		return errMissingRoom
	}
	return nil
}
