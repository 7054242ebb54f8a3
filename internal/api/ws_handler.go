package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"staffHub/internal/auth"
	"staffHub/internal/metrics"
	"staffHub/internal/tasks"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4 << 10
)

var errWsClosed = errors.New("websocket closed")

// WsHandler 把后台任务通知（头像缩略图、档案清理）推送给已登录用户。
type WsHandler struct {
	redisClient    *redis.Client
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。allowedOrigins 为空时只接受同源连接。
func NewWsHandler(redisClient *redis.Client, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) > 0 {
		return slices.Contains(h.allowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// wsFrame 是客户端与服务端之间的控制帧。
type wsFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	UserID uint   `json:"user_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HandleConnection 升级连接，等待首帧 auth，然后转发该用户频道上的通知。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	userID, err := h.authenticate(conn)
	if err != nil {
		log.Info("websocket authentication failed", slog.Any("error", err))
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(userID)))
	if err := writeFrame(conn, wsFrame{Type: "auth_ok", UserID: userID}); err != nil {
		return
	}

	metrics.WebsocketOpened()
	defer metrics.WebsocketClosed()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- drain(conn) }()
	go func() { errCh <- h.forward(ctx, conn, userID, log) }()

	err = <-errCh
	cancel()
	if err != nil && !errors.Is(err, errWsClosed) {
		log.Info("websocket connection closed", slog.Any("error", err))
		return
	}
	log.Debug("websocket connection closed")
}

// authenticate 读取首帧并校验 access token；超时或任何失败都会关闭连接。
func (h *WsHandler) authenticate(conn *websocket.Conn) (uint, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	reject := func(reason string, err error) (uint, error) {
		_ = writeFrame(conn, wsFrame{Type: "error", Error: reason})
		writeClose(conn, websocket.ClosePolicyViolation, reason)
		return 0, err
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read auth frame: %w", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return reject("invalid auth payload", fmt.Errorf("decode auth frame: %w", err))
	}
	if frame.Type != "auth" || frame.Token == "" {
		return reject("auth required", errors.New("first frame is not auth"))
	}

	claims, err := h.authService.ValidateToken(frame.Token)
	if err != nil {
		return reject("unauthorized", fmt.Errorf("validate token: %w", err))
	}
	if claims.TokenType != "access" {
		return reject("access token required", fmt.Errorf("invalid token type: %s", claims.TokenType))
	}
	if claims.MustChangePassword {
		return reject("password change required", errors.New("password change required"))
	}
	return claims.UserID, nil
}

// drain 读取并丢弃客户端后续消息，用于感知断开与处理 pong。
func drain(conn *websocket.Conn) error {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errWsClosed
			}
			return fmt.Errorf("read message: %w", err)
		}
	}
}

// forward 订阅 Redis 通知频道并写入连接，定期发送 ping。
func (h *WsHandler) forward(ctx context.Context, conn *websocket.Conn, userID uint, log *slog.Logger) error {
	channel := tasks.NotifyChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			log.Debug("forwarding notification", slog.String("channel", channel))
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
}
