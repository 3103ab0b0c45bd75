package interfaces

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/bootstrap"
	"promohub/internal/pkg/logger"
	"promohub/internal/service/notification/application"
	"promohub/internal/service/notification/domain"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Gateway 是 /ws 的处理器：认证后升级为 WebSocket，并把连接作为会话交给 DeliveryService
type Gateway struct {
	delivery *application.DeliveryService
	verifier *auth.Verifier
	cfg      bootstrap.PushConfig
	upgrader websocket.Upgrader
	tracer   trace.Tracer
}

func NewGateway(delivery *application.DeliveryService, verifier *auth.Verifier, cfg bootstrap.PushConfig) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Gateway{
		delivery: delivery,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 浏览器客户端来自任意域，认证由令牌保证
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tracer: otel.Tracer("promohub/notification/ws"),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	// 1. 认证：优先 Authorization 头，浏览器无法设置头时使用 ?token=
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	id, err := g.verifier.Authenticate(token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrInactiveUser) {
			status = http.StatusForbidden
		}
		auth.WriteError(w, status, auth.ErrorCode(err), errors.Cause(err).Error())
		return
	}

	// 2. 升级连接，失败时 Upgrader 已经写好响应
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// 3. 会话在请求结束后继续存在
	sessCtx := context.WithoutCancel(ctx)
	s := newWSSession(conn, g.cfg.SendBuffer, g.cfg.WriteTimeout)
	go s.writePump()

	connCtx, span := g.tracer.Start(sessCtx, "ws.Connect", trace.WithAttributes(
		attribute.String("player.id", id.UserID),
		attribute.String("session.id", s.ID()),
	))
	err = g.delivery.OnConnect(connCtx, id.UserID, s)
	span.End()
	if err != nil {
		logger.Ctx(sessCtx).Error().Err(err).Str("player_id", id.UserID).Msg("failed to open notification session")
		_ = g.delivery.OnDisconnect(sessCtx, id.UserID, s)
		_ = s.Close()
		return
	}
	logger.Ctx(sessCtx).Info().Str("player_id", id.UserID).Str("session_id", s.ID()).Msg("websocket connected")

	// 4. 读循环阻塞到连接断开
	s.readPump()
	if err := g.delivery.OnDisconnect(sessCtx, id.UserID, s); err != nil {
		logger.Ctx(sessCtx).Warn().Err(err).Str("player_id", id.UserID).Msg("failed to unregister session")
	}
	logger.Ctx(sessCtx).Info().Str("player_id", id.UserID).Str("session_id", s.ID()).Msg("websocket disconnected")
}

// wsSession 满足 domain.Session。Send 只写入缓冲区，由 writePump 串行写出。
type wsSession struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSSession(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsSession {
	return &wsSession{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Send(payload []byte) error {
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump 只处理控制帧，客户端发来的数据帧被丢弃
func (s *wsSession) readPump() {
	defer func() { _ = s.Close() }()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Debug().Err(err).Str("session_id", s.id).Msg("websocket read error")
			}
			return
		}
	}
}
