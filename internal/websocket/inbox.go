// Package websocket 把邮箱的新邮件事件推送给浏览器中的查看者。
package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/fanout"
	"github.com/tylaig/msatempmail/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 非浏览器客户端不带 Origin
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Handler 处理 /ws/inbox/:address 连接，每个连接订阅一个邮箱。
//
// 连接只推送订阅之后到达的事件，断线期间的邮件由查看者重新拉取列表获得。
type Handler struct {
	hub      *fanout.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler 创建查看者连接处理器，allowedOrigins 为空时允许所有来源
func NewHandler(hub *fanout.Hub, allowedOrigins []string, log *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		upgrader: upgraderFactory(allowedOrigins),
		log:      log,
		metrics:  metrics,
	}
}

// viewer 是一个已升级的查看者连接
type viewer struct {
	id   string
	conn *websocket.Conn
	sub  *fanout.Subscription
	log  *zap.Logger
}

// ServeInbox 升级连接并开始推送事件
func (h *Handler) ServeInbox(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	if _, _, ok := domain.SplitAddress(address); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "邮箱地址格式不正确"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.String("remote_addr", c.ClientIP()))
		return
	}

	v := &viewer{
		id:   uuid.NewString(),
		conn: conn,
		sub:  h.hub.Subscribe(address),
		log:  h.log.With(zap.String("address", address)),
	}
	h.metrics.ViewerConnected()
	v.log.Debug("viewer connected", zap.String("viewer_id", v.id))

	go v.writePump()
	go func() {
		v.readPump()
		h.metrics.ViewerDisconnected()
		v.log.Debug("viewer disconnected", zap.String("viewer_id", v.id))
	}()
}

// readPump 只处理控制帧，连接断开时取消订阅
func (v *viewer) readPump() {
	defer func() {
		v.sub.Close()
		v.conn.Close()
	}()

	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.log.Warn("websocket error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 把订阅收到的事件原样写给查看者
func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-v.sub.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
