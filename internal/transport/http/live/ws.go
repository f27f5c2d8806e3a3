package live

import (
	"net/http"
	"strconv"
	"time"

	"arena/internal/events"
	"arena/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS 推送事件流；account_id 为空时推送全部账户。
func (s *Server) handleWS(c *gin.Context) {
	var filter int64
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id 非法"})
			return
		}
		filter = id
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WS 升级失败: %v", err)
		return
	}
	defer conn.Close()

	evC, cancel := s.events.Subscribe()
	defer cancel()
	logger.Debugf("WS 客户端接入 %s account=%d", conn.RemoteAddr(), filter)

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-evC:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(wsWriteWait))
				return
			}
			if filter != 0 && ev.AccountID != filter {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				logger.Debugf("WS 写入失败，断开: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

// readPump 只处理 pong 与关闭帧，客户端消息被丢弃。
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
