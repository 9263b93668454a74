package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-stream/internal/eventbus"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// StreamMessage событие шины в потоке /ws/events
type StreamMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// eventClient одно подключение наблюдателя
type eventClient struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Uint64
}

// handleEvents транслирует события шины в WebSocket. Фильтр по типам
// передаётся параметром ?types=MeshReady,ChunkActivate
func (rs *RestServer) handleEvents(c *gin.Context) {
	if rs.bus == nil {
		rs.fail(c, http.StatusServiceUnavailable, "Шина событий не подключена")
		return
	}

	var filter eventbus.Filter
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, t)
			}
		}
	}

	conn, err := rs.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Warn("⚠️ Не удалось открыть WebSocket: %v", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := rs.bus.Subscribe(ctx, filter, func(_ context.Context, env *eventbus.Envelope) {
		data, err := json.Marshal(StreamMessage{
			ID:        env.ID,
			Type:      env.EventType,
			Source:    env.Source,
			Timestamp: env.Timestamp,
			Payload:   json.RawMessage(env.Payload),
		})
		if err != nil {
			return
		}
		select {
		case client.send <- data:
		default:
			// медленный наблюдатель теряет события, шина не ждёт
			client.dropped.Add(1)
		}
	})
	if err != nil {
		cancel()
		rs.log.Error("❌ Подписка наблюдателя не удалась: %v", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}

	rs.log.Info("👁️ Наблюдатель %s подключен (типы: %v)", c.Request.RemoteAddr, filter.Types)

	go rs.writePump(ctx, client)
	go func() {
		rs.readPump(client)
		sub.Unsubscribe()
		cancel()
		rs.log.Info("👋 Наблюдатель %s отключен, потеряно событий: %d",
			c.Request.RemoteAddr, client.dropped.Load())
	}()
}

// readPump читает только управляющие кадры, чтобы заметить закрытие
func (rs *RestServer) readPump(client *eventClient) {
	defer client.conn.Close()

	client.conn.SetReadLimit(1024)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rs.log.Debug("Ошибка чтения WebSocket: %v", err)
			}
			return
		}
	}
}

// writePump отправляет события и пинги до отмены контекста
func (rs *RestServer) writePump(ctx context.Context, client *eventClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
