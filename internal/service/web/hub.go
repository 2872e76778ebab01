package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proxychecker/internal/shared/logger"
	"proxychecker/proxypool/model"
)

// LogEntry 是推送给前端的一条日志
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Progress 是批次进度快照
type Progress struct {
	Tested int `json:"tested"`
	Total  int `json:"total"`
	Valid  int `json:"valid"`
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts checker events
// (results, log lines, progress) to them. It satisfies the manager's
// ResultSink, LogSink and ProgressSink interfaces.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex

	progressMu sync.RWMutex
	progress   Progress
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销和广播, 直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// 读循环会负责注销
				}
			}
			h.mu.Unlock()
		}
	}
}

// OnResult 推送一个可用代理。缓冲区满时等待而不是丢弃, Hub 停止后直接返回。
func (h *Hub) OnResult(o model.ProbeOutcome) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: "result", Data: o})
	if err != nil {
		logger.Error().Err(err).Msg("Hub: Failed to marshal probe outcome")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	case <-h.done:
	}
}

// Log 推送一条日志。缓冲区满时直接丢弃, 避免拖慢探测。
func (h *Hub) Log(level model.LogLevel, msg string) {
	h.send("log", &LogEntry{Timestamp: time.Now(), Level: level.String(), Message: msg})
}

// OnProgress 记录并推送进度。
func (h *Hub) OnProgress(tested, total, valid int) {
	p := Progress{Tested: tested, Total: total, Valid: valid}
	h.progressMu.Lock()
	h.progress = p
	h.progressMu.Unlock()
	h.send("progress", p)
}

// LastProgress 返回最近一次进度。
func (h *Hub) LastProgress() Progress {
	h.progressMu.RLock()
	defer h.progressMu.RUnlock()
	return h.progress
}

// BroadcastStatusUpdate 通知前端批次状态发生变化
func (h *Hub) BroadcastStatusUpdate(running bool) {
	logger.Debug().Bool("running", running).Msg("Hub: Broadcasting status update to all clients.")
	h.send("status_update", map[string]bool{"running": running})
}

func (h *Hub) send(msgType string, data interface{}) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Hub: Failed to marshal message")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel here to avoid log spam
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
