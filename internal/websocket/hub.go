package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/game"
	"github.com/wfunc/influence-rpg/internal/logger"
	"github.com/wfunc/influence-rpg/internal/models"
	"go.uber.org/zap"
)

// MessageHandler 处理客户端发来的原始消息
type MessageHandler interface {
	HandleClientMessage(client *Client, data []byte)
	HandleDisconnect(client *Client)
}

// Hub WebSocket连接管理中心，按游戏分房间
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 用户ID到客户端的映射
	userClients map[uint][]*Client
	userMu      sync.RWMutex

	// 游戏ID到房间内客户端的映射
	rooms   map[uint]map[string]*Client
	roomsMu sync.RWMutex

	messageHandler MessageHandler
	cfg            config.WebSocketConfig
	logger         *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	GameID    uint            `json:"game_id,omitempty"`
	Text      string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 游戏消息
	MessageTypeChat         = "chat"
	MessageTypeNotification = "notification"
)

// NewHub 创建Hub
func NewHub(cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[uint][]*Client),
		rooms:       make(map[uint]map[string]*Client),
		cfg:         cfg,
		logger:      logger,
	}
}

// SetMessageHandler 设置消息处理器
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// Run 周期记录在线状态，上下文结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.logger.Debug("WebSocket在线状态",
				zap.Int("clients", h.GetOnlineCount()),
				zap.Int("rooms", h.RoomCount()))
		}
	}
}

// Register 注册客户端并加入所在游戏的房间
// 同步完成，注册返回后该连接即可收到房间广播
func (h *Hub) Register(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.id] = client
	h.clientsMu.Unlock()

	if client.GameID > 0 {
		h.roomsMu.Lock()
		room, ok := h.rooms[client.GameID]
		if !ok {
			room = make(map[string]*Client)
			h.rooms[client.GameID] = room
		}
		room[client.id] = client
		h.roomsMu.Unlock()
	}

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.id),
		zap.Uint("game_id", client.GameID))
}

// BindUser 把客户端关联到用户，用于通知推送
func (h *Hub) BindUser(client *Client, userID uint) {
	if userID == 0 {
		return
	}
	client.UserID = userID
	h.userMu.Lock()
	h.userClients[userID] = append(h.userClients[userID], client)
	h.userMu.Unlock()
}

// Unregister 注销客户端，关闭发送通道，可重复调用，未注册的客户端同样关闭发送通道
func (h *Hub) Unregister(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
	}
	h.clientsMu.Unlock()
	if !ok {
		// 加入房间前失败的连接也要结束写循环
		client.closeSend()
		return
	}

	if client.GameID > 0 {
		h.roomsMu.Lock()
		if room, ok := h.rooms[client.GameID]; ok {
			delete(room, client.id)
			if len(room) == 0 {
				delete(h.rooms, client.GameID)
			}
		}
		h.roomsMu.Unlock()
	}

	if client.UserID > 0 {
		h.userMu.Lock()
		clients := h.userClients[client.UserID]
		for i, c := range clients {
			if c.id == client.id {
				h.userClients[client.UserID] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(h.userClients[client.UserID]) == 0 {
			delete(h.userClients, client.UserID)
		}
		h.userMu.Unlock()
	}

	client.closeSend()
	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.id),
		zap.Uint("game_id", client.GameID),
		zap.Uint("user_id", client.UserID))
}

// Broadcast 向游戏房间广播聊天帧，except为跳过的连接ID
// 每个连接的发送通道先进先出，调用方持有会话锁时广播顺序与持久化顺序一致
func (h *Hub) Broadcast(gameID uint, frame game.Frame, except string) {
	data, err := encode(MessageTypeChat, gameID, frame)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for id, client := range h.rooms[gameID] {
		if id == except {
			continue
		}
		if err := client.enqueue(data); err != nil {
			h.logger.Warn("房间客户端发送缓冲区满",
				zap.String("client_id", id),
				zap.Uint("game_id", gameID))
		}
	}
	logger.LogWebSocketMessage("send", MessageTypeChat, gameID)
}

// PushNotification 把通知推送给用户的所有在线连接
func (h *Hub) PushNotification(userID uint, notification *models.Notification) {
	data, err := encode(MessageTypeNotification, 0, notification)
	if err != nil {
		h.logger.Error("序列化通知失败", zap.Error(err))
		return
	}

	h.userMu.RLock()
	clients := append([]*Client(nil), h.userClients[userID]...)
	h.userMu.RUnlock()

	for _, client := range clients {
		if err := client.enqueue(data); err != nil {
			h.logger.Warn("用户客户端发送缓冲区满",
				zap.String("client_id", client.id),
				zap.Uint("user_id", userID))
		}
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	client, ok := h.clients[clientID]
	h.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}
	return client.enqueue(data)
}

// GetOnlineUsers 获取在线用户列表
func (h *Hub) GetOnlineUsers() []uint {
	h.userMu.RLock()
	defer h.userMu.RUnlock()

	users := make([]uint, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// RoomSize 游戏房间内的连接数
func (h *Hub) RoomSize(gameID uint) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[gameID])
}

// RoomCount 有连接的游戏数
func (h *Hub) RoomCount() int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) closeAll() {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

func encode(msgType string, gameID uint, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{
		Type:      msgType,
		GameID:    gameID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}
