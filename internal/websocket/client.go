package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/influence-rpg/internal/game"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound = errors.New("客户端未找到")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
	ErrClientClosed   = errors.New("客户端已关闭")
)

// WebSocket默认参数
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// 最大消息大小
	maxMessageSize = 512 * 1024 // 512KB
)

// Client WebSocket客户端，一个连接对应一个游戏内的角色
type Client struct {
	id          string
	UserID      uint
	GameID      uint
	CharacterID uint

	hub  *Hub
	conn *websocket.Conn
	ctx  context.Context

	mu     sync.Mutex
	send   chan []byte
	closed bool

	participant *game.Participant
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, gameID, characterID uint) *Client {
	return &Client{
		id:          uuid.New().String(),
		GameID:      gameID,
		CharacterID: characterID,
		hub:         hub,
		conn:        conn,
		ctx:         context.Background(),
		send:        make(chan []byte, hub.cfg.SendBufferSize),
	}
}

// ID 连接ID
func (c *Client) ID() string {
	return c.id
}

// Attach 加入所在游戏的广播房间
func (c *Client) Attach() {
	c.hub.Register(c)
}

// Send 发送一条聊天帧给该连接
func (c *Client) Send(frame game.Frame) error {
	data, err := encode(MessageTypeChat, frame.GameID, frame)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// Participant 加入游戏后的参与者
func (c *Client) Participant() *game.Participant {
	return c.participant
}

// SetParticipant 记录参与者
func (c *Client) SetParticipant(p *game.Participant) {
	c.participant = p
}

func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) pongTimeout() time.Duration {
	if c.hub.cfg.PongTimeout > 0 {
		return c.hub.cfg.PongTimeout
	}
	return pongWait
}

func (c *Client) writeTimeout() time.Duration {
	if c.hub.cfg.WriteTimeout > 0 {
		return c.hub.cfg.WriteTimeout
	}
	return writeWait
}

// ReadPump 读取消息，阻塞直到连接断开
// 消息按顺序交给处理器，处理完一条再读下一条
func (c *Client) ReadPump() {
	defer func() {
		if c.hub.messageHandler != nil {
			c.hub.messageHandler.HandleDisconnect(c)
		}
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	limit := c.hub.cfg.MaxMessageSize
	if limit <= 0 {
		limit = maxMessageSize
	}
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout()))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.id),
					zap.Error(err))
			}
			break
		}

		if c.hub.messageHandler != nil {
			c.hub.messageHandler.HandleClientMessage(c, message)
		}
		// GM回合可能较长，处理完后重新计算读超时
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout()))
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	interval := c.hub.cfg.PingInterval
	if interval <= 0 {
		interval = (c.pongTimeout() * 9) / 10
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if !ok {
				// Hub关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条消息单独一帧，客户端按帧解析JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError 发送错误消息
func (c *Client) sendError(code int, message string) {
	data, err := encode(MessageTypeError, c.GameID, map[string]interface{}{
		"code":    code,
		"message": message,
	})
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		c.hub.logger.Debug("错误消息未送达", zap.String("client_id", c.id), zap.Error(err))
	}
}
