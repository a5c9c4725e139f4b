package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/game"
	"github.com/wfunc/influence-rpg/internal/logger"
	"go.uber.org/zap"
)

// Orchestrator 游戏聊天编排
type Orchestrator interface {
	Join(ctx context.Context, gameID, characterID uint, conn game.Conn) (*game.Participant, error)
	Handle(ctx context.Context, p *game.Participant, text string) error
	Leave(p *game.Participant)
}

// ChatHandler 游戏聊天连接处理器
type ChatHandler struct {
	hub          *Hub
	orchestrator Orchestrator
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewChatHandler 创建聊天处理器并注册到Hub
func NewChatHandler(hub *Hub, orchestrator Orchestrator, logger *zap.Logger) *ChatHandler {
	h := &ChatHandler{
		hub:          hub,
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    hub.cfg.ReadBufferSize,
			WriteBufferSize:   hub.cfg.WriteBufferSize,
			EnableCompression: hub.cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
	hub.SetMessageHandler(h)
	return h
}

// ServeGame 升级连接并加入游戏，阻塞到连接断开
func (h *ChatHandler) ServeGame(w http.ResponseWriter, r *http.Request, gameID, characterID uint) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.Uint("game_id", gameID),
			zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, gameID, characterID)
	client.ctx = r.Context()
	// 回放直接写入发送通道，Join在回放后才把连接加入房间
	go client.WritePump()

	p, err := h.orchestrator.Join(client.ctx, gameID, characterID, client)
	if err != nil {
		h.logger.Warn("加入游戏失败",
			zap.Uint("game_id", gameID),
			zap.Uint("character_id", characterID),
			zap.Error(err))
		h.replyError(client, err)
		h.hub.Unregister(client)
		return
	}
	client.SetParticipant(p)
	h.hub.BindUser(client, p.Character().UserID)

	client.ReadPump()
}

// HandleClientMessage 处理客户端消息
// 支持JSON信封 {"type":"chat","message":"..."}，非JSON内容按纯文本聊天处理
func (h *ChatHandler) HandleClientMessage(client *Client, data []byte) {
	text, ok := h.decode(client, data)
	if !ok {
		return
	}
	p := client.Participant()
	if p == nil {
		client.sendError(int(apperrors.ErrWebSocketClosed), "not joined")
		return
	}

	logger.LogWebSocketMessage("receive", MessageTypeChat, client.GameID)
	if err := h.orchestrator.Handle(client.ctx, p, text); err != nil {
		h.logger.Warn("处理聊天消息失败",
			zap.String("client_id", client.id),
			zap.Uint("game_id", client.GameID),
			zap.Error(err))
		h.replyError(client, err)
	}
}

// HandleDisconnect 连接断开时离开游戏
func (h *ChatHandler) HandleDisconnect(client *Client) {
	if p := client.Participant(); p != nil {
		h.orchestrator.Leave(p)
	}
}

func (h *ChatHandler) decode(client *Client, data []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return trimmed, true
	}
	switch msg.Type {
	case MessageTypePing:
		if reply, err := encode(MessageTypePong, client.GameID, struct{}{}); err == nil {
			_ = client.enqueue(reply)
		}
		return "", false
	case MessageTypePong:
		return "", false
	case MessageTypeChat, "":
		return msg.Text, true
	default:
		client.sendError(int(apperrors.ErrMessageFormat), "unsupported message type: "+msg.Type)
		return "", false
	}
}

func (h *ChatHandler) replyError(client *Client, err error) {
	if appErr, ok := apperrors.As(err); ok {
		client.sendError(int(appErr.Code), appErr.Message)
		return
	}
	client.sendError(int(apperrors.ErrUnknown), err.Error())
}
