package game

import (
	"time"

	"github.com/wfunc/influence-rpg/internal/models"
)

// Frame 聊天帧，连接上收发的唯一格式
type Frame struct {
	GameID    uint   `json:"game_id"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewFrame 创建当前时间的聊天帧
func NewFrame(gameID uint, sender, message string) Frame {
	return Frame{GameID: gameID, Sender: sender, Message: message, Timestamp: stamp(time.Now())}
}

// FrameOf 持久化消息对应的聊天帧
func FrameOf(msg *models.ChatMessage) Frame {
	return Frame{GameID: msg.GameID, Sender: msg.Sender, Message: msg.Message, Timestamp: stamp(msg.CreatedAt)}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Conn 参与者连接的发送端
type Conn interface {
	ID() string
	Send(frame Frame) error
}

// Attacher 连接在历史回放之后加入广播房间
// Join在会话锁内调用Attach，回放与房间广播之间的消息只送达一次
type Attacher interface {
	Attach()
}

// Broadcaster 按游戏广播
type Broadcaster interface {
	// Broadcast 发送给游戏的所有连接，except非空时跳过该连接
	Broadcast(gameID uint, frame Frame, except string)
}

// Command /gm 子命令
type Command string

const (
	CommandSummarize       Command = "summarize"
	CommandHistory         Command = "history"
	CommandExtractEntities Command = "extract_entities"
	CommandNarrate         Command = ""
)
