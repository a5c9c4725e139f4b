package models

import (
	"time"

	"gorm.io/datatypes"
)

// GameStatus 游戏状态
type GameStatus string

const (
	GameStatusWaiting  GameStatus = "waiting"
	GameStatusActive   GameStatus = "active"
	GameStatusMerged   GameStatus = "merged"
	GameStatusBranched GameStatus = "branched"
	GameStatusClosed   GameStatus = "closed"
)

// IsTerminal 是否为终态，终态游戏不再推进回合
func (s GameStatus) IsTerminal() bool {
	switch s {
	case GameStatusMerged, GameStatusBranched, GameStatusClosed:
		return true
	}
	return false
}

// OpenStatuses 可被引擎改写的非终态
var OpenStatuses = []GameStatus{GameStatusWaiting, GameStatusActive}

// TerminalStatuses 全部终态
var TerminalStatuses = []GameStatus{GameStatusMerged, GameStatusBranched, GameStatusClosed}

// Game 游戏实例
type Game struct {
	BaseModel
	Name      string     `gorm:"size:255;not null" json:"name"`
	Status    GameStatus `gorm:"size:20;not null;default:'waiting';index" json:"status"`
	SetupText string     `gorm:"type:text" json:"setup_text"`

	// 关联
	Players []GamePlayer `gorm:"foreignKey:GameID" json:"players,omitempty"`
}

// IsTerminal 游戏是否已结束
func (g *Game) IsTerminal() bool {
	return g.Status.IsTerminal()
}

// GamePlayer 游戏参与角色
type GamePlayer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GameID      uint      `gorm:"not null;uniqueIndex:idx_game_player" json:"game_id"`
	CharacterID uint      `gorm:"not null;uniqueIndex:idx_game_player;index" json:"character_id"`
	CreatedAt   time.Time `json:"created_at"`

	// 关联
	Character *Character `gorm:"foreignKey:CharacterID" json:"character,omitempty"`
}

// ChatMessage 聊天消息，按ID排序
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GameID    uint      `gorm:"not null;index" json:"game_id"`
	Sender    string    `gorm:"size:255;not null" json:"sender"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// 系统保留的发送者
const (
	SenderGM       = "GM"
	SenderSystem   = "System"
	SenderHistory  = "History"
	SenderEntities = "Entities"
)

// GameSummary 游戏历史摘要
type GameSummary struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	GameID      uint           `gorm:"not null;index" json:"game_id"`
	Summary     string         `gorm:"type:text;not null" json:"summary"`
	Embedding   datatypes.JSON `json:"embedding,omitempty"`
	SummaryDate time.Time      `gorm:"not null;index" json:"summary_date"`
}
