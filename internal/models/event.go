package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventType 宇宙事件类型
type EventType string

const (
	EventConflict      EventType = "conflict"
	EventMerger        EventType = "merger"
	EventBranch        EventType = "branch"
	EventBranchedFrom  EventType = "branched_from"
	EventNews          EventType = "news"
	EventGMSummary     EventType = "gm_summary"
	EventNamedEntities EventType = "named_entities"
	EventGameCreated   EventType = "game_created"
	EventGameClosed    EventType = "game_closed"
)

// UniverseEvent 宇宙事件日志，只追加不修改，按ID排序
type UniverseEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UniverseID uint           `gorm:"not null;index" json:"universe_id"`
	GameID     uint           `gorm:"index" json:"game_id"`
	EventType  EventType      `gorm:"size:50;not null;index" json:"event_type"`
	Payload    datatypes.JSON `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Conflict 检测到的叙事冲突
type Conflict struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UniverseID  uint           `gorm:"not null;index" json:"universe_id"`
	GameIDs     datatypes.JSON `json:"game_ids"`
	Description string         `gorm:"type:text" json:"description"`
	MergedInto  *uint          `json:"merged_into,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Merger 合并记录
type Merger struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UniverseID  uint           `gorm:"not null;index" json:"universe_id"`
	FromGameIDs datatypes.JSON `json:"from_game_ids"`
	IntoGameID  uint           `gorm:"not null;index" json:"into_game_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Branch 分支记录
type Branch struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OriginalGameID uint           `gorm:"not null;index" json:"original_game_id"`
	NewGameIDs     datatypes.JSON `json:"new_game_ids"`
	Groups         datatypes.JSON `json:"groups"`
	CreatedAt      time.Time      `json:"created_at"`
}
