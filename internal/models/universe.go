package models

import (
	"time"
)

// Universe 宇宙（共享世界），只做逻辑归档不物理删除
type Universe struct {
	BaseModel
	Name        string `gorm:"size:200;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	RulesetID   *uint  `gorm:"index" json:"ruleset_id,omitempty"`
	CreatorID   uint   `gorm:"index" json:"creator_id"`

	// 关联
	Ruleset *Ruleset `gorm:"foreignKey:RulesetID" json:"ruleset,omitempty"`
}

// Ruleset 规则集，同时作为设定检索的数据源
type Ruleset struct {
	BaseModel
	Name        string `gorm:"size:200;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Summary     string `gorm:"type:text" json:"summary"`
	LongSummary string `gorm:"type:text" json:"long_summary"`
}

// RulesetChunk 规则集切片
type RulesetChunk struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RulesetID uint      `gorm:"not null;index:idx_ruleset_chunk_order,priority:1" json:"ruleset_id"`
	Ordinal   int       `gorm:"not null;index:idx_ruleset_chunk_order,priority:2" json:"ordinal"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// UniverseGame 宇宙与游戏的关联，一个游戏可以属于多个宇宙
type UniverseGame struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UniverseID uint      `gorm:"not null;uniqueIndex:idx_universe_game" json:"universe_id"`
	GameID     uint      `gorm:"not null;uniqueIndex:idx_universe_game;index" json:"game_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// News 宇宙新闻
type News struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UniverseID  uint      `gorm:"not null;index" json:"universe_id"`
	Summary     string    `gorm:"type:text;not null" json:"summary"`
	PublishedAt time.Time `gorm:"not null;index" json:"published_at"`
}

// TableName 指定表名
func (News) TableName() string {
	return "news"
}

// NamedEntity 宇宙中的命名实体
type NamedEntity struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UniverseID      uint      `gorm:"not null;uniqueIndex:idx_universe_entity" json:"universe_id"`
	Name            string    `gorm:"size:200;not null;uniqueIndex:idx_universe_entity" json:"name"`
	EntityType      string    `gorm:"size:50" json:"entity_type"`
	Description     string    `gorm:"type:text" json:"description"`
	PlayerCharacter bool      `gorm:"default:false" json:"player_character"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
