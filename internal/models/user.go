package models

import (
	"time"

	"gorm.io/datatypes"
)

// User 玩家账户，只保留名册信息
type User struct {
	BaseModel
	Username string `gorm:"uniqueIndex;size:100;not null" json:"username"`
}

// Character 玩家角色，Data保存完整角色卡
type Character struct {
	BaseModel
	UserID uint           `gorm:"not null;index" json:"user_id"`
	Name   string         `gorm:"size:200;not null" json:"name"`
	Data   datatypes.JSON `json:"data"`

	// 关联
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// DisplayName 聊天中展示的名字：角色名 (用户名)
func (c *Character) DisplayName() string {
	if c.User == nil || c.User.Username == "" {
		return c.Name
	}
	return c.Name + " (" + c.User.Username + ")"
}

// Notification 站内通知
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Read      bool      `gorm:"default:false;index" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
