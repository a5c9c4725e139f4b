package service

import (
	"context"

	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/models"
)

// UniverseService 宇宙服务接口
type UniverseService interface {
	// 宇宙管理
	Create(ctx context.Context, req *CreateUniverseRequest) (*models.Universe, error)
	Get(ctx context.Context, universeID uint) (*models.Universe, error)
	List(ctx context.Context, page, pageSize int) ([]*models.Universe, error)
	LinkGame(ctx context.Context, universeID, gameID uint) error
	Games(ctx context.Context, universeID uint) ([]*models.Game, error)

	// 宇宙级记录
	Events(ctx context.Context, universeID uint, limit int) ([]*models.UniverseEvent, error)
	Conflicts(ctx context.Context, universeID uint) ([]*models.Conflict, error)
	News(ctx context.Context, universeID uint, limit int) ([]*models.News, error)

	// 引擎操作
	PublishNews(ctx context.Context, universeID uint) (*models.News, error)
	Detect(ctx context.Context, universeID uint) ([]engine.DetectedConflict, error)
	Merge(ctx context.Context, universeID uint, gameIDs []uint) (*engine.MergeResult, error)
}

// GameService 游戏服务接口
type GameService interface {
	Create(ctx context.Context, req *CreateGameRequest) (*models.Game, error)
	Get(ctx context.Context, gameID uint) (*GameDetail, error)
	List(ctx context.Context, page, pageSize int, status models.GameStatus) ([]*models.Game, error)
	Join(ctx context.Context, gameID, characterID uint) (*models.Game, error)
	Messages(ctx context.Context, gameID uint) ([]*models.ChatMessage, error)
	Branch(ctx context.Context, gameID uint, groups []engine.BranchGroup) (*engine.BranchResult, error)
	Close(ctx context.Context, gameID uint) error
	GenerateSetup(ctx context.Context, req *GenerateSetupRequest) (string, error)
}

// UserService 用户服务接口
type UserService interface {
	CreateCharacter(ctx context.Context, req *CreateCharacterRequest) (*models.Character, error)
	Characters(ctx context.Context, username string) ([]*models.Character, error)
	Notifications(ctx context.Context, userID uint, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) error
}

// CreateUniverseRequest 创建宇宙请求
type CreateUniverseRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description"`
	RulesetID   *uint  `json:"ruleset_id"`
	CreatorID   uint   `json:"creator_id"`
}

// CreateGameRequest 创建游戏请求
// InitialDetails 非空时生成开场场景并作为GM消息保存
type CreateGameRequest struct {
	Name           string `json:"name" binding:"required,max=200"`
	UniverseIDs    []uint `json:"universe_ids"`
	CharacterID    uint   `json:"character_id"`
	InitialDetails string `json:"initial_details"`
}

// GenerateSetupRequest 生成游戏设定请求
type GenerateSetupRequest struct {
	UniverseID      uint   `json:"universe_id" binding:"required"`
	GameDescription string `json:"game_description" binding:"required"`
}

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	Username string         `json:"username" binding:"required,max=50"`
	Name     string         `json:"name" binding:"required,max=100"`
	Data     map[string]any `json:"character_data"`
}

// GameDetail 游戏详情
type GameDetail struct {
	*models.Game
	UniverseIDs []uint              `json:"universe_ids"`
	Players     []*models.Character `json:"players"`
}
