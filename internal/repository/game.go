package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GameRepository 游戏仓储接口
type GameRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) GameRepository
	Create(ctx context.Context, game *models.Game) error
	FindByID(ctx context.Context, id uint) (*models.Game, error)
	FindByIDs(ctx context.Context, ids []uint) ([]*models.Game, error)
	List(ctx context.Context, pagination *Pagination, status models.GameStatus) ([]*models.Game, error)
	StatusOf(ctx context.Context, ids []uint) (map[uint]models.GameStatus, error)
	CompareAndSetStatus(ctx context.Context, id uint, from []models.GameStatus, to models.GameStatus) (bool, error)
	AddPlayer(ctx context.Context, gameID, characterID uint) error
	Players(ctx context.Context, gameID uint) ([]*models.GamePlayer, error)
	PlayerCharacterIDs(ctx context.Context, gameID uint) ([]uint, error)
	IsPlayer(ctx context.Context, gameID, characterID uint) (bool, error)
	OpenGamesOfCharacter(ctx context.Context, characterID uint) ([]*models.Game, error)
}

// gameRepo 游戏仓储实现
type gameRepo struct {
	*BaseRepo
}

// NewGameRepository 创建游戏仓储
func NewGameRepository(db *gorm.DB) GameRepository {
	return &gameRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// WithTx 使用事务
func (r *gameRepo) WithTx(tx *gorm.DB) GameRepository {
	return &gameRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 创建游戏，未指定状态时为waiting
func (r *gameRepo) Create(ctx context.Context, game *models.Game) error {
	if game.Status == "" {
		game.Status = models.GameStatusWaiting
	}
	return r.db.WithContext(ctx).Create(game).Error
}

// FindByID 根据ID查找游戏
func (r *gameRepo) FindByID(ctx context.Context, id uint) (*models.Game, error) {
	var game models.Game
	if err := r.db.WithContext(ctx).First(&game, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("游戏 %d 不存在", id))
	}
	return &game, nil
}

// FindByIDs 批量查找游戏，按ID升序，缺失的ID直接忽略
func (r *gameRepo) FindByIDs(ctx context.Context, ids []uint) ([]*models.Game, error) {
	var games []*models.Game
	if len(ids) == 0 {
		return games, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&games).Error
	return games, err
}

// List 分页列出游戏，status为空时不过滤
func (r *gameRepo) List(ctx context.Context, pagination *Pagination, status models.GameStatus) ([]*models.Game, error) {
	var games []*models.Game
	query := r.db.WithContext(ctx).Model(&models.Game{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&pagination.Total).Error; err != nil {
		return nil, err
	}
	err := query.Scopes(Paginate(pagination)).Order("id DESC").Find(&games).Error
	return games, err
}

// StatusOf 批量获取游戏状态
func (r *gameRepo) StatusOf(ctx context.Context, ids []uint) (map[uint]models.GameStatus, error) {
	result := make(map[uint]models.GameStatus, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []struct {
		ID     uint
		Status models.GameStatus
	}
	if err := r.db.WithContext(ctx).Model(&models.Game{}).Select("id, status").Where("id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.Status
	}
	return result, nil
}

// CompareAndSetStatus 仅当当前状态属于from时改为to，返回是否命中
func (r *gameRepo) CompareAndSetStatus(ctx context.Context, id uint, from []models.GameStatus, to models.GameStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Game{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddPlayer 加入玩家，重复加入静默忽略
func (r *gameRepo) AddPlayer(ctx context.Context, gameID, characterID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.GamePlayer{GameID: gameID, CharacterID: characterID}).Error
}

// Players 获取游戏玩家及其角色、用户
func (r *gameRepo) Players(ctx context.Context, gameID uint) ([]*models.GamePlayer, error) {
	var players []*models.GamePlayer
	err := r.db.WithContext(ctx).
		Preload("Character").
		Preload("Character.User").
		Where("game_id = ?", gameID).
		Order("id ASC").
		Find(&players).Error
	return players, err
}

// PlayerCharacterIDs 获取游戏的角色ID列表，按加入顺序
func (r *gameRepo) PlayerCharacterIDs(ctx context.Context, gameID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GamePlayer{}).
		Where("game_id = ?", gameID).
		Order("id ASC").
		Pluck("character_id", &ids).Error
	return ids, err
}

// IsPlayer 角色是否为游戏玩家
func (r *gameRepo) IsPlayer(ctx context.Context, gameID, characterID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GamePlayer{}).
		Where("game_id = ? AND character_id = ?", gameID, characterID).
		Count(&count).Error
	return count > 0, err
}

// OpenGamesOfCharacter 角色参与中的非终态游戏
func (r *gameRepo) OpenGamesOfCharacter(ctx context.Context, characterID uint) ([]*models.Game, error) {
	var games []*models.Game
	err := r.db.WithContext(ctx).
		Joins("JOIN game_players ON game_players.game_id = games.id").
		Where("game_players.character_id = ? AND games.status IN ?", characterID, models.OpenStatuses).
		Order("games.id ASC").
		Find(&games).Error
	return games, err
}
