package repository

import (
	"context"
	"fmt"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UniverseRepository 宇宙仓储接口
type UniverseRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) UniverseRepository
	Create(ctx context.Context, universe *models.Universe) error
	FindByID(ctx context.Context, id uint) (*models.Universe, error)
	List(ctx context.Context, pagination *Pagination) ([]*models.Universe, error)
	AllIDs(ctx context.Context) ([]uint, error)
	LinkGame(ctx context.Context, universeID, gameID uint) error
	UniverseIDsOfGame(ctx context.Context, gameID uint) ([]uint, error)
	UniversesOfGame(ctx context.Context, gameID uint) ([]*models.Universe, error)
	Games(ctx context.Context, universeID uint) ([]*models.Game, error)
}

// universeRepo 宇宙仓储实现
type universeRepo struct {
	*BaseRepo
}

// NewUniverseRepository 创建宇宙仓储
func NewUniverseRepository(db *gorm.DB) UniverseRepository {
	return &universeRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *universeRepo) WithTx(tx *gorm.DB) UniverseRepository {
	return &universeRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 创建宇宙
func (r *universeRepo) Create(ctx context.Context, universe *models.Universe) error {
	return r.db.WithContext(ctx).Create(universe).Error
}

// FindByID 根据ID查找宇宙，同时加载规则集
func (r *universeRepo) FindByID(ctx context.Context, id uint) (*models.Universe, error) {
	var universe models.Universe
	if err := r.db.WithContext(ctx).Preload("Ruleset").First(&universe, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("宇宙 %d 不存在", id))
	}
	return &universe, nil
}

// List 分页列出宇宙
func (r *universeRepo) List(ctx context.Context, pagination *Pagination) ([]*models.Universe, error) {
	var universes []*models.Universe
	query := r.db.WithContext(ctx).Model(&models.Universe{})
	if err := query.Count(&pagination.Total).Error; err != nil {
		return nil, err
	}
	err := query.Scopes(Paginate(pagination)).Order("id ASC").Find(&universes).Error
	return universes, err
}

// AllIDs 所有宇宙ID，供后台巡检使用
func (r *universeRepo) AllIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Universe{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// LinkGame 关联游戏到宇宙，重复关联静默忽略
func (r *universeRepo) LinkGame(ctx context.Context, universeID, gameID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UniverseGame{UniverseID: universeID, GameID: gameID}).Error
}

// UniverseIDsOfGame 游戏所属的宇宙ID
func (r *universeRepo) UniverseIDsOfGame(ctx context.Context, gameID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.UniverseGame{}).
		Where("game_id = ?", gameID).
		Order("universe_id ASC").
		Pluck("universe_id", &ids).Error
	return ids, err
}

// UniversesOfGame 游戏所属的宇宙，附带规则集
func (r *universeRepo) UniversesOfGame(ctx context.Context, gameID uint) ([]*models.Universe, error) {
	var universes []*models.Universe
	err := r.db.WithContext(ctx).
		Preload("Ruleset").
		Joins("JOIN universe_games ON universe_games.universe_id = universes.id").
		Where("universe_games.game_id = ?", gameID).
		Order("universes.id ASC").
		Find(&universes).Error
	return universes, err
}

// Games 宇宙下的所有游戏
func (r *universeRepo) Games(ctx context.Context, universeID uint) ([]*models.Game, error) {
	var games []*models.Game
	err := r.db.WithContext(ctx).
		Joins("JOIN universe_games ON universe_games.game_id = games.id").
		Where("universe_games.universe_id = ?", universeID).
		Order("games.id ASC").
		Find(&games).Error
	return games, err
}

// RulesetRepository 规则集仓储接口
type RulesetRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) RulesetRepository
	Create(ctx context.Context, ruleset *models.Ruleset, chunks []string) error
	FindByID(ctx context.Context, id uint) (*models.Ruleset, error)
	FindByName(ctx context.Context, name string) (*models.Ruleset, error)
	Chunks(ctx context.Context, rulesetID uint) ([]*models.RulesetChunk, error)
}

// rulesetRepo 规则集仓储实现
type rulesetRepo struct {
	*BaseRepo
}

// NewRulesetRepository 创建规则集仓储
func NewRulesetRepository(db *gorm.DB) RulesetRepository {
	return &rulesetRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *rulesetRepo) WithTx(tx *gorm.DB) RulesetRepository {
	return &rulesetRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 创建规则集及其切片
func (r *rulesetRepo) Create(ctx context.Context, ruleset *models.Ruleset, chunks []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ruleset).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]models.RulesetChunk, 0, len(chunks))
		for i, content := range chunks {
			rows = append(rows, models.RulesetChunk{RulesetID: ruleset.ID, Ordinal: i, Content: content})
		}
		return tx.Create(&rows).Error
	})
}

// FindByID 根据ID查找规则集
func (r *rulesetRepo) FindByID(ctx context.Context, id uint) (*models.Ruleset, error) {
	var ruleset models.Ruleset
	if err := r.db.WithContext(ctx).First(&ruleset, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("规则集 %d 不存在", id))
	}
	return &ruleset, nil
}

// FindByName 根据名称查找规则集
func (r *rulesetRepo) FindByName(ctx context.Context, name string) (*models.Ruleset, error) {
	var ruleset models.Ruleset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&ruleset).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("规则集 %s 不存在", name))
	}
	return &ruleset, nil
}

// Chunks 规则集的全部切片，按序号排列
func (r *rulesetRepo) Chunks(ctx context.Context, rulesetID uint) ([]*models.RulesetChunk, error) {
	var chunks []*models.RulesetChunk
	err := r.db.WithContext(ctx).Where("ruleset_id = ?", rulesetID).Order("ordinal ASC").Find(&chunks).Error
	return chunks, err
}
