package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
)

// EventRepository 宇宙事件仓储接口，只追加
type EventRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) EventRepository
	Append(ctx context.Context, event *models.UniverseEvent) error
	Recent(ctx context.Context, universeID uint, limit int) ([]*models.UniverseEvent, error)
	ByType(ctx context.Context, universeID uint, eventType models.EventType) ([]*models.UniverseEvent, error)
}

// eventRepo 宇宙事件仓储实现
type eventRepo struct {
	*BaseRepo
}

// NewEventRepository 创建宇宙事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *eventRepo) WithTx(tx *gorm.DB) EventRepository {
	return &eventRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Append 追加事件
func (r *eventRepo) Append(ctx context.Context, event *models.UniverseEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// Recent 最近的limit条事件，最新的在前
func (r *eventRepo) Recent(ctx context.Context, universeID uint, limit int) ([]*models.UniverseEvent, error) {
	var events []*models.UniverseEvent
	query := r.db.WithContext(ctx).Where("universe_id = ?", universeID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// ByType 指定类型的全部事件，按插入顺序
func (r *eventRepo) ByType(ctx context.Context, universeID uint, eventType models.EventType) ([]*models.UniverseEvent, error) {
	var events []*models.UniverseEvent
	err := r.db.WithContext(ctx).
		Where("universe_id = ? AND event_type = ?", universeID, eventType).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// LedgerRepository 冲突、合并、分支记录仓储接口
type LedgerRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) LedgerRepository
	CreateConflict(ctx context.Context, conflict *models.Conflict) error
	SetConflictMergedInto(ctx context.Context, conflictID, gameID uint) error
	Conflicts(ctx context.Context, universeID uint) ([]*models.Conflict, error)
	CreateMerger(ctx context.Context, merger *models.Merger) error
	Mergers(ctx context.Context, universeID uint) ([]*models.Merger, error)
	CreateBranch(ctx context.Context, branch *models.Branch) error
	BranchesOf(ctx context.Context, originalGameID uint) ([]*models.Branch, error)
}

// ledgerRepo 叙事账本仓储实现
type ledgerRepo struct {
	*BaseRepo
}

// NewLedgerRepository 创建叙事账本仓储
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *ledgerRepo) WithTx(tx *gorm.DB) LedgerRepository {
	return &ledgerRepo{BaseRepo: &BaseRepo{db: tx}}
}

// CreateConflict 记录冲突
func (r *ledgerRepo) CreateConflict(ctx context.Context, conflict *models.Conflict) error {
	return r.db.WithContext(ctx).Create(conflict).Error
}

// SetConflictMergedInto 回填冲突合并后的游戏
func (r *ledgerRepo) SetConflictMergedInto(ctx context.Context, conflictID, gameID uint) error {
	res := r.db.WithContext(ctx).Model(&models.Conflict{}).Where("id = ?", conflictID).Update("merged_into", gameID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, fmt.Sprintf("冲突 %d 不存在", conflictID))
	}
	return nil
}

// Conflicts 宇宙的冲突记录，按时间正序
func (r *ledgerRepo) Conflicts(ctx context.Context, universeID uint) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	err := r.db.WithContext(ctx).Where("universe_id = ?", universeID).Order("id ASC").Find(&conflicts).Error
	return conflicts, err
}

// CreateMerger 记录合并
func (r *ledgerRepo) CreateMerger(ctx context.Context, merger *models.Merger) error {
	return r.db.WithContext(ctx).Create(merger).Error
}

// Mergers 宇宙的合并记录
func (r *ledgerRepo) Mergers(ctx context.Context, universeID uint) ([]*models.Merger, error) {
	var mergers []*models.Merger
	err := r.db.WithContext(ctx).Where("universe_id = ?", universeID).Order("id ASC").Find(&mergers).Error
	return mergers, err
}

// CreateBranch 记录分支
func (r *ledgerRepo) CreateBranch(ctx context.Context, branch *models.Branch) error {
	return r.db.WithContext(ctx).Create(branch).Error
}

// BranchesOf 某游戏的分支记录
func (r *ledgerRepo) BranchesOf(ctx context.Context, originalGameID uint) ([]*models.Branch, error) {
	var branches []*models.Branch
	err := r.db.WithContext(ctx).Where("original_game_id = ?", originalGameID).Order("id ASC").Find(&branches).Error
	return branches, err
}

// NewsRepository 新闻仓储接口
type NewsRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) NewsRepository
	Create(ctx context.Context, news *models.News) error
	Recent(ctx context.Context, universeIDs []uint, limit int) ([]*models.News, error)
	After(ctx context.Context, universeIDs []uint, watermark time.Time, limit int) ([]*models.News, error)
}

// newsRepo 新闻仓储实现
type newsRepo struct {
	*BaseRepo
}

// NewNewsRepository 创建新闻仓储
func NewNewsRepository(db *gorm.DB) NewsRepository {
	return &newsRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *newsRepo) WithTx(tx *gorm.DB) NewsRepository {
	return &newsRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 发布新闻
func (r *newsRepo) Create(ctx context.Context, news *models.News) error {
	if news.PublishedAt.IsZero() {
		news.PublishedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(news).Error
}

// Recent 最近的新闻，最新的在前
func (r *newsRepo) Recent(ctx context.Context, universeIDs []uint, limit int) ([]*models.News, error) {
	return r.After(ctx, universeIDs, time.Time{}, limit)
}

// After 晚于水位线的最新limit条新闻，最新的在前
func (r *newsRepo) After(ctx context.Context, universeIDs []uint, watermark time.Time, limit int) ([]*models.News, error) {
	var items []*models.News
	if len(universeIDs) == 0 {
		return items, nil
	}
	query := r.db.WithContext(ctx).Where("universe_id IN ?", universeIDs)
	if !watermark.IsZero() {
		query = query.Where("published_at > ?", watermark)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("published_at DESC, id DESC").Find(&items).Error
	return items, err
}
