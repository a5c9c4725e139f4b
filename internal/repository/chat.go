package repository

import (
	"context"
	"time"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
)

// ChatRepository 聊天记录仓储接口
type ChatRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) ChatRepository
	Create(ctx context.Context, message *models.ChatMessage) error
	ListByGame(ctx context.Context, gameID uint) ([]*models.ChatMessage, error)
	Recent(ctx context.Context, gameID uint, limit int) ([]*models.ChatMessage, error)
	Since(ctx context.Context, gameID uint, since time.Time) ([]*models.ChatMessage, error)
	FirstBySender(ctx context.Context, gameID uint, sender string) (*models.ChatMessage, error)
}

// chatRepo 聊天记录仓储实现
type chatRepo struct {
	*BaseRepo
}

// NewChatRepository 创建聊天记录仓储
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *chatRepo) WithTx(tx *gorm.DB) ChatRepository {
	return &chatRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 保存一条消息
func (r *chatRepo) Create(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListByGame 游戏的全部消息，按ID升序
func (r *chatRepo) ListByGame(ctx context.Context, gameID uint) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("id ASC").Find(&messages).Error
	return messages, err
}

// Recent 最近的limit条消息，按时间正序返回
func (r *chatRepo) Recent(ctx context.Context, gameID uint, limit int) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Since 指定时间之后的消息
func (r *chatRepo) Since(ctx context.Context, gameID uint, since time.Time) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	query := r.db.WithContext(ctx).Where("game_id = ?", gameID)
	if !since.IsZero() {
		query = query.Where("created_at > ?", since)
	}
	err := query.Order("id ASC").Find(&messages).Error
	return messages, err
}

// FirstBySender 某发送者的第一条消息，不存在时返回nil
func (r *chatRepo) FirstBySender(ctx context.Context, gameID uint, sender string) (*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND sender = ?", gameID, sender).
		Order("id ASC").
		Limit(1).
		Find(&messages).Error
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return messages[0], nil
}

// SummaryRepository 游戏摘要仓储接口
type SummaryRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) SummaryRepository
	Create(ctx context.Context, summary *models.GameSummary) error
	Latest(ctx context.Context, gameID uint) (*models.GameSummary, error)
	List(ctx context.Context, gameID uint, limit int) ([]*models.GameSummary, error)
}

// summaryRepo 游戏摘要仓储实现
type summaryRepo struct {
	*BaseRepo
}

// NewSummaryRepository 创建游戏摘要仓储
func NewSummaryRepository(db *gorm.DB) SummaryRepository {
	return &summaryRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *summaryRepo) WithTx(tx *gorm.DB) SummaryRepository {
	return &summaryRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 保存摘要
func (r *summaryRepo) Create(ctx context.Context, summary *models.GameSummary) error {
	if summary.SummaryDate.IsZero() {
		summary.SummaryDate = time.Now()
	}
	return r.db.WithContext(ctx).Create(summary).Error
}

// Latest 最新摘要，没有时返回nil
func (r *summaryRepo) Latest(ctx context.Context, gameID uint) (*models.GameSummary, error) {
	summaries, err := r.List(ctx, gameID, 1)
	if err != nil || len(summaries) == 0 {
		return nil, err
	}
	return summaries[0], nil
}

// List 摘要列表，最新的在前，limit<=0时返回全部
func (r *summaryRepo) List(ctx context.Context, gameID uint, limit int) ([]*models.GameSummary, error) {
	var summaries []*models.GameSummary
	query := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("summary_date DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&summaries).Error
	return summaries, err
}
