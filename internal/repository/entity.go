package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
)

// EntityRepository 命名实体仓储接口
type EntityRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) EntityRepository
	Upsert(ctx context.Context, entity *models.NamedEntity) error
	ListByUniverse(ctx context.Context, universeID uint) ([]*models.NamedEntity, error)
	PlayerCharacters(ctx context.Context, universeID uint) ([]*models.NamedEntity, error)
}

// entityRepo 命名实体仓储实现
type entityRepo struct {
	*BaseRepo
}

// NewEntityRepository 创建命名实体仓储
func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *entityRepo) WithTx(tx *gorm.DB) EntityRepository {
	return &entityRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Upsert 按 (universe_id, name) 写入实体
// 已存在的玩家角色行保持不变，其他行只在新值非空时覆盖类型和描述
func (r *entityRepo) Upsert(ctx context.Context, entity *models.NamedEntity) error {
	if entity.Name == "" {
		return fmt.Errorf("实体名称不能为空")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.NamedEntity
		err := tx.Where("universe_id = ? AND name = ?", entity.UniverseID, entity.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(entity).Error
		}
		if err != nil {
			return err
		}

		*entity = mergeEntity(existing, *entity)
		return tx.Save(entity).Error
	})
}

// mergeEntity 合并已有实体与新抽取结果
func mergeEntity(existing, incoming models.NamedEntity) models.NamedEntity {
	if existing.PlayerCharacter {
		return existing
	}
	merged := existing
	if incoming.PlayerCharacter {
		merged.PlayerCharacter = true
	}
	if incoming.EntityType != "" {
		merged.EntityType = incoming.EntityType
	}
	if incoming.Description != "" {
		merged.Description = incoming.Description
	}
	return merged
}

// ListByUniverse 宇宙的全部实体，按名称排序
func (r *entityRepo) ListByUniverse(ctx context.Context, universeID uint) ([]*models.NamedEntity, error) {
	var entities []*models.NamedEntity
	err := r.db.WithContext(ctx).Where("universe_id = ?", universeID).Order("name ASC").Find(&entities).Error
	return entities, err
}

// PlayerCharacters 宇宙中标记为玩家角色的实体
func (r *entityRepo) PlayerCharacters(ctx context.Context, universeID uint) ([]*models.NamedEntity, error) {
	var entities []*models.NamedEntity
	err := r.db.WithContext(ctx).
		Where("universe_id = ? AND player_character = ?", universeID, true).
		Order("name ASC").
		Find(&entities).Error
	return entities, err
}

// NotificationRepository 通知仓储接口
type NotificationRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) NotificationRepository
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// notificationRepo 通知仓储实现
type notificationRepo struct {
	*BaseRepo
}

// NewNotificationRepository 创建通知仓储
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *notificationRepo) WithTx(tx *gorm.DB) NotificationRepository {
	return &notificationRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 保存通知
func (r *notificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListByUser 用户通知，最新的在前
func (r *notificationRepo) ListByUser(ctx context.Context, userID uint, unreadOnly bool) ([]*models.Notification, error) {
	var notifications []*models.Notification
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where(map[string]interface{}{"read": false})
	}
	err := query.Order("created_at DESC").Find(&notifications).Error
	return notifications, err
}

// MarkRead 标记已读
func (r *notificationRepo) MarkRead(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, fmt.Sprintf("通知 %s 不存在", id))
	}
	return nil
}
