package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
)

// UserRepository 用户与角色仓储接口
type UserRepository interface {
	BaseRepository
	WithTx(tx *gorm.DB) UserRepository
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindOrCreate(ctx context.Context, username string) (*models.User, error)
	CreateCharacter(ctx context.Context, character *models.Character) error
	FindCharacter(ctx context.Context, id uint) (*models.Character, error)
	Characters(ctx context.Context, userID uint) ([]*models.Character, error)
}

// userRepo 用户仓储实现
type userRepo struct {
	*BaseRepo
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepo{BaseRepo: &BaseRepo{db: db}}
}

// WithTx 使用事务
func (r *userRepo) WithTx(tx *gorm.DB) UserRepository {
	return &userRepo{BaseRepo: &BaseRepo{db: tx}}
}

// Create 创建用户
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID 根据ID查找用户
func (r *userRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("用户 %d 不存在", id))
	}
	return &user, nil
}

// FindByUsername 根据用户名查找用户
func (r *userRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("用户 %s 不存在", username))
	}
	return &user, nil
}

// FindOrCreate 按用户名查找，不存在时创建
func (r *userRepo) FindOrCreate(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	user = models.User{Username: username}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateCharacter 创建角色
func (r *userRepo) CreateCharacter(ctx context.Context, character *models.Character) error {
	if len(character.Data) == 0 {
		character.Data = models.ToJSON(models.JSONMap{"name": character.Name})
	}
	return r.db.WithContext(ctx).Create(character).Error
}

// FindCharacter 查找角色并加载所属用户
func (r *userRepo) FindCharacter(ctx context.Context, id uint) (*models.Character, error) {
	var character models.Character
	if err := r.db.WithContext(ctx).Preload("User").First(&character, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("角色 %d 不存在", id))
	}
	return &character, nil
}

// Characters 用户的全部角色
func (r *userRepo) Characters(ctx context.Context, userID uint) ([]*models.Character, error) {
	var characters []*models.Character
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&characters).Error
	return characters, err
}
