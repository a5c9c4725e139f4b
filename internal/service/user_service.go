package service

import (
	"context"
	"strings"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// userService 用户服务实现
type userService struct {
	users         repository.UserRepository
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

// NewUserService 创建用户服务
func NewUserService(users repository.UserRepository, notifications repository.NotificationRepository, log *zap.Logger) UserService {
	return &userService{
		users:         users,
		notifications: notifications,
		logger:        log,
	}
}

// CreateCharacter 为用户创建角色，用户不存在时自动创建
func (s *userService) CreateCharacter(ctx context.Context, req *CreateCharacterRequest) (*models.Character, error) {
	username := strings.TrimSpace(req.Username)
	name := strings.TrimSpace(req.Name)
	if username == "" || name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "用户名和角色名不能为空")
	}

	user, err := s.users.FindOrCreate(ctx, username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	data := models.JSONMap{}
	for k, v := range req.Data {
		data[k] = v
	}
	data["name"] = name

	character := &models.Character{
		UserID: user.ID,
		Name:   name,
		Data:   models.ToJSON(data),
	}
	if err := s.users.CreateCharacter(ctx, character); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}
	character.User = user

	s.logger.Info("创建角色",
		zap.Uint("character_id", character.ID),
		zap.String("username", username))
	return character, nil
}

// Characters 用户的全部角色
func (s *userService) Characters(ctx context.Context, username string) ([]*models.Character, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	characters, err := s.users.Characters(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return characters, nil
}

// Notifications 用户的通知，最新的在前
func (s *userService) Notifications(ctx context.Context, userID uint, unreadOnly bool) ([]*models.Notification, error) {
	items, err := s.notifications.ListByUser(ctx, userID, unreadOnly)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return items, nil
}

// MarkRead 标记通知已读
func (s *userService) MarkRead(ctx context.Context, notificationID string) error {
	return s.notifications.MarkRead(ctx, notificationID)
}
