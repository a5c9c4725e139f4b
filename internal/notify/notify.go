// Package notify 玩家通知：持久化并推送到在线连接
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// Notifier 通知发送能力，发送失败只记录日志
type Notifier interface {
	Notify(ctx context.Context, userID uint, message string)
}

// Pusher 把通知推送给用户的在线连接
type Pusher interface {
	PushNotification(userID uint, notification *models.Notification)
}

// Sink 默认通知实现
type Sink struct {
	notifications repository.NotificationRepository
	pusher        Pusher
	logger        *zap.Logger
}

// NewSink 创建通知实现，pusher可以为nil（worker进程没有在线连接）
func NewSink(notifications repository.NotificationRepository, pusher Pusher, log *zap.Logger) *Sink {
	return &Sink{notifications: notifications, pusher: pusher, logger: log}
}

// SetPusher 设置推送通道
func (s *Sink) SetPusher(pusher Pusher) {
	s.pusher = pusher
}

// Notify 持久化并推送通知
func (s *Sink) Notify(ctx context.Context, userID uint, message string) {
	notification := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		s.logger.Error("保存通知失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if s.pusher != nil {
		s.pusher.PushNotification(userID, notification)
	}
}

// Many 对多个用户发送同一条通知，重复的用户只发一次
func Many(ctx context.Context, n Notifier, userIDs []uint, message string) {
	if n == nil {
		return
	}
	seen := make(map[uint]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		n.Notify(ctx, id, message)
	}
}

// Recorder 记录通知的实现，用于测试
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// Sent 一条已发送的通知
type Sent struct {
	UserID  uint
	Message string
}

// Notify 记录通知
func (r *Recorder) Notify(_ context.Context, userID uint, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{UserID: userID, Message: message})
}

// Sent 已记录的通知
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
