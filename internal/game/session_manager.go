package game

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// Session 一个游戏的内存状态：对话历史与新闻水位
// mu保证持久化与广播顺序一致，turnMu串行化GM回合
type Session struct {
	gameID uint
	mu     sync.Mutex
	turnMu sync.Mutex

	state     sync.RWMutex
	loaded    bool
	history   []string
	watermark time.Time
	refs      int
}

// GameID 所属游戏
func (s *Session) GameID() uint {
	return s.gameID
}

// History 对话历史副本
func (s *Session) History() []string {
	s.state.RLock()
	defer s.state.RUnlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Watermark 已纳入上下文的最新新闻时间
func (s *Session) Watermark() time.Time {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.watermark
}

// AdvanceWatermark 推进水位，不会后退
func (s *Session) AdvanceWatermark(t time.Time) {
	s.state.Lock()
	defer s.state.Unlock()
	if t.After(s.watermark) {
		s.watermark = t
	}
}

// Append 追加历史行
func (s *Session) Append(lines ...string) {
	s.state.Lock()
	defer s.state.Unlock()
	s.history = append(s.history, lines...)
}

// load 首次使用时从持久化消息重建历史
func (s *Session) load(ctx context.Context, chats repository.ChatRepository) error {
	s.state.Lock()
	defer s.state.Unlock()
	if s.loaded {
		return nil
	}
	messages, err := chats.ListByGame(ctx, s.gameID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "重建对话历史失败")
	}
	history := make([]string, 0, len(messages)+len(s.history))
	for _, m := range messages {
		history = append(history, m.Sender+": "+m.Message)
	}
	s.history = append(history, s.history...)
	s.loaded = true
	return nil
}

// SessionRegistry 游戏会话注册表，按引用计数管理生命周期
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uint]*Session
	chats    repository.ChatRepository
	logger   *zap.Logger
}

// NewSessionRegistry 创建会话注册表
func NewSessionRegistry(chats repository.ChatRepository, logger *zap.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uint]*Session),
		chats:    chats,
		logger:   logger,
	}
}

// Acquire 获取游戏会话并增加引用，首次获取时重建历史
func (r *SessionRegistry) Acquire(ctx context.Context, gameID uint) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[gameID]
	if !ok {
		s = &Session{gameID: gameID}
		r.sessions[gameID] = s
		r.logger.Info("创建游戏会话", zap.Uint("game_id", gameID))
	}
	s.refs++
	r.mu.Unlock()

	// 重建历史不持有注册表锁，其他游戏不受影响
	if err := s.load(ctx, r.chats); err != nil {
		r.Release(gameID)
		return nil, err
	}
	return s, nil
}

// Release 释放引用，最后一个连接离开时移除会话
func (r *SessionRegistry) Release(gameID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[gameID]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(r.sessions, gameID)
		r.logger.Info("移除游戏会话", zap.Uint("game_id", gameID))
	}
}

// Get 获取已存在的会话
func (r *SessionRegistry) Get(gameID uint) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	return s, ok
}

// GetActiveSessions 活跃会话数
func (r *SessionRegistry) GetActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
