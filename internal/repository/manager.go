package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 事务管理器
	txManager TransactionManager

	// 仓储实例（懒加载）
	universeOnce     sync.Once
	universes        UniverseRepository
	rulesetOnce      sync.Once
	rulesets         RulesetRepository
	gameOnce         sync.Once
	games            GameRepository
	userOnce         sync.Once
	users            UserRepository
	chatOnce         sync.Once
	chats            ChatRepository
	summaryOnce      sync.Once
	summaries        SummaryRepository
	eventOnce        sync.Once
	events           EventRepository
	ledgerOnce       sync.Once
	ledger           LedgerRepository
	newsOnce         sync.Once
	news             NewsRepository
	entityOnce       sync.Once
	entities         EntityRepository
	notificationOnce sync.Once
	notifications    NotificationRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Universes 获取宇宙仓储
func (m *Manager) Universes() UniverseRepository {
	m.universeOnce.Do(func() { m.universes = NewUniverseRepository(m.db) })
	return m.universes
}

// Rulesets 获取规则集仓储
func (m *Manager) Rulesets() RulesetRepository {
	m.rulesetOnce.Do(func() { m.rulesets = NewRulesetRepository(m.db) })
	return m.rulesets
}

// Games 获取游戏仓储
func (m *Manager) Games() GameRepository {
	m.gameOnce.Do(func() { m.games = NewGameRepository(m.db) })
	return m.games
}

// Users 获取用户仓储
func (m *Manager) Users() UserRepository {
	m.userOnce.Do(func() { m.users = NewUserRepository(m.db) })
	return m.users
}

// Chats 获取聊天记录仓储
func (m *Manager) Chats() ChatRepository {
	m.chatOnce.Do(func() { m.chats = NewChatRepository(m.db) })
	return m.chats
}

// Summaries 获取摘要仓储
func (m *Manager) Summaries() SummaryRepository {
	m.summaryOnce.Do(func() { m.summaries = NewSummaryRepository(m.db) })
	return m.summaries
}

// Events 获取事件仓储
func (m *Manager) Events() EventRepository {
	m.eventOnce.Do(func() { m.events = NewEventRepository(m.db) })
	return m.events
}

// Ledger 获取叙事账本仓储
func (m *Manager) Ledger() LedgerRepository {
	m.ledgerOnce.Do(func() { m.ledger = NewLedgerRepository(m.db) })
	return m.ledger
}

// News 获取新闻仓储
func (m *Manager) News() NewsRepository {
	m.newsOnce.Do(func() { m.news = NewNewsRepository(m.db) })
	return m.news
}

// Entities 获取命名实体仓储
func (m *Manager) Entities() EntityRepository {
	m.entityOnce.Do(func() { m.entities = NewEntityRepository(m.db) })
	return m.entities
}

// Notifications 获取通知仓储
func (m *Manager) Notifications() NotificationRepository {
	m.notificationOnce.Do(func() { m.notifications = NewNotificationRepository(m.db) })
	return m.notifications
}

// WithTransaction 在事务中执行操作
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.txManager.WithTransaction(ctx, fn)
}
