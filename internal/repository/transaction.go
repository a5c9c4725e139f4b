package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Repositories 仓储访问接口，Manager 与 Transaction 都实现它
type Repositories interface {
	Universes() UniverseRepository
	Rulesets() RulesetRepository
	Games() GameRepository
	Users() UserRepository
	Chats() ChatRepository
	Summaries() SummaryRepository
	Events() EventRepository
	Ledger() LedgerRepository
	News() NewsRepository
	Entities() EntityRepository
	Notifications() NotificationRepository
}

// TransactionManager 事务管理器接口
type TransactionManager interface {
	// Begin 开始事务
	Begin(ctx context.Context) (*Transaction, error)
	// WithTransaction 在事务中执行函数，返回错误或panic时回滚
	WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error
}

// Transaction 事务包装器，提供绑定到同一事务的仓储
type Transaction struct {
	tx         *gorm.DB
	ctx        context.Context
	committed  bool
	rolledback bool

	universes     UniverseRepository
	rulesets      RulesetRepository
	games         GameRepository
	users         UserRepository
	chats         ChatRepository
	summaries     SummaryRepository
	events        EventRepository
	ledger        LedgerRepository
	news          NewsRepository
	entities      EntityRepository
	notifications NotificationRepository

	afterCommit []func()
}

// txManager 事务管理器实现
type txManager struct {
	db *gorm.DB
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &txManager{db: db}
}

// Begin 开始事务
func (m *txManager) Begin(ctx context.Context) (*Transaction, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Transaction{tx: tx, ctx: ctx}, nil
}

// WithTransaction 在事务中执行函数
func (m *txManager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) (err error) {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if !tx.committed && !tx.rolledback {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// Commit 提交事务
func (t *Transaction) Commit() error {
	if t.committed {
		return fmt.Errorf("事务已提交")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}
	if err := t.tx.Commit().Error; err != nil {
		return err
	}
	t.committed = true
	return nil
}

// Rollback 回滚事务
func (t *Transaction) Rollback() error {
	if t.committed {
		return fmt.Errorf("事务已提交，无法回滚")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}
	if err := t.tx.Rollback().Error; err != nil {
		return err
	}
	t.rolledback = true
	return nil
}

// AfterCommit 注册提交成功后执行的回调，回滚时丢弃
func (t *Transaction) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// GetDB 获取事务中的数据库实例
func (t *Transaction) GetDB() *gorm.DB {
	return t.tx
}

// Context 事务上下文
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Universes 获取事务中的宇宙仓储
func (t *Transaction) Universes() UniverseRepository {
	if t.universes == nil {
		t.universes = NewUniverseRepository(t.tx)
	}
	return t.universes
}

// Rulesets 获取事务中的规则集仓储
func (t *Transaction) Rulesets() RulesetRepository {
	if t.rulesets == nil {
		t.rulesets = NewRulesetRepository(t.tx)
	}
	return t.rulesets
}

// Games 获取事务中的游戏仓储
func (t *Transaction) Games() GameRepository {
	if t.games == nil {
		t.games = NewGameRepository(t.tx)
	}
	return t.games
}

// Users 获取事务中的用户仓储
func (t *Transaction) Users() UserRepository {
	if t.users == nil {
		t.users = NewUserRepository(t.tx)
	}
	return t.users
}

// Chats 获取事务中的聊天记录仓储
func (t *Transaction) Chats() ChatRepository {
	if t.chats == nil {
		t.chats = NewChatRepository(t.tx)
	}
	return t.chats
}

// Summaries 获取事务中的摘要仓储
func (t *Transaction) Summaries() SummaryRepository {
	if t.summaries == nil {
		t.summaries = NewSummaryRepository(t.tx)
	}
	return t.summaries
}

// Events 获取事务中的事件仓储
func (t *Transaction) Events() EventRepository {
	if t.events == nil {
		t.events = NewEventRepository(t.tx)
	}
	return t.events
}

// Ledger 获取事务中的叙事账本仓储
func (t *Transaction) Ledger() LedgerRepository {
	if t.ledger == nil {
		t.ledger = NewLedgerRepository(t.tx)
	}
	return t.ledger
}

// News 获取事务中的新闻仓储
func (t *Transaction) News() NewsRepository {
	if t.news == nil {
		t.news = NewNewsRepository(t.tx)
	}
	return t.news
}

// Entities 获取事务中的命名实体仓储
func (t *Transaction) Entities() EntityRepository {
	if t.entities == nil {
		t.entities = NewEntityRepository(t.tx)
	}
	return t.entities
}

// Notifications 获取事务中的通知仓储
func (t *Transaction) Notifications() NotificationRepository {
	if t.notifications == nil {
		t.notifications = NewNotificationRepository(t.tx)
	}
	return t.notifications
}

// IsRetryableError 判断数据库错误是否值得重试（锁冲突、死锁）
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "deadlock", "could not serialize access"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
