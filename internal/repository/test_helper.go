package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/influence-rpg/internal/database"
	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建独立的内存数据库并完成迁移
// 每次调用使用不同的库名，单连接保证同一内存库在测试期间可见
func SetupTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		panic(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// Fixture 测试数据构造器
type Fixture struct {
	t       *testing.T
	manager *Manager
	ctx     context.Context
}

// NewFixture 创建测试数据构造器
func NewFixture(t *testing.T, db *gorm.DB) *Fixture {
	return &Fixture{t: t, manager: NewManager(db), ctx: context.Background()}
}

// Universe 创建关联默认规则集的宇宙
func (f *Fixture) Universe(name string) *models.Universe {
	ruleset, err := f.manager.Rulesets().FindByName(f.ctx, database.DefaultRulesetName)
	require.NoError(f.t, err)

	universe := &models.Universe{Name: name, Description: name + " universe", RulesetID: &ruleset.ID}
	require.NoError(f.t, f.manager.Universes().Create(f.ctx, universe))
	return universe
}

// Character 创建用户及其角色
func (f *Fixture) Character(username, name string) *models.Character {
	user, err := f.manager.Users().FindOrCreate(f.ctx, username)
	require.NoError(f.t, err)

	character := &models.Character{
		UserID: user.ID,
		Name:   name,
		Data:   models.ToJSON(models.JSONMap{"name": name, "class": "Rogue"}),
	}
	require.NoError(f.t, f.manager.Users().CreateCharacter(f.ctx, character))
	character.User = user
	return character
}

// Game 在宇宙中创建游戏并加入角色
func (f *Fixture) Game(universe *models.Universe, name string, characters ...*models.Character) *models.Game {
	game := &models.Game{Name: name}
	require.NoError(f.t, f.manager.Games().Create(f.ctx, game))
	if universe != nil {
		require.NoError(f.t, f.manager.Universes().LinkGame(f.ctx, universe.ID, game.ID))
	}
	for _, c := range characters {
		require.NoError(f.t, f.manager.Games().AddPlayer(f.ctx, game.ID, c.ID))
	}
	return game
}

// Message 写入一条聊天消息
func (f *Fixture) Message(game *models.Game, sender, text string) *models.ChatMessage {
	msg := &models.ChatMessage{GameID: game.ID, Sender: sender, Message: text}
	require.NoError(f.t, f.manager.Chats().Create(f.ctx, msg))
	return msg
}

// Summary 写入一条游戏摘要
func (f *Fixture) Summary(game *models.Game, text string) *models.GameSummary {
	summary := &models.GameSummary{GameID: game.ID, Summary: text}
	require.NoError(f.t, f.manager.Summaries().Create(f.ctx, summary))
	return summary
}
