package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/models"
	"gorm.io/gorm"
)

// RepositoryTestSuite 仓储测试套件
type RepositoryTestSuite struct {
	suite.Suite
	db      *gorm.DB
	manager *Manager
	fx      *Fixture
	ctx     context.Context
}

func (suite *RepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.manager = NewManager(suite.db)
	suite.fx = NewFixture(suite.T(), suite.db)
	suite.ctx = context.Background()
}

func (suite *RepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// TestGameRepository_CreateDefaultsToWaiting 测试新游戏默认状态
func (suite *RepositoryTestSuite) TestGameRepository_CreateDefaultsToWaiting() {
	game := &models.Game{Name: "The Sunken Library"}
	assert.NoError(suite.T(), suite.manager.Games().Create(suite.ctx, game))
	assert.NotZero(suite.T(), game.ID)

	found, err := suite.manager.Games().FindByID(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.GameStatusWaiting, found.Status)

	_, err = suite.manager.Games().FindByID(suite.ctx, 9999)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrNotFound))
}

// TestGameRepository_CompareAndSetStatus 测试乐观状态切换
func (suite *RepositoryTestSuite) TestGameRepository_CompareAndSetStatus() {
	game := suite.fx.Game(nil, "G1")
	games := suite.manager.Games()

	ok, err := games.CompareAndSetStatus(suite.ctx, game.ID, models.OpenStatuses, models.GameStatusBranched)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	// 第二次切换必须失败
	ok, err = games.CompareAndSetStatus(suite.ctx, game.ID, models.OpenStatuses, models.GameStatusMerged)
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), ok)

	found, _ := games.FindByID(suite.ctx, game.ID)
	assert.Equal(suite.T(), models.GameStatusBranched, found.Status)
}

// TestGameRepository_Players 测试玩家加入与重复加入
func (suite *RepositoryTestSuite) TestGameRepository_Players() {
	vale := suite.fx.Character("alice", "Captain Vale")
	mira := suite.fx.Character("bob", "Mira")
	game := suite.fx.Game(nil, "G1", vale, mira)

	// 重复加入静默忽略
	assert.NoError(suite.T(), suite.manager.Games().AddPlayer(suite.ctx, game.ID, vale.ID))

	ids, err := suite.manager.Games().PlayerCharacterIDs(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []uint{vale.ID, mira.ID}, ids)

	players, err := suite.manager.Games().Players(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), players, 2)
	assert.Equal(suite.T(), "Captain Vale (alice)", players[0].Character.DisplayName())

	isPlayer, err := suite.manager.Games().IsPlayer(suite.ctx, game.ID, mira.ID)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), isPlayer)

	open, err := suite.manager.Games().OpenGamesOfCharacter(suite.ctx, vale.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), open, 1)

	suite.manager.Games().CompareAndSetStatus(suite.ctx, game.ID, models.OpenStatuses, models.GameStatusClosed)
	open, err = suite.manager.Games().OpenGamesOfCharacter(suite.ctx, vale.ID)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), open)
}

// TestUniverseRepository_Links 测试宇宙与游戏关联
func (suite *RepositoryTestSuite) TestUniverseRepository_Links() {
	u1 := suite.fx.Universe("Aether")
	u2 := suite.fx.Universe("Umbra")
	game := suite.fx.Game(u1, "G1")

	assert.NoError(suite.T(), suite.manager.Universes().LinkGame(suite.ctx, u2.ID, game.ID))
	assert.NoError(suite.T(), suite.manager.Universes().LinkGame(suite.ctx, u2.ID, game.ID))

	ids, err := suite.manager.Universes().UniverseIDsOfGame(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []uint{u1.ID, u2.ID}, ids)

	universes, err := suite.manager.Universes().UniversesOfGame(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), universes, 2)
	assert.NotNil(suite.T(), universes[0].Ruleset)

	games, err := suite.manager.Universes().Games(suite.ctx, u2.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), games, 1)
}

// TestChatRepository_RecentOrder 测试最近消息按时间正序
func (suite *RepositoryTestSuite) TestChatRepository_RecentOrder() {
	game := suite.fx.Game(nil, "G1")
	for i := 1; i <= 5; i++ {
		suite.fx.Message(game, "Mira", fmt.Sprintf("line %d", i))
	}

	recent, err := suite.manager.Chats().Recent(suite.ctx, game.ID, 3)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), recent, 3)
	assert.Equal(suite.T(), "line 3", recent[0].Message)
	assert.Equal(suite.T(), "line 5", recent[2].Message)

	first, err := suite.manager.Chats().FirstBySender(suite.ctx, game.ID, models.SenderGM)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), first)
}

// TestSummaryRepository_Latest 测试最新摘要
func (suite *RepositoryTestSuite) TestSummaryRepository_Latest() {
	game := suite.fx.Game(nil, "G1")

	latest, err := suite.manager.Summaries().Latest(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), latest)

	now := time.Now()
	suite.manager.Summaries().Create(suite.ctx, &models.GameSummary{GameID: game.ID, Summary: "old", SummaryDate: now.Add(-time.Hour)})
	suite.manager.Summaries().Create(suite.ctx, &models.GameSummary{GameID: game.ID, Summary: "new", SummaryDate: now})

	latest, err = suite.manager.Summaries().Latest(suite.ctx, game.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "new", latest.Summary)
}

// TestNewsRepository_After 测试水位线过滤
func (suite *RepositoryTestSuite) TestNewsRepository_After() {
	u := suite.fx.Universe("Aether")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		suite.manager.News().Create(suite.ctx, &models.News{
			UniverseID:  u.ID,
			Summary:     fmt.Sprintf("bulletin %d", i),
			PublishedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	items, err := suite.manager.News().After(suite.ctx, []uint{u.ID}, base.Add(time.Minute), 5)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), items, 2)
	assert.Equal(suite.T(), "bulletin 3", items[0].Summary)

	items, err = suite.manager.News().Recent(suite.ctx, []uint{u.ID}, 2)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), items, 2)

	items, err = suite.manager.News().Recent(suite.ctx, nil, 2)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), items)
}

// TestEntityRepository_UpsertKeepsPlayerCharacters 测试玩家角色不被覆盖
func (suite *RepositoryTestSuite) TestEntityRepository_UpsertKeepsPlayerCharacters() {
	u := suite.fx.Universe("Aether")
	entities := suite.manager.Entities()

	assert.NoError(suite.T(), entities.Upsert(suite.ctx, &models.NamedEntity{
		UniverseID: u.ID, Name: "Captain Vale", EntityType: "character", Description: "A player", PlayerCharacter: true,
	}))
	assert.NoError(suite.T(), entities.Upsert(suite.ctx, &models.NamedEntity{
		UniverseID: u.ID, Name: "Captain Vale", EntityType: "npc", Description: "A pirate",
	}))
	assert.NoError(suite.T(), entities.Upsert(suite.ctx, &models.NamedEntity{
		UniverseID: u.ID, Name: "Brass Harbor", EntityType: "location", Description: "A port",
	}))
	// 空描述不覆盖已有描述
	assert.NoError(suite.T(), entities.Upsert(suite.ctx, &models.NamedEntity{
		UniverseID: u.ID, Name: "Brass Harbor", EntityType: "city",
	}))

	list, err := entities.ListByUniverse(suite.ctx, u.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), list, 2)
	assert.Equal(suite.T(), "Brass Harbor", list[0].Name)
	assert.Equal(suite.T(), "city", list[0].EntityType)
	assert.Equal(suite.T(), "A port", list[0].Description)
	assert.Equal(suite.T(), "A player", list[1].Description)
	assert.True(suite.T(), list[1].PlayerCharacter)

	pcs, err := entities.PlayerCharacters(suite.ctx, u.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), pcs, 1)
}

// TestNotificationRepository 测试通知读写
func (suite *RepositoryTestSuite) TestNotificationRepository() {
	n := &models.Notification{ID: uuid.NewString(), UserID: 7, Message: "Game \"G1\" has advanced."}
	assert.NoError(suite.T(), suite.manager.Notifications().Create(suite.ctx, n))

	unread, err := suite.manager.Notifications().ListByUser(suite.ctx, 7, true)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), unread, 1)

	assert.NoError(suite.T(), suite.manager.Notifications().MarkRead(suite.ctx, n.ID))
	unread, _ = suite.manager.Notifications().ListByUser(suite.ctx, 7, true)
	assert.Empty(suite.T(), unread)

	err = suite.manager.Notifications().MarkRead(suite.ctx, "missing")
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrNotFound))
}

// TestTransaction_RollbackAndAfterCommit 测试事务回滚与提交回调
func (suite *RepositoryTestSuite) TestTransaction_RollbackAndAfterCommit() {
	game := suite.fx.Game(nil, "G1")
	hookRan := false

	err := suite.manager.WithTransaction(suite.ctx, func(tx *Transaction) error {
		tx.AfterCommit(func() { hookRan = true })
		if _, err := tx.Games().CompareAndSetStatus(suite.ctx, game.ID, models.OpenStatuses, models.GameStatusMerged); err != nil {
			return err
		}
		return errors.New("boom")
	})
	assert.Error(suite.T(), err)
	assert.False(suite.T(), hookRan)

	found, _ := suite.manager.Games().FindByID(suite.ctx, game.ID)
	assert.Equal(suite.T(), models.GameStatusWaiting, found.Status)

	err = suite.manager.WithTransaction(suite.ctx, func(tx *Transaction) error {
		tx.AfterCommit(func() { hookRan = true })
		_, err := tx.Games().CompareAndSetStatus(suite.ctx, game.ID, models.OpenStatuses, models.GameStatusActive)
		return err
	})
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), hookRan)
}

// TestIsRetryableError 测试可重试数据库错误判断
func (suite *RepositoryTestSuite) TestIsRetryableError() {
	assert.True(suite.T(), IsRetryableError(errors.New("database is locked")))
	assert.True(suite.T(), IsRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.False(suite.T(), IsRetryableError(errors.New("syntax error")))
	assert.False(suite.T(), IsRetryableError(nil))
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
