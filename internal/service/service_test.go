package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServicesTestSuite 服务层测试套件
type ServicesTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	model    *llm.Scripted
	services *Services
	fixture  *repository.Fixture
}

func (suite *ServicesTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.db = repository.SetupTestDB()
	suite.model = llm.NewScripted()
	suite.fixture = repository.NewFixture(suite.T(), suite.db)

	cfg := config.Default()
	cfg.LLM.EmbeddingDimensions = 8

	services, err := NewServices(suite.ctx, suite.db, cfg, zap.NewNop(), WithProvider(suite.model))
	suite.Require().NoError(err)
	suite.services = services
}

func (suite *ServicesTestSuite) TearDownTest() {
	suite.services.Close()
	repository.CleanupTestDB(suite.db)
}

func TestServicesTestSuite(t *testing.T) {
	suite.Run(t, new(ServicesTestSuite))
}

func (suite *ServicesTestSuite) TestCreateCharacter() {
	character, err := suite.services.Users.CreateCharacter(suite.ctx, &CreateCharacterRequest{
		Username: "alice",
		Name:     "Captain Vale",
		Data:     map[string]any{"class": "Rogue"},
	})
	suite.Require().NoError(err)
	suite.NotZero(character.ID)
	suite.Equal("alice", character.User.Username)

	data := models.DecodeMap(character.Data)
	suite.Equal("Rogue", data["class"])
	suite.Equal("Captain Vale", data["name"])

	// 同一用户的第二个角色复用用户
	_, err = suite.services.Users.CreateCharacter(suite.ctx, &CreateCharacterRequest{Username: "alice", Name: "Wren"})
	suite.Require().NoError(err)

	characters, err := suite.services.Users.Characters(suite.ctx, "alice")
	suite.Require().NoError(err)
	suite.Len(characters, 2)
}

func (suite *ServicesTestSuite) TestCreateCharacterInvalid() {
	_, err := suite.services.Users.CreateCharacter(suite.ctx, &CreateCharacterRequest{Username: "alice", Name: "  "})
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))
}

func (suite *ServicesTestSuite) TestCharactersUnknownUser() {
	_, err := suite.services.Users.Characters(suite.ctx, "nobody")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))

	// 查询不会创建用户
	_, err = suite.services.Store.Users().FindByUsername(suite.ctx, "nobody")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ServicesTestSuite) TestNotifications() {
	vale := suite.fixture.Character("alice", "Captain Vale")
	suite.services.Notifier.Notify(suite.ctx, vale.UserID, "Your game has been merged.")

	items, err := suite.services.Users.Notifications(suite.ctx, vale.UserID, true)
	suite.Require().NoError(err)
	suite.Require().Len(items, 1)
	suite.Equal("Your game has been merged.", items[0].Message)

	suite.Require().NoError(suite.services.Users.MarkRead(suite.ctx, items[0].ID))
	items, err = suite.services.Users.Notifications(suite.ctx, vale.UserID, true)
	suite.Require().NoError(err)
	suite.Empty(items)

	err = suite.services.Users.MarkRead(suite.ctx, "missing")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ServicesTestSuite) TestCreateUniverse() {
	universe, err := suite.services.Universes.Create(suite.ctx, &CreateUniverseRequest{Name: "Harbor", Description: "Fog and trade"})
	suite.Require().NoError(err)
	suite.NotZero(universe.ID)

	missing := uint(999)
	_, err = suite.services.Universes.Create(suite.ctx, &CreateUniverseRequest{Name: "Broken", RulesetID: &missing})
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))

	list, err := suite.services.Universes.List(suite.ctx, 1, 10)
	suite.Require().NoError(err)
	suite.Len(list, 1)
}

func (suite *ServicesTestSuite) TestLinkGameAndList() {
	universe := suite.fixture.Universe("Harbor")
	game := suite.fixture.Game(nil, "Harbor Night")

	suite.Require().NoError(suite.services.Universes.LinkGame(suite.ctx, universe.ID, game.ID))
	games, err := suite.services.Universes.Games(suite.ctx, universe.ID)
	suite.Require().NoError(err)
	suite.Require().Len(games, 1)
	suite.Equal(game.ID, games[0].ID)

	err = suite.services.Universes.LinkGame(suite.ctx, universe.ID, 999)
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ServicesTestSuite) TestMerge() {
	universe := suite.fixture.Universe("Harbor")
	vale := suite.fixture.Character("alice", "Captain Vale")
	mira := suite.fixture.Character("bob", "Mira")
	a := suite.fixture.Game(universe, "Docks", vale)
	b := suite.fixture.Game(universe, "Lighthouse", mira)

	_, err := suite.services.Universes.Merge(suite.ctx, universe.ID, []uint{a.ID, a.ID})
	suite.True(apperrors.Is(err, apperrors.ErrDuplicateMergeTarget))

	result, err := suite.services.Universes.Merge(suite.ctx, universe.ID, []uint{a.ID, b.ID})
	suite.Require().NoError(err)
	suite.Equal([]uint{a.ID, b.ID}, result.SourceIDs)

	players, err := suite.services.Store.Games().PlayerCharacterIDs(suite.ctx, result.Game.ID)
	suite.Require().NoError(err)
	suite.ElementsMatch([]uint{vale.ID, mira.ID}, players)

	// 来源游戏已结束，再次合并无可用游戏
	_, err = suite.services.Universes.Merge(suite.ctx, universe.ID, []uint{a.ID, b.ID})
	suite.True(apperrors.Is(err, apperrors.ErrGameTerminal))

	events, err := suite.services.Universes.Events(suite.ctx, universe.ID, 0)
	suite.Require().NoError(err)
	suite.NotEmpty(events)
	suite.Equal(models.EventMerger, events[0].EventType)
}

func (suite *ServicesTestSuite) TestPublishNewsUnknownUniverse() {
	_, err := suite.services.Universes.PublishNews(suite.ctx, 999)
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))

	_, err = suite.services.Universes.Detect(suite.ctx, 999)
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ServicesTestSuite) TestCreateGameWithOpeningScene() {
	universe := suite.fixture.Universe("Harbor")
	vale := suite.fixture.Character("alice", "Captain Vale")
	suite.model.Push("Fog rolls over the harbor as the bells ring.")

	game, err := suite.services.Games.Create(suite.ctx, &CreateGameRequest{
		Name:           "Harbor Night",
		UniverseIDs:    []uint{universe.ID},
		CharacterID:    vale.ID,
		InitialDetails: "A smuggler's deal gone wrong.",
	})
	suite.Require().NoError(err)
	suite.Equal(models.GameStatusWaiting, game.Status)

	prompts := suite.model.Prompts()
	suite.Require().Len(prompts, 1)
	suite.Contains(prompts[0], "A smuggler's deal gone wrong.")
	suite.Contains(prompts[0], "Captain Vale (alice)")

	messages, err := suite.services.Games.Messages(suite.ctx, game.ID)
	suite.Require().NoError(err)
	suite.Require().Len(messages, 1)
	suite.Equal(models.SenderGM, messages[0].Sender)

	detail, err := suite.services.Games.Get(suite.ctx, game.ID)
	suite.Require().NoError(err)
	suite.Equal([]uint{universe.ID}, detail.UniverseIDs)
	suite.Require().Len(detail.Players, 1)
	suite.Equal(vale.ID, detail.Players[0].ID)
}

func (suite *ServicesTestSuite) TestCreateGameOpeningSceneFailure() {
	suite.model.PushError(apperrors.New(apperrors.ErrUpstreamUnavailable, "down"))

	game, err := suite.services.Games.Create(suite.ctx, &CreateGameRequest{Name: "Quiet", InitialDetails: "Nothing yet."})
	suite.Require().NoError(err)

	messages, err := suite.services.Games.Messages(suite.ctx, game.ID)
	suite.Require().NoError(err)
	suite.Empty(messages)
}

func (suite *ServicesTestSuite) TestJoin() {
	universe := suite.fixture.Universe("Harbor")
	vale := suite.fixture.Character("alice", "Captain Vale")
	first := suite.fixture.Game(universe, "Docks", vale)
	second := suite.fixture.Game(universe, "Lighthouse")

	// 已在游戏中的角色重复加入静默成功
	_, err := suite.services.Games.Join(suite.ctx, first.ID, vale.ID)
	suite.NoError(err)

	_, err = suite.services.Games.Join(suite.ctx, second.ID, vale.ID)
	suite.True(apperrors.Is(err, apperrors.ErrCharacterInActiveGame))

	suite.Require().NoError(suite.services.Games.Close(suite.ctx, first.ID))
	_, err = suite.services.Games.Join(suite.ctx, second.ID, vale.ID)
	suite.NoError(err)

	_, err = suite.services.Games.Join(suite.ctx, first.ID, vale.ID)
	suite.True(apperrors.Is(err, apperrors.ErrGameTerminal))

	err = suite.services.Games.Close(suite.ctx, first.ID)
	suite.True(apperrors.Is(err, apperrors.ErrStatusConflict))
}

func (suite *ServicesTestSuite) TestBranch() {
	universe := suite.fixture.Universe("Harbor")
	vale := suite.fixture.Character("alice", "Captain Vale")
	mira := suite.fixture.Character("bob", "Mira")
	game := suite.fixture.Game(universe, "Harbor Night", vale, mira)

	_, err := suite.services.Games.Branch(suite.ctx, game.ID, []engine.BranchGroup{
		{CharacterIDs: []uint{vale.ID}, Description: "docks"},
	})
	suite.True(apperrors.Is(err, apperrors.ErrInvalidPartition))

	result, err := suite.services.Games.Branch(suite.ctx, game.ID, []engine.BranchGroup{
		{CharacterIDs: []uint{vale.ID}, Description: "docks"},
		{CharacterIDs: []uint{mira.ID}, Description: "lighthouse"},
	})
	suite.Require().NoError(err)
	suite.Len(result.Games, 2)

	status, err := suite.services.Store.Games().StatusOf(suite.ctx, []uint{game.ID})
	suite.Require().NoError(err)
	suite.Equal(models.GameStatusBranched, status[game.ID])
}

func (suite *ServicesTestSuite) TestGenerateSetup() {
	universe := suite.fixture.Universe("Harbor")
	suite.model.Push("  The harbor council has fallen.  ")

	setup, err := suite.services.Games.GenerateSetup(suite.ctx, &GenerateSetupRequest{
		UniverseID:      universe.ID,
		GameDescription: "A heist during a d20 storm",
	})
	suite.Require().NoError(err)
	suite.Equal("The harbor council has fallen.", setup)

	prompts := suite.model.Prompts()
	suite.Require().Len(prompts, 1)
	suite.Contains(prompts[0], "Harbor")
	suite.True(strings.Contains(prompts[0], "d20 roll"), "检索到的规则切片应进入提示词")

	suite.model.Push("   ")
	_, err = suite.services.Games.GenerateSetup(suite.ctx, &GenerateSetupRequest{UniverseID: universe.ID, GameDescription: "x"})
	suite.True(apperrors.Is(err, apperrors.ErrUpstreamUnavailable))
}

func (suite *ServicesTestSuite) TestGenerateSetupWithoutRuleset() {
	universe, err := suite.services.Universes.Create(suite.ctx, &CreateUniverseRequest{Name: "Bare"})
	suite.Require().NoError(err)

	_, err = suite.services.Games.GenerateSetup(suite.ctx, &GenerateSetupRequest{UniverseID: universe.ID, GameDescription: "x"})
	suite.True(apperrors.Is(err, apperrors.ErrNoRuleset))
	suite.Empty(suite.model.Prompts())
}

func (suite *ServicesTestSuite) TestPublishNews() {
	universe := suite.fixture.Universe("Harbor")

	// 没有事件时不生成新闻
	news, err := suite.services.Universes.PublishNews(suite.ctx, universe.ID)
	suite.Require().NoError(err)
	suite.Nil(news)
	suite.Empty(suite.model.Prompts())

	_, err = suite.services.Games.Create(suite.ctx, &CreateGameRequest{Name: "Harbor Night", UniverseIDs: []uint{universe.ID}})
	suite.Require().NoError(err)
	suite.model.Push("The harbor master has been seen counting foreign coin.")

	sched := suite.services.NewsScheduler()
	suite.Require().NotNil(sched)

	news, err = suite.services.Universes.PublishNews(suite.ctx, universe.ID)
	suite.Require().NoError(err)
	suite.Require().NotNil(news)
	suite.Contains(suite.model.Prompts()[0], "game_created")

	listed, err := suite.services.Universes.News(suite.ctx, universe.ID, 10)
	suite.Require().NoError(err)
	suite.Len(listed, 1)
}
