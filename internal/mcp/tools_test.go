package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubDetector struct {
	mu        sync.Mutex
	universes []uint
	result    []engine.DetectedConflict
}

func (d *stubDetector) Detect(_ context.Context, universeID uint) ([]engine.DetectedConflict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.universes = append(d.universes, universeID)
	return d.result, nil
}

// ToolsTestSuite MCP工具测试套件
type ToolsTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	manager  *repository.Manager
	events   *eventlog.Log
	detector *stubDetector
	server   *Server
	fixture  *repository.Fixture
}

func (suite *ToolsTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.db = repository.SetupTestDB()
	suite.manager = repository.NewManager(suite.db)
	suite.events = eventlog.New(suite.manager.Events(), zap.NewNop())
	suite.detector = &stubDetector{}
	suite.fixture = repository.NewFixture(suite.T(), suite.db)
	suite.server = NewServer(Deps{
		Universes: suite.manager.Universes(),
		Retriever: lore.NewDatabase(suite.manager.Rulesets()),
		Events:    suite.events,
		Detector:  suite.detector,
		Roller:    narrative.NewRoller(7),
		Logger:    zap.NewNop(),
	}, "test")
}

func (suite *ToolsTestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

func TestToolsTestSuite(t *testing.T) {
	suite.Run(t, new(ToolsTestSuite))
}

func (suite *ToolsTestSuite) TestRollDice() {
	_, result, err := suite.server.handleRollDice(suite.ctx, nil, RollDiceInput{NumRolls: 3, Sides: 6})
	suite.Require().NoError(err)
	suite.Equal(3, result.Count)
	suite.Equal(6, result.Sides)
	suite.Len(result.Values, 3)
	sum := 0
	for _, v := range result.Values {
		suite.GreaterOrEqual(v, 1)
		suite.LessOrEqual(v, 6)
		sum += v
	}
	suite.Equal(sum, result.Total)

	_, result, err = suite.server.handleRollDice(suite.ctx, nil, RollDiceInput{})
	suite.Require().NoError(err)
	suite.Equal(1, result.Count)
	suite.Equal(narrative.DefaultSides, result.Sides)

	_, _, err = suite.server.handleRollDice(suite.ctx, nil, RollDiceInput{NumRolls: maxDice + 1})
	suite.Error(err)
}

func (suite *ToolsTestSuite) TestRetrieveLore() {
	universe := suite.fixture.Universe("Harbor")

	_, output, err := suite.server.handleRetrieveLore(suite.ctx, nil, RetrieveLoreInput{
		UniverseID: universe.ID,
		Query:      "contested d20 roll",
		TopK:       1,
	})
	suite.Require().NoError(err)
	suite.Equal(*universe.RulesetID, output.RulesetID)
	suite.Require().Len(output.Chunks, 1)
	suite.Contains(output.Chunks[0], "d20")

	_, _, err = suite.server.handleRetrieveLore(suite.ctx, nil, RetrieveLoreInput{UniverseID: universe.ID})
	suite.Error(err)

	_, _, err = suite.server.handleRetrieveLore(suite.ctx, nil, RetrieveLoreInput{UniverseID: 999, Query: "x"})
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ToolsTestSuite) TestListEvents() {
	universe := suite.fixture.Universe("Harbor")
	game := suite.fixture.Game(universe, "Harbor Night")
	_, err := suite.events.Append(suite.ctx, universe.ID, game.ID, models.EventGameCreated, eventlog.StatusPayload{Name: game.Name, Status: models.GameStatusWaiting})
	suite.Require().NoError(err)
	_, err = suite.events.Append(suite.ctx, universe.ID, game.ID, models.EventGameClosed, eventlog.StatusPayload{Name: game.Name, Status: models.GameStatusClosed})
	suite.Require().NoError(err)

	_, output, err := suite.server.handleListEvents(suite.ctx, nil, ListEventsInput{UniverseID: universe.ID})
	suite.Require().NoError(err)
	suite.Require().Len(output.Events, 2)
	suite.Equal(string(models.EventGameCreated), output.Events[0].Type)
	suite.Equal(string(models.EventGameClosed), output.Events[1].Type)
	suite.Equal("closed", output.Events[1].Payload["status"])
	suite.Contains(output.Events[1].Line, "game_closed")

	_, output, err = suite.server.handleListEvents(suite.ctx, nil, ListEventsInput{UniverseID: universe.ID, Limit: 1})
	suite.Require().NoError(err)
	suite.Require().Len(output.Events, 1)
	suite.Equal(string(models.EventGameClosed), output.Events[0].Type)
}

func (suite *ToolsTestSuite) TestDetectConflicts() {
	universe := suite.fixture.Universe("Harbor")
	suite.detector.result = []engine.DetectedConflict{{ConflictID: 1, GameIDs: []uint{1, 2}, Description: "two captains"}}

	_, output, err := suite.server.handleDetectConflicts(suite.ctx, nil, DetectConflictsInput{UniverseID: universe.ID})
	suite.Require().NoError(err)
	suite.Len(output.Conflicts, 1)
	suite.Equal([]uint{universe.ID}, suite.detector.universes)

	_, _, err = suite.server.handleDetectConflicts(suite.ctx, nil, DetectConflictsInput{UniverseID: 999})
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

func (suite *ToolsTestSuite) TestClientRoundTrip() {
	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()

	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- suite.server.Run(ctx, serverTransport)
	}()

	client := sdk.NewClient(&sdk.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	clientCtx, clientCancel := context.WithTimeout(suite.ctx, 5*time.Second)
	defer clientCancel()
	session, err := client.Connect(clientCtx, clientTransport, nil)
	suite.Require().NoError(err)
	defer session.Close()

	tools, err := session.ListTools(clientCtx, nil)
	suite.Require().NoError(err)
	names := make([]string, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		names = append(names, t.Name)
	}
	suite.ElementsMatch([]string{"roll_dice", "retrieve_lore", "list_events", "detect_conflicts"}, names)

	result, err := session.CallTool(clientCtx, &sdk.CallToolParams{
		Name:      "roll_dice",
		Arguments: map[string]any{"num_rolls": 2, "sides": 4},
	})
	suite.Require().NoError(err)
	suite.False(result.IsError)

	raw, err := json.Marshal(result.StructuredContent)
	suite.Require().NoError(err)
	var dice narrative.DiceResult
	suite.Require().NoError(json.Unmarshal(raw, &dice))
	suite.Equal(2, dice.Count)
	suite.Equal(4, dice.Sides)
}
