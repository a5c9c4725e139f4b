package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APITestSuite REST接口测试套件
type APITestSuite struct {
	suite.Suite
	db       *gorm.DB
	model    *llm.Scripted
	services *service.Services
	router   *Router
	fixture  *repository.Fixture
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    apperrors.ErrorCode `json:"code"`
		Message string              `json:"message"`
	} `json:"error"`
}

func (suite *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (suite *APITestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.model = llm.NewScripted()
	suite.fixture = repository.NewFixture(suite.T(), suite.db)

	cfg := config.Default()
	services, err := service.NewServices(context.Background(), suite.db, cfg, zap.NewNop(), service.WithProvider(suite.model))
	suite.Require().NoError(err)
	suite.services = services
	suite.router = NewRouter(suite.db, services, zap.NewNop())
}

func (suite *APITestSuite) TearDownTest() {
	suite.services.Close()
	repository.CleanupTestDB(suite.db)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

// do 发送请求并解析统一响应
func (suite *APITestSuite) do(method, path string, body any) (int, envelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)

	var env envelope
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (suite *APITestSuite) decode(env envelope, out any) {
	suite.Require().NoError(json.Unmarshal(env.Data, out))
}

func (suite *APITestSuite) TestHealth() {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)

	suite.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	suite.Equal("healthy", resp["status"])
	suite.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (suite *APITestSuite) TestOpenAPI() {
	req := httptest.NewRequest(http.MethodGet, "/openapi", nil)
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)

	suite.Equal(http.StatusOK, w.Code)
	suite.Contains(w.Body.String(), "/api/v1/games/{id}/branch")
}

func (suite *APITestSuite) TestNoRoute() {
	code, env := suite.do(http.MethodGet, "/api/v1/nothing", nil)
	suite.Equal(http.StatusNotFound, code)
	suite.False(env.Success)
	suite.Equal(apperrors.ErrNotFound, env.Error.Code)
}

func (suite *APITestSuite) TestUniverseLifecycle() {
	code, env := suite.do(http.MethodPost, "/api/v1/universes", map[string]any{"name": "Harbor", "description": "Fog and trade"})
	suite.Require().Equal(http.StatusCreated, code)
	var universe models.Universe
	suite.decode(env, &universe)
	suite.NotZero(universe.ID)

	code, env = suite.do(http.MethodPost, "/api/v1/universes", map[string]any{"description": "no name"})
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal(apperrors.ErrInvalidParam, env.Error.Code)

	code, env = suite.do(http.MethodGet, "/api/v1/universes", nil)
	suite.Equal(http.StatusOK, code)
	var list []models.Universe
	suite.decode(env, &list)
	suite.Len(list, 1)

	code, _ = suite.do(http.MethodGet, "/api/v1/universes/999", nil)
	suite.Equal(http.StatusNotFound, code)

	code, env = suite.do(http.MethodGet, "/api/v1/universes/abc", nil)
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal(apperrors.ErrInvalidParam, env.Error.Code)
}

func (suite *APITestSuite) TestGameFlow() {
	universe := suite.fixture.Universe("Harbor")
	vale := suite.fixture.Character("alice", "Captain Vale")
	mira := suite.fixture.Character("bob", "Mira")

	code, env := suite.do(http.MethodPost, "/api/v1/games", map[string]any{
		"name":         "Harbor Night",
		"universe_ids": []uint{universe.ID},
		"character_id": vale.ID,
	})
	suite.Require().Equal(http.StatusCreated, code)
	var game models.Game
	suite.decode(env, &game)
	suite.Equal(models.GameStatusWaiting, game.Status)

	path := fmt.Sprintf("/api/v1/games/%d", game.ID)
	code, _ = suite.do(http.MethodPost, path+"/join", map[string]any{"character_id": mira.ID})
	suite.Equal(http.StatusOK, code)

	code, env = suite.do(http.MethodGet, path, nil)
	suite.Require().Equal(http.StatusOK, code)
	var detail struct {
		ID          uint               `json:"id"`
		UniverseIDs []uint             `json:"universe_ids"`
		Players     []models.Character `json:"players"`
	}
	suite.decode(env, &detail)
	suite.Equal(game.ID, detail.ID)
	suite.Equal([]uint{universe.ID}, detail.UniverseIDs)
	suite.Len(detail.Players, 2)

	// 角色已在其他进行中的游戏
	other := suite.fixture.Game(universe, "Lighthouse")
	code, env = suite.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/join", other.ID), map[string]any{"character_id": mira.ID})
	suite.Equal(http.StatusConflict, code)
	suite.Equal(apperrors.ErrCharacterInActiveGame, env.Error.Code)

	// 分组不是玩家的划分
	code, env = suite.do(http.MethodPost, path+"/branch", map[string]any{
		"groups": []map[string]any{{"character_ids": []uint{vale.ID}, "description": "docks"}},
	})
	suite.Equal(http.StatusUnprocessableEntity, code)
	suite.Equal(apperrors.ErrInvalidPartition, env.Error.Code)

	code, env = suite.do(http.MethodPost, path+"/branch", map[string]any{
		"groups": []map[string]any{
			{"character_ids": []uint{vale.ID}, "description": "docks"},
			{"character_ids": []uint{mira.ID}, "description": "lighthouse"},
		},
	})
	suite.Require().Equal(http.StatusCreated, code)
	var branch struct {
		OriginalGameID uint          `json:"original_game_id"`
		Games          []models.Game `json:"games"`
	}
	suite.decode(env, &branch)
	suite.Equal(game.ID, branch.OriginalGameID)
	suite.Len(branch.Games, 2)

	// 已分支的游戏不能再结束
	code, env = suite.do(http.MethodPost, path+"/close", nil)
	suite.Equal(http.StatusConflict, code)
	suite.Equal(apperrors.ErrStatusConflict, env.Error.Code)

	code, env = suite.do(http.MethodGet, "/api/v1/games?status=active", nil)
	suite.Require().Equal(http.StatusOK, code)
	var active []models.Game
	suite.decode(env, &active)
	suite.Empty(active)

	code, env = suite.do(http.MethodGet, fmt.Sprintf("/api/v1/universes/%d/events?limit=2", universe.ID), nil)
	suite.Require().Equal(http.StatusOK, code)
	var events []models.UniverseEvent
	suite.decode(env, &events)
	suite.Len(events, 2)
}

func (suite *APITestSuite) TestMergeEndpoint() {
	universe := suite.fixture.Universe("Harbor")
	a := suite.fixture.Game(universe, "Docks", suite.fixture.Character("alice", "Captain Vale"))
	b := suite.fixture.Game(universe, "Lighthouse", suite.fixture.Character("bob", "Mira"))
	path := fmt.Sprintf("/api/v1/universes/%d/merge", universe.ID)

	code, env := suite.do(http.MethodPost, path, map[string]any{"game_ids": []uint{a.ID, a.ID}})
	suite.Equal(http.StatusUnprocessableEntity, code)
	suite.Equal(apperrors.ErrDuplicateMergeTarget, env.Error.Code)

	code, env = suite.do(http.MethodPost, path, map[string]any{"game_ids": []uint{a.ID, b.ID}})
	suite.Require().Equal(http.StatusCreated, code)
	var result struct {
		Game      models.Game `json:"game"`
		SourceIDs []uint      `json:"source_ids"`
	}
	suite.decode(env, &result)
	suite.Equal("Merged: Docks + Lighthouse", result.Game.Name)

	// 合并通知已写入
	bob, err := suite.services.Store.Users().FindByUsername(context.Background(), "bob")
	suite.Require().NoError(err)
	code, env = suite.do(http.MethodGet, fmt.Sprintf("/api/v1/users/%d/notifications?unread=true", bob.ID), nil)
	suite.Require().Equal(http.StatusOK, code)
	var notes []models.Notification
	suite.decode(env, &notes)
	suite.Require().NotEmpty(notes)

	code, _ = suite.do(http.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/read", notes[0].ID), nil)
	suite.Equal(http.StatusOK, code)
	code, _ = suite.do(http.MethodPost, "/api/v1/notifications/missing/read", nil)
	suite.Equal(http.StatusNotFound, code)
}

func (suite *APITestSuite) TestNewsAndDetect() {
	universe := suite.fixture.Universe("Harbor")
	base := fmt.Sprintf("/api/v1/universes/%d", universe.ID)

	code, env := suite.do(http.MethodPost, base+"/news/publish", nil)
	suite.Require().Equal(http.StatusOK, code)
	var skipped map[string]any
	suite.decode(env, &skipped)
	suite.Equal("skipped", skipped["status"])

	suite.fixture.Game(universe, "Docks")
	code, _ = suite.do(http.MethodPost, "/api/v1/games", map[string]any{"name": "Lighthouse", "universe_ids": []uint{universe.ID}})
	suite.Require().Equal(http.StatusCreated, code)

	suite.model.Push("Smugglers were seen near the lighthouse.")
	code, env = suite.do(http.MethodPost, base+"/news/publish", nil)
	suite.Require().Equal(http.StatusOK, code)
	var published map[string]any
	suite.decode(env, &published)
	suite.Equal("published", published["status"])
	suite.Equal("Smugglers were seen near the lighthouse.", published["summary"])

	code, env = suite.do(http.MethodGet, base+"/news", nil)
	suite.Require().Equal(http.StatusOK, code)
	var news []models.News
	suite.decode(env, &news)
	suite.Len(news, 1)

	suite.model.Push(`{"conflicts": []}`)
	code, env = suite.do(http.MethodPost, base+"/detect", nil)
	suite.Require().Equal(http.StatusOK, code)

	code, env = suite.do(http.MethodGet, base+"/conflicts", nil)
	suite.Require().Equal(http.StatusOK, code)
	var conflicts []models.Conflict
	suite.decode(env, &conflicts)
	suite.Empty(conflicts)
}

func (suite *APITestSuite) TestGenerateSetup() {
	universe := suite.fixture.Universe("Harbor")
	suite.model.Push("A storm traps three crews in the harbor.")

	code, env := suite.do(http.MethodPost, "/api/v1/games/setup", map[string]any{
		"universe_id":      universe.ID,
		"game_description": "A storm",
	})
	suite.Require().Equal(http.StatusOK, code)
	var resp map[string]string
	suite.decode(env, &resp)
	suite.Equal("A storm traps three crews in the harbor.", resp["generated_setup"])

	code, env = suite.do(http.MethodPost, "/api/v1/games/setup", map[string]any{"universe_id": universe.ID})
	suite.Equal(http.StatusBadRequest, code)
}

func (suite *APITestSuite) TestCharacters() {
	code, env := suite.do(http.MethodPost, "/api/v1/characters", map[string]any{
		"username":       "alice",
		"name":           "Captain Vale",
		"character_data": map[string]any{"class": "Rogue"},
	})
	suite.Require().Equal(http.StatusCreated, code)

	code, env = suite.do(http.MethodGet, "/api/v1/characters?username=alice", nil)
	suite.Require().Equal(http.StatusOK, code)
	var characters []models.Character
	suite.decode(env, &characters)
	suite.Require().Len(characters, 1)
	suite.Equal("Captain Vale", characters[0].Name)

	code, _ = suite.do(http.MethodGet, "/api/v1/characters?username=nobody", nil)
	suite.Equal(http.StatusNotFound, code)

	code, _ = suite.do(http.MethodGet, "/api/v1/characters", nil)
	suite.Equal(http.StatusBadRequest, code)
}

func (suite *APITestSuite) TestGameSocketRequiresCharacter() {
	code, env := suite.do(http.MethodGet, "/ws/games/1", nil)
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal(apperrors.ErrInvalidParam, env.Error.Code)
}
