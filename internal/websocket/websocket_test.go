package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/game"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/notify"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/token"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChatTestSuite 端到端聊天测试套件
type ChatTestSuite struct {
	suite.Suite
	db      *gorm.DB
	manager *repository.Manager
	model   *llm.Scripted
	hub     *Hub
	server  *httptest.Server

	vale     *models.Character
	mira     *models.Character
	stranger *models.Character
	game     *models.Game
}

func (suite *ChatTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.manager = repository.NewManager(suite.db)
	suite.model = llm.NewScripted()
	log := zap.NewNop()

	fixture := repository.NewFixture(suite.T(), suite.db)
	universe := fixture.Universe("Harbor")
	suite.vale = fixture.Character("alice", "Captain Vale")
	suite.mira = fixture.Character("bob", "Mira")
	suite.stranger = fixture.Character("carol", "Tamsin")
	suite.game = fixture.Game(universe, "Harbor Night", suite.vale, suite.mira)
	fixture.Message(suite.game, models.SenderGM, "The harbor is quiet.")

	suite.hub = NewHub(config.WebSocketConfig{}, log)
	sink := notify.NewSink(suite.manager.Notifications(), suite.hub, log)
	cfg := config.NarrativeConfig{ContextThresholdPercent: 50, RecentMessages: 5, MaxToolRounds: 2}
	events := eventlog.New(suite.manager.Events(), log)

	orch := game.NewOrchestrator(&game.OrchestratorConfig{
		Store:       suite.manager,
		Registry:    game.NewSessionRegistry(suite.manager.Chats(), log),
		Broadcaster: suite.hub,
		Assembler:   narrative.NewAssembler(suite.manager, token.NewEstimator(nil, log), cfg, "gpt-4", log),
		Planner: narrative.NewPlanner(suite.model, lore.NewDatabase(suite.manager.Rulesets()),
			engine.NewBrancher(suite.manager, events, sink, log), suite.manager, cfg, log),
		Completer: suite.model,
		Events:    events,
		Lifecycle: engine.NewLifecycle(suite.manager, events, log),
		Notifier:  sink,
		Narrative: cfg,
		Logger:    log,
	})
	handler := NewChatHandler(suite.hub, orch, log)

	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gameID, _ := strconv.Atoi(r.URL.Query().Get("game"))
		characterID, _ := strconv.Atoi(r.URL.Query().Get("character"))
		handler.ServeGame(w, r, uint(gameID), uint(characterID))
	}))
}

func (suite *ChatTestSuite) TearDownTest() {
	suite.server.Close()
	repository.CleanupTestDB(suite.db)
}

func (suite *ChatTestSuite) dial(c *models.Character) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(suite.server.URL, "http") +
		"/?game=" + strconv.Itoa(int(suite.game.ID)) + "&character=" + strconv.Itoa(int(c.ID))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(suite.T(), err)
	suite.T().Cleanup(func() { conn.Close() })
	return conn
}

func (suite *ChatTestSuite) read(conn *websocket.Conn) *Message {
	require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(suite.T(), err)
	var msg Message
	require.NoError(suite.T(), json.Unmarshal(data, &msg))
	return &msg
}

func (suite *ChatTestSuite) readFrame(conn *websocket.Conn) game.Frame {
	msg := suite.read(conn)
	require.Equal(suite.T(), MessageTypeChat, msg.Type)
	var frame game.Frame
	require.NoError(suite.T(), json.Unmarshal(msg.Data, &frame))
	return frame
}

// TestJoinChatAndTrigger 加入、聊天、触发GM与通知推送
func (suite *ChatTestSuite) TestJoinChatAndTrigger() {
	alice := suite.dial(suite.vale)
	assert.Equal(suite.T(), "The harbor is quiet.", suite.readFrame(alice).Message)

	bob := suite.dial(suite.mira)
	assert.Equal(suite.T(), "The harbor is quiet.", suite.readFrame(bob).Message)

	joined := suite.readFrame(alice)
	assert.Equal(suite.T(), models.SenderSystem, joined.Sender)
	assert.Equal(suite.T(), "Mira (bob) has joined the game.", joined.Message)
	assert.Contains(suite.T(), suite.readFrame(alice).Message, "Mira's full profile:")

	require.NoError(suite.T(), alice.WriteJSON(map[string]string{"type": "chat", "message": "We sail at dawn."}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := suite.readFrame(conn)
		assert.Equal(suite.T(), "Captain Vale (alice)", frame.Sender)
		assert.Equal(suite.T(), "We sail at dawn.", frame.Message)
		assert.Equal(suite.T(), suite.game.ID, frame.GameID)
	}

	suite.model.Push("Fog rolls in over the docks.")
	require.NoError(suite.T(), alice.WriteMessage(websocket.TextMessage, []byte("/gm")))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := suite.readFrame(conn)
		assert.Equal(suite.T(), models.SenderGM, frame.Sender)
		assert.Equal(suite.T(), "Fog rolls in over the docks.", frame.Message)
	}

	note := suite.read(bob)
	require.Equal(suite.T(), MessageTypeNotification, note.Type)
	var notification models.Notification
	require.NoError(suite.T(), json.Unmarshal(note.Data, &notification))
	assert.Equal(suite.T(), `Game "Harbor Night" has advanced.`, notification.Message)
	assert.Equal(suite.T(), suite.mira.UserID, notification.UserID)

	stored, err := suite.manager.Notifications().ListByUser(context.Background(), suite.mira.UserID, true)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), stored, 1)
}

// TestPing 心跳请求返回pong
func (suite *ChatTestSuite) TestPing() {
	alice := suite.dial(suite.vale)
	suite.readFrame(alice)

	require.NoError(suite.T(), alice.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(suite.T(), MessageTypePong, suite.read(alice).Type)

	require.NoError(suite.T(), alice.WriteJSON(map[string]string{"type": "spin"}))
	msg := suite.read(alice)
	assert.Equal(suite.T(), MessageTypeError, msg.Type)
	assert.Contains(suite.T(), string(msg.Data), strconv.Itoa(int(apperrors.ErrMessageFormat)))
}

// TestJoin_NotAPlayer 非玩家收到错误后连接被关闭
func (suite *ChatTestSuite) TestJoin_NotAPlayer() {
	conn := suite.dial(suite.stranger)
	msg := suite.read(conn)
	require.Equal(suite.T(), MessageTypeError, msg.Type)

	var body struct {
		Code int `json:"code"`
	}
	require.NoError(suite.T(), json.Unmarshal(msg.Data, &body))
	assert.Equal(suite.T(), int(apperrors.ErrNotAPlayer), body.Code)

	require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), 0, suite.hub.RoomSize(suite.game.ID))
	assert.Equal(suite.T(), 0, suite.hub.GetOnlineCount())
}

// TestDisconnect_LeavesRoom 断开后从房间移除
func (suite *ChatTestSuite) TestDisconnect_LeavesRoom() {
	alice := suite.dial(suite.vale)
	suite.readFrame(alice)
	bob := suite.dial(suite.mira)
	suite.readFrame(bob)
	assert.Equal(suite.T(), 2, suite.hub.RoomSize(suite.game.ID))

	alice.Close()
	assert.Eventually(suite.T(), func() bool {
		return suite.hub.RoomSize(suite.game.ID) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(suite.T(), []uint{suite.mira.UserID}, suite.hub.GetOnlineUsers())
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, new(ChatTestSuite))
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{SendBufferSize: 4}, zap.NewNop())
	a := NewClient(hub, nil, 7, 1)
	b := NewClient(hub, nil, 7, 2)
	other := NewClient(hub, nil, 8, 3)
	for _, c := range []*Client{a, b, other} {
		hub.Register(c)
	}

	hub.Broadcast(7, game.NewFrame(7, "GM", "hello"), a.ID())
	assert.Len(t, a.send, 0)
	assert.Len(t, b.send, 1)
	assert.Len(t, other.send, 0)

	var msg Message
	require.NoError(t, json.Unmarshal(<-b.send, &msg))
	assert.Equal(t, MessageTypeChat, msg.Type)
	assert.Equal(t, uint(7), msg.GameID)
}

func TestHub_PushNotification(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, zap.NewNop())
	a := NewClient(hub, nil, 7, 1)
	hub.Register(a)
	hub.BindUser(a, 42)

	hub.PushNotification(42, &models.Notification{ID: "n1", UserID: 42, Message: "hi"})
	hub.PushNotification(43, &models.Notification{ID: "n2", UserID: 43, Message: "nobody"})
	require.Len(t, a.send, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(<-a.send, &msg))
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Contains(t, string(msg.Data), `"id":"n1"`)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{SendBufferSize: 1}, zap.NewNop())
	a := NewClient(hub, nil, 7, 1)
	hub.Register(a)
	hub.BindUser(a, 42)

	require.NoError(t, a.Send(game.NewFrame(7, "GM", "one")))
	assert.ErrorIs(t, a.Send(game.NewFrame(7, "GM", "two")), ErrSendBufferFull)

	hub.Unregister(a)
	hub.Unregister(a)
	assert.Equal(t, 0, hub.GetOnlineCount())
	assert.Equal(t, 0, hub.RoomCount())
	assert.Empty(t, hub.GetOnlineUsers())
	assert.ErrorIs(t, a.Send(game.NewFrame(7, "GM", "three")), ErrClientClosed)
	assert.ErrorIs(t, hub.SendToClient(a.ID(), &Message{Type: MessageTypePing}), ErrClientNotFound)
}

func TestHub_AttachJoinsRoom(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{SendBufferSize: 4}, zap.NewNop())
	a := NewClient(hub, nil, 7, 1)
	b := NewClient(hub, nil, 7, 2)
	b.Attach()

	// 未加入房间的连接收不到广播，但可以直接发送
	hub.Broadcast(7, game.NewFrame(7, "GM", "hello"), "")
	assert.Len(t, a.send, 0)
	assert.Len(t, b.send, 1)
	require.NoError(t, a.Send(game.NewFrame(7, "GM", "replayed")))
	assert.Len(t, a.send, 1)

	a.Attach()
	assert.Equal(t, 2, hub.RoomSize(7))

	c := NewClient(hub, nil, 7, 3)
	hub.Unregister(c)
	assert.ErrorIs(t, c.Send(game.NewFrame(7, "GM", "late")), ErrClientClosed)
	assert.Equal(t, 2, hub.RoomSize(7))
}
