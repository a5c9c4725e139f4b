package eventlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventLogTestSuite 事件日志测试套件
type EventLogTestSuite struct {
	suite.Suite
	db      *gorm.DB
	manager *repository.Manager
	log     *Log
	ctx     context.Context
}

func (suite *EventLogTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.manager = repository.NewManager(suite.db)
	suite.log = New(suite.manager.Events(), zap.NewNop())
	suite.ctx = context.Background()
}

func (suite *EventLogTestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

// TestAppend_RecentOldestFirst 最近事件按从旧到新返回
func (suite *EventLogTestSuite) TestAppend_RecentOldestFirst() {
	for i := uint(1); i <= 4; i++ {
		_, err := suite.log.Append(suite.ctx, 7, i, models.EventGMSummary, SummaryPayload{Summary: "turn"})
		require.NoError(suite.T(), err)
	}
	_, err := suite.log.Append(suite.ctx, 8, 99, models.EventNews, NewsPayload{Summary: "elsewhere"})
	require.NoError(suite.T(), err)

	events, err := suite.log.Recent(suite.ctx, 7, 3)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), events, 3)
	assert.Equal(suite.T(), []uint{2, 3, 4}, []uint{events[0].GameID, events[1].GameID, events[2].GameID})
}

// TestAppend_Payload 事件内容编码为JSON
func (suite *EventLogTestSuite) TestAppend_Payload() {
	event, err := suite.log.Append(suite.ctx, 1, 3, models.EventMerger, MergerPayload{FromInstanceIDs: []uint{1, 2}, IntoInstanceID: 3})
	require.NoError(suite.T(), err)

	var payload MergerPayload
	require.NoError(suite.T(), json.Unmarshal(event.Payload, &payload))
	assert.Equal(suite.T(), []uint{1, 2}, payload.FromInstanceIDs)

	merged, err := suite.log.ByType(suite.ctx, 1, models.EventMerger)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), merged, 1)
}

// TestAppend_InTransaction 事务回滚时事件一并丢弃
func (suite *EventLogTestSuite) TestAppend_InTransaction() {
	err := suite.manager.WithTransaction(suite.ctx, func(tx *repository.Transaction) error {
		_, err := suite.log.In(tx).Append(suite.ctx, 1, 1, models.EventBranch, BranchPayload{})
		require.NoError(suite.T(), err)
		return assert.AnError
	})
	assert.Error(suite.T(), err)

	events, err := suite.log.Recent(suite.ctx, 1, 10)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), events)
}

func TestFormatLine(t *testing.T) {
	e := &models.UniverseEvent{
		GameID:    12,
		EventType: models.EventGMSummary,
		Payload:   []byte(`{"summary":"Vale boards the Gull"}`),
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, `2024-05-01T10:00:00Z [12] gm_summary – {"summary":"Vale boards the Gull"}`, FormatLine(e))
}

func TestEventLogSuite(t *testing.T) {
	suite.Run(t, new(EventLogTestSuite))
}
