// Package eventlog 宇宙级只追加事件日志，引擎之间只通过它和游戏状态交互
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/logger"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// ConflictPayload conflict事件内容
type ConflictPayload struct {
	ConflictID  uint   `json:"conflict_id"`
	GameIDs     []uint `json:"game_ids"`
	Description string `json:"description"`
}

// MergerPayload merger事件内容
type MergerPayload struct {
	FromInstanceIDs []uint `json:"from_instance_ids"`
	IntoInstanceID  uint   `json:"into_instance_id"`
}

// BranchGroupPayload 分支分组
type BranchGroupPayload struct {
	CharacterIDs []uint `json:"character_ids"`
	Description  string `json:"description"`
}

// BranchPayload branch事件内容
type BranchPayload struct {
	NewGameIDs []uint               `json:"new_game_ids"`
	Groups     []BranchGroupPayload `json:"groups"`
}

// BranchedFromPayload branched_from事件内容
type BranchedFromPayload struct {
	OriginalGameID uint `json:"original_game_id"`
}

// NewsPayload news事件内容
type NewsPayload struct {
	NewsID  uint   `json:"news_id"`
	Summary string `json:"summary"`
}

// SummaryPayload gm_summary事件内容
type SummaryPayload struct {
	SummaryID uint   `json:"summary_id"`
	Summary   string `json:"summary"`
}

// EntityPayload 实体条目
type EntityPayload struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// EntitiesPayload named_entities事件内容
type EntitiesPayload struct {
	Entities []EntityPayload `json:"entities"`
}

// StatusPayload game_created / game_closed事件内容
type StatusPayload struct {
	Name   string            `json:"name"`
	Status models.GameStatus `json:"status"`
}

// Log 事件日志
type Log struct {
	events repository.EventRepository
	logger *zap.Logger
}

// New 创建事件日志
func New(events repository.EventRepository, log *zap.Logger) *Log {
	return &Log{events: events, logger: log}
}

// In 绑定到一组仓储（通常是事务）上的事件日志
func (l *Log) In(repos repository.Repositories) *Log {
	return &Log{events: repos.Events(), logger: l.logger}
}

// Append 追加事件，payload编码为JSON
func (l *Log) Append(ctx context.Context, universeID, gameID uint, eventType models.EventType, payload interface{}) (*models.UniverseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidParam, "事件内容无法编码")
	}

	event := &models.UniverseEvent{
		UniverseID: universeID,
		GameID:     gameID,
		EventType:  eventType,
		Payload:    data,
	}
	if err := l.events.Append(ctx, event); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "追加事件失败")
	}

	logger.LogNarrativeEvent(l.logger, string(eventType), universeID, gameID, nil)
	return event, nil
}

// Recent 最近limit条事件，按时间从旧到新
func (l *Log) Recent(ctx context.Context, universeID uint, limit int) ([]*models.UniverseEvent, error) {
	events, err := l.events.Recent(ctx, universeID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// ByType 指定类型的事件，按插入顺序
func (l *Log) ByType(ctx context.Context, universeID uint, eventType models.EventType) ([]*models.UniverseEvent, error) {
	events, err := l.events.ByType(ctx, universeID, eventType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return events, nil
}

// FormatLine 渲染为提示词中的一行：时间 [游戏] 类型 – 内容
func FormatLine(e *models.UniverseEvent) string {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	return fmt.Sprintf("%s [%d] %s – %s", e.CreatedAt.UTC().Format(time.RFC3339), e.GameID, e.EventType, payload)
}
