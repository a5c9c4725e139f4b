package engine

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ConflictPrompt 冲突检测的系统提示
const ConflictPrompt = `You are the continuity editor of a shared role-playing universe.
Several games run concurrently in this universe. Below are recent universe events, oldest first,
one per line as: <time> [<game_id>] <event_type> – <payload>.
Find HARD conflicts only: the same character, item or place in mutually exclusive states across
different games (for example one character in two places at once).
Return ONLY a JSON array. Each element is {"game_ids": [<game_id>, ...], "description": "<what conflicts>"}.
Return [] when there is no hard conflict.

Events:`

// DetectedConflict 一次检测出的冲突
type DetectedConflict struct {
	ConflictID  uint   `json:"conflict_id"`
	GameIDs     []uint `json:"game_ids"`
	Description string `json:"description"`
	MergedInto  *uint  `json:"merged_into,omitempty"`
}

// ConflictCandidate 模型给出的冲突
type ConflictCandidate struct {
	GameIDs     []uint `json:"game_ids"`
	Description string `json:"description"`
}

// ConflictParse 冲突输出的解析结果
type ConflictParse struct {
	Kind      ParseKind
	Conflicts []ConflictCandidate
	Err       error
}

var conflictSchema = llm.MustResolve(&jsonschema.Schema{
	Type: "array",
	Items: &jsonschema.Schema{
		Type:     "object",
		Required: []string{"game_ids"},
		Properties: map[string]*jsonschema.Schema{
			"game_ids":    {Type: "array", Items: &jsonschema.Schema{Type: "integer"}},
			"description": {Type: "string"},
		},
	},
})

// DecodeConflicts 严格解析冲突列表
func DecodeConflicts(raw string) ConflictParse {
	var out []ConflictCandidate
	if err := llm.DecodeStrict(raw, conflictSchema, &out); err != nil {
		return ConflictParse{Kind: ParseInvalid, Err: err}
	}
	return ConflictParse{Kind: ParseOK, Conflicts: out}
}

// Detector 冲突检测器
type Detector struct {
	store     Store
	events    *eventlog.Log
	completer llm.Completer
	merger    *Merger
	limit     int
	logger    *zap.Logger
}

// NewDetector 创建冲突检测器
func NewDetector(store Store, events *eventlog.Log, completer llm.Completer, merger *Merger, cfg config.NarrativeConfig, log *zap.Logger) *Detector {
	limit := cfg.DetectorEvents
	if limit <= 0 {
		limit = 20
	}
	return &Detector{store: store, events: events, completer: completer, merger: merger, limit: limit, logger: log}
}

// Detect 检测宇宙内的冲突，记录并合并每个有效冲突
// 模型输出格式错误时只记录日志，不做任何修改
func (d *Detector) Detect(ctx context.Context, universeID uint) ([]DetectedConflict, error) {
	ctx, span := startSpan(ctx, "engine.detect")
	defer span.End()
	span.SetAttributes(attribute.Int("universe.id", int(universeID)))

	events, err := d.events.Recent(ctx, universeID, d.limit)
	if err != nil {
		return nil, err
	}
	events, err = d.liveEvents(ctx, events)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	lines := make([]string, 0, len(events)+1)
	lines = append(lines, ConflictPrompt)
	for _, e := range events {
		lines = append(lines, eventlog.FormatLine(e))
	}

	raw, err := d.completer.Complete(ctx, strings.Join(lines, "\n"))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parsed := DecodeConflicts(raw)
	if parsed.Kind == ParseInvalid {
		d.logger.Warn("冲突检测输出无法解析，忽略本次结果",
			zap.Uint("universe_id", universeID),
			zap.String("raw", raw),
			zap.Error(parsed.Err),
		)
		return nil, nil
	}

	var detected []DetectedConflict
	for _, candidate := range parsed.Conflicts {
		ids := Dedupe(candidate.GameIDs)
		if len(ids) < 2 {
			continue
		}
		conflict, err := d.record(ctx, universeID, ids, candidate.Description)
		if err != nil {
			d.logger.Error("记录冲突失败", zap.Uint("universe_id", universeID), zap.Error(err))
			continue
		}

		result, err := d.merger.Merge(ctx, universeID, ids)
		if err != nil {
			d.logger.Warn("冲突合并失败", zap.Uint("conflict_id", conflict.ConflictID), zap.Error(err))
		} else if result != nil {
			into := result.Game.ID
			conflict.MergedInto = &into
			if err := d.store.Ledger().SetConflictMergedInto(ctx, conflict.ConflictID, into); err != nil {
				d.logger.Error("更新冲突合并目标失败", zap.Uint("conflict_id", conflict.ConflictID), zap.Error(err))
			}
		}
		detected = append(detected, *conflict)
	}

	span.SetAttributes(attribute.Int("conflicts", len(detected)))
	return detected, nil
}

// liveEvents 过滤掉已结束游戏的事件
func (d *Detector) liveEvents(ctx context.Context, events []*models.UniverseEvent) ([]*models.UniverseEvent, error) {
	ids := make([]uint, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.GameID)
	}
	statuses, err := d.store.Games().StatusOf(ctx, Dedupe(ids))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	live := events[:0]
	for _, e := range events {
		if status, ok := statuses[e.GameID]; ok && status.IsTerminal() {
			continue
		}
		live = append(live, e)
	}
	return live, nil
}

func (d *Detector) record(ctx context.Context, universeID uint, ids []uint, description string) (*DetectedConflict, error) {
	out := &DetectedConflict{GameIDs: ids, Description: description}
	err := d.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		row := &models.Conflict{UniverseID: universeID, GameIDs: models.UintList(ids), Description: description}
		if err := tx.Ledger().CreateConflict(ctx, row); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		out.ConflictID = row.ID
		_, err := d.events.In(tx).Append(ctx, universeID, ids[0], models.EventConflict, eventlog.ConflictPayload{
			ConflictID:  row.ID,
			GameIDs:     ids,
			Description: description,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
