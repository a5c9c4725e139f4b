package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// PlayerCharacterType 玩家角色实体的类型
const PlayerCharacterType = "player_character"

// EntityPrompt 实体抽取提示
const EntityPrompt = `You extract named entities from a role-playing game transcript.
Return ONLY a JSON object matching this schema:
{"entities": [{"name": "<proper name>", "type": "<person|place|organization|item|creature|event>", "description": "<one sentence>"}]}
Only include entities that are named in the transcript. Do not redefine the known player characters.`

// ExtractedEntity 抽取出的实体
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// EntityParse 实体输出的解析结果
type EntityParse struct {
	Kind     ParseKind
	Entities []ExtractedEntity
	Err      error
}

var entitySchema = llm.MustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"entities"},
	Properties: map[string]*jsonschema.Schema{
		"entities": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"name"},
				Properties: map[string]*jsonschema.Schema{
					"name":        {Type: "string"},
					"type":        {Type: "string"},
					"description": {Type: "string"},
				},
			},
		},
	},
})

// DecodeEntities 严格解析实体列表
func DecodeEntities(raw string) EntityParse {
	var out struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := llm.DecodeStrict(raw, entitySchema, &out); err != nil {
		return EntityParse{Kind: ParseInvalid, Err: err}
	}
	return EntityParse{Kind: ParseOK, Entities: out.Entities}
}

// EntityExtractor 命名实体抽取
type EntityExtractor struct {
	store     Store
	events    *eventlog.Log
	completer llm.Completer
	logger    *zap.Logger
}

// NewEntityExtractor 创建实体抽取器
func NewEntityExtractor(store Store, events *eventlog.Log, completer llm.Completer, log *zap.Logger) *EntityExtractor {
	return &EntityExtractor{store: store, events: events, completer: completer, logger: log}
}

// Refresh 从对话中抽取实体并写入游戏所在的每个宇宙，返回刷新后的名册
// 游戏的玩家角色先作为受保护的实体写入
func (x *EntityExtractor) Refresh(ctx context.Context, gameID uint, history []string) ([]*models.NamedEntity, error) {
	ctx, span := startSpan(ctx, "engine.entities")
	defer span.End()

	universeIDs, err := x.store.Universes().UniverseIDsOfGame(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	players, err := x.store.Games().Players(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	known := make([]string, 0, len(players))
	for _, p := range players {
		if p.Character != nil {
			known = append(known, p.Character.Name)
		}
	}

	prompt := EntityPrompt
	if len(known) > 0 {
		prompt += "\n\nKnown player characters: " + strings.Join(known, ", ")
	}
	prompt += "\n\nTranscript:\n" + strings.Join(history, "\n")

	raw, err := x.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	parsed := DecodeEntities(raw)
	if parsed.Kind == ParseInvalid {
		// 无法解析的抽取结果不写入任何内容，返回当前名册
		x.logger.Warn("实体抽取输出无法解析", zap.Uint("game_id", gameID), zap.Error(parsed.Err))
		if len(universeIDs) == 0 {
			return []*models.NamedEntity{}, nil
		}
		return x.store.Entities().ListByUniverse(ctx, universeIDs[0])
	}

	if len(universeIDs) == 0 {
		out := make([]*models.NamedEntity, 0, len(parsed.Entities))
		for _, e := range parsed.Entities {
			out = append(out, &models.NamedEntity{Name: e.Name, EntityType: e.Type, Description: e.Description})
		}
		return out, nil
	}

	err = x.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		for _, uid := range universeIDs {
			for _, p := range players {
				if p.Character == nil {
					continue
				}
				if err := tx.Entities().Upsert(ctx, &models.NamedEntity{
					UniverseID:      uid,
					Name:            p.Character.Name,
					EntityType:      PlayerCharacterType,
					Description:     fmt.Sprintf("Player character of %s", p.Character.DisplayName()),
					PlayerCharacter: true,
				}); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
			}

			payload := eventlog.EntitiesPayload{Entities: make([]eventlog.EntityPayload, 0, len(parsed.Entities))}
			for _, e := range parsed.Entities {
				name := strings.TrimSpace(e.Name)
				if name == "" {
					continue
				}
				if err := tx.Entities().Upsert(ctx, &models.NamedEntity{
					UniverseID:  uid,
					Name:        name,
					EntityType:  e.Type,
					Description: e.Description,
				}); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
				payload.Entities = append(payload.Entities, eventlog.EntityPayload{Name: name, Type: e.Type, Description: e.Description})
			}
			if _, err := x.events.In(tx).Append(ctx, uid, gameID, models.EventNamedEntities, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return x.store.Entities().ListByUniverse(ctx, universeIDs[0])
}

// FormatRoster 渲染实体名册
func FormatRoster(entities []*models.NamedEntity) string {
	if len(entities) == 0 {
		return "No named entities yet."
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		line := e.Name
		if e.EntityType != "" {
			line += " [" + e.EntityType + "]"
		}
		if e.Description != "" {
			line += ": " + e.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
