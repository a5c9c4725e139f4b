package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/notify"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MergeResult 合并结果
type MergeResult struct {
	Game      *models.Game `json:"game"`
	SourceIDs []uint       `json:"source_ids"`
	MergerID  uint         `json:"merger_id"`
}

// Merger 合并引擎
type Merger struct {
	store    Store
	events   *eventlog.Log
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewMerger 创建合并引擎
func NewMerger(store Store, events *eventlog.Log, notifier notify.Notifier, log *zap.Logger) *Merger {
	return &Merger{store: store, events: events, notifier: notifier, logger: log}
}

// Merge 把多个游戏合并为一个新游戏
// 有效的来源少于两个时什么都不做，返回nil
func (m *Merger) Merge(ctx context.Context, universeID uint, gameIDs []uint) (*MergeResult, error) {
	ctx, span := startSpan(ctx, "engine.merge")
	defer span.End()

	ids := Dedupe(gameIDs)
	if len(ids) < 2 {
		return nil, nil
	}

	games, err := m.store.Games().FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	sources := make([]*models.Game, 0, len(games))
	for _, g := range games {
		if g.IsTerminal() {
			m.logger.Info("跳过已结束的游戏", zap.Uint("game_id", g.ID), zap.String("status", string(g.Status)))
			continue
		}
		sources = append(sources, g)
	}
	if len(sources) < 2 {
		return nil, nil
	}
	sort.SliceStable(sources, func(i, j int) bool {
		if !sources[i].CreatedAt.Equal(sources[j].CreatedAt) {
			return sources[i].CreatedAt.Before(sources[j].CreatedAt)
		}
		return sources[i].ID < sources[j].ID
	})

	names := make([]string, len(sources))
	sourceIDs := make([]uint, len(sources))
	for i, g := range sources {
		names[i] = g.Name
		sourceIDs[i] = g.ID
	}
	span.SetAttributes(attribute.Int("merge.sources", len(sources)))

	result := &MergeResult{SourceIDs: sourceIDs}
	err = m.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		merged := &models.Game{Name: "Merged: " + strings.Join(names, " + "), Status: models.GameStatusWaiting}
		if err := tx.Games().Create(ctx, merged); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		if err := tx.Universes().LinkGame(ctx, universeID, merged.ID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}

		recipients := make(map[uint][]uint, len(sources))
		var seeds []string
		for _, src := range sources {
			players, err := tx.Games().Players(ctx, src.ID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
			}
			for _, p := range players {
				if err := tx.Games().AddPlayer(ctx, merged.ID, p.CharacterID); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
				if p.Character != nil {
					recipients[src.ID] = append(recipients[src.ID], p.Character.UserID)
				}
			}

			latest, err := tx.Summaries().Latest(ctx, src.ID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
			}
			if latest != nil && strings.TrimSpace(latest.Summary) != "" {
				seeds = append(seeds, fmt.Sprintf("Summary of %s:\n%s", src.Name, latest.Summary))
			}
		}
		if len(seeds) > 0 {
			seed := &models.ChatMessage{GameID: merged.ID, Sender: models.SenderSystem, Message: strings.Join(seeds, "\n\n")}
			if err := tx.Chats().Create(ctx, seed); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
			}
		}

		for _, src := range sources {
			ok, err := tx.Games().CompareAndSetStatus(ctx, src.ID, models.OpenStatuses, models.GameStatusMerged)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
			}
			if !ok {
				return apperrors.Newf(apperrors.ErrStatusConflict, "游戏 %d 已被其他操作结束", src.ID)
			}
		}

		record := &models.Merger{UniverseID: universeID, FromGameIDs: models.UintList(sourceIDs), IntoGameID: merged.ID}
		if err := tx.Ledger().CreateMerger(ctx, record); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		if _, err := m.events.In(tx).Append(ctx, universeID, merged.ID, models.EventMerger, eventlog.MergerPayload{
			FromInstanceIDs: sourceIDs,
			IntoInstanceID:  merged.ID,
		}); err != nil {
			return err
		}

		result.Game = merged
		result.MergerID = record.ID

		tx.AfterCommit(func() {
			for _, src := range sources {
				msg := fmt.Sprintf("Your game %q has merged into %q (game %d).", src.Name, merged.Name, merged.ID)
				notify.Many(context.WithoutCancel(ctx), m.notifier, recipients[src.ID], msg)
			}
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.logger.Info("游戏已合并",
		zap.Uint("universe_id", universeID),
		zap.Uints("from", sourceIDs),
		zap.Uint("into", result.Game.ID),
	)
	return result, nil
}
