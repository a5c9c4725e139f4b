package engine

import (
	"context"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// Lifecycle 游戏创建、激活与关闭
type Lifecycle struct {
	store  Store
	events *eventlog.Log
	logger *zap.Logger
}

// NewLifecycle 创建生命周期引擎
func NewLifecycle(store Store, events *eventlog.Log, log *zap.Logger) *Lifecycle {
	return &Lifecycle{store: store, events: events, logger: log}
}

// Create 创建游戏，关联宇宙并加入发起角色
func (l *Lifecycle) Create(ctx context.Context, game *models.Game, universeIDs []uint, characterIDs ...uint) error {
	game.Status = models.GameStatusWaiting
	return l.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		if err := tx.Games().Create(ctx, game); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		for _, uid := range Dedupe(universeIDs) {
			if _, err := tx.Universes().FindByID(ctx, uid); err != nil {
				return err
			}
			if err := tx.Universes().LinkGame(ctx, uid, game.ID); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
			}
			if _, err := l.events.In(tx).Append(ctx, uid, game.ID, models.EventGameCreated, eventlog.StatusPayload{
				Name:   game.Name,
				Status: game.Status,
			}); err != nil {
				return err
			}
		}
		for _, cid := range Dedupe(characterIDs) {
			if err := tx.Games().AddPlayer(ctx, game.ID, cid); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
			}
		}
		return nil
	})
}

// Activate 首条消息时把waiting游戏切到active，返回是否发生了切换
// 终态游戏返回 ErrGameTerminal
func (l *Lifecycle) Activate(ctx context.Context, gameID uint) (bool, error) {
	changed, err := l.store.Games().CompareAndSetStatus(ctx, gameID,
		[]models.GameStatus{models.GameStatusWaiting}, models.GameStatusActive)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}
	if changed {
		l.logger.Debug("游戏已激活", zap.Uint("game_id", gameID))
		return true, nil
	}

	game, err := l.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return false, err
	}
	if game.IsTerminal() {
		return false, apperrors.Newf(apperrors.ErrGameTerminal, "游戏 %d 状态为 %s", gameID, game.Status)
	}
	return false, nil
}

// Close 关闭游戏，已是终态时返回 ErrStatusConflict
func (l *Lifecycle) Close(ctx context.Context, gameID uint) error {
	ctx, span := startSpan(ctx, "engine.close")
	defer span.End()

	game, err := l.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return err
	}

	return l.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		ok, err := tx.Games().CompareAndSetStatus(ctx, gameID, models.OpenStatuses, models.GameStatusClosed)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrStatusConflict, "游戏 %d 已结束", gameID)
		}

		universeIDs, err := tx.Universes().UniverseIDsOfGame(ctx, gameID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		for _, uid := range universeIDs {
			if _, err := l.events.In(tx).Append(ctx, uid, gameID, models.EventGameClosed, eventlog.StatusPayload{
				Name:   game.Name,
				Status: models.GameStatusClosed,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
