package engine

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/notify"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// BranchGroup 分支中的一组角色
type BranchGroup struct {
	CharacterIDs []uint `json:"character_ids"`
	Description  string `json:"description"`
}

// BranchResult 分支结果
type BranchResult struct {
	OriginalGameID uint           `json:"original_game_id"`
	BranchID       uint           `json:"branch_id"`
	Games          []*models.Game `json:"games"`
	Groups         []BranchGroup  `json:"groups"`
}

// ValidatePartition 检查分组是否是玩家的一个划分
// 每个玩家恰好出现在一个非空分组中，且不能出现未知角色
func ValidatePartition(players []uint, groups []BranchGroup) error {
	if len(groups) == 0 {
		return apperrors.New(apperrors.ErrInvalidPartition, "至少需要一个分组")
	}

	roster := make(map[uint]struct{}, len(players))
	for _, id := range players {
		roster[id] = struct{}{}
	}

	assigned := make(map[uint]int, len(players))
	for i, g := range groups {
		if len(g.CharacterIDs) == 0 {
			return apperrors.Newf(apperrors.ErrInvalidPartition, "第%d组为空", i+1)
		}
		for _, id := range g.CharacterIDs {
			if _, ok := roster[id]; !ok {
				return apperrors.Newf(apperrors.ErrInvalidPartition, "角色 %d 不在游戏中", id)
			}
			if prev, ok := assigned[id]; ok {
				return apperrors.Newf(apperrors.ErrInvalidPartition, "角色 %d 同时出现在第%d组和第%d组", id, prev+1, i+1)
			}
			assigned[id] = i
		}
	}

	if len(assigned) != len(roster) {
		var missing []string
		for _, id := range players {
			if _, ok := assigned[id]; !ok {
				missing = append(missing, fmt.Sprint(id))
			}
		}
		return apperrors.Newf(apperrors.ErrInvalidPartition, "角色未分配: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Brancher 分支引擎
type Brancher struct {
	store    Store
	events   *eventlog.Log
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewBrancher 创建分支引擎
func NewBrancher(store Store, events *eventlog.Log, notifier notify.Notifier, log *zap.Logger) *Brancher {
	return &Brancher{store: store, events: events, notifier: notifier, logger: log}
}

// Branch 把游戏按分组拆分为多个新游戏，原游戏进入branched终态
func (b *Brancher) Branch(ctx context.Context, gameID uint, groups []BranchGroup) (*BranchResult, error) {
	ctx, span := startSpan(ctx, "engine.branch")
	defer span.End()

	original, err := b.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if original.IsTerminal() {
		return nil, apperrors.Newf(apperrors.ErrGameTerminal, "游戏 %d 状态为 %s", gameID, original.Status)
	}
	players, err := b.store.Games().PlayerCharacterIDs(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if err := ValidatePartition(players, groups); err != nil {
		return nil, err
	}

	result := &BranchResult{OriginalGameID: gameID, Groups: groups}
	err = b.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		latest, err := tx.Summaries().Latest(ctx, gameID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		universeIDs, err := tx.Universes().UniverseIDsOfGame(ctx, gameID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}

		recipients := make([][]uint, len(groups))
		for i, group := range groups {
			name := "Branch of " + original.Name
			if desc := strings.TrimSpace(group.Description); desc != "" {
				name += ": " + desc
			}
			branch := &models.Game{Name: name, Status: models.GameStatusWaiting}
			if err := tx.Games().Create(ctx, branch); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
			}
			for _, uid := range universeIDs {
				if err := tx.Universes().LinkGame(ctx, uid, branch.ID); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
			}
			for _, cid := range group.CharacterIDs {
				if err := tx.Games().AddPlayer(ctx, branch.ID, cid); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
				character, err := tx.Users().FindCharacter(ctx, cid)
				if err != nil {
					return err
				}
				recipients[i] = append(recipients[i], character.UserID)
			}
			if latest != nil && strings.TrimSpace(latest.Summary) != "" {
				seed := &models.ChatMessage{
					GameID:  branch.ID,
					Sender:  models.SenderSystem,
					Message: fmt.Sprintf("Summary of %s:\n%s", original.Name, latest.Summary),
				}
				if err := tx.Chats().Create(ctx, seed); err != nil {
					return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
				}
			}
			result.Games = append(result.Games, branch)
		}

		ok, err := tx.Games().CompareAndSetStatus(ctx, gameID, models.OpenStatuses, models.GameStatusBranched)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrStatusConflict, "游戏 %d 已被其他操作结束", gameID)
		}

		newIDs := make([]uint, len(result.Games))
		for i, g := range result.Games {
			newIDs[i] = g.ID
		}
		payloadGroups := make([]eventlog.BranchGroupPayload, len(groups))
		for i, g := range groups {
			payloadGroups[i] = eventlog.BranchGroupPayload{CharacterIDs: g.CharacterIDs, Description: g.Description}
		}

		record := &models.Branch{
			OriginalGameID: gameID,
			NewGameIDs:     models.UintList(newIDs),
			Groups:         models.ToJSON(payloadGroups),
		}
		if err := tx.Ledger().CreateBranch(ctx, record); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		result.BranchID = record.ID

		log := b.events.In(tx)
		for _, uid := range universeIDs {
			if _, err := log.Append(ctx, uid, gameID, models.EventBranch, eventlog.BranchPayload{
				NewGameIDs: newIDs,
				Groups:     payloadGroups,
			}); err != nil {
				return err
			}
			for _, g := range result.Games {
				if _, err := log.Append(ctx, uid, g.ID, models.EventBranchedFrom, eventlog.BranchedFromPayload{OriginalGameID: gameID}); err != nil {
					return err
				}
			}
		}

		tx.AfterCommit(func() {
			for i, g := range result.Games {
				msg := fmt.Sprintf("Your party has branched from %q into %q (game %d).", original.Name, g.Name, g.ID)
				notify.Many(context.WithoutCancel(ctx), b.notifier, recipients[i], msg)
			}
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	b.logger.Info("游戏已分支", zap.Uint("game_id", gameID), zap.Int("branches", len(result.Games)))
	return result, nil
}
