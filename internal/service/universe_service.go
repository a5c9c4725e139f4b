package service

import (
	"context"
	"strings"

	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// defaultEventLimit 事件列表默认条数
const defaultEventLimit = 100

// universeService 宇宙服务实现
type universeService struct {
	store    engine.Store
	events   *eventlog.Log
	news     *engine.NewsExtractor
	detector *engine.Detector
	merger   *engine.Merger
	logger   *zap.Logger
}

// NewUniverseService 创建宇宙服务
func NewUniverseService(store engine.Store, events *eventlog.Log, news *engine.NewsExtractor, detector *engine.Detector, merger *engine.Merger, log *zap.Logger) UniverseService {
	return &universeService{
		store:    store,
		events:   events,
		news:     news,
		detector: detector,
		merger:   merger,
		logger:   log,
	}
}

// Create 创建宇宙，指定的规则集必须存在
func (s *universeService) Create(ctx context.Context, req *CreateUniverseRequest) (*models.Universe, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "宇宙名称不能为空")
	}
	if req.RulesetID != nil {
		if _, err := s.store.Rulesets().FindByID(ctx, *req.RulesetID); err != nil {
			return nil, err
		}
	}

	universe := &models.Universe{
		Name:        name,
		Description: req.Description,
		RulesetID:   req.RulesetID,
		CreatorID:   req.CreatorID,
	}
	if err := s.store.Universes().Create(ctx, universe); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	s.logger.Info("创建宇宙", zap.Uint("universe_id", universe.ID), zap.String("name", name))
	return universe, nil
}

// Get 获取宇宙
func (s *universeService) Get(ctx context.Context, universeID uint) (*models.Universe, error) {
	return s.store.Universes().FindByID(ctx, universeID)
}

// List 分页列出宇宙
func (s *universeService) List(ctx context.Context, page, pageSize int) ([]*models.Universe, error) {
	universes, err := s.store.Universes().List(ctx, repository.NewPagination(page, pageSize))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return universes, nil
}

// LinkGame 把游戏关联到宇宙
func (s *universeService) LinkGame(ctx context.Context, universeID, gameID uint) error {
	if _, err := s.store.Universes().FindByID(ctx, universeID); err != nil {
		return err
	}
	if _, err := s.store.Games().FindByID(ctx, gameID); err != nil {
		return err
	}
	if err := s.store.Universes().LinkGame(ctx, universeID, gameID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}
	return nil
}

// Games 宇宙下的游戏
func (s *universeService) Games(ctx context.Context, universeID uint) ([]*models.Game, error) {
	if _, err := s.store.Universes().FindByID(ctx, universeID); err != nil {
		return nil, err
	}
	games, err := s.store.Universes().Games(ctx, universeID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return games, nil
}

// Events 最近的事件，最新的在前
func (s *universeService) Events(ctx context.Context, universeID uint, limit int) ([]*models.UniverseEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	return s.events.Recent(ctx, universeID, limit)
}

// Conflicts 已记录的冲突
func (s *universeService) Conflicts(ctx context.Context, universeID uint) ([]*models.Conflict, error) {
	conflicts, err := s.store.Ledger().Conflicts(ctx, universeID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return conflicts, nil
}

// News 最近的新闻，最新的在前
func (s *universeService) News(ctx context.Context, universeID uint, limit int) ([]*models.News, error) {
	news, err := s.store.News().Recent(ctx, []uint{universeID}, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return news, nil
}

// PublishNews 立即生成一条新闻，模型无输出时返回nil
func (s *universeService) PublishNews(ctx context.Context, universeID uint) (*models.News, error) {
	if _, err := s.store.Universes().FindByID(ctx, universeID); err != nil {
		return nil, err
	}
	return s.news.Publish(ctx, universeID)
}

// Detect 立即执行一次冲突检测
func (s *universeService) Detect(ctx context.Context, universeID uint) ([]engine.DetectedConflict, error) {
	if _, err := s.store.Universes().FindByID(ctx, universeID); err != nil {
		return nil, err
	}
	return s.detector.Detect(ctx, universeID)
}

// Merge 手动合并游戏
// 去重后不足两个游戏返回 ErrDuplicateMergeTarget，可合并的游戏不足两个返回 ErrGameTerminal
func (s *universeService) Merge(ctx context.Context, universeID uint, gameIDs []uint) (*engine.MergeResult, error) {
	if _, err := s.store.Universes().FindByID(ctx, universeID); err != nil {
		return nil, err
	}
	if len(engine.Dedupe(gameIDs)) < 2 {
		return nil, apperrors.New(apperrors.ErrDuplicateMergeTarget, "至少需要两个不同的游戏")
	}

	result, err := s.merger.Merge(ctx, universeID, gameIDs)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, apperrors.New(apperrors.ErrGameTerminal, "可合并的游戏不足两个")
	}
	return result, nil
}
