package scheduler

import (
	"context"

	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/models"
	"go.uber.org/zap"
)

// UniverseLister 列出全部宇宙
type UniverseLister interface {
	AllIDs(ctx context.Context) ([]uint, error)
}

// Publisher 宇宙新闻发布
type Publisher interface {
	Publish(ctx context.Context, universeID uint) (*models.News, error)
}

// ConflictDetector 宇宙冲突检测
type ConflictDetector interface {
	Detect(ctx context.Context, universeID uint) ([]engine.DetectedConflict, error)
}

// NewsSweep 对所有宇宙发布新闻，可选地顺带检测冲突
type NewsSweep struct {
	universes   UniverseLister
	publisher   Publisher
	detector    ConflictDetector
	concurrency int
	logger      *zap.Logger
}

// NewNewsSweep 创建新闻巡检，detector为nil时不检测冲突
func NewNewsSweep(universes UniverseLister, publisher Publisher, detector ConflictDetector, cfg config.NewsConfig, log *zap.Logger) *NewsSweep {
	if !cfg.DetectOnSweep {
		detector = nil
	}
	return &NewsSweep{
		universes:   universes,
		publisher:   publisher,
		detector:    detector,
		concurrency: cfg.Concurrency,
		logger:      log,
	}
}

// Run 执行一次巡检
func (s *NewsSweep) Run(ctx context.Context) error {
	ids, err := s.universes.AllIDs(ctx)
	if err != nil {
		return err
	}
	failed := ForEach(ctx, ids, s.concurrency, s.sweep, s.logger)
	s.logger.Info("新闻巡检完成", zap.Int("universes", len(ids)), zap.Int("failed", failed))
	return nil
}

func (s *NewsSweep) sweep(ctx context.Context, universeID uint) error {
	item, err := s.publisher.Publish(ctx, universeID)
	if err != nil {
		return err
	}
	if item != nil {
		s.logger.Debug("宇宙新闻已发布", zap.Uint("universe_id", universeID), zap.Uint("news_id", item.ID))
	}
	if s.detector == nil {
		return nil
	}
	_, err = s.detector.Detect(ctx, universeID)
	return err
}
