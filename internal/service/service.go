// Package service 组装叙事服务的全部组件，供 serve、worker 与 mcp 三种运行模式共用
package service

import (
	"context"

	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/embedding"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/game"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/notify"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/scheduler"
	"github.com/wfunc/influence-rpg/internal/token"
	"github.com/wfunc/influence-rpg/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Option 服务组装选项
type Option func(*options)

type options struct {
	provider  llm.Provider
	retriever lore.Retriever
}

// WithProvider 使用指定的模型供应商
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRetriever 使用指定的设定检索器
func WithRetriever(r lore.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// Services 服务集合
type Services struct {
	Config *config.Config
	Store  *repository.Manager
	Events *eventlog.Log

	LLM       *llm.Service
	Embedder  *embedding.Service
	Retriever lore.Retriever
	Notifier  *notify.Sink

	Lifecycle *engine.Lifecycle
	Merger    *engine.Merger
	Brancher  *engine.Brancher
	Detector  *engine.Detector
	News      *engine.NewsExtractor
	Entities  *engine.EntityExtractor

	Assembler    *narrative.Assembler
	Planner      *narrative.Planner
	Orchestrator *game.Orchestrator
	Hub          *websocket.Hub
	Chat         *websocket.ChatHandler

	Universes UniverseService
	Games     GameService
	Users     UserService

	logger  *zap.Logger
	closers []func()
}

// NewServices 创建服务集合
func NewServices(ctx context.Context, db *gorm.DB, cfg *config.Config, log *zap.Logger, opts ...Option) (*Services, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	module := func(name string) *zap.Logger {
		return log.With(zap.String("module", name))
	}

	s := &Services{Config: cfg, logger: log}

	// 初始化仓储与事件日志
	s.Store = repository.NewManager(db)
	s.Events = eventlog.New(s.Store.Events(), module("eventlog"))

	// 初始化模型与检索
	provider := o.provider
	if provider == nil {
		provider = llm.NewProvider(cfg.LLM)
	}
	s.LLM = llm.NewService(provider, cfg.LLM, module("llm"))
	var embedder embedding.Embedder
	if e, ok := provider.(embedding.Embedder); ok {
		embedder = e
	}
	s.Embedder = embedding.NewService(embedder, cfg.LLM.EmbeddingDimensions, module("embedding"))

	s.Retriever = o.retriever
	if s.Retriever == nil {
		retriever, closeLore, err := lore.New(ctx, cfg.Lore, s.Store.Rulesets())
		if err != nil {
			return nil, err
		}
		s.Retriever = retriever
		s.closers = append(s.closers, closeLore)
	}

	// 初始化推送与通知
	s.Hub = websocket.NewHub(cfg.WebSocket, module("websocket"))
	s.Notifier = notify.NewSink(s.Store.Notifications(), s.Hub, module("notify"))

	// 初始化引擎
	engineLog := module("engine")
	s.Lifecycle = engine.NewLifecycle(s.Store, s.Events, engineLog)
	s.Merger = engine.NewMerger(s.Store, s.Events, s.Notifier, engineLog)
	s.Brancher = engine.NewBrancher(s.Store, s.Events, s.Notifier, engineLog)
	s.Detector = engine.NewDetector(s.Store, s.Events, s.LLM, s.Merger, cfg.Narrative, engineLog)
	s.News = engine.NewNewsExtractor(s.Store, s.Events, s.LLM, cfg.News, engineLog)
	s.Entities = engine.NewEntityExtractor(s.Store, s.Events, s.LLM, engineLog)

	// 初始化叙事编排
	narrativeLog := module("narrative")
	estimator := token.NewEstimator(cfg.Narrative.ModelWindows, narrativeLog)
	s.Assembler = narrative.NewAssembler(s.Store, estimator, cfg.Narrative, s.LLM.Model(), narrativeLog)
	s.Planner = narrative.NewPlanner(s.LLM, s.Retriever, s.Brancher, s.Store, cfg.Narrative, narrativeLog)

	gameLog := module("game")
	s.Orchestrator = game.NewOrchestrator(&game.OrchestratorConfig{
		Store:       s.Store,
		Registry:    game.NewSessionRegistry(s.Store.Chats(), gameLog),
		Broadcaster: s.Hub,
		Assembler:   s.Assembler,
		Planner:     s.Planner,
		Completer:   s.LLM,
		Embedder:    s.Embedder,
		Events:      s.Events,
		Detector:    s.Detector,
		Entities:    s.Entities,
		Lifecycle:   s.Lifecycle,
		Notifier:    s.Notifier,
		Narrative:   cfg.Narrative,
		Logger:      gameLog,
	})
	s.Chat = websocket.NewChatHandler(s.Hub, s.Orchestrator, module("websocket"))

	// 初始化业务服务
	s.Universes = NewUniverseService(s.Store, s.Events, s.News, s.Detector, s.Merger, module("universe"))
	s.Games = NewGameService(&GameServiceConfig{
		Store:     s.Store,
		Lifecycle: s.Lifecycle,
		Brancher:  s.Brancher,
		Completer: s.LLM,
		Retriever: s.Retriever,
		Narrative: cfg.Narrative,
		Logger:    module("game"),
	})
	s.Users = NewUserService(s.Store.Users(), s.Store.Notifications(), module("user"))

	log.Info("服务组装完成",
		zap.String("llm_model", s.LLM.Model()),
		zap.String("lore_driver", cfg.Lore.Driver))
	return s, nil
}

// NewsSweep 对所有宇宙执行一轮新闻生成与冲突检测
func (s *Services) NewsSweep() *scheduler.NewsSweep {
	sweepLog := s.logger.With(zap.String("module", "scheduler"))
	return scheduler.NewNewsSweep(s.Store.Universes(), s.News, s.Detector, s.Config.News, sweepLog)
}

// NewsScheduler 新闻巡检调度器，worker与serve模式共用
func (s *Services) NewsScheduler() *scheduler.Scheduler {
	sweepLog := s.logger.With(zap.String("module", "scheduler"))
	return scheduler.New("news", s.Config.News.Interval, s.NewsSweep().Run, sweepLog)
}

// Close 释放外部资源
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
