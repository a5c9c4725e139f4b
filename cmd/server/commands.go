package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wfunc/influence-rpg/internal/api"
	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/database"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/logger"
	"github.com/wfunc/influence-rpg/internal/mcp"
	"github.com/wfunc/influence-rpg/internal/service"
	"github.com/wfunc/influence-rpg/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// app 各运行模式共用的组件
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	services *service.Services
	shutdown telemetry.ShutdownFunc
}

// loadConfig 加载配置并初始化日志
// logOutput非空时覆盖日志输出位置
func loadConfig(logOutput string) (*config.Config, error) {
	if err := config.Init(configPath); err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	cfg := config.Get()

	logCfg := cfg.Log
	if logOutput != "" {
		logCfg.Output = logOutput
	}
	if err := logger.Init(&logCfg); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// initDatabase 初始化数据库并按配置迁移
func initDatabase(cfg *config.Config, log *zap.Logger, migrate bool) (*gorm.DB, error) {
	log.Info("初始化数据库...")
	if err := database.Init(&cfg.Database); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if migrate {
		log.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return nil, apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return database.GetDB(), nil
}

// bootstrap 加载配置、连接数据库并组装服务
func bootstrap(ctx context.Context, mode, logOutput string) (*app, error) {
	cfg, err := loadConfig(logOutput)
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger().With(zap.String("run_mode", mode))

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		// 追踪不可用不影响服务
		log.Warn("初始化链路追踪失败", zap.Error(err))
	}

	db, err := initDatabase(cfg, log, cfg.Database.AutoMigrate)
	if err != nil {
		return nil, err
	}

	services, err := service.NewServices(ctx, db, cfg, log)
	if err != nil {
		_ = database.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "初始化服务失败")
	}

	return &app{cfg: cfg, log: log, db: db, services: services, shutdown: shutdown}, nil
}

// close 释放服务、追踪与数据库
func (a *app) close() {
	a.services.Close()

	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.shutdown(ctx); err != nil {
			a.log.Warn("关闭链路追踪失败", zap.Error(err))
		}
		cancel()
	}

	if err := database.Close(); err != nil {
		a.log.Error("关闭数据库失败", zap.Error(err))
	}
	a.log.Info("所有组件已关闭")
	_ = logger.Sync()
}

// signalContext 收到SIGINT/SIGTERM/SIGQUIT时取消
func signalContext(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Info("收到退出信号", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ignoreCanceled 上下文取消属于正常退出
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP与WebSocket服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), "serve", "")
			if err != nil {
				return err
			}
			defer a.close()
			printStartInfo(a.cfg, "serve")
			return runServe(cmd.Context(), a)
		},
	}
}

// runServe 运行HTTP服务、WebSocket房间与新闻巡检，直到收到退出信号
func runServe(parent context.Context, a *app) error {
	ctx, cancel := signalContext(parent, a.log)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.services.Hub.Run(gctx)
		return nil
	})

	if a.cfg.News.Enabled {
		sched := a.services.NewsScheduler()
		g.Go(func() error {
			return ignoreCanceled(sched.Run(gctx))
		})
	}

	router := api.NewRouter(a.db, a.services, logger.WithModule("api"))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		return router.Serve(gctx, srv)
	})

	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		a.log.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
	})

	a.log.Info("服务器启动成功",
		zap.String("http", srv.Addr),
		zap.Bool("news", a.cfg.News.Enabled),
		zap.String("llm_model", a.services.LLM.Model()))

	if err := g.Wait(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "服务异常退出")
	}
	a.log.Info("服务器已安全关闭")
	return nil
}

func newWorkerCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "只运行新闻巡检与冲突检测",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), "worker", "")
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext(cmd.Context(), a.log)
			defer cancel()

			if once {
				a.log.Info("执行单次新闻巡检")
				return ignoreCanceled(a.services.NewsSweep().Run(ctx))
			}

			sched := a.services.NewsScheduler()
			// 启动后立即巡检一次，之后按间隔执行
			sched.Trigger()
			a.log.Info("worker启动", zap.Duration("interval", a.cfg.News.Interval))
			return ignoreCanceled(sched.Run(ctx))
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "执行一次巡检后退出")
	return cmd
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "通过标准输入输出提供MCP工具服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout承载协议帧，日志只写stderr
			a, err := bootstrap(cmd.Context(), "mcp", "stderr")
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext(cmd.Context(), a.log)
			defer cancel()

			server := mcp.NewServer(mcp.Deps{
				Universes: a.services.Store.Universes(),
				Retriever: a.services.Retriever,
				Events:    a.services.Events,
				Detector:  a.services.Detector,
				Logger:    logger.WithModule("mcp"),
			}, Version)
			return ignoreCanceled(server.RunStdio(ctx))
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "迁移数据库表结构并写入默认规则集",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			log := logger.GetLogger()
			if _, err := initDatabase(cfg, log, true); err != nil {
				return err
			}
			defer database.Close()

			log.Info("数据库迁移完成", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}
