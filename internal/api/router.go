package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/influence-rpg/internal/database"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/middleware"
	"github.com/wfunc/influence-rpg/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine    *gin.Engine
	db        *gorm.DB
	services  *service.Services
	universes *UniverseHandler
	games     *GameHandler
	users     *UserHandler
	log       *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, services *service.Services, log *zap.Logger) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.Tracing())
	engine.Use(middleware.AccessLog(log))

	router := &Router{
		engine:    engine,
		db:        db,
		services:  services,
		universes: NewUniverseHandler(services.Universes),
		games:     NewGameHandler(services.Games),
		users:     NewUserHandler(services.Users),
		log:       log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	registerOpenAPIRoutes(r.engine)

	v1 := r.engine.Group("/api/v1")
	{
		universes := v1.Group("/universes")
		{
			universes.POST("", r.universes.Create)
			universes.GET("", r.universes.List)
			universes.GET("/:id", r.universes.Get)
			universes.POST("/:id/games", r.universes.LinkGame)
			universes.GET("/:id/games", r.universes.Games)
			universes.GET("/:id/events", r.universes.Events)
			universes.GET("/:id/conflicts", r.universes.Conflicts)
			universes.GET("/:id/news", r.universes.News)
			universes.POST("/:id/news/publish", r.universes.PublishNews)
			universes.POST("/:id/detect", r.universes.Detect)
			universes.POST("/:id/merge", r.universes.Merge)
		}

		games := v1.Group("/games")
		{
			games.POST("", r.games.Create)
			games.GET("", r.games.List)
			games.POST("/setup", r.games.GenerateSetup)
			games.GET("/:id", r.games.Get)
			games.POST("/:id/join", r.games.Join)
			games.GET("/:id/messages", r.games.Messages)
			games.POST("/:id/branch", r.games.Branch)
			games.POST("/:id/close", r.games.Close)
		}

		v1.POST("/characters", r.users.CreateCharacter)
		v1.GET("/characters", r.users.Characters)
		v1.GET("/users/:id/notifications", r.users.Notifications)
		v1.POST("/notifications/:id/read", r.users.MarkRead)
	}

	// 游戏聊天
	r.engine.GET("/ws/games/:id", r.gameSocket)

	r.engine.NoRoute(func(c *gin.Context) {
		fail(c, apperrors.New(apperrors.ErrNotFound, "接口不存在"))
	})
}

// gameSocket 升级为游戏聊天连接，character_id 为发言角色
func (r *Router) gameSocket(c *gin.Context) {
	gameID, valid := uintParam(c, "id")
	if !valid {
		return
	}
	characterID, err := strconv.ParseUint(c.Query("character_id"), 10, 64)
	if err != nil || characterID == 0 {
		fail(c, apperrors.New(apperrors.ErrInvalidParam, "缺少character_id"))
		return
	}
	r.services.Chat.ServeGame(c.Writer, c.Request, gameID, uint(characterID))
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if err := database.Ping(c.Request.Context(), r.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"online_users": r.services.Hub.GetOnlineCount(),
		"rooms":        r.services.Hub.RoomCount(),
		"llm_model":    r.services.LLM.Model(),
	})
}

// Serve 启动HTTP服务，ctx取消后优雅关闭
func (r *Router) Serve(ctx context.Context, srv *http.Server) error {
	srv.Handler = r.engine
	errCh := make(chan error, 1)
	go func() {
		r.log.Info("HTTP服务启动", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := r.services.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	r.log.Info("HTTP服务关闭中")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTimeout, "HTTP服务关闭超时")
	}
	return nil
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
