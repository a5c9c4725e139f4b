package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/influence-rpg/internal/service"
)

// UniverseHandler 宇宙接口
type UniverseHandler struct {
	universes service.UniverseService
}

// NewUniverseHandler 创建宇宙接口
func NewUniverseHandler(universes service.UniverseService) *UniverseHandler {
	return &UniverseHandler{universes: universes}
}

// LinkGameRequest 关联游戏请求
type LinkGameRequest struct {
	GameID uint `json:"game_id" binding:"required"`
}

// MergeRequest 合并游戏请求
type MergeRequest struct {
	GameIDs []uint `json:"game_ids" binding:"required"`
}

// Create 创建宇宙
// @Summary 创建宇宙
// @Tags Universe
// @Accept json
// @Produce json
// @Param request body service.CreateUniverseRequest true "宇宙信息"
// @Router /api/v1/universes [post]
func (h *UniverseHandler) Create(c *gin.Context) {
	var req service.CreateUniverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	universe, err := h.universes.Create(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, universe)
}

// List 分页列出宇宙
// @Router /api/v1/universes [get]
func (h *UniverseHandler) List(c *gin.Context) {
	universes, err := h.universes.List(c.Request.Context(), intQuery(c, "page", 1), intQuery(c, "page_size", 20))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, universes)
}

// Get 获取宇宙
// @Router /api/v1/universes/{id} [get]
func (h *UniverseHandler) Get(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	universe, err := h.universes.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, universe)
}

// LinkGame 把已有游戏关联到宇宙
// @Router /api/v1/universes/{id}/games [post]
func (h *UniverseHandler) LinkGame(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	var req LinkGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.universes.LinkGame(c.Request.Context(), id, req.GameID); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"universe_id": id, "game_id": req.GameID})
}

// Games 宇宙下的游戏
// @Router /api/v1/universes/{id}/games [get]
func (h *UniverseHandler) Games(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	games, err := h.universes.Games(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, games)
}

// Events 最近的宇宙事件
// @Param limit query int false "条数，默认100"
// @Router /api/v1/universes/{id}/events [get]
func (h *UniverseHandler) Events(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	events, err := h.universes.Events(c.Request.Context(), id, intQuery(c, "limit", 0))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, events)
}

// Conflicts 已记录的冲突
// @Router /api/v1/universes/{id}/conflicts [get]
func (h *UniverseHandler) Conflicts(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	conflicts, err := h.universes.Conflicts(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, conflicts)
}

// News 最近的新闻
// @Router /api/v1/universes/{id}/news [get]
func (h *UniverseHandler) News(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	news, err := h.universes.News(c.Request.Context(), id, intQuery(c, "limit", 20))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, news)
}

// PublishNews 立即生成新闻
// 没有新事件或模型无输出时status为skipped
// @Router /api/v1/universes/{id}/news/publish [post]
func (h *UniverseHandler) PublishNews(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	news, err := h.universes.PublishNews(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if news == nil {
		ok(c, http.StatusOK, gin.H{"status": "skipped"})
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "published", "summary": news.Summary, "news": news})
}

// Detect 立即执行冲突检测
// @Router /api/v1/universes/{id}/detect [post]
func (h *UniverseHandler) Detect(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	conflicts, err := h.universes.Detect(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"conflicts": conflicts})
}

// Merge 手动合并游戏
// @Router /api/v1/universes/{id}/merge [post]
func (h *UniverseHandler) Merge(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.universes.Merge(c.Request.Context(), id, req.GameIDs)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, result)
}
