package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/service"
)

// GameHandler 游戏接口
type GameHandler struct {
	games service.GameService
}

// NewGameHandler 创建游戏接口
func NewGameHandler(games service.GameService) *GameHandler {
	return &GameHandler{games: games}
}

// JoinRequest 加入游戏请求
type JoinRequest struct {
	CharacterID uint `json:"character_id" binding:"required"`
}

// BranchRequest 分支请求
type BranchRequest struct {
	Groups []engine.BranchGroup `json:"groups" binding:"required"`
}

// Create 创建游戏
// @Summary 创建游戏
// @Description initial_details 非空时生成开场场景
// @Tags Game
// @Accept json
// @Produce json
// @Param request body service.CreateGameRequest true "游戏信息"
// @Router /api/v1/games [post]
func (h *GameHandler) Create(c *gin.Context) {
	var req service.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	game, err := h.games.Create(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, game)
}

// List 分页列出游戏
// @Param status query string false "waiting/active/merged/branched/closed"
// @Router /api/v1/games [get]
func (h *GameHandler) List(c *gin.Context) {
	games, err := h.games.List(c.Request.Context(),
		intQuery(c, "page", 1), intQuery(c, "page_size", 20), models.GameStatus(c.Query("status")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, games)
}

// Get 游戏详情
// @Router /api/v1/games/{id} [get]
func (h *GameHandler) Get(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	detail, err := h.games.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// Join 角色加入游戏
// @Router /api/v1/games/{id}/join [post]
func (h *GameHandler) Join(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	game, err := h.games.Join(c.Request.Context(), id, req.CharacterID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, game)
}

// Messages 游戏聊天记录
// @Router /api/v1/games/{id}/messages [get]
func (h *GameHandler) Messages(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	messages, err := h.games.Messages(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, messages)
}

// Branch 按分组拆分游戏
// @Router /api/v1/games/{id}/branch [post]
func (h *GameHandler) Branch(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	var req BranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.games.Branch(c.Request.Context(), id, req.Groups)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, result)
}

// Close 结束游戏
// @Router /api/v1/games/{id}/close [post]
func (h *GameHandler) Close(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	if err := h.games.Close(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"game_id": id, "status": models.GameStatusClosed})
}

// GenerateSetup 生成新游戏设定
// @Router /api/v1/games/setup [post]
func (h *GameHandler) GenerateSetup(c *gin.Context) {
	var req service.GenerateSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	setup, err := h.games.GenerateSetup(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"generated_setup": setup})
}
