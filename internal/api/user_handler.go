package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/service"
)

// UserHandler 角色与通知接口
type UserHandler struct {
	users service.UserService
}

// NewUserHandler 创建角色与通知接口
func NewUserHandler(users service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// CreateCharacter 创建角色，用户不存在时自动创建
// @Router /api/v1/characters [post]
func (h *UserHandler) CreateCharacter(c *gin.Context) {
	var req service.CreateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	character, err := h.users.CreateCharacter(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, character)
}

// Characters 用户的角色
// @Param username query string true "用户名"
// @Router /api/v1/characters [get]
func (h *UserHandler) Characters(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		fail(c, apperrors.New(apperrors.ErrInvalidParam, "缺少username"))
		return
	}
	characters, err := h.users.Characters(c.Request.Context(), username)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, characters)
}

// Notifications 用户的通知
// @Param unread query bool false "只看未读"
// @Router /api/v1/users/{id}/notifications [get]
func (h *UserHandler) Notifications(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		return
	}
	items, err := h.users.Notifications(c.Request.Context(), id, c.Query("unread") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// MarkRead 标记通知已读
// @Router /api/v1/notifications/{id}/read [post]
func (h *UserHandler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.users.MarkRead(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id, "read": true})
}
