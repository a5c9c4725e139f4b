package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/middleware"
)

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ok 返回成功响应
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

// fail 按错误码返回错误响应，非AppError视为内部错误
func fail(c *gin.Context, err error) {
	appErr, isApp := apperrors.As(err)
	if !isApp {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown, "服务内部错误")
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), apperrors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}

// badRequest 参数错误
func badRequest(c *gin.Context, err error) {
	appErr := apperrors.New(apperrors.ErrInvalidParam, "请求参数错误")
	appErr.Details = err.Error()
	c.AbortWithStatusJSON(http.StatusBadRequest, apperrors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}

// uintParam 解析路径中的正整数ID
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		fail(c, apperrors.Newf(apperrors.ErrInvalidParam, "无效的%s: %s", name, c.Param(name)))
		return 0, false
	}
	return uint(v), true
}

// intQuery 读取整数查询参数，缺省或无效时返回def
func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
