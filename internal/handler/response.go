package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/logic"
	"github.com/gin-gonic/gin"
)

// ActorHeader 操作人请求头, 鉴权由上游网关负责
const ActorHeader = "X-Admin-User"

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// LogicErrorResponse 按业务错误类型返回对应状态码
func LogicErrorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, logic.ErrCampaignNotFound):
		status = http.StatusNotFound
	case errors.Is(err, logic.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, logic.ErrNoOnchainId):
		status = http.StatusConflict
	case errors.Is(err, logic.ErrChainDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrReverted):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	ErrorResponse(c, status, err.Error())
}

// parseID 解析路径中的活动ID
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	if a := c.GetHeader(ActorHeader); a != "" {
		return a
	}
	return "admin"
}
