package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/relief/internal/logic"
	"github.com/blues/relief/internal/model"
	"github.com/gin-gonic/gin"
)

// AdminHandler 管理操作, 均写审计日志
type AdminHandler struct {
	campaignLogic *logic.CampaignLogic
}

func NewAdminHandler(campaignLogic *logic.CampaignLogic) *AdminHandler {
	return &AdminHandler{campaignLogic: campaignLogic}
}

// Withdraw 提款, 等待回执后返回
func (h *AdminHandler) Withdraw(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.campaignLogic.Withdraw(c.Request.Context(), id, req.Amount, actor(c))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	status, message := http.StatusOK, "提款成功"
	if result.Pending {
		status, message = http.StatusAccepted, "提款交易已提交, 等待确认"
	}
	SuccessResponse(c, status, message, WithdrawResponse{
		TxHash:   model.NormalizeTxHash(result.TxHash.Hex()),
		Nonce:    result.Nonce,
		GasPrice: result.GasPrice.String(),
		Pending:  result.Pending,
	})
}

// SetActive 切换活动状态
func (h *AdminHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	campaign, err := h.campaignLogic.SetActive(c.Request.Context(), id, *req.Active, actor(c))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "活动状态已更新", campaign)
}

// SetVisibility 切换活动可见性
func (h *AdminHandler) SetVisibility(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req SetVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	campaign, err := h.campaignLogic.SetVisibility(c.Request.Context(), id, *req.IsVisible, actor(c))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "活动可见性已更新", campaign)
}

// SyncCampaign 从链上回补活动事件
func (h *AdminHandler) SyncCampaign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.campaignLogic.SyncCampaign(c.Request.Context(), id, actor(c))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "同步完成", result)
}

// GetAuditLogs 查询审计日志
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的limit参数")
		return
	}

	entries, err := h.campaignLogic.ListAuditLogs(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取审计日志成功", entries)
}
