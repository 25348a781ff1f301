package handler

import (
	"net/http"

	"github.com/blues/relief/internal/logic"
	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	campaignLogic *logic.CampaignLogic
}

func NewCampaignHandler(campaignLogic *logic.CampaignLogic) *CampaignHandler {
	return &CampaignHandler{campaignLogic: campaignLogic}
}

// CreateCampaign 创建活动
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	campaign, err := h.campaignLogic.CreateCampaign(c.Request.Context(), logic.CreateCampaignRequest{
		Title:             req.Title,
		ShortDesc:         req.ShortDesc,
		Description:       req.Description,
		ImageURL:          req.ImageURL,
		Beneficiary:       req.Beneficiary,
		Owner:             req.Owner,
		Deadline:          req.Deadline,
		GoalAmount:        req.GoalAmount,
		Currency:          req.Currency,
		AutoDisburse:      req.AutoDisburse,
		DisburseThreshold: req.DisburseThreshold,
		IsVisible:         req.IsVisible,
		CreateOnChain:     req.CreateOnChain,
	}, actor(c))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	message := "活动创建成功"
	if req.CreateOnChain {
		message = "活动创建成功, 链上创建已提交"
	}
	SuccessResponse(c, http.StatusCreated, message, campaign)
}

// GetCampaigns 获取活动列表
func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	includeHidden := c.Query("include_hidden") == "true"

	campaigns, err := h.campaignLogic.ListCampaigns(c.Request.Context(), includeHidden)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取活动列表成功", GetCampaignsResponse{
		Campaigns: campaigns,
		Total:     len(campaigns),
	})
}

// GetCampaign 获取活动详情
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	campaign, err := h.campaignLogic.GetCampaign(c.Request.Context(), id)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取活动详情成功", campaign)
}

// GetCampaignStats 获取活动统计
func (h *CampaignHandler) GetCampaignStats(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	stats, err := h.campaignLogic.GetStats(c.Request.Context(), id)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取活动统计成功", stats)
}

// GetCampaignDonations 获取活动捐款记录
func (h *CampaignHandler) GetCampaignDonations(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	donations, err := h.campaignLogic.ListDonations(c.Request.Context(), id)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取捐款记录成功", donations)
}

// GetCampaignWithdrawals 获取活动提款记录
func (h *CampaignHandler) GetCampaignWithdrawals(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	withdrawals, err := h.campaignLogic.ListWithdrawals(c.Request.Context(), id)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取提款记录成功", withdrawals)
}

// GetDonorDonations 获取某地址的捐款记录
func (h *CampaignHandler) GetDonorDonations(c *gin.Context) {
	donations, err := h.campaignLogic.ListDonationsByDonor(c.Request.Context(), c.Param("address"))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "获取捐款记录成功", donations)
}
