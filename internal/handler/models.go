package handler

import (
	"time"

	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 活动相关请求模型

// CreateCampaignRequest 创建活动请求
type CreateCampaignRequest struct {
	Title             string          `json:"title" binding:"required"`
	ShortDesc         string          `json:"short_desc"`
	Description       string          `json:"description"`
	ImageURL          string          `json:"image_url"`
	Beneficiary       string          `json:"beneficiary"`
	Owner             string          `json:"owner"`
	Deadline          *time.Time      `json:"deadline"`
	GoalAmount        decimal.Decimal `json:"goal_amount"`
	Currency          string          `json:"currency"`
	AutoDisburse      bool            `json:"auto_disburse"`
	DisburseThreshold *float64        `json:"disburse_threshold"`
	IsVisible         *bool           `json:"is_visible"`
	CreateOnChain     bool            `json:"create_on_chain"`
}

// WithdrawRequest 提款请求, 金额单位 ETH
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SetActiveRequest 切换活动状态请求
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetVisibilityRequest 切换可见性请求
type SetVisibilityRequest struct {
	IsVisible *bool `json:"is_visible" binding:"required"`
}

// 响应模型

// WithdrawResponse 提款响应
type WithdrawResponse struct {
	TxHash   string `json:"tx_hash"`
	Nonce    uint64 `json:"nonce"`
	GasPrice string `json:"gas_price"`
	Pending  bool   `json:"pending"`
}

// GetCampaignsResponse 活动列表响应
type GetCampaignsResponse struct {
	Campaigns interface{} `json:"campaigns"`
	Total     int         `json:"total"`
}
