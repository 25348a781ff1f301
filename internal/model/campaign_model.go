package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignModel 救灾募捐活动, 链上创建成功后 OnchainId 被赋值且不再变更
type CampaignModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string     `json:"title" gorm:"not null"`
	ShortDesc   string     `json:"short_desc"`
	Description string     `json:"description" gorm:"type:text"`
	ImageURL    string     `json:"image_url"`
	Beneficiary string     `json:"beneficiary"`
	Owner       string     `json:"owner"`
	Deadline    *time.Time `json:"deadline"`

	// 募捐信息
	GoalAmount        decimal.Decimal `json:"goal_amount" gorm:"type:numeric(38,18);not null"`
	Currency          string          `json:"currency" gorm:"default:'ETH'"`
	AutoDisburse      bool            `json:"auto_disburse" gorm:"default:false"`
	DisburseThreshold float64         `json:"disburse_threshold" gorm:"not null"`

	Status    CampaignStatus `json:"status" gorm:"default:'active';index"`
	IsVisible bool           `json:"is_visible" gorm:"not null"`

	// 区块链信息
	OnchainId            *int64 `json:"onchain_id" gorm:"uniqueIndex"`
	OnchainIdProvisional bool   `json:"onchain_id_provisional" gorm:"default:false"`
	ContractTxHash       string `json:"contract_tx_hash"`
}

// CampaignStatus 活动状态
type CampaignStatus string

const (
	CampaignStatusActive CampaignStatus = "active" // 进行中
	CampaignStatusClosed CampaignStatus = "closed" // 已关闭
)

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}

// HasOnchainId 是否已关联链上活动
func (c *CampaignModel) HasOnchainId() bool {
	return c.OnchainId != nil
}
