package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawLogModel 链上提款记录, 只追加不修改
type WithdrawLogModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CampaignId        int64           `json:"campaign_id" gorm:"not null;index"`
	OnchainCampaignId int64           `json:"onchain_campaign_id" gorm:"not null"`
	OwnerAddress      string          `json:"owner_address" gorm:"not null"`
	AmountEth         decimal.Decimal `json:"amount_eth" gorm:"type:numeric(38,18);not null"`
	AmountWei         string          `json:"amount_wei" gorm:"not null"`
	TxHash            string          `json:"tx_hash" gorm:"not null;uniqueIndex"`
	BlockNumber       uint64          `json:"block_number"`
	Timestamp         time.Time       `json:"timestamp"`
}

// TableName 自定义表名
func (WithdrawLogModel) TableName() string {
	return "withdraw_log"
}

func (w *WithdrawLogModel) Kind() LedgerKind     { return LedgerKindWithdrawal }
func (w *WithdrawLogModel) GetTxHash() string    { return w.TxHash }
func (w *WithdrawLogModel) GetCampaignId() int64 { return w.CampaignId }
