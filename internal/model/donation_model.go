package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationModel 链上捐款记录, 只追加不修改
type DonationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CampaignId        int64           `json:"campaign_id" gorm:"not null;index"`
	OnchainCampaignId int64           `json:"onchain_campaign_id" gorm:"not null"`
	DonorAddress      string          `json:"donor_address" gorm:"not null;index"`
	AmountEth         decimal.Decimal `json:"amount_eth" gorm:"type:numeric(38,18);not null"`
	AmountWei         string          `json:"amount_wei" gorm:"not null"`
	TxHash            string          `json:"tx_hash" gorm:"not null;uniqueIndex"`
	BlockNumber       uint64          `json:"block_number"`
	Timestamp         time.Time       `json:"timestamp"`
}

// TableName 自定义表名
func (DonationModel) TableName() string {
	return "donation"
}

func (d *DonationModel) Kind() LedgerKind     { return LedgerKindDonation }
func (d *DonationModel) GetTxHash() string    { return d.TxHash }
func (d *DonationModel) GetCampaignId() int64 { return d.CampaignId }
