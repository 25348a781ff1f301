package model

import (
	"time"
)

// AuditLogModel 管理操作审计日志
type AuditLogModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	Actor  string `json:"actor" gorm:"not null"`
	Action string `json:"action" gorm:"not null;index"`
	Detail string `json:"detail" gorm:"type:text"`
}

// 审计动作
const (
	AuditActionCreateCampaign = "create_campaign"
	AuditActionOnchainCreated = "onchain_created"
	AuditActionWithdraw       = "withdraw"
	AuditActionAutoDisburse   = "auto_disburse"
	AuditActionSetActive      = "set_active"
	AuditActionSetVisibility  = "set_visibility"
	AuditActionSync           = "sync_campaign"
)

// TableName 自定义表名
func (AuditLogModel) TableName() string {
	return "audit_log"
}
