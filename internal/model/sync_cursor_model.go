package model

import (
	"time"
)

// SyncCursorModel 事件轮询水位
type SyncCursorModel struct {
	Name        string    `json:"name" gorm:"primaryKey"`
	BlockNumber uint64    `json:"block_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 自定义表名
func (SyncCursorModel) TableName() string {
	return "sync_cursor"
}
