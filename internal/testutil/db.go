// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/repository"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB 每个测试独立的内存 sqlite 库
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := repository.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateCampaign 插入一个活动, onchainId 为 nil 表示尚未上链
func CreateCampaign(t *testing.T, db *gorm.DB, onchainId *int64, goal string, mutate ...func(*model.CampaignModel)) *model.CampaignModel {
	t.Helper()

	c := &model.CampaignModel{
		Title:             "Flood relief",
		GoalAmount:        decimal.RequireFromString(goal),
		Currency:          "ETH",
		DisburseThreshold: 0.8,
		Status:            model.CampaignStatusActive,
		IsVisible:         true,
		OnchainId:         onchainId,
	}
	for _, m := range mutate {
		m(c)
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

// Int64 取地址辅助
func Int64(v int64) *int64 {
	return &v
}

// ObserveLogs 将默认日志器替换为可断言的 observer, 测试结束后恢复
func ObserveLogs(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()

	core, logs := observer.New(level)
	previous := logger.Default()
	logger.SetDefaultLogger(logger.NewWithCore(core))
	t.Cleanup(func() { logger.SetDefaultLogger(previous) })
	return logs
}
