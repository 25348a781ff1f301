package logic

import (
	"context"
	"sync"

	"github.com/blues/relief/internal/logger"
)

// Background 请求触发的后台任务, 进程退出前等待全部结束
type Background struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewBackground ctx 取消后任务应尽快返回
func NewBackground(ctx context.Context) *Background {
	return &Background{ctx: ctx}
}

// Go 启动后台任务
func (b *Background) Go(name string, fn func(ctx context.Context)) {
	if b.ctx.Err() != nil {
		logger.Warn("Background task %s not started: shutting down", name)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Background task %s panicked: %v", name, r)
			}
		}()
		fn(b.ctx)
	}()
}

// Wait 等待所有后台任务结束
func (b *Background) Wait() {
	b.wg.Wait()
}
