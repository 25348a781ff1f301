package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/config"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/logic"
	"github.com/blues/relief/internal/metrics"
	"github.com/blues/relief/internal/poller"
	"github.com/blues/relief/internal/reconciler"
	"github.com/blues/relief/internal/repository"
	"github.com/blues/relief/internal/router"
	"github.com/blues/relief/internal/task"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 初始化数据库
	db, err := repository.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	store := repository.NewStore(db)
	m := metrics.Relief()

	// 初始化链客户端, 节点不可达时直接退出
	client, err := chain.Dial(ctx, cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to connect to chain: %v", err)
	}
	defer client.Close()

	submitter, err := chain.NewSubmitter(client, cfg.Chain, m)
	if err != nil {
		logger.Fatal("Failed to initialize submitter: %v", err)
	}
	logger.Info("Submitting transactions from %s to contract %s", submitter.From().Hex(), client.Contract().Address().Hex())

	// 事件轮询
	var cursors poller.CursorStore
	if cfg.Poller.PersistCursor {
		cursors = store
	}
	eventPoller := poller.New(client, reconciler.New(store, m), cursors, cfg.Poller, m)
	bg := logic.NewBackground(ctx)
	bg.Go("event_poller", eventPoller.Run)

	// 定时任务
	manager, err := task.NewManager()
	if err != nil {
		logger.Fatal("Failed to create task manager: %v", err)
	}
	var disburseJob *task.AutoDisburseJob
	if cfg.Disburse.Enabled {
		disburseJob, err = task.NewAutoDisburseJob(ctx, store, submitter, eventPoller, cfg.Disburse, m)
		if err != nil {
			logger.Fatal("Failed to create auto disburse job: %v", err)
		}
		if err := manager.Register(disburseJob); err != nil {
			logger.Fatal("%v", err)
		}
	}
	manager.Start()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(logic.NewCampaignLogic(store, submitter, eventPoller, bg))
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// 启动服务器
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server: %v", err)
	}

	manager.Stop()
	if disburseJob != nil {
		disburseJob.Release()
	}
	bg.Wait()
	logger.Info("Shutdown complete")
}
