package task

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/config"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/metrics"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/poller"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
)

// SystemActor 自动任务写审计日志时使用的操作人
const SystemActor = "system"

const (
	defaultDisburseInterval = 60 * time.Second
	defaultDustFloor        = "0.01"
	// 提款交易未确认时, 在这么多个周期内不重复提交
	inflightTicks = 10
)

// DisburseStore 由 repository.Store 实现
type DisburseStore interface {
	ListAutoDisburseCandidates(ctx context.Context) ([]model.CampaignModel, error)
	SumAmount(ctx context.Context, kind model.LedgerKind, campaignId int64) (decimal.Decimal, error)
	CreateAuditLog(ctx context.Context, actor, action, detail string) error
}

// Withdrawer 由 chain.Submitter 实现
type Withdrawer interface {
	Withdraw(ctx context.Context, onchainId int64, amountWei *big.Int) (*chain.SubmitResult, error)
}

// Backfiller 由 poller.EventPoller 实现, 提款上链后尽快补录 FundsWithdrawn
type Backfiller interface {
	ResyncKind(ctx context.Context, onchainId int64, kind model.LedgerKind) (poller.SyncResult, error)
}

// Decision 自动拨款判断结果
type Decision struct {
	Trigger   bool
	Target    decimal.Decimal // goal × threshold
	Available decimal.Decimal // raised − withdrawn
}

// Evaluate 已募集达到 goal×threshold 且可用余额高于 dustFloor 时触发, 提取全部可用余额
func Evaluate(goal decimal.Decimal, threshold float64, raised, withdrawn, dustFloor decimal.Decimal) Decision {
	d := Decision{
		Target:    goal.Mul(decimal.NewFromFloat(threshold)),
		Available: raised.Sub(withdrawn),
	}
	d.Trigger = raised.GreaterThanOrEqual(d.Target) && d.Available.GreaterThan(dustFloor)
	return d
}

// Summary 一轮执行的统计
type Summary struct {
	Evaluated int
	Triggered int
	Failed    int
}

type inflightWithdrawal struct {
	txHash    string
	withdrawn decimal.Decimal
	since     time.Time
}

// AutoDisburseJob 自动拨款任务
type AutoDisburseJob struct {
	ctx        context.Context
	store      DisburseStore
	withdrawer Withdrawer
	backfill   Backfiller
	pool       *ants.Pool
	interval   time.Duration
	dustFloor  decimal.Decimal
	metrics    *metrics.ReliefMetrics

	mu       sync.Mutex
	inflight map[int64]inflightWithdrawal
}

// NewAutoDisburseJob 创建自动拨款任务, ctx 取消后不再提交新的提款
func NewAutoDisburseJob(ctx context.Context, store DisburseStore, withdrawer Withdrawer, backfill Backfiller,
	cfg config.DisburseConfig, m *metrics.ReliefMetrics) (*AutoDisburseJob, error) {
	floorText := cfg.DustFloor
	if floorText == "" {
		floorText = defaultDustFloor
	}
	dustFloor, err := decimal.NewFromString(floorText)
	if err != nil {
		return nil, fmt.Errorf("invalid dust floor %q: %w", cfg.DustFloor, err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultDisburseInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create disburse pool: %w", err)
	}

	return &AutoDisburseJob{
		ctx:        ctx,
		store:      store,
		withdrawer: withdrawer,
		backfill:   backfill,
		pool:       pool,
		interval:   interval,
		dustFloor:  dustFloor,
		metrics:    m,
		inflight:   make(map[int64]inflightWithdrawal),
	}, nil
}

// GetName 获取任务名称
func (j *AutoDisburseJob) GetName() string {
	return "auto_disburse"
}

// GetSchedule 获取调度配置
func (j *AutoDisburseJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *AutoDisburseJob) Execute() {
	if j.ctx.Err() != nil {
		return
	}
	summary := j.RunOnce(j.ctx)
	if summary.Triggered > 0 || summary.Failed > 0 {
		logger.Info("Auto-disburse round finished: %d evaluated, %d triggered, %d failed",
			summary.Evaluated, summary.Triggered, summary.Failed)
	}
}

// Release 释放协程池
func (j *AutoDisburseJob) Release() {
	j.pool.Release()
}

// RunOnce 并发检查所有候选活动, 单个活动失败或等待回执不影响其他活动
func (j *AutoDisburseJob) RunOnce(ctx context.Context) Summary {
	campaigns, err := j.store.ListAutoDisburseCandidates(ctx)
	if err != nil {
		logger.Error("Failed to fetch auto-disburse campaigns: %v", err)
		return Summary{}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
	)
	record := func(triggered, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		summary.Evaluated++
		if triggered {
			summary.Triggered++
		}
		if failed {
			summary.Failed++
		}
	}

	for i := range campaigns {
		campaign := campaigns[i]
		wg.Add(1)
		err := j.pool.Submit(func() {
			defer wg.Done()
			record(j.processCampaign(ctx, &campaign))
		})
		if err != nil {
			wg.Done()
			logger.Error("Failed to submit campaign %d to disburse pool: %v", campaign.Id, err)
			record(false, true)
		}
	}
	wg.Wait()
	return summary
}

// processCampaign 返回是否触发提款以及是否失败
func (j *AutoDisburseJob) processCampaign(ctx context.Context, campaign *model.CampaignModel) (bool, bool) {
	if !campaign.HasOnchainId() {
		return false, false
	}
	onchainId := *campaign.OnchainId

	raised, err := j.store.SumAmount(ctx, model.LedgerKindDonation, campaign.Id)
	if err != nil {
		logger.Error("Error processing campaign %d for auto-disburse: %v", campaign.Id, err)
		return false, true
	}
	withdrawn, err := j.store.SumAmount(ctx, model.LedgerKindWithdrawal, campaign.Id)
	if err != nil {
		logger.Error("Error processing campaign %d for auto-disburse: %v", campaign.Id, err)
		return false, true
	}

	decision := Evaluate(campaign.GoalAmount, campaign.DisburseThreshold, raised, withdrawn, j.dustFloor)
	if !decision.Trigger {
		return false, false
	}
	if tx, waiting := j.awaitingLedger(campaign.Id, withdrawn); waiting {
		logger.Debug("Campaign %d has unrecorded withdrawal %s, skipping", campaign.Id, tx)
		return false, false
	}

	logger.Info("Auto-disburse triggered for campaign %d: raised=%s, threshold=%s, available=%s",
		campaign.Id, raised, decision.Target, decision.Available)

	amountWei := decision.Available.Shift(18).BigInt()
	result, err := j.withdrawer.Withdraw(ctx, onchainId, amountWei)
	if err != nil {
		j.metrics.ObserveAutoDisburse("failed")
		logger.Error("Auto-disburse failed for campaign %d: %v", campaign.Id, err)
		return true, true
	}

	txHash := model.NormalizeTxHash(result.TxHash.Hex())
	j.markInflight(campaign.Id, txHash, withdrawn)

	detail := fmt.Sprintf("campaign_id=%d, amount=%s ETH, tx=%s", campaign.Id, decision.Available, txHash)
	if result.Pending {
		detail += ", pending"
	}
	if err := j.store.CreateAuditLog(ctx, SystemActor, model.AuditActionAutoDisburse, detail); err != nil {
		logger.Error("Failed to write audit log for campaign %d: %v", campaign.Id, err)
	}

	if result.Pending {
		j.metrics.ObserveAutoDisburse("pending")
		logger.Warn("Auto-disburse for campaign %d submitted but not yet mined, tx=%s", campaign.Id, txHash)
		return true, false
	}

	j.metrics.ObserveAutoDisburse("success")
	logger.Info("Auto-disburse successful: campaign %d, tx=%s", campaign.Id, txHash)
	if j.backfill != nil {
		if _, err := j.backfill.ResyncKind(ctx, onchainId, model.LedgerKindWithdrawal); err != nil {
			logger.Warn("Withdrawal backfill for campaign %d failed, poller will pick it up: %v", campaign.Id, err)
		}
	}
	return true, false
}

// awaitingLedger 上次提款尚未出现在账本中时返回 true
func (j *AutoDisburseJob) awaitingLedger(campaignId int64, withdrawn decimal.Decimal) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	w, ok := j.inflight[campaignId]
	if !ok {
		return "", false
	}
	if !withdrawn.Equal(w.withdrawn) || time.Since(w.since) > inflightTicks*j.interval {
		delete(j.inflight, campaignId)
		return "", false
	}
	return w.txHash, true
}

func (j *AutoDisburseJob) markInflight(campaignId int64, txHash string, withdrawn decimal.Decimal) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inflight[campaignId] = inflightWithdrawal{txHash: txHash, withdrawn: withdrawn, since: time.Now()}
}
