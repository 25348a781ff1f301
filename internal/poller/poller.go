package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/config"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/metrics"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/reconciler"
	"github.com/blues/relief/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CursorName 事件游标在 sync_cursor 表中的名称
const CursorName = "disaster_fund_events"

const (
	defaultInterval       = 5 * time.Second
	defaultMaxBlockRange  = 2000
	defaultResyncLookback = 50000
)

// Cursor 已完整处理的最高区块
type Cursor struct {
	Block uint64
}

// Stats 一次轮询或回补的处理统计
type Stats struct {
	FromBlock  uint64 `json:"from_block"`
	ToBlock    uint64 `json:"to_block"`
	Logs       int    `json:"logs"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Unknown    int    `json:"unknown"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// SyncResult 按活动回补的结果
type SyncResult = Stats

// Ingester 由 reconciler.Reconciler 实现
type Ingester interface {
	IngestDonation(ctx context.Context, ev chain.DonationEvent, ts time.Time) (reconciler.Outcome, error)
	IngestWithdrawal(ctx context.Context, ev chain.WithdrawalEvent, ts time.Time) (reconciler.Outcome, error)
}

// CursorStore 由 repository.Store 实现
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// EventPoller 轮询合约事件并交给对账器
type EventPoller struct {
	client   *chain.Client
	ingester Ingester
	cursors  CursorStore
	metrics  *metrics.ReliefMetrics

	interval       time.Duration
	maxBlockRange  uint64
	resyncLookback uint64
	persistCursor  bool
}

// New 创建事件轮询器, cursors 为 nil 时不持久化游标
func New(client *chain.Client, ingester Ingester, cursors CursorStore, cfg config.PollerConfig, m *metrics.ReliefMetrics) *EventPoller {
	p := &EventPoller{
		client:         client,
		ingester:       ingester,
		cursors:        cursors,
		metrics:        m,
		interval:       cfg.Interval,
		maxBlockRange:  cfg.MaxBlockRange,
		resyncLookback: cfg.ResyncLookback,
		persistCursor:  cfg.PersistCursor && cursors != nil,
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.maxBlockRange == 0 {
		p.maxBlockRange = defaultMaxBlockRange
	}
	if p.resyncLookback == 0 {
		p.resyncLookback = defaultResyncLookback
	}
	return p
}

// Run 轮询直到 ctx 取消
func (p *EventPoller) Run(ctx context.Context) {
	cursor, ok := p.initialCursor(ctx)
	if !ok {
		return
	}
	logger.Info("Event poller started from block %d (interval %s)", cursor.Block, p.interval)
	p.metrics.SetWatermark(cursor.Block)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Event poller stopped at block %d", cursor.Block)
			return
		case <-ticker.C:
			next, stats, err := p.Poll(ctx, cursor)
			cursor = next
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				p.metrics.ObservePollError()
				logger.Error("Event poll failed, resuming from block %d: %v", cursor.Block+1, err)
				continue
			}
			if stats.Logs > 0 {
				logger.Info("Processed blocks %d-%d: %d logs, %d inserted, %d duplicates, %d unknown, %d skipped, %d failed",
					stats.FromBlock, stats.ToBlock, stats.Logs, stats.Inserted, stats.Duplicates, stats.Unknown, stats.Skipped, stats.Failed)
			}
		}
	}
}

// initialCursor 优先使用持久化游标, 否则从当前高度开始; 读取高度失败时持续重试
func (p *EventPoller) initialCursor(ctx context.Context) (Cursor, bool) {
	if p.persistCursor {
		block, err := p.cursors.LoadCursor(ctx, CursorName)
		switch {
		case err == nil:
			logger.Info("Resuming event poller from persisted cursor %d", block)
			return Cursor{Block: block}, true
		case errors.Is(err, repository.ErrNotFound):
			logger.Info("No persisted cursor, starting from current height")
		default:
			logger.Warn("Failed to load persisted cursor, starting from current height: %v", err)
		}
	}

	for {
		height, err := p.client.LatestBlock(ctx)
		if err == nil {
			return Cursor{Block: height}, true
		}
		p.metrics.ObservePollError()
		logger.Error("Failed to read chain height, retrying in %s: %v", p.interval, err)

		select {
		case <-ctx.Done():
			return Cursor{}, false
		case <-time.After(p.interval):
		}
	}
}

// Poll 处理 (cursor, 当前高度] 内的事件, 按区块段推进游标; 读取日志失败时返回最后完成的区块段
func (p *EventPoller) Poll(ctx context.Context, cursor Cursor) (Cursor, Stats, error) {
	stats := Stats{FromBlock: cursor.Block + 1, ToBlock: cursor.Block}

	height, err := p.client.LatestBlock(ctx)
	if err != nil {
		return cursor, stats, err
	}
	if height <= cursor.Block {
		return cursor, stats, nil
	}

	err = p.processBlocksInBatches(ctx, cursor.Block+1, height, filter{}, &stats, func(to uint64) {
		cursor.Block = to
		stats.ToBlock = to
		p.metrics.SetWatermark(to)
		p.saveCursor(ctx, to)
	})
	return cursor, stats, err
}

// Resync 回补某个链上活动最近 resync_lookback 个区块内的事件
func (p *EventPoller) Resync(ctx context.Context, onchainId int64) (SyncResult, error) {
	return p.resync(ctx, filter{onchainId: &onchainId})
}

// ResyncKind 仅回补指定类型的事件
func (p *EventPoller) ResyncKind(ctx context.Context, onchainId int64, kind model.LedgerKind) (SyncResult, error) {
	switch kind {
	case model.LedgerKindDonation, model.LedgerKindWithdrawal:
	default:
		return SyncResult{}, fmt.Errorf("unknown ledger kind %q", kind)
	}
	return p.resync(ctx, filter{onchainId: &onchainId, kind: kind})
}

func (p *EventPoller) resync(ctx context.Context, f filter) (SyncResult, error) {
	height, err := p.client.LatestBlock(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	var from uint64
	if height > p.resyncLookback {
		from = height - p.resyncLookback
	}
	result := SyncResult{FromBlock: from, ToBlock: height}

	logger.Info("Resyncing onchain campaign %d over blocks %d-%d", *f.onchainId, from, height)
	err = p.processBlocksInBatches(ctx, from, height, f, &result, nil)
	return result, err
}

// filter 解码后的事件过滤条件
type filter struct {
	onchainId *int64
	kind      model.LedgerKind // 为空表示全部类型
}

func (f filter) wants(kind model.LedgerKind, onchainId int64) bool {
	if f.kind != "" && f.kind != kind {
		return false
	}
	return f.onchainId == nil || *f.onchainId == onchainId
}

// processBlocksInBatches 按 max_block_range 分段处理 [fromBlock, toBlock], 每段完成后回调 done
func (p *EventPoller) processBlocksInBatches(ctx context.Context, fromBlock, toBlock uint64, f filter, stats *Stats, done func(to uint64)) error {
	for currentFrom := fromBlock; currentFrom <= toBlock; {
		currentTo := currentFrom + p.maxBlockRange - 1
		if currentTo > toBlock || currentTo < currentFrom {
			currentTo = toBlock
		}

		logger.Debug("Processing batch blocks %d to %d", currentFrom, currentTo)
		if err := p.processBatchBlocks(ctx, currentFrom, currentTo, f, stats); err != nil {
			return err
		}
		if done != nil {
			done(currentTo)
		}
		if currentTo == toBlock {
			break
		}
		currentFrom = currentTo + 1
	}
	return nil
}

// processBatchBlocks 获取一段区块的日志并逐条处理, 单条事件失败只记录日志
func (p *EventPoller) processBatchBlocks(ctx context.Context, fromBlock, toBlock uint64, f filter, stats *Stats) error {
	logs, err := p.client.GetLogs(ctx, fromBlock, toBlock, p.topics(f)...)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	timestamps := make(map[uint64]time.Time)
	for _, log := range logs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Logs++
		p.processLog(ctx, log, f, stats, timestamps)
	}
	return nil
}

func (p *EventPoller) topics(f filter) []common.Hash {
	contract := p.client.Contract()
	switch f.kind {
	case model.LedgerKindDonation:
		return []common.Hash{contract.Topic(chain.EventDonationReceived)}
	case model.LedgerKindWithdrawal:
		return []common.Hash{contract.Topic(chain.EventFundsWithdrawn)}
	default:
		return []common.Hash{contract.Topic(chain.EventDonationReceived), contract.Topic(chain.EventFundsWithdrawn)}
	}
}

// processLog 先按捐款事件解码, 不匹配时按提款事件解码
func (p *EventPoller) processLog(ctx context.Context, log types.Log, f filter, stats *Stats, timestamps map[uint64]time.Time) {
	contract := p.client.Contract()

	var (
		kind    model.LedgerKind
		outcome reconciler.Outcome
		err     error
	)
	donation, decodeErr := contract.DecodeDonation(log)
	if decodeErr == nil {
		kind = model.LedgerKindDonation
		if !f.wants(kind, donation.CampaignId) {
			return
		}
		outcome, err = p.ingester.IngestDonation(ctx, donation, p.blockTime(ctx, log.BlockNumber, timestamps))
	} else if errors.Is(decodeErr, chain.ErrEventMismatch) {
		withdrawal, wErr := contract.DecodeWithdrawal(log)
		if wErr != nil {
			p.skip(log, wErr, stats)
			return
		}
		kind = model.LedgerKindWithdrawal
		if !f.wants(kind, withdrawal.CampaignId) {
			return
		}
		outcome, err = p.ingester.IngestWithdrawal(ctx, withdrawal, p.blockTime(ctx, log.BlockNumber, timestamps))
	} else {
		p.skip(log, decodeErr, stats)
		return
	}

	if err != nil {
		stats.Failed++
		logger.Error("Failed to record %s from tx %s: %v", kind, log.TxHash.Hex(), err)
		return
	}
	switch outcome {
	case reconciler.Inserted:
		stats.Inserted++
	case reconciler.Duplicate:
		stats.Duplicates++
	case reconciler.UnknownCampaign:
		stats.Unknown++
	}
}

func (p *EventPoller) skip(log types.Log, err error, stats *Stats) {
	stats.Skipped++
	p.metrics.ObserveDecodeFailure("poller")
	logger.Warn("Skipping undecodable log in tx %s (block %d): %v", log.TxHash.Hex(), log.BlockNumber, err)
}

// blockTime 获取区块时间, 失败时使用当前时间
func (p *EventPoller) blockTime(ctx context.Context, block uint64, cache map[uint64]time.Time) time.Time {
	if ts, ok := cache[block]; ok {
		return ts
	}
	ts, err := p.client.BlockTimestamp(ctx, block)
	if err != nil {
		logger.Warn("Failed to get timestamp of block %d, using current time: %v", block, err)
		return time.Now().UTC()
	}
	cache[block] = ts
	return ts
}

func (p *EventPoller) saveCursor(ctx context.Context, block uint64) {
	if !p.persistCursor {
		return
	}
	if err := p.cursors.SaveCursor(ctx, CursorName, block); err != nil {
		logger.Warn("Failed to persist event cursor %d: %v", block, err)
	}
}
