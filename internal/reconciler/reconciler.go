package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/metrics"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/repository"
	"github.com/shopspring/decimal"
)

// Outcome 单个事件的处理结果
type Outcome int

const (
	Inserted Outcome = iota
	Duplicate
	UnknownCampaign
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case UnknownCampaign:
		return "unknown_campaign"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Store 账本持久化接口, 由 repository.Store 实现
type Store interface {
	FindByTxHash(ctx context.Context, kind model.LedgerKind, txHash string) (bool, error)
	Insert(ctx context.Context, record model.LedgerRecord) error
	FindCampaignByOnchainId(ctx context.Context, onchainId int64) (*model.CampaignModel, error)
	SumAmount(ctx context.Context, kind model.LedgerKind, campaignId int64) (decimal.Decimal, error)
}

// Reconciler 将链上事件幂等地写入本地账本, 可并发调用
type Reconciler struct {
	store   Store
	metrics *metrics.ReliefMetrics
}

func New(store Store, m *metrics.ReliefMetrics) *Reconciler {
	return &Reconciler{store: store, metrics: m}
}

// IngestDonation 处理 DonationReceived 事件
func (r *Reconciler) IngestDonation(ctx context.Context, ev chain.DonationEvent, ts time.Time) (Outcome, error) {
	return r.ingest(ctx, model.LedgerKindDonation, ev.TxHash.Hex(), ev.CampaignId, func(campaign *model.CampaignModel, txHash string) model.LedgerRecord {
		return &model.DonationModel{
			CampaignId:        campaign.Id,
			OnchainCampaignId: ev.CampaignId,
			DonorAddress:      ev.Donor.Hex(),
			AmountEth:         weiToEth(ev.Amount),
			AmountWei:         ev.Amount.String(),
			TxHash:            txHash,
			BlockNumber:       ev.BlockNumber,
			Timestamp:         ts,
		}
	})
}

// IngestWithdrawal 处理 FundsWithdrawn 事件
func (r *Reconciler) IngestWithdrawal(ctx context.Context, ev chain.WithdrawalEvent, ts time.Time) (Outcome, error) {
	return r.ingest(ctx, model.LedgerKindWithdrawal, ev.TxHash.Hex(), ev.CampaignId, func(campaign *model.CampaignModel, txHash string) model.LedgerRecord {
		return &model.WithdrawLogModel{
			CampaignId:        campaign.Id,
			OnchainCampaignId: ev.CampaignId,
			OwnerAddress:      ev.Owner.Hex(),
			AmountEth:         weiToEth(ev.Amount),
			AmountWei:         ev.Amount.String(),
			TxHash:            txHash,
			BlockNumber:       ev.BlockNumber,
			Timestamp:         ts,
		}
	})
}

func (r *Reconciler) ingest(ctx context.Context, kind model.LedgerKind, rawHash string, onchainId int64,
	build func(campaign *model.CampaignModel, txHash string) model.LedgerRecord) (Outcome, error) {
	txHash := model.NormalizeTxHash(rawHash)

	exists, err := r.store.FindByTxHash(ctx, kind, txHash)
	if err != nil {
		return 0, err
	}
	if exists {
		r.metrics.ObserveIngest(string(kind), Duplicate.String())
		return Duplicate, nil
	}

	campaign, err := r.store.FindCampaignByOnchainId(ctx, onchainId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Dropping %s %s: no campaign with onchain id %d", kind, txHash, onchainId)
			r.metrics.ObserveIngest(string(kind), UnknownCampaign.String())
			return UnknownCampaign, nil
		}
		return 0, err
	}

	if err := r.store.Insert(ctx, build(campaign, txHash)); err != nil {
		// 并发写入时由唯一约束兜底
		if errors.Is(err, repository.ErrDuplicate) {
			r.metrics.ObserveIngest(string(kind), Duplicate.String())
			return Duplicate, nil
		}
		return 0, err
	}

	logger.Info("Recorded %s %s for campaign %d (onchain %d)", kind, txHash, campaign.Id, onchainId)
	r.metrics.ObserveIngest(string(kind), Inserted.String())
	return Inserted, nil
}

func weiToEth(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}
