package logic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/poller"
	"github.com/blues/relief/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoOnchainId      = errors.New("campaign has no onchain id")
	ErrChainDisabled    = errors.New("chain submitter not configured")
	ErrInvalidArgument  = errors.New("invalid argument")
)

const defaultDisburseThreshold = 0.8

// Submitter 由 chain.Submitter 实现
type Submitter interface {
	CreateCampaign(ctx context.Context, title, description string, goalWei *big.Int) (*chain.SubmitResult, error)
	Withdraw(ctx context.Context, onchainId int64, amountWei *big.Int) (*chain.SubmitResult, error)
	SetActive(ctx context.Context, onchainId int64, active bool) (*chain.SubmitResult, error)
}

// Syncer 由 poller.EventPoller 实现
type Syncer interface {
	Resync(ctx context.Context, onchainId int64) (poller.SyncResult, error)
	ResyncKind(ctx context.Context, onchainId int64, kind model.LedgerKind) (poller.SyncResult, error)
}

// CreateCampaignRequest 创建活动参数
type CreateCampaignRequest struct {
	Title             string
	ShortDesc         string
	Description       string
	ImageURL          string
	Beneficiary       string
	Owner             string
	Deadline          *time.Time
	GoalAmount        decimal.Decimal
	Currency          string
	AutoDisburse      bool
	DisburseThreshold *float64
	IsVisible         *bool
	CreateOnChain     bool
}

// CampaignStats 活动统计
type CampaignStats struct {
	CampaignId      int64           `json:"campaign_id"`
	OnchainId       *int64          `json:"onchain_id"`
	GoalAmount      decimal.Decimal `json:"goal_amount"`
	TotalRaised     decimal.Decimal `json:"total_raised"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	Available       decimal.Decimal `json:"available"`
	Progress        float64         `json:"progress"` // 百分比
	DonationCount   int64           `json:"donation_count"`
	DonorCount      int64           `json:"donor_count"`
	WithdrawalCount int64           `json:"withdrawal_count"`
}

// CampaignLogic 活动业务逻辑
type CampaignLogic struct {
	store      *repository.Store
	submitter  Submitter
	syncer     Syncer
	background *Background
}

// NewCampaignLogic submitter 或 syncer 为 nil 时对应的链上操作不可用
func NewCampaignLogic(store *repository.Store, submitter Submitter, syncer Syncer, background *Background) *CampaignLogic {
	return &CampaignLogic{
		store:      store,
		submitter:  submitter,
		syncer:     syncer,
		background: background,
	}
}

// CreateCampaign 创建活动, CreateOnChain 时在后台提交 createCampaign 交易
func (l *CampaignLogic) CreateCampaign(ctx context.Context, req CreateCampaignRequest, actor string) (*model.CampaignModel, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if req.CreateOnChain && l.submitter == nil {
		return nil, ErrChainDisabled
	}

	campaign := &model.CampaignModel{
		Title:             strings.TrimSpace(req.Title),
		ShortDesc:         req.ShortDesc,
		Description:       req.Description,
		ImageURL:          req.ImageURL,
		Beneficiary:       req.Beneficiary,
		Owner:             req.Owner,
		Deadline:          req.Deadline,
		GoalAmount:        req.GoalAmount,
		Currency:          req.Currency,
		AutoDisburse:      req.AutoDisburse,
		DisburseThreshold: defaultDisburseThreshold,
		Status:            model.CampaignStatusActive,
		IsVisible:         true,
	}
	if campaign.Currency == "" {
		campaign.Currency = "ETH"
	}
	if req.DisburseThreshold != nil {
		campaign.DisburseThreshold = *req.DisburseThreshold
	}
	if req.IsVisible != nil {
		campaign.IsVisible = *req.IsVisible
	}

	if err := l.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	l.audit(ctx, actor, model.AuditActionCreateCampaign, "campaign_id=%d, title=%s, goal=%s", campaign.Id, campaign.Title, campaign.GoalAmount)

	if req.CreateOnChain {
		created := *campaign
		l.background.Go(fmt.Sprintf("create_on_chain:%d", campaign.Id), func(ctx context.Context) {
			l.createOnChain(ctx, &created)
		})
	}
	return campaign, nil
}

func validateCreate(req CreateCampaignRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if !req.GoalAmount.IsPositive() {
		return fmt.Errorf("%w: goal amount must be positive", ErrInvalidArgument)
	}
	if t := req.DisburseThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("%w: disburse threshold must be within [0, 1]", ErrInvalidArgument)
	}
	return nil
}

// createOnChain 提交链上创建并回写交易哈希与链上ID
func (l *CampaignLogic) createOnChain(ctx context.Context, campaign *model.CampaignModel) {
	goalWei := campaign.GoalAmount.Shift(18).BigInt()
	result, err := l.submitter.CreateCampaign(ctx, campaign.Title, campaign.Description, goalWei)
	if result == nil {
		logger.Error("On-chain creation failed for campaign %d: %v", campaign.Id, err)
		return
	}

	txHash := model.NormalizeTxHash(result.TxHash.Hex())
	if err != nil || result.Pending || result.OnchainId == nil {
		if err != nil {
			logger.Error("On-chain creation failed for campaign %d in tx %s: %v", campaign.Id, txHash, err)
		} else {
			logger.Warn("Campaign %d submitted in tx %s but onchain id is unresolved", campaign.Id, txHash)
		}
		if err := l.store.SetOnchainInfo(ctx, campaign.Id, txHash, nil, false); err != nil {
			logger.Error("Failed to record tx hash for campaign %d: %v", campaign.Id, err)
		}
		return
	}

	if err := l.store.SetOnchainInfo(ctx, campaign.Id, txHash, result.OnchainId, result.Provisional); err != nil {
		logger.Error("Failed to record onchain id %d for campaign %d: %v", *result.OnchainId, campaign.Id, err)
		return
	}
	logger.Info("Campaign %d created on chain with id %d (source %s, tx %s)",
		campaign.Id, *result.OnchainId, result.IDSource, txHash)
	l.audit(ctx, "system", model.AuditActionOnchainCreated, "campaign_id=%d, onchain_id=%d, source=%s, tx=%s",
		campaign.Id, *result.OnchainId, result.IDSource, txHash)
}

// GetCampaign 获取活动
func (l *CampaignLogic) GetCampaign(ctx context.Context, id int64) (*model.CampaignModel, error) {
	campaign, err := l.store.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// ListCampaigns 获取活动列表, includeHidden 为 false 时只返回可见活动
func (l *CampaignLogic) ListCampaigns(ctx context.Context, includeHidden bool) ([]model.CampaignModel, error) {
	return l.store.ListCampaigns(ctx, !includeHidden)
}

// GetStats 获取活动统计
func (l *CampaignLogic) GetStats(ctx context.Context, id int64) (*CampaignStats, error) {
	campaign, err := l.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	raised, err := l.store.SumAmount(ctx, model.LedgerKindDonation, id)
	if err != nil {
		return nil, err
	}
	withdrawn, err := l.store.SumAmount(ctx, model.LedgerKindWithdrawal, id)
	if err != nil {
		return nil, err
	}
	donations, err := l.store.CountLedger(ctx, model.LedgerKindDonation, id)
	if err != nil {
		return nil, err
	}
	withdrawals, err := l.store.CountLedger(ctx, model.LedgerKindWithdrawal, id)
	if err != nil {
		return nil, err
	}
	donors, err := l.store.CountDonors(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &CampaignStats{
		CampaignId:      campaign.Id,
		OnchainId:       campaign.OnchainId,
		GoalAmount:      campaign.GoalAmount,
		TotalRaised:     raised,
		TotalWithdrawn:  withdrawn,
		Available:       raised.Sub(withdrawn),
		DonationCount:   donations,
		DonorCount:      donors,
		WithdrawalCount: withdrawals,
	}
	if campaign.GoalAmount.IsPositive() {
		stats.Progress = raised.Div(campaign.GoalAmount).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return stats, nil
}

// ListDonations 活动捐款记录
func (l *CampaignLogic) ListDonations(ctx context.Context, id int64) ([]model.DonationModel, error) {
	if _, err := l.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return l.store.ListDonations(ctx, id)
}

// ListWithdrawals 活动提款记录
func (l *CampaignLogic) ListWithdrawals(ctx context.Context, id int64) ([]model.WithdrawLogModel, error) {
	if _, err := l.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return l.store.ListWithdrawLogs(ctx, id)
}

// ListDonationsByDonor 某地址的全部捐款
func (l *CampaignLogic) ListDonationsByDonor(ctx context.Context, donor string) ([]model.DonationModel, error) {
	if strings.TrimSpace(donor) == "" {
		return nil, fmt.Errorf("%w: donor address is required", ErrInvalidArgument)
	}
	return l.store.ListDonationsByDonor(ctx, donor)
}

// Withdraw 管理员提款, 上链后在后台补录 FundsWithdrawn
func (l *CampaignLogic) Withdraw(ctx context.Context, id int64, amount decimal.Decimal, actor string) (*chain.SubmitResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	campaign, err := l.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if !campaign.HasOnchainId() {
		return nil, ErrNoOnchainId
	}
	if l.submitter == nil {
		return nil, ErrChainDisabled
	}

	onchainId := *campaign.OnchainId
	result, err := l.submitter.Withdraw(ctx, onchainId, amount.Shift(18).BigInt())
	if err != nil {
		return nil, err
	}

	txHash := model.NormalizeTxHash(result.TxHash.Hex())
	l.audit(ctx, actor, model.AuditActionWithdraw, "campaign_id=%d, amount=%s ETH, tx=%s, pending=%t",
		id, amount, txHash, result.Pending)

	if !result.Pending && l.syncer != nil {
		l.background.Go(fmt.Sprintf("withdraw_backfill:%d", id), func(ctx context.Context) {
			if _, err := l.syncer.ResyncKind(ctx, onchainId, model.LedgerKindWithdrawal); err != nil {
				logger.Warn("Withdrawal backfill for campaign %d failed, poller will pick it up: %v", id, err)
			}
		})
	}
	return result, nil
}

// SetActive 切换活动状态, 已上链的活动同步调用 setActive
func (l *CampaignLogic) SetActive(ctx context.Context, id int64, active bool, actor string) (*model.CampaignModel, error) {
	campaign, err := l.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	txHash := ""
	if campaign.HasOnchainId() {
		if l.submitter == nil {
			return nil, ErrChainDisabled
		}
		result, err := l.submitter.SetActive(ctx, *campaign.OnchainId, active)
		if err != nil {
			return nil, err
		}
		txHash = model.NormalizeTxHash(result.TxHash.Hex())
	}

	status := model.CampaignStatusClosed
	if active {
		status = model.CampaignStatusActive
	}
	if err := l.store.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	campaign.Status = status

	l.audit(ctx, actor, model.AuditActionSetActive, "campaign_id=%d, active=%t, tx=%s", id, active, txHash)
	return campaign, nil
}

// SetVisibility 切换活动是否公开展示, 仅修改本地记录
func (l *CampaignLogic) SetVisibility(ctx context.Context, id int64, visible bool, actor string) (*model.CampaignModel, error) {
	if err := l.store.UpdateVisibility(ctx, id, visible); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	l.audit(ctx, actor, model.AuditActionSetVisibility, "campaign_id=%d, visible=%t", id, visible)
	return l.GetCampaign(ctx, id)
}

// SyncCampaign 从链上回补活动的捐款与提款事件
func (l *CampaignLogic) SyncCampaign(ctx context.Context, id int64, actor string) (poller.SyncResult, error) {
	campaign, err := l.GetCampaign(ctx, id)
	if err != nil {
		return poller.SyncResult{}, err
	}
	if !campaign.HasOnchainId() {
		return poller.SyncResult{}, ErrNoOnchainId
	}
	if l.syncer == nil {
		return poller.SyncResult{}, ErrChainDisabled
	}

	result, err := l.syncer.Resync(ctx, *campaign.OnchainId)
	if err != nil {
		return result, err
	}
	l.audit(ctx, actor, model.AuditActionSync, "campaign_id=%d, blocks=%d-%d, inserted=%d",
		id, result.FromBlock, result.ToBlock, result.Inserted)
	return result, nil
}

// ListAuditLogs 查询审计日志
func (l *CampaignLogic) ListAuditLogs(ctx context.Context, action string, limit int) ([]model.AuditLogModel, error) {
	return l.store.ListAuditLogs(ctx, action, limit)
}

func (l *CampaignLogic) audit(ctx context.Context, actor, action, format string, args ...interface{}) {
	if actor == "" {
		actor = "anonymous"
	}
	if err := l.store.CreateAuditLog(ctx, actor, action, fmt.Sprintf(format, args...)); err != nil {
		logger.Error("Failed to write audit log %s: %v", action, err)
	}
}
