package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/relief/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突, 记录已存在
	ErrDuplicate = errors.New("record already exists")
	// ErrOnchainIdAssigned 链上ID已赋值, 不允许重新赋值
	ErrOnchainIdAssigned = errors.New("onchain id already assigned")
)

// weiDecimals ETH 与 wei 的精度差
const weiDecimals = 18

// Store 基于 gorm 的持久化实现, 所有操作均为单记录原子
type Store struct {
	db *gorm.DB
}

// NewStore 创建持久化实现
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 获取底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// FindByTxHash 按交易哈希查询账本记录是否存在
func (s *Store) FindByTxHash(ctx context.Context, kind model.LedgerKind, txHash string) (bool, error) {
	table, err := ledgerTable(kind)
	if err != nil {
		return false, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(table).
		Where("tx_hash = ?", model.NormalizeTxHash(txHash)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("find %s by tx hash: %w", kind, err)
	}
	return count > 0, nil
}

// Insert 写入一条账本记录
func (s *Store) Insert(ctx context.Context, record model.LedgerRecord) error {
	switch r := record.(type) {
	case *model.DonationModel:
		r.TxHash = model.NormalizeTxHash(r.TxHash)
		r.DonorAddress = model.NormalizeAddress(r.DonorAddress)
	case *model.WithdrawLogModel:
		r.TxHash = model.NormalizeTxHash(r.TxHash)
		r.OwnerAddress = model.NormalizeAddress(r.OwnerAddress)
	default:
		return fmt.Errorf("unsupported ledger record %T", record)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("insert %s %s: %w", record.Kind(), record.GetTxHash(), ErrDuplicate)
		}
		return fmt.Errorf("insert %s %s: %w", record.Kind(), record.GetTxHash(), err)
	}
	return nil
}

// FindCampaignByOnchainId 根据链上ID查询活动
func (s *Store) FindCampaignByOnchainId(ctx context.Context, onchainId int64) (*model.CampaignModel, error) {
	var campaign model.CampaignModel
	err := s.db.WithContext(ctx).Where("onchain_id = ?", onchainId).First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find campaign by onchain id %d: %w", onchainId, err)
	}
	return &campaign, nil
}

// SumAmount 汇总活动的捐款或提款金额(ETH), 以 wei 字符串精确求和
func (s *Store) SumAmount(ctx context.Context, kind model.LedgerKind, campaignId int64) (decimal.Decimal, error) {
	table, err := ledgerTable(kind)
	if err != nil {
		return decimal.Zero, err
	}

	var amounts []string
	if err := s.db.WithContext(ctx).Model(table).
		Where("campaign_id = ?", campaignId).
		Pluck("amount_wei", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("sum %s for campaign %d: %w", kind, campaignId, err)
	}

	total := new(big.Int)
	for _, a := range amounts {
		wei, ok := new(big.Int).SetString(a, 10)
		if !ok {
			return decimal.Zero, fmt.Errorf("sum %s for campaign %d: invalid amount_wei %q", kind, campaignId, a)
		}
		total.Add(total, wei)
	}
	return decimal.NewFromBigInt(total, -weiDecimals), nil
}

// CreateCampaign 创建活动
func (s *Store) CreateCampaign(ctx context.Context, campaign *model.CampaignModel) error {
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign 获取活动
func (s *Store) GetCampaign(ctx context.Context, id int64) (*model.CampaignModel, error) {
	var campaign model.CampaignModel
	if err := s.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return &campaign, nil
}

// ListCampaigns 获取活动列表
func (s *Store) ListCampaigns(ctx context.Context, visibleOnly bool) ([]model.CampaignModel, error) {
	var campaigns []model.CampaignModel
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if visibleOnly {
		query = query.Where("is_visible = ?", true)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// ListAutoDisburseCandidates 自动拨款候选活动
func (s *Store) ListAutoDisburseCandidates(ctx context.Context) ([]model.CampaignModel, error) {
	var campaigns []model.CampaignModel
	if err := s.db.WithContext(ctx).
		Where("auto_disburse = ? AND status = ? AND onchain_id IS NOT NULL", true, model.CampaignStatusActive).
		Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("list auto-disburse campaigns: %w", err)
	}
	return campaigns, nil
}

// SetOnchainInfo 记录链上创建结果, onchain_id 只允许赋值一次
func (s *Store) SetOnchainInfo(ctx context.Context, id int64, txHash string, onchainId *int64, provisional bool) error {
	updates := map[string]interface{}{
		"contract_tx_hash": model.NormalizeTxHash(txHash),
	}
	if onchainId == nil {
		return s.db.WithContext(ctx).Model(&model.CampaignModel{}).Where("id = ?", id).Updates(updates).Error
	}

	updates["onchain_id"] = *onchainId
	updates["onchain_id_provisional"] = provisional
	result := s.db.WithContext(ctx).Model(&model.CampaignModel{}).
		Where("id = ? AND onchain_id IS NULL", id).
		Updates(updates)
	if result.Error != nil {
		if isDuplicateError(result.Error) {
			return fmt.Errorf("campaign %d onchain id %d: %w", id, *onchainId, ErrDuplicate)
		}
		return fmt.Errorf("set onchain info for campaign %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("campaign %d: %w", id, ErrOnchainIdAssigned)
	}
	return nil
}

// UpdateStatus 更新活动状态
func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	return s.updateCampaign(ctx, id, "status", status)
}

// UpdateVisibility 更新活动可见性
func (s *Store) UpdateVisibility(ctx context.Context, id int64, visible bool) error {
	return s.updateCampaign(ctx, id, "is_visible", visible)
}

func (s *Store) updateCampaign(ctx context.Context, id int64, column string, value interface{}) error {
	result := s.db.WithContext(ctx).Model(&model.CampaignModel{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("update campaign %d %s: %w", id, column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDonations 活动捐款记录, 按区块倒序
func (s *Store) ListDonations(ctx context.Context, campaignId int64) ([]model.DonationModel, error) {
	var donations []model.DonationModel
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignId).
		Order("block_number DESC").Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	return donations, nil
}

// ListDonationsByDonor 按捐款人地址查询, 地址不区分大小写
func (s *Store) ListDonationsByDonor(ctx context.Context, donor string) ([]model.DonationModel, error) {
	var donations []model.DonationModel
	if err := s.db.WithContext(ctx).Where("donor_address = ?", model.NormalizeAddress(donor)).
		Order("block_number DESC").Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("list donations by donor: %w", err)
	}
	return donations, nil
}

// ListWithdrawLogs 活动提款记录, 按区块倒序
func (s *Store) ListWithdrawLogs(ctx context.Context, campaignId int64) ([]model.WithdrawLogModel, error) {
	var logs []model.WithdrawLogModel
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignId).
		Order("block_number DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list withdraw logs: %w", err)
	}
	return logs, nil
}

// CountDonors 唯一捐款人数量
func (s *Store) CountDonors(ctx context.Context, campaignId int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.DonationModel{}).
		Where("campaign_id = ?", campaignId).
		Distinct("donor_address").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count donors: %w", err)
	}
	return count, nil
}

// CountLedger 账本记录条数
func (s *Store) CountLedger(ctx context.Context, kind model.LedgerKind, campaignId int64) (int64, error) {
	table, err := ledgerTable(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(table).Where("campaign_id = ?", campaignId).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return count, nil
}

// CreateAuditLog 写入审计日志
func (s *Store) CreateAuditLog(ctx context.Context, actor, action, detail string) error {
	entry := &model.AuditLogModel{Actor: actor, Action: action, Detail: detail}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogs 按时间倒序查询审计日志, action 为空时不过滤
func (s *Store) ListAuditLogs(ctx context.Context, action string, limit int) ([]model.AuditLogModel, error) {
	query := s.db.WithContext(ctx).Order("id DESC")
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []model.AuditLogModel
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}

// LoadCursor 读取轮询水位, 不存在时返回 ErrNotFound
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, error) {
	var cursor model.SyncCursorModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&cursor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return cursor.BlockNumber, nil
}

// SaveCursor 保存轮询水位
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	cursor := model.SyncCursorModel{Name: name, BlockNumber: block, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "updated_at"}),
	}).Create(&cursor).Error
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}

func ledgerTable(kind model.LedgerKind) (interface{}, error) {
	switch kind {
	case model.LedgerKindDonation:
		return &model.DonationModel{}, nil
	case model.LedgerKindWithdrawal:
		return &model.WithdrawLogModel{}, nil
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", kind)
	}
}

// isDuplicateError 兼容未翻译错误的驱动
func isDuplicateError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
