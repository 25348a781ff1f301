package model

import "strings"

// LedgerKind 链上账本记录类型
type LedgerKind string

const (
	LedgerKindDonation   LedgerKind = "donation"
	LedgerKindWithdrawal LedgerKind = "withdrawal"
)

// LedgerRecord 由 DonationModel 和 WithdrawLogModel 实现
type LedgerRecord interface {
	Kind() LedgerKind
	GetTxHash() string
	GetCampaignId() int64
}

// NormalizeTxHash 交易哈希统一为小写并带 0x 前缀
func NormalizeTxHash(hash string) string {
	h := strings.ToLower(strings.TrimSpace(hash))
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

// NormalizeAddress 地址统一为小写, 便于查询
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
