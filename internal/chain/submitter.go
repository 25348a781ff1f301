package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/relief/internal/config"
	"github.com/blues/relief/internal/logger"
	"github.com/blues/relief/internal/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrReverted 交易已上链但执行失败
	ErrReverted = errors.New("transaction reverted")
)

// Operation 合约写操作
type Operation string

const (
	OpCreateCampaign Operation = "create_campaign"
	OpWithdraw       Operation = "withdraw"
	OpSetActive      Operation = "set_active"
)

// IDSource 链上活动ID的来源
type IDSource string

const (
	IDSourceNone    IDSource = "none"
	IDSourceEvent   IDSource = "event"   // 从 CampaignCreated 事件解析
	IDSourceCounter IDSource = "counter" // 读取 campaignCount, 并发创建时不可靠
)

// SubmitResult 提交结果, Pending 表示在超时内未拿到回执, 交易仍视为已提交
type SubmitResult struct {
	Operation Operation
	TxHash    common.Hash
	Nonce     uint64
	GasPrice  *big.Int
	Retried   bool
	Receipt   *types.Receipt
	Pending   bool

	// 仅 OpCreateCampaign
	OnchainId   *int64
	IDSource    IDSource
	Provisional bool
}

// Submitter 构造、签名并发送合约交易
type Submitter struct {
	client         *Client
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	gasLimit       uint64
	gasMarkup      int64
	retryGasMarkup int64
	receiptTimeout time.Duration
	metrics        *metrics.ReliefMetrics

	// 保证 nonce 选择与广播串行, 同一进程内的提交不会读到相同的 pending nonce
	mu sync.Mutex
}

// NewSubmitter 创建交易提交器
func NewSubmitter(client *Client, cfg config.ChainConfig, m *metrics.ReliefMetrics) (*Submitter, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.ChainId <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainId)
	}

	return &Submitter{
		client:         client,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainId),
		gasLimit:       cfg.GasLimit,
		gasMarkup:      cfg.GasMarkup,
		retryGasMarkup: cfg.RetryGasMarkup,
		receiptTimeout: cfg.ReceiptTimeout,
		metrics:        m,
	}, nil
}

// ParsePrivateKey 解析私钥, 兼容带或不带 0x 前缀
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// From 签名账户地址
func (s *Submitter) From() common.Address {
	return s.from
}

// CreateCampaign 调用 createCampaign(title, description, goal)
func (s *Submitter) CreateCampaign(ctx context.Context, title, description string, goalWei *big.Int) (*SubmitResult, error) {
	result, err := s.submit(ctx, OpCreateCampaign, MethodCreateCampaign, title, description, goalWei)
	if err != nil || result.Receipt == nil {
		return result, err
	}

	s.resolveCampaignId(ctx, result)
	return result, nil
}

// Withdraw 调用 withdraw(campaignId, amount)
func (s *Submitter) Withdraw(ctx context.Context, onchainId int64, amountWei *big.Int) (*SubmitResult, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, fmt.Errorf("withdraw amount must be positive")
	}
	return s.submit(ctx, OpWithdraw, MethodWithdraw, big.NewInt(onchainId), amountWei)
}

// SetActive 调用 setActive(campaignId, active)
func (s *Submitter) SetActive(ctx context.Context, onchainId int64, active bool) (*SubmitResult, error) {
	return s.submit(ctx, OpSetActive, MethodSetActive, big.NewInt(onchainId), active)
}

func (s *Submitter) submit(ctx context.Context, op Operation, method string, args ...interface{}) (*SubmitResult, error) {
	data, err := s.client.Contract().Pack(method, args...)
	if err != nil {
		return nil, err
	}

	result, err := s.broadcast(ctx, op, data)
	if err != nil {
		s.metrics.ObserveSubmission(string(op), "failed")
		return nil, err
	}

	outcome, err := s.client.WaitForReceipt(ctx, result.TxHash, s.receiptTimeout)
	if err != nil {
		// 交易已广播, 上下文取消不代表失败
		logger.Warn("Stopped waiting for %s tx %s: %v", op, result.TxHash.Hex(), err)
		result.Pending = true
		s.metrics.ObserveSubmission(string(op), "pending")
		return result, nil
	}
	if outcome.Pending {
		result.Pending = true
		s.metrics.ObserveSubmission(string(op), "pending")
		return result, nil
	}

	result.Receipt = outcome.Receipt
	if outcome.Receipt.Status != types.ReceiptStatusSuccessful {
		s.metrics.ObserveSubmission(string(op), "reverted")
		return result, fmt.Errorf("%s tx %s: %w", op, result.TxHash.Hex(), ErrReverted)
	}

	s.metrics.ObserveSubmission(string(op), "mined")
	logger.Info("%s tx %s mined in block %d", op, result.TxHash.Hex(), outcome.Receipt.BlockNumber)
	return result, nil
}

// broadcast 选择 nonce 与 gas 价格后签名发送; replacement underpriced 时以相同 nonce 提价重试一次
func (s *Submitter) broadcast(ctx context.Context, op Operation, data []byte) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rpc := s.client.RPC()
	to := s.client.Contract().Address()

	nonce, err := rpc.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("get pending nonce: %w", err)
	}

	basePrice, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit := s.estimateGas(ctx, to, data)

	gasPrice := applyMarkup(basePrice, s.gasMarkup)
	tx, err := s.signAndSend(ctx, nonce, gasPrice, gasLimit, to, data)
	retried := false
	if err != nil && IsUnderpriced(err) {
		s.metrics.ObserveUnderpricedRetry()
		gasPrice = applyMarkup(basePrice, s.retryGasMarkup)
		logger.Warn("%s nonce %d underpriced, retrying at gas price %s: %v", op, nonce, gasPrice, err)
		tx, err = s.signAndSend(ctx, nonce, gasPrice, gasLimit, to, data)
		retried = true
	}
	if err != nil {
		return nil, fmt.Errorf("send %s tx (nonce %d): %w", op, nonce, err)
	}

	logger.Info("Submitted %s tx %s (nonce %d, gas price %s)", op, tx.Hash().Hex(), nonce, gasPrice)
	return &SubmitResult{
		Operation: op,
		TxHash:    tx.Hash(),
		Nonce:     nonce,
		GasPrice:  gasPrice,
		Retried:   retried,
		IDSource:  IDSourceNone,
	}, nil
}

func (s *Submitter) signAndSend(ctx context.Context, nonce uint64, gasPrice *big.Int, gasLimit uint64, to common.Address, data []byte) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.RPC().SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// estimateGas 估算失败时使用配置的 gas 上限
func (s *Submitter) estimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	estimated, err := s.client.RPC().EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Data: data})
	if err != nil || estimated == 0 {
		if err != nil {
			logger.Debug("Gas estimation failed, using default limit %d: %v", s.gasLimit, err)
		}
		return s.gasLimit
	}
	return estimated + estimated/5
}

// resolveCampaignId 优先解析回执中的 CampaignCreated 事件, 失败时读取计数器并标记为临时
func (s *Submitter) resolveCampaignId(ctx context.Context, result *SubmitResult) {
	contract := s.client.Contract()
	for _, l := range result.Receipt.Logs {
		if l == nil || l.Address != contract.Address() {
			continue
		}
		ev, err := contract.DecodeCampaignCreated(*l)
		if err != nil {
			continue
		}
		id := ev.CampaignId
		result.OnchainId = &id
		result.IDSource = IDSourceEvent
		return
	}

	count, err := s.client.ReadCounter(ctx)
	if err != nil || !count.IsInt64() {
		logger.Warn("Could not resolve onchain id for tx %s: no CampaignCreated event and counter read failed: %v",
			result.TxHash.Hex(), err)
		return
	}

	id := count.Int64()
	result.OnchainId = &id
	result.IDSource = IDSourceCounter
	result.Provisional = true
	logger.Warn("Onchain id for tx %s derived from campaignCount=%d; provisional, may be wrong under concurrent creation",
		result.TxHash.Hex(), id)
}

// IsUnderpriced 是否为替换交易价格过低错误
func IsUnderpriced(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "replacement transaction underpriced")
}

func applyMarkup(price *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(100+percent))
	return out.Div(out, big.NewInt(100))
}
