package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/relief/internal/config"
	"github.com/blues/relief/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// RPC 链节点接口, 由 *ethclient.Client 实现
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

const defaultReceiptPollInterval = 2 * time.Second

// ReceiptOutcome 等待回执的结果, 超时时 Pending 为 true 且 Receipt 为空
type ReceiptOutcome struct {
	Receipt *types.Receipt
	Pending bool
}

// Client 链客户端
type Client struct {
	rpc                 RPC
	contract            *Contract
	limiter             *rate.Limiter
	receiptPollInterval time.Duration
}

// Option 客户端可选项
type Option func(*Client)

// WithRateLimit 限制每秒RPC请求数
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
		}
	}
}

// WithReceiptPollInterval 设置回执轮询间隔
func WithReceiptPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.receiptPollInterval = d
		}
	}
}

// NewClient 基于已有连接创建客户端
func NewClient(rpc RPC, contract *Contract, opts ...Option) *Client {
	c := &Client{
		rpc:                 rpc,
		contract:            contract,
		limiter:             rate.NewLimiter(rate.Inf, 0),
		receiptPollInterval: defaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial 连接RPC节点并校验连通性, 启动时失败即返回错误
func Dial(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	contract, err := NewContract(cfg.ContractAddress, cfg.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize contract: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	logger.Info("Creating chain client connection (chain id: %d)", cfg.ChainId)
	rpc, err := ethclient.DialContext(dialCtx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	// 测试连接
	height, err := rpc.BlockNumber(dialCtx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("client connection test failed: %w", err)
	}

	chainID, err := rpc.ChainID(dialCtx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if cfg.ChainId != 0 && chainID.Int64() != cfg.ChainId {
		rpc.Close()
		return nil, fmt.Errorf("rpc chain id %s does not match configured chain id %d", chainID, cfg.ChainId)
	}

	logger.Info("Connected to chain %s at block %d, contract %s", chainID, height, contract.Address().Hex())
	return NewClient(rpc, contract, WithRateLimit(cfg.RPCRateLimit)), nil
}

// Contract 合约描述
func (c *Client) Contract() *Contract {
	return c.contract
}

// RPC 底层连接
func (c *Client) RPC() RPC {
	return c.rpc
}

// LatestBlock 获取当前最新区块号
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	height, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return height, nil
}

// GetLogs 获取 [fromBlock, toBlock] 内合约日志, 仅按 topic0 过滤, 字段过滤由调用方解码后完成
func (c *Client) GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics ...common.Hash) ([]types.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract.Address()},
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}

	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error getting logs for blocks %d-%d: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

// BlockTimestamp 获取区块时间
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("get header %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// WaitForReceipt 等待交易上链; 超时返回 Pending 结果而不是错误, 调用方不得将其视为失败
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (ReceiptOutcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return ReceiptOutcome{Receipt: receipt}, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			logger.Debug("Receipt lookup for %s failed, retrying: %v", txHash.Hex(), err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ReceiptOutcome{Pending: true}, ctx.Err()
			}
			logger.Warn("Transaction %s not mined within %s, outcome pending", txHash.Hex(), timeout)
			return ReceiptOutcome{Pending: true}, nil
		case <-ticker.C:
		}
	}
}

// ReadCounter 读取合约当前的活动计数
func (c *Client) ReadCounter(ctx context.Context) (*big.Int, error) {
	data, err := c.contract.Pack(MethodCampaignCount)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	to := c.contract.Address()
	output, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", MethodCampaignCount, err)
	}
	return c.contract.UnpackCounter(output)
}

// Close 关闭连接
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
	logger.Info("Chain client closed")
}
