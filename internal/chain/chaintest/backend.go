// Package chaintest provides an in-memory chain backend for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/blues/relief/internal/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractAddress 测试合约地址
const ContractAddress = "0x00000000000000000000000000000000000fd001"

// TestKey 测试签名私钥
const TestKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

// GenesisTime 区块 n 的时间戳为 GenesisTime + n*12
const GenesisTime = 1700000000

// Backend 实现 chain.RPC
type Backend struct {
	mu sync.Mutex

	ChainId  *big.Int
	Height   uint64
	GasPrice *big.Int

	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	nonces   map[common.Address]uint64

	// Sent 已接受的交易
	Sent []*types.Transaction
	// SendErrors 依次作为 SendTransaction 的返回值, 出错的交易不计入 nonce
	SendErrors []error
	// OnSend 交易被接受后调用, 返回的回执会被记录, 返回 nil 表示未上链
	OnSend func(tx *types.Transaction) *types.Receipt

	BlockNumberErr error
	FilterLogsErr  error
	// FailFilterFrom 非零时, fromBlock >= 该值的 FilterLogs 请求返回 FilterLogsErr
	FailFilterFrom uint64
	EstimateErr    error
	Counter        *big.Int
	CounterErr     error

	FilterCalls []ethereum.FilterQuery
}

// NewBackend 创建后端, 默认自动出块并生成成功回执
func NewBackend() *Backend {
	b := &Backend{
		ChainId:  big.NewInt(11155111),
		Height:   100,
		GasPrice: big.NewInt(1_000_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
		nonces:   make(map[common.Address]uint64),
		Counter:  big.NewInt(0),
	}
	b.OnSend = func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}
	}
	return b
}

// Contract 测试合约
func Contract() *chain.Contract {
	c, err := chain.NewContract(ContractAddress, "")
	if err != nil {
		panic(err)
	}
	return c
}

// NewClient 基于后端创建链客户端
func NewClient(b *Backend, opts ...chain.Option) *chain.Client {
	return chain.NewClient(b, Contract(), opts...)
}

// AddLogs 追加日志, 自动抬高链高度
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range logs {
		b.logs = append(b.logs, l)
		if l.BlockNumber > b.Height {
			b.Height = l.BlockNumber
		}
	}
}

// SetHeight 设置链高度
func (b *Backend) SetHeight(h uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Height = h
}

// SetReceipt 手动登记回执
func (b *Backend) SetReceipt(hash common.Hash, receipt *types.Receipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts[hash] = receipt
}

// SentTxs 已接受交易的快照
func (b *Backend) SentTxs() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.Sent...)
}

// FilterQueries FilterLogs 请求的快照
func (b *Backend) FilterQueries() []ethereum.FilterQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), b.FilterCalls...)
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainId), nil
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BlockNumberErr != nil {
		return 0, b.BlockNumberErr
	}
	return b.Height, nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := number.Uint64()
	return &types.Header{Number: new(big.Int).Set(number), Time: GenesisTime + n*12}, nil
}

func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.FilterCalls = append(b.FilterCalls, q)
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if b.FilterLogsErr != nil && (b.FailFilterFrom == 0 || from >= b.FailFilterFrom) {
		return nil, b.FilterLogsErr
	}

	var out []types.Log
	for _, l := range b.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
			if len(l.Topics) == 0 || !containsHash(q.Topics[0], l.Topics[0]) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return 100_000, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	if len(b.SendErrors) > 0 {
		err := b.SendErrors[0]
		b.SendErrors = b.SendErrors[1:]
		if err != nil {
			b.mu.Unlock()
			return err
		}
	}

	signer := types.LatestSignerForChainID(b.ChainId)
	from, err := types.Sender(signer, tx)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if tx.Nonce() != b.nonces[from] {
		b.mu.Unlock()
		return errors.New("nonce too low")
	}
	b.nonces[from]++
	b.Sent = append(b.Sent, tx)
	b.Height++
	height := b.Height
	onSend := b.OnSend
	b.mu.Unlock()

	if onSend == nil {
		return nil
	}
	if receipt := onSend(tx); receipt != nil {
		if receipt.BlockNumber == nil {
			receipt.BlockNumber = new(big.Int).SetUint64(height)
		}
		receipt.TxHash = tx.Hash()
		b.SetReceipt(tx.Hash(), receipt)
	}
	return nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if b.CounterErr != nil {
		return nil, b.CounterErr
	}
	method := Contract().ABI().Methods[chain.MethodCampaignCount]
	return method.Outputs.Pack(b.Counter)
}

func (b *Backend) Close() {}

// Address 测试私钥对应地址
func Address() common.Address {
	key, err := crypto.HexToECDSA(TestKey)
	if err != nil {
		panic(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
