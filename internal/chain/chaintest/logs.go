package chaintest

import (
	"math/big"

	"github.com/blues/relief/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Ether 将整数个 ETH 转为 wei
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// Wei 解析十进制 wei 字符串
func Wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid wei amount " + s)
	}
	return v
}

// DonationLog 构造 DonationReceived 日志
func DonationLog(txHash string, block uint64, onchainId int64, donor common.Address, amount *big.Int) types.Log {
	return eventLog(chain.EventDonationReceived, txHash, block, onchainId, donor, amount)
}

// WithdrawalLog 构造 FundsWithdrawn 日志
func WithdrawalLog(txHash string, block uint64, onchainId int64, owner common.Address, amount *big.Int) types.Log {
	return eventLog(chain.EventFundsWithdrawn, txHash, block, onchainId, owner, amount)
}

// CampaignCreatedLog 构造 CampaignCreated 日志
func CampaignCreatedLog(txHash string, block uint64, onchainId int64, owner common.Address, title string, goal *big.Int) types.Log {
	contract := Contract()
	event := contract.ABI().Events[chain.EventCampaignCreated]
	data, err := event.Inputs.NonIndexed().Pack(title, goal)
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     contract.Address(),
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(onchainId)), common.BytesToHash(owner.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
	}
}

func eventLog(name, txHash string, block uint64, onchainId int64, party common.Address, amount *big.Int) types.Log {
	contract := Contract()
	event := contract.ABI().Events[name]
	data, err := event.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     contract.Address(),
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(onchainId)), common.BytesToHash(party.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
	}
}
