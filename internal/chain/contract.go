package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// 合约事件与方法名
const (
	EventDonationReceived = "DonationReceived"
	EventFundsWithdrawn   = "FundsWithdrawn"
	EventCampaignCreated  = "CampaignCreated"

	MethodCreateCampaign = "createCampaign"
	MethodWithdraw       = "withdraw"
	MethodSetActive      = "setActive"
	MethodCampaignCount  = "campaignCount"
)

// ErrEventMismatch 日志的 topic0 不属于期望的事件
var ErrEventMismatch = errors.New("log does not match event signature")

// DecodeError 日志解码失败, 调用方跳过该日志继续处理
type DecodeError struct {
	Event    string
	TxHash   common.Hash
	LogIndex uint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (tx %s, log %d): %v", e.Event, e.TxHash.Hex(), e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// LogMeta 事件所在的交易与区块
type LogMeta struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// DonationEvent DonationReceived 事件
type DonationEvent struct {
	LogMeta
	CampaignId int64
	Donor      common.Address
	Amount     *big.Int
}

// WithdrawalEvent FundsWithdrawn 事件
type WithdrawalEvent struct {
	LogMeta
	CampaignId int64
	Owner      common.Address
	Amount     *big.Int
}

// CampaignCreatedEvent CampaignCreated 事件
type CampaignCreatedEvent struct {
	LogMeta
	CampaignId int64
	Owner      common.Address
}

// Contract DisasterFund 合约描述
type Contract struct {
	address common.Address
	abi     abi.ABI
}

// NewContract 创建合约实例, abiPath 为空时使用内置ABI
func NewContract(address string, abiPath string) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}

	var (
		parsedABI abi.ABI
		err       error
	)
	if abiPath == "" {
		parsedABI, err = abi.JSON(strings.NewReader(disasterFundABI))
	} else {
		parsedABI, err = LoadABI(abiPath)
	}
	if err != nil {
		return nil, err
	}

	for _, name := range []string{EventDonationReceived, EventFundsWithdrawn, EventCampaignCreated} {
		if _, ok := parsedABI.Events[name]; !ok {
			return nil, fmt.Errorf("contract ABI is missing event %s", name)
		}
	}
	for _, name := range []string{MethodCreateCampaign, MethodWithdraw, MethodSetActive, MethodCampaignCount} {
		if _, ok := parsedABI.Methods[name]; !ok {
			return nil, fmt.Errorf("contract ABI is missing method %s", name)
		}
	}

	return &Contract{
		address: common.HexToAddress(address),
		abi:     parsedABI,
	}, nil
}

// LoadABI 加载ABI文件, 支持完整编译输出 {"abi": [...]} 和纯ABI数组
func LoadABI(path string) (abi.ABI, error) {
	abiData, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", path, err)
	}

	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}

	// 首先尝试解析为完整编译输出
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsedABI, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsedABI, nil
	}

	parsedABI, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsedABI, nil
}

// Address 合约地址
func (c *Contract) Address() common.Address {
	return c.address
}

// ABI 合约ABI
func (c *Contract) ABI() abi.ABI {
	return c.abi
}

// Topic 事件签名哈希 (topic0)
func (c *Contract) Topic(event string) common.Hash {
	return c.abi.Events[event].ID
}

// Pack 编码方法调用
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// UnpackCounter 解码 campaignCount 返回值
func (c *Contract) UnpackCounter(output []byte) (*big.Int, error) {
	values, err := c.abi.Unpack(MethodCampaignCount, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", MethodCampaignCount, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", MethodCampaignCount, len(values))
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", MethodCampaignCount, values[0])
	}
	return count, nil
}

// DecodeDonation 解析 DonationReceived 日志
func (c *Contract) DecodeDonation(log types.Log) (DonationEvent, error) {
	fields, err := c.decode(EventDonationReceived, log)
	if err != nil {
		return DonationEvent{}, err
	}

	ev := DonationEvent{LogMeta: metaOf(log)}
	if ev.CampaignId, err = campaignIdArg(fields); err == nil {
		if ev.Donor, err = addressArg(fields, "donor"); err == nil {
			ev.Amount, err = bigArg(fields, "amount")
		}
	}
	if err != nil {
		return DonationEvent{}, newDecodeError(EventDonationReceived, log, err)
	}
	return ev, nil
}

// DecodeWithdrawal 解析 FundsWithdrawn 日志
func (c *Contract) DecodeWithdrawal(log types.Log) (WithdrawalEvent, error) {
	fields, err := c.decode(EventFundsWithdrawn, log)
	if err != nil {
		return WithdrawalEvent{}, err
	}

	ev := WithdrawalEvent{LogMeta: metaOf(log)}
	if ev.CampaignId, err = campaignIdArg(fields); err == nil {
		if ev.Owner, err = addressArg(fields, "owner"); err == nil {
			ev.Amount, err = bigArg(fields, "amount")
		}
	}
	if err != nil {
		return WithdrawalEvent{}, newDecodeError(EventFundsWithdrawn, log, err)
	}
	return ev, nil
}

// DecodeCampaignCreated 解析 CampaignCreated 日志
func (c *Contract) DecodeCampaignCreated(log types.Log) (CampaignCreatedEvent, error) {
	fields, err := c.decode(EventCampaignCreated, log)
	if err != nil {
		return CampaignCreatedEvent{}, err
	}

	ev := CampaignCreatedEvent{LogMeta: metaOf(log)}
	if ev.CampaignId, err = campaignIdArg(fields); err != nil {
		return CampaignCreatedEvent{}, newDecodeError(EventCampaignCreated, log, err)
	}
	// owner 字段在部分合约版本中不存在
	if owner, ok := fields["owner"].(common.Address); ok {
		ev.Owner = owner
	}
	return ev, nil
}

// decode 解析索引参数与非索引参数
func (c *Contract) decode(eventName string, log types.Log) (map[string]interface{}, error) {
	event, ok := c.abi.Events[eventName]
	if !ok {
		return nil, newDecodeError(eventName, log, fmt.Errorf("event not in ABI"))
	}
	if log.Removed {
		return nil, newDecodeError(eventName, log, errors.New("log removed by reorg"))
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, newDecodeError(eventName, log, ErrEventMismatch)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, newDecodeError(eventName, log,
			fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(log.Topics)-1))
	}

	fields := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, newDecodeError(eventName, log, fmt.Errorf("parse topics: %w", err))
	}
	if err := event.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
		return nil, newDecodeError(eventName, log, fmt.Errorf("unpack data: %w", err))
	}
	return fields, nil
}

func metaOf(log types.Log) LogMeta {
	return LogMeta{TxHash: log.TxHash, BlockNumber: log.BlockNumber, LogIndex: log.Index}
}

func newDecodeError(event string, log types.Log, err error) *DecodeError {
	return &DecodeError{Event: event, TxHash: log.TxHash, LogIndex: log.Index, Err: err}
}

func campaignIdArg(fields map[string]interface{}) (int64, error) {
	id, err := bigArg(fields, "campaignId")
	if err != nil {
		return 0, err
	}
	if !id.IsInt64() {
		return 0, fmt.Errorf("campaignId %s overflows int64", id)
	}
	return id.Int64(), nil
}

func bigArg(fields map[string]interface{}, name string) (*big.Int, error) {
	v, ok := fields[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("field %s: expected uint256, got %T", name, fields[name])
	}
	return v, nil
}

func addressArg(fields map[string]interface{}, name string) (common.Address, error) {
	v, ok := fields[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("field %s: expected address, got %T", name, fields[name])
	}
	return v, nil
}
