package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/chain/chaintest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogsFiltersByContractAndTopic(t *testing.T) {
	ctx := context.Background()
	backend := chaintest.NewBackend()
	client := chaintest.NewClient(backend)
	contract := client.Contract()

	foreign := chaintest.DonationLog("0x10", 105, 1, donor, chaintest.Ether(1))
	foreign.Address = common.HexToAddress("0x1234")
	backend.AddLogs(
		chaintest.DonationLog("0x11", 101, 1, donor, chaintest.Ether(1)),
		chaintest.WithdrawalLog("0x12", 102, 1, donor, chaintest.Ether(1)),
		chaintest.CampaignCreatedLog("0x13", 103, 2, donor, "x", chaintest.Ether(1)),
		chaintest.DonationLog("0x14", 300, 1, donor, chaintest.Ether(1)),
		foreign,
	)

	logs, err := client.GetLogs(ctx, 100, 200,
		contract.Topic(chain.EventDonationReceived), contract.Topic(chain.EventFundsWithdrawn))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, common.HexToHash("0x11"), logs[0].TxHash)
	assert.Equal(t, common.HexToHash("0x12"), logs[1].TxHash)

	queries := backend.FilterQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, []common.Address{contract.Address()}, queries[0].Addresses)
}

func TestLatestBlockAndTimestamp(t *testing.T) {
	ctx := context.Background()
	backend := chaintest.NewBackend()
	backend.SetHeight(250)
	client := chaintest.NewClient(backend, chain.WithRateLimit(1000))

	height, err := client.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), height)

	ts, err := client.BlockTimestamp(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(chaintest.GenesisTime+120, 0).UTC(), ts)

	backend.BlockNumberErr = errors.New("connection refused")
	_, err = client.LatestBlock(ctx)
	require.Error(t, err)
}

func TestWaitForReceiptTimeoutIsPending(t *testing.T) {
	backend := chaintest.NewBackend()
	client := chaintest.NewClient(backend, chain.WithReceiptPollInterval(10*time.Millisecond))

	outcome, err := client.WaitForReceipt(context.Background(), common.HexToHash("0xdead"), 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, outcome.Pending)
	assert.Nil(t, outcome.Receipt)
}

func TestWaitForReceiptFindsLateReceipt(t *testing.T) {
	backend := chaintest.NewBackend()
	client := chaintest.NewClient(backend, chain.WithReceiptPollInterval(10*time.Millisecond))
	hash := common.HexToHash("0xbeef")

	go func() {
		time.Sleep(30 * time.Millisecond)
		backend.SetReceipt(hash, &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash})
	}()

	outcome, err := client.WaitForReceipt(context.Background(), hash, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, outcome.Pending)
	require.NotNil(t, outcome.Receipt)
	assert.Equal(t, hash, outcome.Receipt.TxHash)
}

func TestWaitForReceiptCancelled(t *testing.T) {
	backend := chaintest.NewBackend()
	client := chaintest.NewClient(backend, chain.WithReceiptPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := client.WaitForReceipt(ctx, common.HexToHash("0xdead"), time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, outcome.Pending)
}

func TestReadCounter(t *testing.T) {
	backend := chaintest.NewBackend()
	backend.Counter = chaintest.Wei("42")
	client := chaintest.NewClient(backend)

	count, err := client.ReadCounter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count.Int64())
}
