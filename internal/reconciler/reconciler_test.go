package reconciler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/chain/chaintest"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/reconciler"
	"github.com/blues/relief/internal/repository"
	"github.com/blues/relief/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var (
	donor = common.HexToAddress("0x00000000000000000000000000000000000000D0")
	ts    = time.Unix(1700000600, 0).UTC()
)

func donationEvent(txHash string, onchainId int64, wei string) chain.DonationEvent {
	return chain.DonationEvent{
		LogMeta:    chain.LogMeta{TxHash: common.HexToHash(txHash), BlockNumber: 150},
		CampaignId: onchainId,
		Donor:      donor,
		Amount:     chaintest.Wei(wei),
	}
}

func TestIngestDonationScenario(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(3), "10", func(c *model.CampaignModel) { c.Id = 7 })
	r := reconciler.New(store, nil)

	ev := donationEvent("0xAAA", 3, "2000000000000000000")
	outcome, err := r.IngestDonation(ctx, ev, ts)
	require.NoError(t, err)
	assert.Equal(t, reconciler.Inserted, outcome)

	donations, err := store.ListDonations(ctx, campaign.Id)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	got := donations[0]
	assert.Equal(t, int64(7), got.CampaignId)
	assert.Equal(t, int64(3), got.OnchainCampaignId)
	assert.Equal(t, "2", got.AmountEth.String())
	assert.Equal(t, "2000000000000000000", got.AmountWei)
	assert.Equal(t, model.NormalizeTxHash(common.HexToHash("0xaaa").Hex()), got.TxHash)
	assert.Equal(t, "0x00000000000000000000000000000000000000d0", got.DonorAddress)
	assert.Equal(t, uint64(150), got.BlockNumber)

	// 重复投递不产生新记录
	outcome, err = r.IngestDonation(ctx, ev, ts)
	require.NoError(t, err)
	assert.Equal(t, reconciler.Duplicate, outcome)

	count, err := store.CountLedger(ctx, model.LedgerKindDonation, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestUnknownCampaignIsDroppedWithWarning(t *testing.T) {
	ctx := context.Background()
	logs := testutil.ObserveLogs(t, zapcore.WarnLevel)
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	r := reconciler.New(store, nil)

	outcome, err := r.IngestDonation(ctx, donationEvent("0xbbb", 42, "1"), ts)
	require.NoError(t, err)
	assert.Equal(t, reconciler.UnknownCampaign, outcome)

	found, err := store.FindByTxHash(ctx, model.LedgerKindDonation, common.HexToHash("0xbbb").Hex())
	require.NoError(t, err)
	assert.False(t, found)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "onchain id 42")
}

func TestIngestWithdrawal(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(5), "10")
	r := reconciler.New(store, nil)

	ev := chain.WithdrawalEvent{
		LogMeta:    chain.LogMeta{TxHash: common.HexToHash("0xccc"), BlockNumber: 200},
		CampaignId: 5,
		Owner:      donor,
		Amount:     chaintest.Wei("1500000000000000000"),
	}
	outcome, err := r.IngestWithdrawal(ctx, ev, ts)
	require.NoError(t, err)
	assert.Equal(t, reconciler.Inserted, outcome)

	// 同一哈希的捐款与提款分属不同账本
	found, err := store.FindByTxHash(ctx, model.LedgerKindDonation, ev.TxHash.Hex())
	require.NoError(t, err)
	assert.False(t, found)

	withdrawn, err := store.SumAmount(ctx, model.LedgerKindWithdrawal, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, "1.5", withdrawn.String())

	outcome, err = r.IngestWithdrawal(ctx, ev, ts)
	require.NoError(t, err)
	assert.Equal(t, reconciler.Duplicate, outcome)
}

func TestConcurrentIngestInsertsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(1), "10")
	r := reconciler.New(store, nil)

	const workers = 10
	outcomes := make([]reconciler.Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = r.IngestDonation(ctx, donationEvent("0xddd", 1, "1000"), ts)
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i] == reconciler.Inserted {
			inserted++
		} else {
			assert.Equal(t, reconciler.Duplicate, outcomes[i])
		}
	}
	assert.Equal(t, 1, inserted)

	count, err := store.CountLedger(ctx, model.LedgerKindDonation, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", reconciler.Inserted.String())
	assert.Equal(t, "duplicate", reconciler.Duplicate.String())
	assert.Equal(t, "unknown_campaign", reconciler.UnknownCampaign.String())
}
