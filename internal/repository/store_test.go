package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/repository"
	"github.com/blues/relief/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func donation(campaignId int64, txHash, donor, wei string) *model.DonationModel {
	return &model.DonationModel{
		CampaignId:        campaignId,
		OnchainCampaignId: 3,
		DonorAddress:      donor,
		AmountEth:         decimal.RequireFromString(wei).Shift(-18),
		AmountWei:         wei,
		TxHash:            txHash,
		BlockNumber:       100,
		Timestamp:         time.Unix(1700000000, 0).UTC(),
	}
}

func TestInsertNormalizesAndDetectsDuplicate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(3), "10")

	require.NoError(t, store.Insert(ctx, donation(campaign.Id, "0xABCDEF", "0xDonorAA", "2000000000000000000")))

	found, err := store.FindByTxHash(ctx, model.LedgerKindDonation, "0xabcdef")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.FindByTxHash(ctx, model.LedgerKindDonation, "ABCDEF")
	require.NoError(t, err)
	assert.True(t, found, "lookup must not depend on case or prefix")

	found, err = store.FindByTxHash(ctx, model.LedgerKindWithdrawal, "0xabcdef")
	require.NoError(t, err)
	assert.False(t, found)

	err = store.Insert(ctx, donation(campaign.Id, "0xabcdef", "0xdonoraa", "1"))
	require.ErrorIs(t, err, repository.ErrDuplicate)

	donations, err := store.ListDonationsByDonor(ctx, "0XDONORAA")
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.Equal(t, "0xabcdef", donations[0].TxHash)
	assert.Equal(t, "0xdonoraa", donations[0].DonorAddress)
}

func TestSumAmountIsExact(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(1), "10")

	require.NoError(t, store.Insert(ctx, donation(campaign.Id, "0x01", "0xa", "100000000000000001")))
	require.NoError(t, store.Insert(ctx, donation(campaign.Id, "0x02", "0xb", "200000000000000002")))
	require.NoError(t, store.Insert(ctx, &model.WithdrawLogModel{
		CampaignId:        campaign.Id,
		OnchainCampaignId: 1,
		OwnerAddress:      "0xOwner",
		AmountEth:         decimal.RequireFromString("0.1"),
		AmountWei:         "100000000000000000",
		TxHash:            "0x03",
	}))

	raised, err := store.SumAmount(ctx, model.LedgerKindDonation, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, "0.300000000000000003", raised.String())

	withdrawn, err := store.SumAmount(ctx, model.LedgerKindWithdrawal, campaign.Id)
	require.NoError(t, err)
	assert.True(t, withdrawn.Equal(decimal.RequireFromString("0.1")))

	empty, err := store.SumAmount(ctx, model.LedgerKindDonation, campaign.Id+100)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	donors, err := store.CountDonors(ctx, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), donors)
}

func TestFindCampaignByOnchainId(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, testutil.Int64(3), "10")
	testutil.CreateCampaign(t, db, nil, "5")

	found, err := store.FindCampaignByOnchainId(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, campaign.Id, found.Id)

	_, err = store.FindCampaignByOnchainId(ctx, 99)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetOnchainInfoAssignsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, nil, "10")

	require.NoError(t, store.SetOnchainInfo(ctx, campaign.Id, "0xAA", testutil.Int64(7), true))

	err := store.SetOnchainInfo(ctx, campaign.Id, "0xBB", testutil.Int64(8), false)
	require.ErrorIs(t, err, repository.ErrOnchainIdAssigned)

	got, err := store.GetCampaign(ctx, campaign.Id)
	require.NoError(t, err)
	require.NotNil(t, got.OnchainId)
	assert.Equal(t, int64(7), *got.OnchainId)
	assert.True(t, got.OnchainIdProvisional)
	assert.Equal(t, "0xaa", got.ContractTxHash)
}

func TestAutoDisburseCandidates(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)

	auto := func(c *model.CampaignModel) { c.AutoDisburse = true }
	eligible := testutil.CreateCampaign(t, db, testutil.Int64(1), "10", auto)
	testutil.CreateCampaign(t, db, nil, "10", auto)
	testutil.CreateCampaign(t, db, testutil.Int64(2), "10")
	testutil.CreateCampaign(t, db, testutil.Int64(3), "10", auto, func(c *model.CampaignModel) {
		c.Status = model.CampaignStatusClosed
	})

	campaigns, err := store.ListAutoDisburseCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, eligible.Id, campaigns[0].Id)
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(testutil.NewDB(t))

	_, err := store.LoadCursor(ctx, "events")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.SaveCursor(ctx, "events", 120))
	require.NoError(t, store.SaveCursor(ctx, "events", 150))

	block, err := store.LoadCursor(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), block)
}

func TestUpdateVisibilityAndStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	campaign := testutil.CreateCampaign(t, db, nil, "1")

	require.NoError(t, store.UpdateVisibility(ctx, campaign.Id, false))
	require.NoError(t, store.UpdateStatus(ctx, campaign.Id, model.CampaignStatusClosed))

	visible, err := store.ListCampaigns(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, visible)

	got, err := store.GetCampaign(ctx, campaign.Id)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusClosed, got.Status)

	require.ErrorIs(t, store.UpdateStatus(ctx, 9999, model.CampaignStatusActive), repository.ErrNotFound)
}
