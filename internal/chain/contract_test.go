package chain_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/chain/chaintest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var donor = common.HexToAddress("0x00000000000000000000000000000000000000d0")

func TestDecodeDonation(t *testing.T) {
	contract := chaintest.Contract()
	log := chaintest.DonationLog("0xaaa", 120, 3, donor, chaintest.Ether(2))
	log.Index = 4

	ev, err := contract.DecodeDonation(log)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.CampaignId)
	assert.Equal(t, donor, ev.Donor)
	assert.Equal(t, chaintest.Ether(2), ev.Amount)
	assert.Equal(t, uint64(120), ev.BlockNumber)
	assert.Equal(t, uint(4), ev.LogIndex)
	assert.Equal(t, common.HexToHash("0xaaa"), ev.TxHash)
}

func TestDecodeRejectsForeignAndMalformedLogs(t *testing.T) {
	contract := chaintest.Contract()

	withdrawal := chaintest.WithdrawalLog("0x01", 10, 1, donor, chaintest.Ether(1))
	_, err := contract.DecodeDonation(withdrawal)
	require.ErrorIs(t, err, chain.ErrEventMismatch)

	ev, err := contract.DecodeWithdrawal(withdrawal)
	require.NoError(t, err)
	assert.Equal(t, donor, ev.Owner)

	truncated := chaintest.DonationLog("0x02", 10, 1, donor, chaintest.Ether(1))
	truncated.Data = truncated.Data[:8]
	_, err = contract.DecodeDonation(truncated)
	var decodeErr *chain.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, chain.EventDonationReceived, decodeErr.Event)

	missingTopic := chaintest.DonationLog("0x03", 10, 1, donor, chaintest.Ether(1))
	missingTopic.Topics = missingTopic.Topics[:2]
	_, err = contract.DecodeDonation(missingTopic)
	require.Error(t, err)

	removed := chaintest.DonationLog("0x04", 10, 1, donor, chaintest.Ether(1))
	removed.Removed = true
	_, err = contract.DecodeDonation(removed)
	require.Error(t, err)
}

func TestDecodeCampaignCreated(t *testing.T) {
	contract := chaintest.Contract()
	log := chaintest.CampaignCreatedLog("0x05", 11, 9, donor, "Quake", chaintest.Ether(10))

	ev, err := contract.DecodeCampaignCreated(log)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ev.CampaignId)
	assert.Equal(t, donor, ev.Owner)
}

func TestLoadABIFormats(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "DisasterFund.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"contractName":"DisasterFund","abi":`+minimalABI+`}`), 0o600))
	plain := filepath.Join(dir, "abi.json")
	require.NoError(t, os.WriteFile(plain, []byte(minimalABI), 0o600))

	for _, path := range []string{artifact, plain} {
		parsed, err := chain.LoadABI(path)
		require.NoError(t, err, path)
		assert.Contains(t, parsed.Events, chain.EventDonationReceived)
	}

	// 缺少必要方法的ABI在构造合约时被拒绝
	_, err := chain.NewContract(chaintest.ContractAddress, plain)
	require.Error(t, err)

	_, err = chain.NewContract("not-an-address", "")
	require.Error(t, err)
}

const minimalABI = `[{"type":"event","name":"DonationReceived","anonymous":false,"inputs":[
{"indexed":true,"name":"campaignId","type":"uint256"},
{"indexed":true,"name":"donor","type":"address"},
{"indexed":false,"name":"amount","type":"uint256"}]}]`
