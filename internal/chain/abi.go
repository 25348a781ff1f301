package chain

// disasterFundABI DisasterFund 合约ABI（事件与方法签名需与部署合约一致）
const disasterFundABI = `[
	{
		"type": "function",
		"name": "createCampaign",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "title", "type": "string"},
			{"name": "description", "type": "string"},
			{"name": "goal", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "donate",
		"stateMutability": "payable",
		"inputs": [{"name": "campaignId", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "withdraw",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "campaignId", "type": "uint256"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "setActive",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "campaignId", "type": "uint256"},
			{"name": "active", "type": "bool"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "campaignCount",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "event",
		"name": "CampaignCreated",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "campaignId", "type": "uint256"},
			{"indexed": true, "name": "owner", "type": "address"},
			{"indexed": false, "name": "title", "type": "string"},
			{"indexed": false, "name": "goal", "type": "uint256"}
		]
	},
	{
		"type": "event",
		"name": "DonationReceived",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "campaignId", "type": "uint256"},
			{"indexed": true, "name": "donor", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		]
	},
	{
		"type": "event",
		"name": "FundsWithdrawn",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "campaignId", "type": "uint256"},
			{"indexed": true, "name": "owner", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		]
	}
]`
