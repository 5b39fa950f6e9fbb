package chain

// trackerABI is the JSON ABI of the waste tracking contract.
const trackerABI = `[
  {
    "type": "function",
    "name": "createListing",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_listingId", "type": "string"},
      {"name": "_supplierHash", "type": "string"},
      {"name": "_price", "type": "uint256"},
      {"name": "_quantity", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "purchaseItem",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_listingId", "type": "string"},
      {"name": "_buyerHash", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "updateState",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_listingId", "type": "string"},
      {"name": "_newState", "type": "uint8"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getHistory",
    "stateMutability": "view",
    "inputs": [
      {"name": "_listingId", "type": "string"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "state", "type": "uint8"},
          {"name": "timestamp", "type": "uint256"},
          {"name": "updatedBy", "type": "address"},
          {"name": "txHash", "type": "string"}
        ]
      }
    ]
  }
]`

const (
	methodCreate     = "createListing"
	methodPurchase   = "purchaseItem"
	methodUpdate     = "updateState"
	methodGetHistory = "getHistory"
)
