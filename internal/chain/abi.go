package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const paramsComponents = `[
	{"name": "qtype", "type": "uint8"},
	{"name": "options", "type": "uint32"},
	{"name": "scalarMin", "type": "int256"},
	{"name": "scalarMax", "type": "int256"},
	{"name": "scalarDecimals", "type": "uint32"},
	{"name": "timeout", "type": "uint32"},
	{"name": "bondMultiplier", "type": "uint8"},
	{"name": "maxRounds", "type": "uint8"},
	{"name": "templateHash", "type": "bytes32"},
	{"name": "dataSource", "type": "string"},
	{"name": "consumer", "type": "address"},
	{"name": "openingTs", "type": "uint64"}
]`

// ERC20ABI is the collateral and bond token surface.
const ERC20ABI = `[
	{"type": "function", "name": "decimals", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "symbol", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]},
	{"type": "function", "name": "name", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]},
	{"type": "function", "name": "totalSupply", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "balanceOf", "stateMutability": "view", "inputs": [{"name": "owner", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "allowance", "stateMutability": "view", "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "approve", "stateMutability": "nonpayable", "inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "transfer", "stateMutability": "nonpayable", "inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "transferFrom", "stateMutability": "nonpayable", "inputs": [{"name": "from", "type": "address"}, {"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "event", "name": "Transfer", "anonymous": false, "inputs": [{"indexed": true, "name": "from", "type": "address"}, {"indexed": true, "name": "to", "type": "address"}, {"indexed": false, "name": "value", "type": "uint256"}]},
	{"type": "event", "name": "Approval", "anonymous": false, "inputs": [{"indexed": true, "name": "owner", "type": "address"}, {"indexed": true, "name": "spender", "type": "address"}, {"indexed": false, "name": "value", "type": "uint256"}]}
]`

// OracleABI is the optimistic oracle surface.
const OracleABI = `[
	{"type": "function", "name": "questionFee", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "bondToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "createQuestion", "stateMutability": "nonpayable", "inputs": [{"name": "p", "type": "tuple", "components": ` + paramsComponents + `}, {"name": "salt", "type": "bytes32"}], "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "createQuestionPublic", "stateMutability": "nonpayable", "inputs": [{"name": "p", "type": "tuple", "components": ` + paramsComponents + `}, {"name": "salt", "type": "bytes32"}], "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "commit", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}, {"name": "hashCommit", "type": "bytes32"}], "outputs": []},
	{"type": "function", "name": "recommit", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}, {"name": "hashCommit", "type": "bytes32"}], "outputs": []},
	{"type": "function", "name": "reveal", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}, {"name": "encodedOutcome", "type": "bytes"}, {"name": "salt", "type": "bytes32"}, {"name": "bond", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "finalize", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}], "outputs": []},
	{"type": "function", "name": "escalate", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}], "outputs": []},
	{"type": "function", "name": "receiveArbitratorRuling", "stateMutability": "nonpayable", "inputs": [{"name": "id", "type": "bytes32"}, {"name": "encodedOutcome", "type": "bytes"}, {"name": "payee", "type": "address"}], "outputs": []},
	{"type": "event", "name": "QuestionCreated", "anonymous": false, "inputs": [{"indexed": true, "name": "id", "type": "bytes32"}, {"indexed": false, "name": "params", "type": "tuple", "components": ` + paramsComponents + `}]}
]`

// ArbitratorABI is the SimpleArbitrator admin surface.
const ArbitratorABI = `[
	{"type": "function", "name": "adminRule", "stateMutability": "nonpayable", "inputs": [{"name": "questionId", "type": "bytes32"}, {"name": "encodedOutcome", "type": "bytes"}, {"name": "payee", "type": "address"}], "outputs": []}
]`

// FactoryABI merges the shared factory base with every typed create path.
const FactoryABI = `[
	{"type": "function", "name": "feeSink", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "bondToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "creationFee", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "defaultRedeemFeeBps", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "marketCount", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "allMarkets", "stateMutability": "view", "inputs": [{"name": "", "type": "uint256"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "isMarket", "stateMutability": "view", "inputs": [{"name": "", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "isRemoved", "stateMutability": "view", "inputs": [{"name": "", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "setDefaultRedeemFeeBps", "stateMutability": "nonpayable", "inputs": [{"name": "bps", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "removeListing", "stateMutability": "nonpayable", "inputs": [{"name": "market", "type": "address"}, {"name": "reason", "type": "string"}], "outputs": []},
	{"type": "function", "name": "restoreListing", "stateMutability": "nonpayable", "inputs": [{"name": "market", "type": "address"}], "outputs": []},
	{"type": "function", "name": "createBinary", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "submitBinary", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "createCategorical", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}, {"name": "numOutcomes", "type": "uint8"}, {"name": "outcomeNames", "type": "string[]"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "submitCategorical", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}, {"name": "numOutcomes", "type": "uint8"}, {"name": "outcomeNames", "type": "string[]"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "createScalar", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}, {"name": "scalarMin", "type": "int256"}, {"name": "scalarMax", "type": "int256"}, {"name": "scalarDecimals", "type": "uint32"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "submitScalar", "stateMutability": "nonpayable", "inputs": [{"name": "collateral", "type": "address"}, {"name": "oracle", "type": "address"}, {"name": "questionId", "type": "bytes32"}, {"name": "marketName", "type": "string"}, {"name": "scalarMin", "type": "int256"}, {"name": "scalarMax", "type": "int256"}, {"name": "scalarDecimals", "type": "uint32"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "event", "name": "DefaultRedeemFeeUpdated", "anonymous": false, "inputs": [{"indexed": false, "name": "bps", "type": "uint256"}]},
	{"type": "event", "name": "MarketRegistered", "anonymous": false, "inputs": [{"indexed": true, "name": "market", "type": "address"}]},
	{"type": "event", "name": "ListingRemoved", "anonymous": false, "inputs": [{"indexed": true, "name": "market", "type": "address"}, {"indexed": false, "name": "reason", "type": "string"}]},
	{"type": "event", "name": "ListingRestored", "anonymous": false, "inputs": [{"indexed": true, "name": "market", "type": "address"}]},
	{"type": "event", "name": "BinaryCreated", "anonymous": false, "inputs": [{"indexed": false, "name": "market", "type": "address"}, {"indexed": false, "name": "questionId", "type": "bytes32"}]},
	{"type": "event", "name": "CategoricalCreated", "anonymous": false, "inputs": [{"indexed": false, "name": "market", "type": "address"}, {"indexed": false, "name": "questionId", "type": "bytes32"}]},
	{"type": "event", "name": "ScalarCreated", "anonymous": false, "inputs": [{"indexed": false, "name": "market", "type": "address"}, {"indexed": false, "name": "questionId", "type": "bytes32"}]}
]`

// MarketABI merges the binary, categorical and scalar market surfaces.
const MarketABI = `[
	{"type": "function", "name": "split", "stateMutability": "nonpayable", "inputs": [{"name": "amount", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "merge", "stateMutability": "nonpayable", "inputs": [{"name": "sets", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "finalizeFromOracle", "stateMutability": "nonpayable", "inputs": [], "outputs": []},
	{"type": "function", "name": "redeem", "stateMutability": "nonpayable", "inputs": [{"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "redeemLong", "stateMutability": "nonpayable", "inputs": [{"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "redeemShort", "stateMutability": "nonpayable", "inputs": [{"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "isResolved", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "marketType", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "collateral", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "oracle", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "questionId", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "status", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "redeemFeeBps", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "feeSink", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "collateralLocked", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "resolvedAt", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "resolvedAnswer", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bytes"}]},
	{"type": "function", "name": "yesToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "noToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "outcomeYes", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "outcomeCount", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "winner", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "tokens", "stateMutability": "view", "inputs": [{"name": "", "type": "uint8"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "longToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "shortToken", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "scalarMin", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "int256"}]},
	{"type": "function", "name": "scalarMax", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "int256"}]},
	{"type": "function", "name": "scalarDecimals", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "resolvedValue", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "int256"}]},
	{"type": "function", "name": "fNumerator", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "event", "name": "Split", "anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "collateralIn", "type": "uint256"}]},
	{"type": "event", "name": "Merge", "anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "setsBurned", "type": "uint256"}]},
	{"type": "event", "name": "Finalized", "anonymous": false, "inputs": [{"indexed": true, "name": "questionId", "type": "bytes32"}, {"indexed": false, "name": "encodedOutcome", "type": "bytes"}]},
	{"type": "event", "name": "Redeemed", "anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "collateralOut", "type": "uint256"}, {"indexed": false, "name": "meta", "type": "bytes"}]},
	{"type": "event", "name": "Cancelled", "anonymous": false, "inputs": [{"indexed": true, "name": "questionId", "type": "bytes32"}]}
]`

// Parsed ABIs. They are static, so a parse failure is a programming error.
var (
	ERC20      = mustParse("erc20", ERC20ABI)
	Oracle     = mustParse("oracle", OracleABI)
	Arbitrator = mustParse("arbitrator", ArbitratorABI)
	Factory    = mustParse("factory", FactoryABI)
	Market     = mustParse("market", MarketABI)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
