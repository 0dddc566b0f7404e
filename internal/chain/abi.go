package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// optionMarketABI covers the binary option market calls the service makes.
const optionMarketABI = `[
	{"type":"function","name":"exerciseOptions","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"claimableBalancesOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"long","type":"uint256"},{"name":"short","type":"uint256"}]},
	{"type":"function","name":"bidsOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"long","type":"uint256"},{"name":"short","type":"uint256"}]},
	{"type":"function","name":"result","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"phase","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"times","stateMutability":"view","inputs":[],"outputs":[{"name":"biddingEnd","type":"uint256"},{"name":"maturity","type":"uint256"},{"name":"expiry","type":"uint256"}]},
	{"type":"function","name":"oracleDetails","stateMutability":"view","inputs":[],"outputs":[{"name":"key","type":"bytes32"},{"name":"strikePrice","type":"uint256"},{"name":"finalPrice","type":"uint256"}]}
]`

// marketManagerABI covers market creation on the manager contract.
const marketManagerABI = `[
	{"type":"function","name":"createMarket","stateMutability":"nonpayable","inputs":[{"name":"oracleKey","type":"bytes32"},{"name":"strikePrice","type":"uint256"},{"name":"refundsEnabled","type":"bool"},{"name":"times","type":"uint256[2]"},{"name":"bids","type":"uint256[2]"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"MarketCreated","anonymous":false,"inputs":[{"name":"market","type":"address","indexed":false},{"name":"creator","type":"address","indexed":true},{"name":"oracleKey","type":"bytes32","indexed":true},{"name":"strikePrice","type":"uint256","indexed":false},{"name":"biddingEndDate","type":"uint256","indexed":false},{"name":"maturityDate","type":"uint256","indexed":false},{"name":"expiryDate","type":"uint256","indexed":false}]}
]`

var (
	optionMarketABIParsed  = mustParseABI(optionMarketABI)
	marketManagerABIParsed = mustParseABI(marketManagerABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
