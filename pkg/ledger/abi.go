package ledger

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/townsquare.json
	townsquareJSON string
	//go:embed abi/erc20.json
	erc20JSON string

	townsquareABI = mustParseABI(townsquareJSON)
	erc20ABI      = mustParseABI(erc20JSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("ledger: invalid embedded abi: " + err.Error())
	}
	return parsed
}

// TownsquareABI returns the parsed contract ABI. Tests use it to build fixtures.
func TownsquareABI() abi.ABI { return townsquareABI }

// ERC20ABI returns the token subset the gateway calls.
func ERC20ABI() abi.ABI { return erc20ABI }
