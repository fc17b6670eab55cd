package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"
	"github.com/ufedojoa/townsquare/pkg/utils"
)

const (
	RPCURLKey       = "rpc-url"
	ContractKey     = "contract"
	ChainIDKey      = "chain-id"
	PrivateKeyKey   = "private-key"
	RelayerURLKey   = "relayer-url"
	TokenAPIKey     = "token-api"
	TokenDevStubKey = "token-dev-stub"
	VerboseKey      = "verbose"
)

// AddFlags registers the connection flags. Defaults come from the same
// environment variables the relayer reads.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(RPCURLKey, utils.Env("RPC_URL", "http://localhost:8545"), "JSON-RPC endpoint of the ledger node")
	flags.String(ContractKey, utils.Env("CONTRACT_ADDRESS", ""), "Townsquare contract address")
	flags.Uint64(ChainIDKey, utils.EnvUint64("CHAIN_ID", 0), "Expected chain id (0 reads it from the node)")
	flags.String(PrivateKeyKey, utils.Env("TOWNSQUARE_PRIVATE_KEY", ""), "Hex private key for writes and vote signing")
	flags.String(RelayerURLKey, utils.Env("RELAYER_URL", "http://localhost:3002"), "Relayer base URL for signed votes")
	flags.StringSlice(TokenAPIKey, utils.SplitList(utils.Env("TOKEN_API_URL", "")), "Token metadata API endpoints")
	flags.Bool(TokenDevStubKey, utils.EnvBool("TOKEN_DEV_STUB", false), "Serve stub token metadata (local chain only)")
	flags.BoolP(VerboseKey, "v", false, "Log to stderr")
}

type Config struct {
	RPCURL       string
	Contract     common.Address
	ChainID      uint64
	PrivateKey   *ecdsa.PrivateKey
	RelayerURL   string
	TokenAPI     []string
	TokenDevStub bool
	Verbose      bool
}

func ParseFlags(flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	var err error
	if cfg.RPCURL, err = flags.GetString(RPCURLKey); err != nil {
		return nil, err
	}
	contract, err := flags.GetString(ContractKey)
	if err != nil {
		return nil, err
	}
	if contract != "" {
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("--%s must be a hex address, got %q", ContractKey, contract)
		}
		cfg.Contract = common.HexToAddress(contract)
	}
	if cfg.ChainID, err = flags.GetUint64(ChainIDKey); err != nil {
		return nil, err
	}

	rawKey, err := flags.GetString(PrivateKeyKey)
	if err != nil {
		return nil, err
	}
	if rawKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(rawKey, "0x"), "0X"))
		if err != nil {
			return nil, errors.New("invalid --" + PrivateKeyKey)
		}
		cfg.PrivateKey = key
	}

	if cfg.RelayerURL, err = flags.GetString(RelayerURLKey); err != nil {
		return nil, err
	}
	cfg.RelayerURL = strings.TrimRight(cfg.RelayerURL, "/")
	if cfg.TokenAPI, err = flags.GetStringSlice(TokenAPIKey); err != nil {
		return nil, err
	}
	if cfg.TokenDevStub, err = flags.GetBool(TokenDevStubKey); err != nil {
		return nil, err
	}
	if cfg.Verbose, err = flags.GetBool(VerboseKey); err != nil {
		return nil, err
	}
	return cfg, nil
}
