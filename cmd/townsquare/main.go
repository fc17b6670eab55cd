// Command townsquare is an operator CLI over the Townsquare contract: it
// reads spaces, proposals and votes, sends owner/admin writes, and signs
// votes that the relayer submits on the voter's behalf.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/tokeninfo"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(dialDomain).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// opener builds the domain client for one invocation. The returned func releases it.
type opener func(ctx context.Context, cfg *Config, logger *zap.Logger) (*townsquare.Client, func(), error)

type cli struct {
	open   opener
	cfg    *Config
	logger *zap.Logger
}

func newRootCommand(open opener) *cobra.Command {
	c := &cli{open: open, logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "townsquare",
		Short:         "Inspect and operate Townsquare spaces, proposals and votes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ParseFlags(cmd.Flags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			if cfg.Verbose {
				if c.logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	AddFlags(root.PersistentFlags())

	root.AddCommand(
		c.spacesCommand(),
		c.proposalsCommand(),
		c.votesCommand(),
	)
	return root
}

// run opens the domain client, runs fn and releases the client.
func (c *cli) run(fn func(cmd *cobra.Command, d *townsquare.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		d, release, err := c.open(cmd.Context(), c.cfg, c.logger)
		if err != nil {
			return err
		}
		defer release()
		return fn(cmd, d, args)
	}
}

func dialDomain(ctx context.Context, cfg *Config, logger *zap.Logger) (*townsquare.Client, func(), error) {
	if cfg.Contract == (common.Address{}) {
		return nil, nil, fmt.Errorf("--%s is required", ContractKey)
	}
	opts := ledger.Opts{
		Contract: cfg.Contract,
		Key:      cfg.PrivateKey,
		Logger:   logger,
	}
	if cfg.ChainID != 0 {
		opts.ChainID = new(big.Int).SetUint64(cfg.ChainID)
	}
	lc, err := ledger.Dial(ctx, cfg.RPCURL, opts)
	if err != nil {
		return nil, nil, err
	}

	// without a metadata source, reads that need token details fail with METADATA_LOOKUP_FAILED
	var tokens tokeninfo.Fetcher
	if len(cfg.TokenAPI) > 0 || cfg.TokenDevStub {
		tc, err := tokeninfo.New(tokeninfo.Opts{
			Endpoints: cfg.TokenAPI,
			ChainID:   lc.ChainID().Uint64(),
			DevStub:   cfg.TokenDevStub,
			Logger:    logger,
		})
		if err != nil {
			lc.Close()
			return nil, nil, err
		}
		tokens = tc
	}

	domainOpts := []townsquare.Option{townsquare.WithLogger(logger)}
	if cfg.PrivateKey != nil && cfg.RelayerURL != "" {
		domainOpts = append(domainOpts, townsquare.WithVoteSigner(cfg.PrivateKey, cfg.RelayerURL))
	}
	return townsquare.New(lc, tokens, domainOpts...), lc.Close, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw, name string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "invalid %s %q", name, raw)
	}
	return id, nil
}

func parseIDs(args []string) (*big.Int, *big.Int, error) {
	spaceID, err := parseID(args[0], "space id")
	if err != nil {
		return nil, nil, err
	}
	proposalID, err := parseID(args[1], "proposal id")
	if err != nil {
		return nil, nil, err
	}
	return spaceID, proposalID, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperr.Newf(apperr.CodeInvalidRequest, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// addressOrAccount parses args[i] when present, else falls back to the signing account.
func addressOrAccount(d *townsquare.Client, args []string, i int) (common.Address, error) {
	if len(args) > i {
		return parseAddress(args[i])
	}
	acct := d.Account()
	if acct == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no address given and no --%s configured", PrivateKeyKey)
	}
	return acct, nil
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("skip", 0, "Entries to skip")
	cmd.Flags().Int("limit", townsquare.DefaultPageSize, "Entries to return")
}

func pageFlags(cmd *cobra.Command) (int, int, error) {
	skip, err := cmd.Flags().GetInt("skip")
	if err != nil {
		return 0, 0, err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return 0, 0, err
	}
	if skip < 0 || limit <= 0 {
		return 0, 0, apperr.New(apperr.CodeInvalidRequest, "skip must be >= 0 and limit > 0")
	}
	return skip, limit, nil
}
