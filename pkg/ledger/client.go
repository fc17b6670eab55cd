// Package ledger is the gateway to the Townsquare contract and the ERC-20
// tokens its spaces are weighted by. It is stateless apart from the nonce
// sequencing of its signing account.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/retry"
	"go.uber.org/zap"
)

const (
	DefaultCallTimeout    = 10 * time.Second
	DefaultReceiptTimeout = 2 * time.Minute
	DefaultReceiptPoll    = time.Second
)

// Observer is notified after every ledger round trip.
type Observer func(method string, took time.Duration, err error)

// Opts configures a Client.
type Opts struct {
	Contract common.Address
	// ChainID is verified against the node by Dial. Required for signing.
	ChainID *big.Int
	// Key signs writes. Nil makes the client read-only.
	Key *ecdsa.PrivateKey

	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	Retry          *retry.Config
	Observer       Observer
	Logger         *zap.Logger
}

// Client implements Gateway over a Backend.
type Client struct {
	backend  Backend
	contract common.Address
	chainID  *big.Int
	tx       *Transactor
	retry    retry.Config
	opts     Opts
	logger   *zap.Logger
}

var _ Gateway = (*Client)(nil)

// New builds a client on an existing backend.
func New(backend Backend, opts Opts) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger: backend is required")
	}
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("ledger: contract address is required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = DefaultReceiptTimeout
	}
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = DefaultReceiptPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := retry.DefaultConfig()
	if opts.Retry != nil {
		cfg = *opts.Retry
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(err error) bool { return !isRevert(err) }
	}

	c := &Client{
		backend:  backend,
		contract: opts.Contract,
		chainID:  opts.ChainID,
		retry:    cfg,
		opts:     opts,
		logger:   logger.With(zap.String("component", "ledger"), zap.String("contract", opts.Contract.Hex())),
	}
	if opts.Key != nil {
		if opts.ChainID == nil {
			return nil, errors.New("ledger: chain id is required to sign transactions")
		}
		c.tx = NewTransactor(backend, opts.Key, opts.ChainID, opts.CallTimeout, c.logger)
	}
	return c, nil
}

// Dial connects to the node at url and checks it serves opts.ChainID.
// A nil ChainID is filled from the node.
func Dial(ctx context.Context, url string, opts Opts) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "dial ledger rpc")
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	idCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	remote, err := ec.ChainID(idCtx)
	if err != nil {
		ec.Close()
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "read chain id")
	}
	if opts.ChainID == nil {
		opts.ChainID = remote
	} else if opts.ChainID.Cmp(remote) != 0 {
		ec.Close()
		return nil, fmt.Errorf("ledger: node at %s serves chain %s, configured %s", url, remote, opts.ChainID)
	}
	return New(ec, opts)
}

// ChainID is the chain this client signs for.
func (c *Client) ChainID() *big.Int {
	if c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// Contract is the Townsquare contract address.
func (c *Client) Contract() common.Address { return c.contract }

// Account is the signing address, or the zero address for a read-only client.
func (c *Client) Account() common.Address {
	if c.tx == nil {
		return common.Address{}
	}
	return c.tx.From()
}

// Close releases the backend if it owns a connection.
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// call packs method, runs it against to at block (nil for latest) and unpacks the outputs.
func (c *Client) call(ctx context.Context, to common.Address, contract *abi.ABI, block *big.Int, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "encode "+method)
	}

	var raw []byte
	start := time.Now()
	err = retry.WithBackoff(ctx, c.retry, c.logger, method, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
		out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: input}, block)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	c.observe(method, start, err)
	if err != nil {
		if isRevert(err) {
			return nil, apperr.Wrap(apperr.CodeNotFound, err, method+" reverted")
		}
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, method)
	}

	vals, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "decode "+method)
	}
	return vals, nil
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.opts.Observer != nil {
		c.opts.Observer(method, time.Since(start), err)
	}
}

func (c *Client) callTownsquare(ctx context.Context, method string, args ...any) ([]any, error) {
	return c.call(ctx, c.contract, &townsquareABI, nil, method, args...)
}

// isRevert reports whether err is the contract refusing the call rather than a transport failure.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// classify maps a send-path error onto the apperr taxonomy.
func classify(op string, err error) error {
	if isRevert(err) {
		return apperr.Wrap(apperr.CodeLedgerRejected, err, op+" reverted")
	}
	return apperr.Wrap(apperr.CodeLedgerUnavailable, err, op)
}

// field extracts the i-th unpacked output as T.
func field[T any](vals []any, i int, method string) (T, error) {
	var zero T
	if i >= len(vals) {
		return zero, apperr.Newf(apperr.CodeLedgerUnavailable, "%s: missing output %d", method, i)
	}
	v, ok := vals[i].(T)
	if !ok {
		return zero, apperr.Newf(apperr.CodeLedgerUnavailable, "%s: output %d has type %T", method, i, vals[i])
	}
	return v, nil
}
