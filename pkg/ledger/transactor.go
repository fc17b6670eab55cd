package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"go.uber.org/zap"
)

// Transactor signs and sends transactions for one account. Sends are
// serialised so concurrent callers never reuse a nonce; a caller waiting
// for its turn gives up when its context ends.
type Transactor struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	timeout time.Duration
	logger  *zap.Logger

	// sem holds one token while a send is in flight. nonce and synced are
	// only touched by its holder.
	sem    chan struct{}
	nonce  uint64
	synced bool
}

// NewTransactor bounds every node call made by Send with callTimeout.
func NewTransactor(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, callTimeout time.Duration, logger *zap.Logger) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Transactor{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
		timeout: callTimeout,
		logger:  logger,
		sem:     make(chan struct{}, 1),
	}
}

// From is the signing address.
func (t *Transactor) From() common.Address { return t.from }

// Send estimates, signs and broadcasts a call of data to `to`.
// The local nonce is resynced from the node after any failed broadcast.
func (t *Transactor) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, ctx.Err(), "waiting for pending send")
	}
	defer func() { <-t.sem }()

	if !t.synced {
		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		n, err := t.backend.PendingNonceAt(callCtx, t.from)
		cancel()
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "read pending nonce")
		}
		t.nonce, t.synced = n, true
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	gas, err := t.backend.EstimateGas(callCtx, ethereum.CallMsg{From: t.from, To: &to, Value: value, Data: data})
	cancel()
	if err != nil {
		return nil, classify("estimate gas", err)
	}
	callCtx, cancel = context.WithTimeout(ctx, t.timeout)
	price, err := t.backend.SuggestGasPrice(callCtx)
	cancel()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "suggest gas price")
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    t.nonce,
		GasPrice: price,
		Gas:      gas + gas/5,
		To:       &to,
		Value:    value,
		Data:     data,
	}), t.signer, t.key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "sign transaction")
	}

	callCtx, cancel = context.WithTimeout(ctx, t.timeout)
	err = t.backend.SendTransaction(callCtx, tx)
	cancel()
	if err != nil {
		t.synced = false
		t.logger.Warn("Send transaction failed, nonce will be resynced",
			zap.String("from", t.from.Hex()),
			zap.Uint64("nonce", t.nonce),
			zap.Error(err))
		return nil, classify("send transaction", err)
	}
	t.nonce++

	t.logger.Debug("Transaction sent",
		zap.String("from", t.from.Hex()),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()))
	return tx, nil
}
