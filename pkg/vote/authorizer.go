// Package vote authorizes signed vote intents and relays them to the ledger.
//
// The authorizer never trusts caller-supplied power or message text: it
// rebuilds the signed message from the request fields, re-reads the proposal
// snapshot and the voter's balance at that height, and only then submits the
// vote from the relayer account.
package vote

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"go.uber.org/zap"
)

// OutcomeSubmitted labels a relayed vote. Rejections are labelled by apperr code.
const OutcomeSubmitted = "SUBMITTED"

const DefaultRelayTimeout = 30 * time.Second

// Request is a signed vote intent as received from a client.
type Request struct {
	SpaceID    *big.Int
	ProposalID *big.Int
	Choice     uint64
	Signature  []byte
	Address    common.Address
	// ChainID is the chain the client believes it is voting on. Nil skips the check.
	ChainID *uint64
}

// Result describes a relayed vote.
type Result struct {
	TxHash common.Hash
	Voter  common.Address
	Power  *big.Int
	Choice uint64
}

// Opts configures an Authorizer.
type Opts struct {
	ChainID      uint64
	RelayTimeout time.Duration
	// Pool runs the parallel pre-check reads. Nil creates a private pool.
	Pool pond.Pool
	// OnSubmitted runs after a successful relay, on the request goroutine.
	OnSubmitted func(ctx context.Context, req Request, res Result)
	// Observe is called once per request with the outcome label.
	Observe func(outcome string, took time.Duration)
	Logger  *zap.Logger
}

// Authorizer implements the vote authorization state machine.
type Authorizer struct {
	ledger  ledger.Gateway
	opts    Opts
	pool    pond.Pool
	ownPool bool
	logger  *zap.Logger
}

func NewAuthorizer(gw ledger.Gateway, opts Opts) *Authorizer {
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = DefaultRelayTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authorizer{
		ledger: gw,
		opts:   opts,
		pool:   opts.Pool,
		logger: logger.With(zap.String("component", "vote")),
	}
	if a.pool == nil {
		a.pool = pond.NewPool(16)
		a.ownPool = true
	}
	return a
}

// Close stops the private worker pool, if any.
func (a *Authorizer) Close() {
	if a.ownPool {
		a.pool.StopAndWait()
	}
}

// Authorize runs the checks in order and relays the vote when all pass:
// chain, signature, choice range, double vote, then power at the snapshot.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		outcome := OutcomeSubmitted
		if err != nil {
			outcome = string(apperr.CodeOf(err))
		}
		if a.opts.Observe != nil {
			a.opts.Observe(outcome, time.Since(start))
		}
	}()

	if req.SpaceID == nil || req.ProposalID == nil {
		return Result{}, apperr.New(apperr.CodeInvalidRequest, "space and proposal ids are required")
	}
	if req.ChainID != nil && *req.ChainID != a.opts.ChainID {
		return Result{}, apperr.Newf(apperr.CodeInvalidChain, "chain %d is not served here", *req.ChainID)
	}

	msg := Message(req.SpaceID, req.ProposalID, req.Choice)
	if !Verify(msg, req.Signature, req.Address) {
		return Result{}, apperr.New(apperr.CodeSignatureInvalid, "Invalid signature")
	}

	space, proposal, voted, err := a.readState(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if req.Choice >= uint64(len(proposal.Choices)) {
		return Result{}, apperr.Newf(apperr.CodeChoiceInvalid, "choice %d out of range (%d choices)", req.Choice, len(proposal.Choices))
	}
	if voted {
		return Result{}, apperr.New(apperr.CodeAlreadyVoted, "Already voted")
	}

	balance, err := a.ledger.BalanceAt(ctx, space.Token, req.Address, proposal.Snapshot)
	if err != nil {
		return Result{}, err
	}
	decimals := uint64(0)
	if space.TokenDecimals != nil {
		if !space.TokenDecimals.IsUint64() {
			return Result{}, apperr.New(apperr.CodeNoPower, "No voting power")
		}
		decimals = space.TokenDecimals.Uint64()
	}
	power := Power(balance, decimals)
	if power.Sign() <= 0 {
		return Result{}, apperr.New(apperr.CodeNoPower, "No voting power")
	}

	return a.relay(ctx, req, power)
}

// readState fetches the space, the proposal and the has-voted flag in parallel.
// These reads are never served from cache.
func (a *Authorizer) readState(ctx context.Context, req Request) (ledger.SpaceRecord, ledger.ProposalRecord, bool, error) {
	var (
		space                       ledger.SpaceRecord
		proposal                    ledger.ProposalRecord
		voted                       bool
		spaceErr, proposalErr, vErr error
	)

	group := a.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		space, spaceErr = a.ledger.Space(groupCtx, req.SpaceID)
	})
	group.Submit(func() {
		proposal, proposalErr = a.ledger.Proposal(groupCtx, req.SpaceID, req.ProposalID)
	})
	group.Submit(func() {
		voted, vErr = a.ledger.HasVoted(groupCtx, req.SpaceID, req.ProposalID, req.Address)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		a.logger.Warn("Parallel vote pre-check reads encountered error", zap.Error(err))
	}

	for _, err := range []error{spaceErr, proposalErr, vErr} {
		if err != nil {
			return space, proposal, voted, err
		}
	}
	if err := ctx.Err(); err != nil {
		return space, proposal, voted, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "vote pre-checks")
	}
	return space, proposal, voted, nil
}

// relay submits the vote from the relayer account. The write is detached from
// ctx so a client disconnect cannot abandon a half-sent transaction.
func (a *Authorizer) relay(ctx context.Context, req Request, power *big.Int) (Result, error) {
	relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.RelayTimeout)
	defer cancel()

	hash, err := a.ledger.VoteOnProposal(relayCtx, ledger.VoteParams{
		SpaceID:    req.SpaceID,
		ProposalID: req.ProposalID,
		Voter:      req.Address,
		Choice:     req.Choice,
		Power:      power,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrLedgerRejected) {
			// A concurrent submission from the same voter may have landed first.
			if voted, vErr := a.ledger.HasVoted(relayCtx, req.SpaceID, req.ProposalID, req.Address); vErr == nil && voted {
				return Result{}, apperr.Wrap(apperr.CodeAlreadyVoted, err, "Already voted")
			}
		}
		a.logger.Error("Vote relay failed",
			zap.String("space", req.SpaceID.String()),
			zap.String("proposal", req.ProposalID.String()),
			zap.String("voter", req.Address.Hex()),
			zap.Error(err))
		return Result{}, err
	}

	res := Result{TxHash: hash, Voter: req.Address, Power: power, Choice: req.Choice}
	a.logger.Info("Vote relayed",
		zap.String("space", req.SpaceID.String()),
		zap.String("proposal", req.ProposalID.String()),
		zap.String("voter", req.Address.Hex()),
		zap.Uint64("choice", req.Choice),
		zap.String("power", power.String()),
		zap.String("tx", hash.Hex()))

	if a.opts.OnSubmitted != nil {
		a.opts.OnSubmitted(relayCtx, req, res)
	}
	return res, nil
}
