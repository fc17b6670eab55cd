package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"go.uber.org/zap"
)

// send packs a contract call and broadcasts it from the client account.
func (c *Client) send(ctx context.Context, method string, value *big.Int, args ...any) (*types.Transaction, error) {
	if c.tx == nil {
		return nil, apperr.Wrap(apperr.CodeAccountRequired, errors.New("no signing key configured"), method)
	}
	data, err := townsquareABI.Pack(method, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "encode "+method)
	}
	start := time.Now()
	tx, err := c.tx.Send(ctx, c.contract, value, data)
	c.observe(method, start, err)
	return tx, err
}

// transact is send followed by waiting for a successful receipt.
func (c *Client) transact(ctx context.Context, method string, value *big.Int, args ...any) (*types.Receipt, error) {
	tx, err := c.send(ctx, method, value, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.Newf(apperr.CodeOperationNotConfirmed, "%s: transaction %s failed", method, tx.Hash().Hex())
	}
	c.logger.Info("Transaction confirmed",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return receipt, nil
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("Receipt lookup failed", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.CodeOperationNotConfirmed, ctx.Err(), "waiting for "+tx.Hash().Hex())
		case <-ticker.C:
		}
	}
}

// eventLog returns the first log of event emitted by the contract in receipt.
func (c *Client) eventLog(receipt *types.Receipt, event string) (*types.Log, error) {
	ev, ok := townsquareABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", event)
	}
	for _, l := range receipt.Logs {
		if l.Address == c.contract && len(l.Topics) > 0 && l.Topics[0] == ev.ID {
			return l, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeOperationNotConfirmed, "no %s event in transaction %s", event, receipt.TxHash.Hex())
}

// indexedID decodes the first indexed uint256 of an event log.
func indexedID(l *types.Log) (*big.Int, error) {
	if len(l.Topics) < 2 {
		return nil, apperr.New(apperr.CodeOperationNotConfirmed, "event log carries no id")
	}
	return new(big.Int).SetBytes(l.Topics[1].Bytes()), nil
}

// CreateSpace pays the creation fee and returns the id from SpaceCreated.
func (c *Client) CreateSpace(ctx context.Context, p CreateSpaceParams) (*big.Int, error) {
	name, err := EncodeBytes32(p.Name)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "name")
	}
	avatar, err := EncodeBytes32(p.Avatar)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "avatar")
	}
	website, err := EncodeBytes32(p.Website)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "website")
	}
	fee := p.Fee
	if fee == nil {
		if fee, err = c.SpaceCreationFee(ctx); err != nil {
			return nil, err
		}
	}

	receipt, err := c.transact(ctx, "createSpace", fee,
		name, p.Description, p.Token, avatar, website, new(big.Int).SetUint64(p.TokenDecimals))
	if err != nil {
		return nil, err
	}
	l, err := c.eventLog(receipt, "SpaceCreated")
	if err != nil {
		return nil, err
	}
	return indexedID(l)
}

func (c *Client) UpdateSpace(ctx context.Context, p UpdateSpaceParams) error {
	name, err := EncodeBytes32(p.Name)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, err, "name")
	}
	avatar, err := EncodeBytes32(p.Avatar)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, err, "avatar")
	}
	website, err := EncodeBytes32(p.Website)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, err, "website")
	}
	_, err = c.transact(ctx, "updateSpace", nil,
		p.SpaceID, name, p.Description, p.Token, new(big.Int).SetUint64(p.TokenDecimals), avatar, website)
	return err
}

func (c *Client) UpdateProposalThreshold(ctx context.Context, spaceID, threshold *big.Int, onlyAdmins bool) error {
	_, err := c.transact(ctx, "updateSpaceCreateProposalThreshold", nil, spaceID, threshold, onlyAdmins)
	return err
}

func (c *Client) SetSpaceAdmins(ctx context.Context, spaceID *big.Int, admins []common.Address) error {
	if admins == nil {
		admins = []common.Address{}
	}
	_, err := c.transact(ctx, "setSpaceAdmins", nil, spaceID, admins)
	return err
}

func (c *Client) JoinSpace(ctx context.Context, spaceID *big.Int) error {
	receipt, err := c.transact(ctx, "joinSpace", nil, spaceID)
	if err != nil {
		return err
	}
	_, err = c.eventLog(receipt, "JoinedSpace")
	return err
}

func (c *Client) LeaveSpace(ctx context.Context, spaceID *big.Int) error {
	receipt, err := c.transact(ctx, "leaveSpace", nil, spaceID)
	if err != nil {
		return err
	}
	_, err = c.eventLog(receipt, "LeftSpace")
	return err
}

// CreateProposal returns the id from ProposalCreated.
func (c *Client) CreateProposal(ctx context.Context, p CreateProposalParams) (*big.Int, error) {
	if len(p.Executors) != len(p.Choices) || len(p.Data) != len(p.Choices) {
		return nil, apperr.New(apperr.CodeInvalidRequest, "one executor and one data word per choice")
	}
	choices, err := encodeAll(p.Choices)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "choices")
	}
	data := make([][32]byte, len(p.Data))
	for i, d := range p.Data {
		data[i] = [32]byte(d)
	}

	receipt, err := c.transact(ctx, "createProposal", nil,
		p.SpaceID, p.Title, p.Description,
		new(big.Int).SetUint64(p.Start), new(big.Int).SetUint64(p.End), new(big.Int).SetUint64(p.Snapshot),
		choices, p.Executors, data)
	if err != nil {
		return nil, err
	}
	l, err := c.eventLog(receipt, "ProposalCreated")
	if err != nil {
		return nil, err
	}
	return indexedID(l)
}

func (c *Client) VoteOnProposal(ctx context.Context, p VoteParams) (common.Hash, error) {
	tx, err := c.send(ctx, "voteOnProposal", nil,
		p.SpaceID, p.ProposalID, p.Voter, new(big.Int).SetUint64(p.Choice), p.Power)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (c *Client) ExecuteProposal(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	receipt, err := c.transact(ctx, "executeProposal", nil, spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	l, err := c.eventLog(receipt, "ProposalExecuted")
	if err != nil {
		return nil, err
	}
	vals, err := townsquareABI.Unpack("ProposalExecuted", l.Data)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeOperationNotConfirmed, err, "decode ProposalExecuted")
	}
	return field[*big.Int](vals, 0, "ProposalExecuted")
}

func (c *Client) RedeemCreationFee(ctx context.Context, spaceID *big.Int) error {
	_, err := c.transact(ctx, "redeemSpaceCreationFee", nil, spaceID)
	return err
}
