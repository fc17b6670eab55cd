package townsquare

import (
	"context"
	"math/big"

	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/models"
	"go.uber.org/zap"
)

func proposalComplete(v models.View) func(models.Proposal) bool {
	return func(p models.Proposal) bool { return p.CompleteFor(v) }
}

// ListProposals returns proposal summaries of a space in ledger order.
func (c *Client) ListProposals(ctx context.Context, spaceID *big.Int, skip, limit int, opts ...ReadOption) ([]models.Proposal, error) {
	skip, limit = pageBounds(skip, limit)
	ro := applyRead(opts)
	col := c.cache.Proposals(spaceID)

	return listWindow(col, skip, limit, ro.recache,
		func(skip, limit uint64) ([]ledger.ProposalRow, error) {
			return c.ledger.Proposals(ctx, spaceID, skip, limit)
		},
		func(pos int, row ledger.ProposalRow) models.Proposal {
			return col.PutAt(pos, idKey(row.ID), proposalFromRow(spaceID, row))
		},
		func(cached int, err error) {
			c.logger.Warn("Listing proposals from cache after ledger failure",
				zap.String("space", spaceID.String()), zap.Int("cached", cached), zap.Error(err))
		})
}

// GetProposal returns the detail view: choices, pass actions, tally and snapshot.
func (c *Client) GetProposal(ctx context.Context, spaceID, proposalID *big.Int, opts ...ReadOption) (models.Proposal, error) {
	ro := applyRead(opts)
	col := c.cache.Proposals(spaceID)
	key := idKey(proposalID)

	if !ro.recache {
		if p, ok := col.Lookup(key, proposalComplete(models.ViewDetail)); ok {
			return p, nil
		}
	}
	rec, err := c.ledger.Proposal(ctx, spaceID, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	return col.Put(key, proposalFromRecord(rec)), nil
}

// GetProposalView is GetProposal plus the lifecycle state at the client's clock.
func (c *Client) GetProposalView(ctx context.Context, spaceID, proposalID *big.Int, opts ...ReadOption) (models.ProposalView, error) {
	p, err := c.GetProposal(ctx, spaceID, proposalID, opts...)
	if err != nil {
		return models.ProposalView{}, err
	}
	return models.ProposalView{Proposal: p, State: p.StateAt(c.now())}, nil
}

func (c *Client) IsProposalExecuted(ctx context.Context, spaceID, proposalID *big.Int) (bool, error) {
	return c.ledger.IsProposalExecuted(ctx, spaceID, proposalID)
}

// WinningChoice is the index of the choice with the highest tally.
func (c *Client) WinningChoice(ctx context.Context, spaceID, proposalID *big.Int) (uint64, error) {
	idx, err := c.ledger.WinningChoiceIndex(ctx, spaceID, proposalID)
	if err != nil {
		return 0, err
	}
	return idx.Uint64(), nil
}
