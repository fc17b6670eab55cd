package townsquare

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap"
)

// ListVotes returns the votes cast on a proposal in ledger order.
func (c *Client) ListVotes(ctx context.Context, spaceID, proposalID *big.Int, skip, limit int, opts ...ReadOption) ([]models.Vote, error) {
	skip, limit = pageBounds(skip, limit)
	ro := applyRead(opts)
	col := c.cache.Votes(spaceID, proposalID)

	return listWindow(col, skip, limit, ro.recache,
		func(skip, limit uint64) ([]ledger.VoteRow, error) {
			return c.ledger.Votes(ctx, spaceID, proposalID, skip, limit)
		},
		func(pos int, row ledger.VoteRow) models.Vote {
			return col.PutAt(pos, row.Voter, voteFromRow(spaceID, proposalID, pos, row))
		},
		func(cached int, err error) {
			c.logger.Warn("Listing votes from cache after ledger failure",
				zap.String("space", spaceID.String()), zap.String("proposal", proposalID.String()),
				zap.Int("cached", cached), zap.Error(err))
		})
}

// HasVoted always reads the ledger.
func (c *Client) HasVoted(ctx context.Context, spaceID, proposalID *big.Int, user common.Address) (bool, error) {
	if user == (common.Address{}) {
		return false, nil
	}
	return c.ledger.HasVoted(ctx, spaceID, proposalID, user)
}

// VotingPower is holder's whole-token balance at the proposal snapshot, using
// the decimals the space recorded on the ledger.
func (c *Client) VotingPower(ctx context.Context, spaceID, proposalID *big.Int, holder common.Address) (*big.Int, error) {
	p, err := c.GetProposal(ctx, spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	token, decimals, err := c.spaceToken(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if p.Snapshot == nil {
		return nil, apperr.Newf(apperr.CodeInternal, "proposal %s of space %s has no snapshot", proposalID, spaceID)
	}
	bal, err := c.ledger.BalanceAt(ctx, token, holder, *p.Snapshot)
	if err != nil {
		return nil, err
	}
	return vote.Power(bal, decimals), nil
}

// spaceToken resolves the voting token and its ledger decimals without
// requiring the metadata service.
func (c *Client) spaceToken(ctx context.Context, spaceID *big.Int) (common.Address, uint64, error) {
	if s, ok := c.cache.Spaces().Lookup(idKey(spaceID), spaceComplete(models.ViewDetail)); ok {
		return s.Token.ID, *s.Token.Decimals, nil
	}
	rec, err := c.ledger.Space(ctx, spaceID)
	if err != nil {
		return common.Address{}, 0, err
	}
	if rec.TokenDecimals == nil || !rec.TokenDecimals.IsUint64() {
		return common.Address{}, 0, apperr.Newf(apperr.CodeInternal, "space %s has no recorded decimals", spaceID)
	}
	return rec.Token, rec.TokenDecimals.Uint64(), nil
}
