package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/retry"
)

// ChainHead returns the latest block number.
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	var head uint64
	start := time.Now()
	err := retry.WithBackoff(ctx, c.retry, c.logger, "blockNumber", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
		n, err := c.backend.BlockNumber(callCtx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	c.observe("blockNumber", start, err)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "blockNumber")
	}
	return head, nil
}

func (c *Client) uint256(ctx context.Context, method string, args ...any) (*big.Int, error) {
	vals, err := c.callTownsquare(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return field[*big.Int](vals, 0, method)
}

func (c *Client) boolean(ctx context.Context, method string, args ...any) (bool, error) {
	vals, err := c.callTownsquare(ctx, method, args...)
	if err != nil {
		return false, err
	}
	return field[bool](vals, 0, method)
}

func (c *Client) SpacesCount(ctx context.Context) (*big.Int, error) {
	return c.uint256(ctx, "getSpacesCount")
}

// Spaces lists spaces [skip, skip+limit). IDs are the listing indexes.
func (c *Client) Spaces(ctx context.Context, skip, limit uint64) ([]SpaceRow, error) {
	const method = "getSpaces"
	vals, err := c.callTownsquare(ctx, method, new(big.Int).SetUint64(skip), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	names, err := field[[][32]byte](vals, 0, method)
	if err != nil {
		return nil, err
	}
	tokens, err := field[[]common.Address](vals, 1, method)
	if err != nil {
		return nil, err
	}
	avatars, err := field[[][32]byte](vals, 2, method)
	if err != nil {
		return nil, err
	}
	websites, err := field[[][32]byte](vals, 3, method)
	if err != nil {
		return nil, err
	}
	members, err := field[[]*big.Int](vals, 4, method)
	if err != nil {
		return nil, err
	}
	if !sameLen(len(names), len(tokens), len(avatars), len(websites), len(members)) {
		return nil, apperr.New(apperr.CodeLedgerUnavailable, method+": mismatched column lengths")
	}

	rows := make([]SpaceRow, len(names))
	for i := range names {
		rows[i] = SpaceRow{
			ID:          new(big.Int).SetUint64(skip + uint64(i)),
			Name:        DecodeBytes32(names[i]),
			Avatar:      DecodeBytes32(avatars[i]),
			Website:     DecodeBytes32(websites[i]),
			Token:       tokens[i],
			MemberCount: members[i],
		}
	}
	return rows, nil
}

// Space reads the full record of one space.
func (c *Client) Space(ctx context.Context, id *big.Int) (SpaceRecord, error) {
	const method = "getSpaceExternal"
	vals, err := c.callTownsquare(ctx, method, id)
	if err != nil {
		return SpaceRecord{}, err
	}
	name, err := field[[32]byte](vals, 0, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	description, err := field[string](vals, 1, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	token, err := field[common.Address](vals, 2, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	avatar, err := field[[32]byte](vals, 3, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	website, err := field[[32]byte](vals, 4, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	members, err := field[*big.Int](vals, 5, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	decimals, err := field[*big.Int](vals, 6, method)
	if err != nil {
		return SpaceRecord{}, err
	}
	return SpaceRecord{
		SpaceRow: SpaceRow{
			ID:          new(big.Int).Set(id),
			Name:        DecodeBytes32(name),
			Avatar:      DecodeBytes32(avatar),
			Website:     DecodeBytes32(website),
			Token:       token,
			MemberCount: members,
		},
		Description:   description,
		TokenDecimals: decimals,
	}, nil
}

func (c *Client) SpaceOwner(ctx context.Context, id *big.Int) (common.Address, error) {
	vals, err := c.callTownsquare(ctx, "getSpaceOwner", id)
	if err != nil {
		return common.Address{}, err
	}
	return field[common.Address](vals, 0, "getSpaceOwner")
}

func (c *Client) SpaceAdmins(ctx context.Context, id *big.Int) ([]common.Address, error) {
	vals, err := c.callTownsquare(ctx, "getSpaceAdmins", id)
	if err != nil {
		return nil, err
	}
	return field[[]common.Address](vals, 0, "getSpaceAdmins")
}

func (c *Client) SpaceSettings(ctx context.Context, id *big.Int) (SettingsRecord, error) {
	const method = "getSpaceSettings"
	vals, err := c.callTownsquare(ctx, method, id)
	if err != nil {
		return SettingsRecord{}, err
	}
	threshold, err := field[*big.Int](vals, 0, method)
	if err != nil {
		return SettingsRecord{}, err
	}
	onlyAdmins, err := field[bool](vals, 1, method)
	if err != nil {
		return SettingsRecord{}, err
	}
	return SettingsRecord{ProposalThreshold: threshold, OnlyAdmins: onlyAdmins}, nil
}

// UserSpaces lists the spaces user is a member of.
func (c *Client) UserSpaces(ctx context.Context, user common.Address) ([]UserSpaceRow, error) {
	const method = "getUserSpaces"
	vals, err := c.callTownsquare(ctx, method, user)
	if err != nil {
		return nil, err
	}
	ids, err := field[[]*big.Int](vals, 0, method)
	if err != nil {
		return nil, err
	}
	names, err := field[[][32]byte](vals, 1, method)
	if err != nil {
		return nil, err
	}
	avatars, err := field[[][32]byte](vals, 2, method)
	if err != nil {
		return nil, err
	}
	if !sameLen(len(ids), len(names), len(avatars)) {
		return nil, apperr.New(apperr.CodeLedgerUnavailable, method+": mismatched column lengths")
	}
	rows := make([]UserSpaceRow, len(ids))
	for i := range ids {
		rows[i] = UserSpaceRow{ID: ids[i], Name: DecodeBytes32(names[i]), Avatar: DecodeBytes32(avatars[i])}
	}
	return rows, nil
}

func (c *Client) SpaceCreationFee(ctx context.Context) (*big.Int, error) {
	return c.uint256(ctx, "SPACE_CREATION_FEE")
}

// CreationTimestamp is the unix time the space was created.
func (c *Client) CreationTimestamp(ctx context.Context, id *big.Int) (*big.Int, error) {
	return c.uint256(ctx, "getCreationTimestamp", id)
}

func (c *Client) ProposalsCount(ctx context.Context, spaceID *big.Int) (*big.Int, error) {
	return c.uint256(ctx, "getSpaceProposalsCount", spaceID)
}

// Proposals lists proposal summaries of a space.
func (c *Client) Proposals(ctx context.Context, spaceID *big.Int, skip, limit uint64) ([]ProposalRow, error) {
	const method = "getSpaceProposals"
	vals, err := c.callTownsquare(ctx, method, spaceID, new(big.Int).SetUint64(skip), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	ids, err := field[[]*big.Int](vals, 0, method)
	if err != nil {
		return nil, err
	}
	titles, err := field[[]string](vals, 1, method)
	if err != nil {
		return nil, err
	}
	descriptions, err := field[[]string](vals, 2, method)
	if err != nil {
		return nil, err
	}
	starts, err := field[[]*big.Int](vals, 3, method)
	if err != nil {
		return nil, err
	}
	ends, err := field[[]*big.Int](vals, 4, method)
	if err != nil {
		return nil, err
	}
	counts, err := field[[]*big.Int](vals, 5, method)
	if err != nil {
		return nil, err
	}
	if !sameLen(len(ids), len(titles), len(descriptions), len(starts), len(ends), len(counts)) {
		return nil, apperr.New(apperr.CodeLedgerUnavailable, method+": mismatched column lengths")
	}
	rows := make([]ProposalRow, len(ids))
	for i := range ids {
		rows[i] = ProposalRow{
			ID:           ids[i],
			Title:        titles[i],
			Description:  descriptions[i],
			Start:        u64(starts[i]),
			End:          u64(ends[i]),
			ChoicesCount: u64(counts[i]),
		}
	}
	return rows, nil
}

// Proposal reads one proposal with its choices and tally.
func (c *Client) Proposal(ctx context.Context, spaceID, proposalID *big.Int) (ProposalRecord, error) {
	const method = "getSpaceProposal"
	vals, err := c.callTownsquare(ctx, method, spaceID, proposalID)
	if err != nil {
		return ProposalRecord{}, err
	}
	var (
		rec  = ProposalRecord{SpaceID: new(big.Int).Set(spaceID), ID: new(big.Int).Set(proposalID)}
		errs = make([]error, 0, 10)
		e    error
	)
	rec.Title, e = field[string](vals, 0, method)
	errs = append(errs, e)
	rec.Description, e = field[string](vals, 1, method)
	errs = append(errs, e)
	rec.Author, e = field[common.Address](vals, 2, method)
	errs = append(errs, e)
	start, e := field[*big.Int](vals, 3, method)
	errs = append(errs, e)
	end, e := field[*big.Int](vals, 4, method)
	errs = append(errs, e)
	snapshot, e := field[*big.Int](vals, 5, method)
	errs = append(errs, e)
	choices, e := field[[][32]byte](vals, 6, method)
	errs = append(errs, e)
	rec.Executors, e = field[[]common.Address](vals, 7, method)
	errs = append(errs, e)
	data, e := field[[][32]byte](vals, 8, method)
	errs = append(errs, e)
	rec.Votes, e = field[[]*big.Int](vals, 9, method)
	errs = append(errs, e)
	for _, err := range errs {
		if err != nil {
			return ProposalRecord{}, err
		}
	}

	rec.Start, rec.End, rec.Snapshot = u64(start), u64(end), u64(snapshot)
	rec.Choices = make([]string, len(choices))
	for i, ch := range choices {
		rec.Choices[i] = DecodeBytes32(ch)
	}
	rec.Data = make([]common.Hash, len(data))
	for i, d := range data {
		rec.Data[i] = common.Hash(d)
	}
	return rec, nil
}

func (c *Client) VotersCount(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	return c.uint256(ctx, "getSpaceProposalVotersCount", spaceID, proposalID)
}

// Votes lists cast votes in ledger order.
func (c *Client) Votes(ctx context.Context, spaceID, proposalID *big.Int, skip, limit uint64) ([]VoteRow, error) {
	const method = "getSpaceProposalVotes"
	vals, err := c.callTownsquare(ctx, method, spaceID, proposalID, new(big.Int).SetUint64(skip), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	voters, err := field[[]common.Address](vals, 0, method)
	if err != nil {
		return nil, err
	}
	amounts, err := field[[]*big.Int](vals, 1, method)
	if err != nil {
		return nil, err
	}
	choices, err := field[[]*big.Int](vals, 2, method)
	if err != nil {
		return nil, err
	}
	if !sameLen(len(voters), len(amounts), len(choices)) {
		return nil, apperr.New(apperr.CodeLedgerUnavailable, method+": mismatched column lengths")
	}
	rows := make([]VoteRow, len(voters))
	for i := range voters {
		rows[i] = VoteRow{Voter: voters[i], Amount: amounts[i], Choice: choices[i]}
	}
	return rows, nil
}

func (c *Client) HasVoted(ctx context.Context, spaceID, proposalID *big.Int, user common.Address) (bool, error) {
	return c.boolean(ctx, "hasVoted", spaceID, proposalID, user)
}

func (c *Client) IsSpaceAdmin(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error) {
	return c.boolean(ctx, "isSpaceAdmin", spaceID, user)
}

func (c *Client) IsSpaceMember(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error) {
	return c.boolean(ctx, "isSpaceMember", spaceID, user)
}

func (c *Client) IsProposalExecuted(ctx context.Context, spaceID, proposalID *big.Int) (bool, error) {
	return c.boolean(ctx, "isProposalExecuted", spaceID, proposalID)
}

func (c *Client) WinningChoiceIndex(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	return c.uint256(ctx, "getWinningChoiceIndex", spaceID, proposalID)
}

// BalanceAt calls balanceOf on token as of height.
func (c *Client) BalanceAt(ctx context.Context, token, holder common.Address, height uint64) (*big.Int, error) {
	vals, err := c.call(ctx, token, &erc20ABI, new(big.Int).SetUint64(height), "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return field[*big.Int](vals, 0, "balanceOf")
}

func sameLen(n int, rest ...int) bool {
	for _, m := range rest {
		if m != n {
			return false
		}
	}
	return true
}
