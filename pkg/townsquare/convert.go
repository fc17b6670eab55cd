package townsquare

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/models"
)

func spaceFromRow(r ledger.SpaceRow) models.Space {
	return models.Space{
		ID:          r.ID,
		Name:        r.Name,
		Avatar:      r.Avatar,
		Website:     r.Website,
		MemberCount: r.MemberCount,
		Token:       models.Token{ID: r.Token},
	}
}

// spaceFromRecord builds the detail view. The ledger's recorded decimals win
// over the metadata service's: they are what votes are weighted with.
func spaceFromRecord(r ledger.SpaceRecord, token models.Token, owner common.Address) models.Space {
	s := spaceFromRow(r.SpaceRow)
	desc := r.Description
	s.Description = &desc
	s.Owner = &owner
	s.Token = token
	s.Token.ID = r.Token
	if r.TokenDecimals != nil && r.TokenDecimals.IsUint64() {
		d := r.TokenDecimals.Uint64()
		s.Token.Decimals = &d
	}
	return s
}

func proposalFromRow(spaceID *big.Int, r ledger.ProposalRow) models.Proposal {
	return models.Proposal{
		SpaceID:      spaceID,
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		Start:        r.Start,
		End:          r.End,
		ChoicesCount: int(r.ChoicesCount),
	}
}

func proposalFromRecord(r ledger.ProposalRecord) models.Proposal {
	author := r.Author
	snapshot := r.Snapshot
	actions := make([]models.ChoiceAction, len(r.Choices))
	for i, choice := range r.Choices {
		actions[i] = models.ChoiceAction{Choice: choice}
		if i < len(r.Executors) && r.Executors[i] != (common.Address{}) {
			executor := r.Executors[i]
			actions[i].Executor = &executor
		}
		if i < len(r.Data) {
			actions[i].Data = r.Data[i]
		}
	}
	counts := make([]*big.Int, len(r.Votes))
	copy(counts, r.Votes)
	return models.Proposal{
		SpaceID:            r.SpaceID,
		ID:                 r.ID,
		Title:              r.Title,
		Description:        r.Description,
		Start:              r.Start,
		End:                r.End,
		ChoicesCount:       len(r.Choices),
		Author:             &author,
		Snapshot:           &snapshot,
		Choices:            append([]string{}, r.Choices...),
		PassActions:        actions,
		ChoicesVotesCounts: counts,
	}
}

func voteFromRow(spaceID, proposalID *big.Int, index int, r ledger.VoteRow) models.Vote {
	choice := uint64(0)
	if r.Choice != nil && r.Choice.IsUint64() {
		choice = r.Choice.Uint64()
	}
	return models.Vote{
		SpaceID:    spaceID,
		ProposalID: proposalID,
		Author:     r.Voter,
		Choice:     choice,
		Amount:     r.Amount,
		Index:      index,
	}
}
