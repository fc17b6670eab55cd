package ledgertest

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
)

func (l *Ledger) ChainHead(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "ChainHead"); err != nil {
		return 0, err
	}
	return l.head, nil
}

func (l *Ledger) SpacesCount(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SpacesCount"); err != nil {
		return nil, err
	}
	return big.NewInt(int64(len(l.spaces))), nil
}

func (l *Ledger) Spaces(ctx context.Context, skip, limit uint64) ([]ledger.SpaceRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "Spaces"); err != nil {
		return nil, err
	}
	l.page("Spaces", skip, limit)
	from, to := window(uint64(len(l.spaces)), skip, limit)
	rows := make([]ledger.SpaceRow, 0, to-from)
	for _, sp := range l.spaces[from:to] {
		rows = append(rows, copyRow(sp.rec.SpaceRow))
	}
	return rows, nil
}

func (l *Ledger) Space(ctx context.Context, id *big.Int) (ledger.SpaceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "Space"); err != nil {
		return ledger.SpaceRecord{}, err
	}
	sp, err := l.space(id)
	if err != nil {
		return ledger.SpaceRecord{}, err
	}
	rec := sp.rec
	rec.SpaceRow = copyRow(sp.rec.SpaceRow)
	rec.TokenDecimals = new(big.Int).Set(sp.rec.TokenDecimals)
	return rec, nil
}

func (l *Ledger) SpaceOwner(ctx context.Context, id *big.Int) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SpaceOwner"); err != nil {
		return common.Address{}, err
	}
	sp, err := l.space(id)
	if err != nil {
		return common.Address{}, err
	}
	return sp.owner, nil
}

func (l *Ledger) SpaceAdmins(ctx context.Context, id *big.Int) ([]common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SpaceAdmins"); err != nil {
		return nil, err
	}
	sp, err := l.space(id)
	if err != nil {
		return nil, err
	}
	return append([]common.Address{}, sp.admins...), nil
}

func (l *Ledger) SpaceSettings(ctx context.Context, id *big.Int) (ledger.SettingsRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SpaceSettings"); err != nil {
		return ledger.SettingsRecord{}, err
	}
	sp, err := l.space(id)
	if err != nil {
		return ledger.SettingsRecord{}, err
	}
	return ledger.SettingsRecord{
		ProposalThreshold: new(big.Int).Set(sp.settings.ProposalThreshold),
		OnlyAdmins:        sp.settings.OnlyAdmins,
	}, nil
}

func (l *Ledger) UserSpaces(ctx context.Context, user common.Address) ([]ledger.UserSpaceRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "UserSpaces"); err != nil {
		return nil, err
	}
	var rows []ledger.UserSpaceRow
	for _, sp := range l.spaces {
		if sp.members[user] {
			rows = append(rows, ledger.UserSpaceRow{ID: new(big.Int).Set(sp.rec.ID), Name: sp.rec.Name, Avatar: sp.rec.Avatar})
		}
	}
	return rows, nil
}

func (l *Ledger) SpaceCreationFee(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SpaceCreationFee"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.fee), nil
}

func (l *Ledger) CreationTimestamp(ctx context.Context, id *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "CreationTimestamp"); err != nil {
		return nil, err
	}
	sp, err := l.space(id)
	if err != nil {
		return nil, err
	}
	return big.NewInt(sp.created), nil
}

func (l *Ledger) ProposalsCount(ctx context.Context, spaceID *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "ProposalsCount"); err != nil {
		return nil, err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return nil, err
	}
	return big.NewInt(int64(len(sp.proposals))), nil
}

func (l *Ledger) Proposals(ctx context.Context, spaceID *big.Int, skip, limit uint64) ([]ledger.ProposalRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "Proposals"); err != nil {
		return nil, err
	}
	l.page("Proposals", skip, limit)
	sp, err := l.space(spaceID)
	if err != nil {
		return nil, err
	}
	from, to := window(uint64(len(sp.proposals)), skip, limit)
	rows := make([]ledger.ProposalRow, 0, to-from)
	for _, p := range sp.proposals[from:to] {
		rows = append(rows, ledger.ProposalRow{
			ID:           new(big.Int).Set(p.rec.ID),
			Title:        p.rec.Title,
			Description:  p.rec.Description,
			Start:        p.rec.Start,
			End:          p.rec.End,
			ChoicesCount: uint64(len(p.rec.Choices)),
		})
	}
	return rows, nil
}

func (l *Ledger) Proposal(ctx context.Context, spaceID, proposalID *big.Int) (ledger.ProposalRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "Proposal"); err != nil {
		return ledger.ProposalRecord{}, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return ledger.ProposalRecord{}, err
	}
	rec := p.rec
	rec.SpaceID = new(big.Int).Set(p.rec.SpaceID)
	rec.ID = new(big.Int).Set(p.rec.ID)
	rec.Choices = append([]string(nil), p.rec.Choices...)
	rec.Executors = append([]common.Address(nil), p.rec.Executors...)
	rec.Data = append([]common.Hash(nil), p.rec.Data...)
	rec.Votes = cloneInts(p.rec.Votes)
	return rec, nil
}

func (l *Ledger) VotersCount(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "VotersCount"); err != nil {
		return nil, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	return big.NewInt(int64(len(p.votes))), nil
}

func (l *Ledger) Votes(ctx context.Context, spaceID, proposalID *big.Int, skip, limit uint64) ([]ledger.VoteRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "Votes"); err != nil {
		return nil, err
	}
	l.page("Votes", skip, limit)
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	from, to := window(uint64(len(p.votes)), skip, limit)
	rows := make([]ledger.VoteRow, 0, to-from)
	for _, v := range p.votes[from:to] {
		rows = append(rows, ledger.VoteRow{Voter: v.Voter, Amount: new(big.Int).Set(v.Amount), Choice: new(big.Int).Set(v.Choice)})
	}
	return rows, nil
}

func (l *Ledger) HasVoted(ctx context.Context, spaceID, proposalID *big.Int, user common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "HasVoted"); err != nil {
		return false, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return false, err
	}
	return p.voted[user], nil
}

func (l *Ledger) IsSpaceAdmin(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "IsSpaceAdmin"); err != nil {
		return false, err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return false, err
	}
	if user == sp.owner {
		return true, nil
	}
	for _, a := range sp.admins {
		if a == user {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) IsSpaceMember(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "IsSpaceMember"); err != nil {
		return false, err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return false, err
	}
	return sp.members[user], nil
}

func (l *Ledger) IsProposalExecuted(ctx context.Context, spaceID, proposalID *big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "IsProposalExecuted"); err != nil {
		return false, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return false, err
	}
	return p.executed, nil
}

func (l *Ledger) WinningChoiceIndex(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "WinningChoiceIndex"); err != nil {
		return nil, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	return big.NewInt(int64(winner(p.rec.Votes))), nil
}

func (l *Ledger) BalanceAt(ctx context.Context, token, holder common.Address, height uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "BalanceAt"); err != nil {
		return nil, err
	}
	bal := big.NewInt(0)
	for _, cp := range l.balances[token][holder] {
		if cp.height > height {
			break
		}
		bal = cp.balance
	}
	return new(big.Int).Set(bal), nil
}

func (l *Ledger) Account() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

func (l *Ledger) requireAccount(method string) error {
	if l.account == (common.Address{}) {
		return apperr.New(apperr.CodeAccountRequired, method+": no signing account")
	}
	return nil
}

func (l *Ledger) CreateSpace(ctx context.Context, p ledger.CreateSpaceParams) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "CreateSpace"); err != nil {
		return nil, err
	}
	if err := l.requireAccount("createSpace"); err != nil {
		return nil, err
	}
	if err := checkBytes32(p.Name, p.Avatar, p.Website); err != nil {
		return nil, err
	}
	l.nextTx()
	return l.addSpace(SpaceSeed{
		Name: p.Name, Description: p.Description, Avatar: p.Avatar, Website: p.Website,
		Token: p.Token, Decimals: p.TokenDecimals, Owner: l.account,
	}), nil
}

func (l *Ledger) UpdateSpace(ctx context.Context, p ledger.UpdateSpaceParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "UpdateSpace"); err != nil {
		return err
	}
	if err := l.requireAccount("updateSpace"); err != nil {
		return err
	}
	if err := checkBytes32(p.Name, p.Avatar, p.Website); err != nil {
		return err
	}
	sp, err := l.space(p.SpaceID)
	if err != nil {
		return err
	}
	sp.rec.Name, sp.rec.Description, sp.rec.Avatar, sp.rec.Website = p.Name, p.Description, p.Avatar, p.Website
	sp.rec.Token = p.Token
	sp.rec.TokenDecimals = new(big.Int).SetUint64(p.TokenDecimals)
	l.nextTx()
	return nil
}

func (l *Ledger) UpdateProposalThreshold(ctx context.Context, spaceID, threshold *big.Int, onlyAdmins bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "UpdateProposalThreshold"); err != nil {
		return err
	}
	if err := l.requireAccount("updateSpaceCreateProposalThreshold"); err != nil {
		return err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return err
	}
	sp.settings = ledger.SettingsRecord{ProposalThreshold: new(big.Int).Set(threshold), OnlyAdmins: onlyAdmins}
	l.nextTx()
	return nil
}

func (l *Ledger) SetSpaceAdmins(ctx context.Context, spaceID *big.Int, admins []common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "SetSpaceAdmins"); err != nil {
		return err
	}
	if err := l.requireAccount("setSpaceAdmins"); err != nil {
		return err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return err
	}
	sp.admins = append([]common.Address{}, admins...)
	l.nextTx()
	return nil
}

func (l *Ledger) JoinSpace(ctx context.Context, spaceID *big.Int) error {
	return l.membership(ctx, "JoinSpace", spaceID, true)
}

func (l *Ledger) LeaveSpace(ctx context.Context, spaceID *big.Int) error {
	return l.membership(ctx, "LeaveSpace", spaceID, false)
}

func (l *Ledger) membership(ctx context.Context, method string, spaceID *big.Int, join bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, method); err != nil {
		return err
	}
	if err := l.requireAccount(method); err != nil {
		return err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return err
	}
	if sp.members[l.account] == join {
		return apperr.Newf(apperr.CodeLedgerRejected, "%s: membership unchanged", method)
	}
	if join {
		sp.members[l.account] = true
	} else {
		delete(sp.members, l.account)
	}
	sp.rec.MemberCount = big.NewInt(int64(len(sp.members)))
	l.nextTx()
	return nil
}

func (l *Ledger) CreateProposal(ctx context.Context, p ledger.CreateProposalParams) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "CreateProposal"); err != nil {
		return nil, err
	}
	if err := l.requireAccount("createProposal"); err != nil {
		return nil, err
	}
	if len(p.Executors) != len(p.Choices) || len(p.Data) != len(p.Choices) {
		return nil, apperr.New(apperr.CodeInvalidRequest, "one executor and one data word per choice")
	}
	if err := checkBytes32(p.Choices...); err != nil {
		return nil, err
	}
	sp, err := l.space(p.SpaceID)
	if err != nil {
		return nil, err
	}
	l.nextTx()
	return l.addProposal(sp, ProposalSeed{
		Title: p.Title, Description: p.Description, Author: l.account,
		Start: p.Start, End: p.End, Snapshot: p.Snapshot,
		Choices: p.Choices, Executors: p.Executors, Data: p.Data,
	}), nil
}

// VoteOnProposal rejects a second vote by the same voter, as the contract does.
func (l *Ledger) VoteOnProposal(ctx context.Context, p ledger.VoteParams) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "VoteOnProposal"); err != nil {
		return common.Hash{}, err
	}
	if err := l.requireAccount("voteOnProposal"); err != nil {
		return common.Hash{}, err
	}
	prop, err := l.proposal(p.SpaceID, p.ProposalID)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeLedgerRejected, err, "voteOnProposal")
	}
	if prop.voted[p.Voter] {
		return common.Hash{}, apperr.New(apperr.CodeLedgerRejected, "voteOnProposal: already voted")
	}
	if p.Choice >= uint64(len(prop.rec.Choices)) {
		return common.Hash{}, apperr.New(apperr.CodeLedgerRejected, "voteOnProposal: invalid choice")
	}
	prop.voted[p.Voter] = true
	prop.votes = append(prop.votes, ledger.VoteRow{
		Voter:  p.Voter,
		Amount: new(big.Int).Set(p.Power),
		Choice: new(big.Int).SetUint64(p.Choice),
	})
	prop.rec.Votes[p.Choice].Add(prop.rec.Votes[p.Choice], p.Power)
	return l.nextTx(), nil
}

func (l *Ledger) ExecuteProposal(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "ExecuteProposal"); err != nil {
		return nil, err
	}
	if err := l.requireAccount("executeProposal"); err != nil {
		return nil, err
	}
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.executed {
		return nil, apperr.New(apperr.CodeLedgerRejected, "executeProposal: already executed")
	}
	p.executed = true
	l.nextTx()
	return big.NewInt(int64(winner(p.rec.Votes))), nil
}

func (l *Ledger) RedeemCreationFee(ctx context.Context, spaceID *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "RedeemCreationFee"); err != nil {
		return err
	}
	if err := l.requireAccount("redeemSpaceCreationFee"); err != nil {
		return err
	}
	sp, err := l.space(spaceID)
	if err != nil {
		return err
	}
	if sp.redeemed {
		return apperr.New(apperr.CodeLedgerRejected, "redeemSpaceCreationFee: already redeemed")
	}
	sp.redeemed = true
	l.nextTx()
	return nil
}

func copyRow(r ledger.SpaceRow) ledger.SpaceRow {
	r.ID = new(big.Int).Set(r.ID)
	r.MemberCount = new(big.Int).Set(r.MemberCount)
	return r
}

func checkBytes32(values ...string) error {
	for _, v := range values {
		if _, err := ledger.EncodeBytes32(v); err != nil {
			return apperr.Wrap(apperr.CodeInvalidRequest, err, "bytes32 field")
		}
	}
	return nil
}

func winner(tally []*big.Int) int {
	best := 0
	for i, v := range tally {
		if v.Cmp(tally[best]) > 0 {
			best = i
		}
	}
	return best
}
