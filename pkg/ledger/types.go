package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SpaceRow is one entry of the paginated space listing. ID is the listing index.
type SpaceRow struct {
	ID          *big.Int
	Name        string
	Avatar      string
	Website     string
	Token       common.Address
	MemberCount *big.Int
}

// SpaceRecord is the full space as returned by getSpaceExternal.
type SpaceRecord struct {
	SpaceRow
	Description   string
	TokenDecimals *big.Int
}

// SettingsRecord holds the proposal-creation gates of a space.
type SettingsRecord struct {
	ProposalThreshold *big.Int
	OnlyAdmins        bool
}

// UserSpaceRow is one membership entry for an address.
type UserSpaceRow struct {
	ID     *big.Int
	Name   string
	Avatar string
}

// ProposalRow is the summary returned by the paginated proposal listing.
type ProposalRow struct {
	ID           *big.Int
	Title        string
	Description  string
	Start        uint64
	End          uint64
	ChoicesCount uint64
}

// ProposalRecord is a proposal with choices, pass actions and the running tally.
type ProposalRecord struct {
	SpaceID     *big.Int
	ID          *big.Int
	Title       string
	Description string
	Author      common.Address
	Start       uint64
	End         uint64
	Snapshot    uint64
	Choices     []string
	Executors   []common.Address
	Data        []common.Hash
	Votes       []*big.Int
}

// VoteRow is one cast vote, in ledger order.
type VoteRow struct {
	Voter  common.Address
	Amount *big.Int
	Choice *big.Int
}

type CreateSpaceParams struct {
	Name          string
	Description   string
	Token         common.Address
	Avatar        string
	Website       string
	TokenDecimals uint64
	// Fee overrides SPACE_CREATION_FEE when set.
	Fee *big.Int
}

type UpdateSpaceParams struct {
	SpaceID       *big.Int
	Name          string
	Description   string
	Token         common.Address
	TokenDecimals uint64
	Avatar        string
	Website       string
}

// CreateProposalParams carries one executor and data word per choice.
// A zero address or zero hash means no action for that choice.
type CreateProposalParams struct {
	SpaceID     *big.Int
	Title       string
	Description string
	Start       uint64
	End         uint64
	Snapshot    uint64
	Choices     []string
	Executors   []common.Address
	Data        []common.Hash
}

// VoteParams is the relayed vote. Power is whole tokens at the proposal snapshot.
type VoteParams struct {
	SpaceID    *big.Int
	ProposalID *big.Int
	Voter      common.Address
	Choice     uint64
	Power      *big.Int
}

func u64(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
