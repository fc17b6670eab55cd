package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestSpaceMergeKeepsLazyFields(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	admin := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenAddr := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	detail := Space{
		ID:          big.NewInt(3),
		Name:        "dao",
		MemberCount: big.NewInt(4),
		Token:       Token{ID: tokenAddr, Name: "Gov", Symbol: "GOV", Decimals: ptr(uint64(18))},
		Description: ptr("long text"),
		Owner:       &owner,
		Admins:      []common.Address{admin},
	}
	summary := Space{ID: big.NewInt(3), Name: "dao-renamed", MemberCount: big.NewInt(9), Token: Token{ID: tokenAddr}}

	merged := detail.Merge(summary)
	assert.Equal(t, "dao-renamed", merged.Name)
	assert.Equal(t, int64(9), merged.MemberCount.Int64())
	require.NotNil(t, merged.Description)
	assert.Equal(t, "long text", *merged.Description)
	assert.Equal(t, &owner, merged.Owner)
	assert.Equal(t, []common.Address{admin}, merged.Admins)
	assert.Equal(t, "GOV", merged.Token.Symbol)
	assert.True(t, merged.CompleteFor(ViewDetail))
}

func TestSpaceCompleteness(t *testing.T) {
	s := &Space{ID: big.NewInt(1)}
	assert.True(t, s.CompleteFor(ViewSummary))
	assert.False(t, s.CompleteFor(ViewDetail))
	assert.False(t, s.CompleteFor(ViewAdmins))

	s.Admins = []common.Address{}
	assert.True(t, s.CompleteFor(ViewAdmins))

	var missing *Space
	assert.False(t, missing.CompleteFor(ViewSummary))
}

func TestTokenMergeReplacesOnAddressChange(t *testing.T) {
	a := Token{ID: common.HexToAddress("0x01"), Name: "A", Decimals: ptr(uint64(6))}
	b := Token{ID: common.HexToAddress("0x02")}
	assert.Equal(t, b, a.Merge(b))

	same := Token{ID: a.ID, Symbol: "AAA"}
	merged := a.Merge(same)
	assert.Equal(t, "A", merged.Name)
	assert.Equal(t, "AAA", merged.Symbol)
	assert.Equal(t, uint64(6), *merged.Decimals)
}

func TestProposalStateAt(t *testing.T) {
	p := &Proposal{ID: big.NewInt(0), Start: 100, End: 200}
	assert.Equal(t, ProposalPending, p.StateAt(time.Unix(99, 0)))
	assert.Equal(t, ProposalActive, p.StateAt(time.Unix(100, 0)))
	assert.Equal(t, ProposalActive, p.StateAt(time.Unix(199, 0)))
	assert.Equal(t, ProposalClosed, p.StateAt(time.Unix(200, 0)))
}

func TestProposalMergeKeepsDetail(t *testing.T) {
	author := common.HexToAddress("0x0a")
	detail := Proposal{
		SpaceID: big.NewInt(1), ID: big.NewInt(2), Title: "t", Start: 1, End: 2,
		Author: &author, Snapshot: ptr(uint64(1000)), Choices: []string{"yes", "no"},
		ChoicesVotesCounts: []*big.Int{big.NewInt(1), big.NewInt(0)},
	}
	summary := Proposal{SpaceID: big.NewInt(1), ID: big.NewInt(2), Title: "t2", Start: 1, End: 3, ChoicesCount: 2}

	merged := detail.Merge(summary)
	assert.Equal(t, "t2", merged.Title)
	assert.Equal(t, uint64(3), merged.End)
	assert.Equal(t, []string{"yes", "no"}, merged.Choices)
	assert.True(t, merged.CompleteFor(ViewDetail))
	assert.False(t, (&summary).CompleteFor(ViewDetail))
}
