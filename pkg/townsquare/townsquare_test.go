package townsquare

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/ledger/ledgertest"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap/zaptest"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, addr common.Address) (models.Token, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(models.Token), args.Error(1)
}

var (
	govToken = common.HexToAddress("0x70000000000000000000000000000000000000aa")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	holder   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	start    = time.Unix(1_700_000_000, 0)
)

func u64p(v uint64) *uint64 { return &v }

func ledgerVote(pid *big.Int, voter common.Address, choice uint64, power int64) ledger.VoteParams {
	return ledger.VoteParams{SpaceID: big.NewInt(0), ProposalID: pid, Voter: voter, Choice: choice, Power: big.NewInt(power)}
}

func govMetadata() models.Token {
	// the metadata service disagrees with the ledger on purpose
	return models.Token{ID: govToken, Name: "Governance", Symbol: "GOV", Decimals: u64p(18)}
}

func newTestClient(t *testing.T, spaces int) (*Client, *ledgertest.Ledger, *mockFetcher) {
	t.Helper()
	l := ledgertest.New()
	l.SetAccount(owner)
	l.SetHead(900)
	for i := 0; i < spaces; i++ {
		l.AddSpace(ledgertest.SpaceSeed{
			Name:        "space",
			Description: "a space",
			Token:       govToken,
			Decimals:    6,
			Owner:       owner,
			Admins:      []common.Address{admin},
			CreatedAt:   start,
		})
	}
	f := &mockFetcher{}
	c := New(l, f, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return start }))
	return c, l, f
}

func TestListSpacesServesCompleteWindowFromCache(t *testing.T) {
	c, l, _ := newTestClient(t, 5)
	ctx := context.Background()

	first, err := c.ListSpaces(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, int64(2), first[2].ID.Int64())

	again, err := c.ListSpaces(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, l.Calls("Spaces"))

	_, err = c.ListSpaces(ctx, 0, 3, WithRecache())
	require.NoError(t, err)
	assert.Equal(t, 2, l.Calls("Spaces"))
}

func TestListSpacesServesShortLastPageFromCache(t *testing.T) {
	c, l, f := newTestClient(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := c.ListSpaces(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	}
	tail, err := c.ListSpaces(ctx, 2, 5)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(2), tail[0].ID.Int64())
	past, err := c.ListSpaces(ctx, 5, 5)
	require.NoError(t, err)
	assert.Empty(t, past)
	assert.Equal(t, 1, l.Calls("Spaces"))

	f.On("Fetch", mock.Anything, govToken).Return(govMetadata(), nil)
	_, err = c.CreateSpace(ctx, SpaceInput{Name: "new", Token: govToken})
	require.NoError(t, err)

	got, err := c.ListSpaces(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(3), got[3].ID.Int64())
	pages := l.Pages("Spaces")
	require.Len(t, pages, 2)
	assert.Equal(t, ledgertest.Page{Skip: 3, Limit: 7}, pages[1])
}

func TestListSpacesReadsOnlyTheMissingRange(t *testing.T) {
	c, l, _ := newTestClient(t, 6)
	ctx := context.Background()

	_, err := c.ListSpaces(ctx, 0, 2)
	require.NoError(t, err)

	got, err := c.ListSpaces(ctx, 0, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, s := range got {
		assert.Equal(t, int64(i), s.ID.Int64())
	}

	c.Cache().Invalidate(cache.KindSpace, cache.Key{SpaceID: big.NewInt(3)})
	got, err = c.ListSpaces(ctx, 0, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(3), got[3].ID.Int64())

	assert.Equal(t, []ledgertest.Page{
		{Skip: 0, Limit: 2},
		{Skip: 2, Limit: 3},
		{Skip: 3, Limit: 2},
	}, l.Pages("Spaces"))
}

func TestListProposalsShortPageUntilOneIsCreated(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		l.AddProposal(big.NewInt(0), ledgertest.ProposalSeed{
			Title: "p", Start: 1, End: 1 << 40, Snapshot: 800, Choices: []string{"a", "b"},
		})
	}

	for i := 0; i < 2; i++ {
		got, err := c.ListProposals(ctx, big.NewInt(0), 0, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 1, l.Calls("Proposals"))

	_, err := c.CreateProposal(ctx, ProposalInput{
		SpaceID: big.NewInt(0), Title: "third", Start: 100, End: 200, Choices: []string{"yes", "no"},
	})
	require.NoError(t, err)

	got, err := c.ListProposals(ctx, big.NewInt(0), 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "third", got[2].Title)
	assert.Equal(t, ledgertest.Page{Skip: 2, Limit: 8}, l.Pages("Proposals")[1])
}

func TestListSpacesFallsBackToCacheOnOutage(t *testing.T) {
	c, l, _ := newTestClient(t, 5)
	ctx := context.Background()

	_, err := c.ListSpaces(ctx, 0, 2)
	require.NoError(t, err)

	outage := apperr.New(apperr.CodeLedgerUnavailable, "node down")
	l.Fail("Spaces", outage)

	got, err := c.ListSpaces(ctx, 0, 4)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = c.ListSpaces(ctx, 3, 2)
	assert.ErrorIs(t, err, apperr.ErrLedgerUnavailable)

	l.Heal("Spaces")
	got, err = c.ListSpaces(ctx, 3, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetSpaceLoadsDetailOnce(t *testing.T) {
	c, l, f := newTestClient(t, 1)
	ctx := context.Background()
	f.On("Fetch", mock.Anything, govToken).Return(govMetadata(), nil).Once()

	s, err := c.GetSpace(ctx, big.NewInt(0))
	require.NoError(t, err)
	require.NotNil(t, s.Description)
	assert.Equal(t, "a space", *s.Description)
	assert.Equal(t, owner, *s.Owner)
	assert.Equal(t, "GOV", s.Token.Symbol)
	require.NotNil(t, s.Token.Decimals)
	assert.Equal(t, uint64(6), *s.Token.Decimals, "ledger decimals win")

	_, err = c.GetSpace(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, 1, l.Calls("Space"))
	f.AssertExpectations(t)
}

func TestSummaryReadKeepsDetailAndAdmins(t *testing.T) {
	c, l, f := newTestClient(t, 1)
	ctx := context.Background()
	f.On("Fetch", mock.Anything, govToken).Return(govMetadata(), nil)

	_, err := c.GetSpace(ctx, big.NewInt(0))
	require.NoError(t, err)
	admins, err := c.LoadSpaceAdmins(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{admin}, admins)

	list, err := c.ListSpaces(ctx, 0, 1, WithRecache())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].Description)
	assert.Equal(t, []common.Address{admin}, list[0].Admins)
	assert.Equal(t, "GOV", list[0].Token.Symbol)

	_, err = c.LoadSpaceAdmins(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, 1, l.Calls("SpaceAdmins"))
}

func TestGetSpaceSurfacesMetadataFailure(t *testing.T) {
	c, _, f := newTestClient(t, 1)
	f.On("Fetch", mock.Anything, govToken).
		Return(models.Token{}, apperr.New(apperr.CodeMetadataLookupFailed, "boom"))

	_, err := c.GetSpace(context.Background(), big.NewInt(0))
	assert.ErrorIs(t, err, apperr.ErrMetadataLookupFailed)
	_, cached := c.Cache().Spaces().Get(idKey(big.NewInt(0)))
	assert.False(t, cached)
}

func TestCreateSpaceRequiresMetadata(t *testing.T) {
	c, l, f := newTestClient(t, 0)
	other := common.HexToAddress("0x7000000000000000000000000000000000000bad")
	f.On("Fetch", mock.Anything, other).
		Return(models.Token{}, apperr.New(apperr.CodeMetadataLookupFailed, "unknown token"))

	_, err := c.CreateSpace(context.Background(), SpaceInput{Name: "x", Token: other})
	assert.ErrorIs(t, err, apperr.ErrMetadataLookupFailed)
	assert.Zero(t, l.Calls("CreateSpace"))
}

func TestCreateSpaceStoresMetadataDecimals(t *testing.T) {
	c, _, f := newTestClient(t, 0)
	f.On("Fetch", mock.Anything, govToken).Return(govMetadata(), nil).Once()

	s, err := c.CreateSpace(context.Background(), SpaceInput{Name: "new", Description: "d", Token: govToken})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.ID.Int64())
	assert.Equal(t, uint64(18), *s.Token.Decimals)
	assert.Equal(t, owner, *s.Owner)
	f.AssertExpectations(t)
}

func TestWritesNeedAnAccount(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	l.SetAccount(common.Address{})

	err := c.JoinSpace(context.Background(), big.NewInt(0))
	assert.ErrorIs(t, err, apperr.ErrAccountRequired)
	assert.Zero(t, l.Calls("JoinSpace"))
}

func TestJoinSpaceInvalidatesSpace(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()
	_, err := c.ListSpaces(ctx, 0, 1)
	require.NoError(t, err)

	l.SetAccount(holder)
	require.NoError(t, c.JoinSpace(ctx, big.NewInt(0)))

	list, err := c.ListSpaces(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list[0].MemberCount.Int64())

	member, err := c.IsSpaceMember(ctx, big.NewInt(0), holder)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestSettingsWriteUpdatesCache(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()

	require.NoError(t, c.UpdateProposalThreshold(ctx, big.NewInt(0), big.NewInt(50), true))
	s, err := c.GetSpaceSettings(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, int64(50), s.CreateProposalThreshold.Int64())
	assert.True(t, s.OnlyAdminsCanCreateProposal)
	assert.Zero(t, l.Calls("SpaceSettings"))

	err = c.UpdateProposalThreshold(ctx, big.NewInt(0), big.NewInt(-1), false)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestCreateProposalSnapshotsHeadAndPadsActions(t *testing.T) {
	c, _, _ := newTestClient(t, 1)
	executor := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	p, err := c.CreateProposal(context.Background(), ProposalInput{
		SpaceID: big.NewInt(0),
		Title:   "Treasury",
		Start:   100,
		End:     200,
		Choices: []string{"yes", "no", "abstain"},
		Actions: []models.ChoiceAction{{Executor: &executor, Data: common.HexToHash("0x01")}},
	})
	require.NoError(t, err)
	require.NotNil(t, p.Snapshot)
	assert.Equal(t, uint64(900), *p.Snapshot)
	assert.Equal(t, owner, *p.Author)
	require.Len(t, p.PassActions, 3)
	assert.Equal(t, &executor, p.PassActions[0].Executor)
	assert.Nil(t, p.PassActions[1].Executor)
	assert.Equal(t, common.Hash{}, p.PassActions[2].Data)
	assert.Equal(t, "abstain", p.PassActions[2].Choice)
}

func TestCreateProposalValidatesInput(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()

	_, err := c.CreateProposal(ctx, ProposalInput{SpaceID: big.NewInt(0), Start: 1, End: 2, Choices: []string{"only"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = c.CreateProposal(ctx, ProposalInput{SpaceID: big.NewInt(0), Start: 2, End: 2, Choices: []string{"a", "b"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	assert.Zero(t, l.Calls("CreateProposal"))
}

func TestProposalDetailAndState(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()
	now := uint64(start.Unix())
	pid := l.AddProposal(big.NewInt(0), ledgertest.ProposalSeed{
		Title: "p", Start: now - 10, End: now + 10, Snapshot: 800, Choices: []string{"a", "b"},
	})

	list, err := c.ListProposals(ctx, big.NewInt(0), 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].CompleteFor(models.ViewDetail))

	view, err := c.GetProposalView(ctx, big.NewInt(0), pid)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalActive, view.State)
	assert.Equal(t, []string{"a", "b"}, view.Choices)

	_, err = c.GetProposal(ctx, big.NewInt(0), pid)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Calls("Proposal"))

	_, err = c.GetProposal(ctx, big.NewInt(0), big.NewInt(7))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVotingPowerTruncatesAtSnapshot(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()
	pid := l.AddProposal(big.NewInt(0), ledgertest.ProposalSeed{
		Title: "p", Start: 1, End: 2, Snapshot: 800, Choices: []string{"a", "b"},
	})
	l.SetBalance(govToken, holder, 800, big.NewInt(2_999_999))
	l.SetBalance(govToken, holder, 850, big.NewInt(90_000_000))

	power, err := c.VotingPower(ctx, big.NewInt(0), pid, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(2), power.Int64())

	l.SetBalance(govToken, admin, 800, big.NewInt(999_999))
	power, err = c.VotingPower(ctx, big.NewInt(0), pid, admin)
	require.NoError(t, err)
	assert.Zero(t, power.Sign())
}

func TestListVotesInLedgerOrder(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()
	pid := l.AddProposal(big.NewInt(0), ledgertest.ProposalSeed{
		Title: "p", Start: 1, End: 1 << 40, Snapshot: 800, Choices: []string{"a", "b"},
	})
	voters := []common.Address{holder, admin}
	for i, v := range voters {
		_, err := l.VoteOnProposal(ctx, ledgerVote(pid, v, uint64(i), 3))
		require.NoError(t, err)
	}

	votes, err := c.ListVotes(ctx, big.NewInt(0), pid, 0, 10)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, holder, votes[0].Author)
	assert.Equal(t, uint64(1), votes[1].Choice)
	assert.Equal(t, 1, votes[1].Index)

	again, err := c.ListVotes(ctx, big.NewInt(0), pid, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, votes, again)
	assert.Equal(t, 1, l.Calls("Votes"))

	voted, err := c.HasVoted(ctx, big.NewInt(0), pid, admin)
	require.NoError(t, err)
	assert.True(t, voted)
}

func TestCreationFeeLockup(t *testing.T) {
	c, l, _ := newTestClient(t, 1)
	ctx := context.Background()

	ok, err := c.CanRedeemCreationFee(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, c.RedeemCreationFee(ctx, big.NewInt(0)), apperr.ErrInvalidRequest)
	assert.Zero(t, l.Calls("RedeemCreationFee"))

	c.now = func() time.Time { return start.Add(CreationFeeLockup + time.Second) }
	ok, err = c.CanRedeemCreationFee(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.RedeemCreationFee(ctx, big.NewInt(0)))
}

func TestCreationFee(t *testing.T) {
	c, l, _ := newTestClient(t, 0)
	l.SetCreationFee(big.NewInt(5e15))

	fee, err := c.CreationFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e15), fee)
}

func TestCastVotePostsSignedIntent(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	voter := crypto.PubkeyToAddress(key.PublicKey)
	tx := common.HexToHash("0xabc")

	r := mux.NewRouter()
	r.HandleFunc("/vote/{spaceId}/{proposalId}", func(w http.ResponseWriter, req *http.Request) {
		var body VoteBody
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		sig, err := vote.DecodeSignature(body.Signature)
		require.NoError(t, err)
		vars := mux.Vars(req)
		assert.Equal(t, "3", vars["spaceId"])
		assert.Equal(t, "4", vars["proposalId"])
		assert.True(t, vote.Verify(vote.Message(big.NewInt(3), big.NewInt(4), body.ChoiceIndex), sig, body.Address))
		assert.Equal(t, voter, body.Address)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(VoteReply{Message: "Vote submitted", TxHash: tx.Hex()})
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New(ledgertest.New(), nil, WithVoteSigner(key, srv.URL+"/"), WithLogger(zaptest.NewLogger(t)))
	c.Cache().Proposals(big.NewInt(3)).Put("4", models.Proposal{ID: big.NewInt(4)})

	got, err := c.CastVote(context.Background(), big.NewInt(3), big.NewInt(4), 1)
	require.NoError(t, err)
	assert.Equal(t, tx, got)
	_, cached := c.Cache().Proposals(big.NewInt(3)).Get("4")
	assert.False(t, cached)
	assert.Equal(t, voter, c.Account())
}

func TestCastVoteMapsRelayerErrors(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(VoteReply{Error: "Already voted", Code: string(apperr.CodeAlreadyVoted)})
	}))
	defer srv.Close()

	c := New(ledgertest.New(), nil, WithVoteSigner(key, srv.URL))
	_, err = c.CastVote(context.Background(), big.NewInt(0), big.NewInt(0), 0)
	assert.ErrorIs(t, err, apperr.ErrAlreadyVoted)
	assert.Equal(t, "Already voted", apperr.MessageOf(err))
}

func TestCastVoteWithoutSigner(t *testing.T) {
	c := New(ledgertest.New(), nil)
	_, err := c.CastVote(context.Background(), big.NewInt(0), big.NewInt(0), 0)
	assert.True(t, errors.Is(err, apperr.ErrAccountRequired))
}

func TestCacheInvalidationByKind(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	ctx := context.Background()
	_, err := c.ListSpaces(ctx, 0, 2)
	require.NoError(t, err)

	c.Cache().Invalidate(cache.KindSpace, cache.Key{SpaceID: big.NewInt(1)})
	_, ok := c.Cache().Spaces().Get(idKey(big.NewInt(1)))
	assert.False(t, ok)
	_, ok = c.Cache().Spaces().Get(idKey(big.NewInt(0)))
	assert.True(t, ok)
}
