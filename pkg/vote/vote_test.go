package vote

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/ledger/ledgertest"
	"go.uber.org/zap/zaptest"
)

const testChainID = 1337

type fixture struct {
	ledger     *ledgertest.Ledger
	auth       *Authorizer
	key        *ecdsa.PrivateKey
	voter      common.Address
	token      common.Address
	spaceID    *big.Int
	proposalID *big.Int

	mu        sync.Mutex
	submitted []Result
	outcomes  []string
}

// newFixture seeds space 5 (token decimals 6) with a three-choice proposal
// snapshotted at height 1000, where the voter holds 2.5 tokens.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		ledger: ledgertest.New(),
		key:    key,
		voter:  crypto.PubkeyToAddress(key.PublicKey),
		token:  common.HexToAddress("0x70000000000000000000000000000000000000aa"),
	}
	f.ledger.SetAccount(common.HexToAddress("0x5e1a7e5"))
	f.ledger.SetHead(1500)
	for i := 0; i < 6; i++ {
		f.spaceID = f.ledger.AddSpace(ledgertest.SpaceSeed{Name: "space", Token: f.token, Decimals: 6})
	}
	require.Equal(t, int64(5), f.spaceID.Int64())
	f.proposalID = f.ledger.AddProposal(f.spaceID, ledgertest.ProposalSeed{
		Title:    "Pick one",
		Snapshot: 1000,
		Start:    1,
		End:      1 << 40,
		Choices:  []string{"a", "b", "c"},
	})
	f.ledger.SetBalance(f.token, f.voter, 1000, big.NewInt(2_500_000))

	f.auth = NewAuthorizer(f.ledger, Opts{
		ChainID: testChainID,
		OnSubmitted: func(_ context.Context, _ Request, res Result) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.submitted = append(f.submitted, res)
		},
		Observe: func(outcome string, _ time.Duration) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.outcomes = append(f.outcomes, outcome)
		},
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(f.auth.Close)
	return f
}

func (f *fixture) signed(t *testing.T, spaceID, proposalID int64, choice uint64) Request {
	t.Helper()
	sig, err := Sign(Message(big.NewInt(spaceID), big.NewInt(proposalID), choice), f.key)
	require.NoError(t, err)
	return Request{
		SpaceID:    f.spaceID,
		ProposalID: f.proposalID,
		Choice:     choice,
		Signature:  sig,
		Address:    f.voter,
	}
}

func TestMessageTemplate(t *testing.T) {
	assert.Equal(t,
		"Sign this message to confirm your vote\n\nSpace ID: 1\nProposal ID: 2\nChoice index: 0",
		Message(big.NewInt(1), big.NewInt(2), 0))
}

func TestSignatureRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := Sign("hello", key)
	require.NoError(t, err)
	assert.True(t, Verify("hello", sig, addr))
	assert.False(t, Verify("hellO", sig, addr))

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	assert.True(t, Verify("hello", raw, addr), "v in {0,1} is accepted")

	decoded, err := DecodeSignature(common.Bytes2Hex(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)

	assert.False(t, Verify("hello", sig[:64], addr))
}

func TestPowerTruncates(t *testing.T) {
	cases := []struct {
		name     string
		balance  string
		decimals uint64
		want     string
	}{
		{"1.9 tokens", "1900000000000000000", 18, "1"},
		{"just under one token", "999999999999999999", 18, "0"},
		{"six decimals", "2500000", 6, "2"},
		{"zero decimals", "42", 0, "42"},
		{"zero balance", "0", 18, "0"},
		{"absurd decimals", "1000", 90, "0"},
		{"max uint256", "115792089237316195423570985008687907853269984665640564039457584007913129639935", 77, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bal, ok := new(big.Int).SetString(tc.balance, 10)
			require.True(t, ok)
			assert.Equal(t, tc.want, Power(bal, tc.decimals).String())
		})
	}
}

func TestEndToEndVoteIncreasesTally(t *testing.T) {
	f := newFixture(t)

	res, err := f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Power.Int64())
	assert.NotEqual(t, common.Hash{}, res.TxHash)

	tally := f.ledger.Tally(f.spaceID, f.proposalID)
	assert.Equal(t, []int64{0, 2, 0}, []int64{tally[0].Int64(), tally[1].Int64(), tally[2].Int64()})
	require.Len(t, f.submitted, 1)
	assert.Equal(t, []string{OutcomeSubmitted}, f.outcomes)
}

func TestReplayAgainstOtherVoteIsRejected(t *testing.T) {
	f := newFixture(t)
	sig, err := Sign(Message(big.NewInt(1), big.NewInt(2), 0), f.key)
	require.NoError(t, err)

	for _, target := range []struct{ space, proposal, choice int64 }{
		{1, 2, 1}, {1, 3, 0}, {2, 2, 0},
	} {
		_, err := f.auth.Authorize(context.Background(), Request{
			SpaceID:    big.NewInt(target.space),
			ProposalID: big.NewInt(target.proposal),
			Choice:     uint64(target.choice),
			Signature:  sig,
			Address:    f.voter,
		})
		assert.ErrorIs(t, err, apperr.ErrSignatureInvalid, "replay onto %+v", target)
	}
	assert.Zero(t, f.ledger.Calls("Proposal"), "no ledger reads before the signature verifies")
}

func TestSignatureFromAnotherAddressIsRejected(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t, 5, 0, 1)
	req.Address = common.HexToAddress("0xdead")

	_, err := f.auth.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)
}

func TestSecondVoteIsAlreadyVoted(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t, 5, 0, 2)

	_, err := f.auth.Authorize(context.Background(), req)
	require.NoError(t, err)

	_, err = f.auth.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrAlreadyVoted)
	assert.Equal(t, 409, apperr.HTTPStatus(apperr.CodeOf(err)))
	assert.Len(t, f.submitted, 1)
}

func TestConcurrentDuplicatesRelayOnce(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t, 5, 0, 0)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.auth.Authorize(context.Background(), req)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyVoted)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(2), f.ledger.Tally(f.spaceID, f.proposalID)[0].Int64())
}

func TestChoiceOnePastEndIsInvalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 3))
	assert.ErrorIs(t, err, apperr.ErrChoiceInvalid)

	f.ledger.SetBalance(f.token, f.voter, 1000, big.NewInt(0))
	_, err = f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 3))
	assert.ErrorIs(t, err, apperr.ErrChoiceInvalid, "choice is checked before power")
}

func TestFractionalBalanceHasNoPower(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(f.token, f.voter, 1000, big.NewInt(999_999))

	_, err := f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 1))
	assert.ErrorIs(t, err, apperr.ErrNoPower)
	assert.Equal(t, 403, apperr.HTTPStatus(apperr.CodeOf(err)))
	assert.Zero(t, f.ledger.Calls("VoteOnProposal"))
}

func TestPowerIsReadAtSnapshot(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(f.token, f.voter, 1200, big.NewInt(90_000_000))
	f.ledger.SetHead(5000)

	res, err := f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Power.Int64())
}

func TestBalanceAcquiredAfterSnapshotDoesNotCount(t *testing.T) {
	f := newFixture(t)
	late, err := crypto.GenerateKey()
	require.NoError(t, err)
	f.key = late
	f.voter = crypto.PubkeyToAddress(late.PublicKey)
	f.ledger.SetBalance(f.token, f.voter, 1001, big.NewInt(50_000_000))

	_, err = f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 1))
	assert.ErrorIs(t, err, apperr.ErrNoPower)
}

func TestWrongChainIsRejected(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t, 5, 0, 1)
	other := uint64(1)
	req.ChainID = &other

	_, err := f.auth.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrInvalidChain)

	same := uint64(testChainID)
	req.ChainID = &same
	_, err = f.auth.Authorize(context.Background(), req)
	assert.NoError(t, err)
}

func TestUnknownProposalIsNotFound(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t, 5, 9, 0)
	req.ProposalID = big.NewInt(9)

	_, err := f.auth.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLedgerOutageSurfaces(t *testing.T) {
	f := newFixture(t)
	f.ledger.Fail("HasVoted", apperr.New(apperr.CodeLedgerUnavailable, "rpc down"))

	_, err := f.auth.Authorize(context.Background(), f.signed(t, 5, 0, 1))
	assert.ErrorIs(t, err, apperr.ErrLedgerUnavailable)
}

// cancelOnBalance cancels the request context once the last pre-check read is done.
type cancelOnBalance struct {
	*ledgertest.Ledger
	cancel context.CancelFunc
}

func (c cancelOnBalance) BalanceAt(ctx context.Context, token, holder common.Address, height uint64) (*big.Int, error) {
	bal, err := c.Ledger.BalanceAt(ctx, token, holder, height)
	c.cancel()
	return bal, err
}

var _ ledger.Gateway = cancelOnBalance{}

func TestRelaySurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth := NewAuthorizer(cancelOnBalance{Ledger: f.ledger, cancel: cancel}, Opts{ChainID: testChainID, Logger: zaptest.NewLogger(t)})
	defer auth.Close()

	_, err := auth.Authorize(ctx, f.signed(t, 5, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.ledger.Tally(f.spaceID, f.proposalID)[1].Int64())
}
