package jobs

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger/ledgertest"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/redis"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap/zaptest"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []redis.VoteRelayed
}

func (f *fakePublisher) PublishVoteRelayed(_ context.Context, ev redis.VoteRelayed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeRecorder struct {
	mu        sync.Mutex
	bySource  map[string]int
	refreshed map[bool]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{bySource: map[string]int{}, refreshed: map[bool]int{}}
}

func (f *fakeRecorder) Invalidated(_, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySource[source]++
}

func (f *fakeRecorder) Refreshed(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed[ok]++
}

func (f *fakeRecorder) sources() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for k, v := range f.bySource {
		out[k] = v
	}
	return out
}

var voter = common.HexToAddress("0x00000000000000000000000000000000000000b0")

func seedProposal(c *cache.Cache, spaceID, proposalID int64) {
	sid, pid := big.NewInt(spaceID), big.NewInt(proposalID)
	c.Proposals(sid).Put(cache.IDKey(pid), models.Proposal{SpaceID: sid, ID: pid, Title: "cached"})
	c.Votes(sid, pid).Put(voter, models.Vote{Author: voter})
}

func cached(c *cache.Cache, spaceID, proposalID int64) (proposal, votes bool) {
	sid, pid := big.NewInt(spaceID), big.NewInt(proposalID)
	_, proposal = c.Proposals(sid).Get(cache.IDKey(pid))
	_, votes = c.Votes(sid, pid).Get(voter)
	return proposal, votes
}

func TestOnSubmittedInvalidatesAndPublishes(t *testing.T) {
	c := cache.New()
	seedProposal(c, 1, 2)
	seedProposal(c, 1, 3)
	pub := &fakePublisher{}
	rec := newFakeRecorder()
	inv := NewInvalidator(c, "node-a", rec, pub, zaptest.NewLogger(t))

	inv.OnSubmitted(context.Background(),
		vote.Request{SpaceID: big.NewInt(1), ProposalID: big.NewInt(2), Choice: 1, Address: voter},
		vote.Result{TxHash: common.HexToHash("0x01"), Voter: voter, Power: big.NewInt(4), Choice: 1})

	p, v := cached(c, 1, 2)
	assert.False(t, p)
	assert.False(t, v)
	p, v = cached(c, 1, 3)
	assert.True(t, p)
	assert.True(t, v)

	require.Len(t, pub.events, 1)
	assert.Equal(t, redis.VoteRelayed{
		SpaceID: "1", ProposalID: "2", Voter: voter.Hex(), Choice: 1, Power: "4",
		TxHash: common.HexToHash("0x01").Hex(), Origin: "node-a",
	}, pub.events[0])
	assert.Equal(t, map[string]int{SourceLocal: 2}, rec.sources())
}

func TestOnSubmittedWithoutPublisher(t *testing.T) {
	c := cache.New()
	seedProposal(c, 0, 0)
	inv := NewInvalidator(c, "node-a", nil, nil, zaptest.NewLogger(t))

	inv.OnSubmitted(context.Background(),
		vote.Request{SpaceID: big.NewInt(0), ProposalID: big.NewInt(0)},
		vote.Result{Voter: voter})

	p, _ := cached(c, 0, 0)
	assert.False(t, p)
}

func TestHandleRemoteEvents(t *testing.T) {
	tests := []struct {
		name    string
		ev      redis.VoteRelayed
		dropped bool
	}{
		{name: "other instance", ev: redis.VoteRelayed{SpaceID: "1", ProposalID: "2", Origin: "node-b"}, dropped: true},
		{name: "no origin", ev: redis.VoteRelayed{SpaceID: "1", ProposalID: "2"}, dropped: true},
		{name: "own event", ev: redis.VoteRelayed{SpaceID: "1", ProposalID: "2", Origin: "node-a"}},
		{name: "bad ids", ev: redis.VoteRelayed{SpaceID: "x", ProposalID: "2", Origin: "node-b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.New()
			seedProposal(c, 1, 2)
			rec := newFakeRecorder()
			inv := NewInvalidator(c, "node-a", rec, nil, zaptest.NewLogger(t))

			inv.Handle(tt.ev)

			p, v := cached(c, 1, 2)
			assert.Equal(t, !tt.dropped, p)
			assert.Equal(t, !tt.dropped, v)
			if tt.dropped {
				assert.Equal(t, 2, rec.sources()[SourceRedis])
			} else {
				assert.Empty(t, rec.sources())
			}
		})
	}
}

func TestRunAppliesEventsFromOtherInstances(t *testing.T) {
	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	client, err := redis.Connect(context.Background(), &goredis.Options{Addr: srv.Addr()}, 10, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := cache.New()
	seedProposal(c, 5, 1)
	inv := NewInvalidator(c, "node-a", nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inv.Run(ctx, client) }()

	require.Eventually(t, func() bool {
		client.PublishVoteRelayed(ctx, redis.VoteRelayed{SpaceID: "5", ProposalID: "1", Origin: "node-b"})
		p, _ := cached(c, 5, 1)
		return !p
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRefreshOnlyTouchesActiveProposals(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	gw := ledgertest.New()
	spaceID := gw.AddSpace(ledgertest.SpaceSeed{Name: "dao", Decimals: 18})
	open := gw.AddProposal(spaceID, ledgertest.ProposalSeed{Title: "open", Start: 999_000, End: 2_000_000, Choices: []string{"y", "n"}})
	closed := gw.AddProposal(spaceID, ledgertest.ProposalSeed{Title: "closed", Start: 1, End: 500_000, Choices: []string{"y", "n"}})

	domain := townsquare.New(gw, nil, townsquare.WithClock(func() time.Time { return now }))
	c := domain.Cache()
	c.Proposals(spaceID).Put(cache.IDKey(open), models.Proposal{SpaceID: spaceID, ID: open, Title: "stale", Start: 999_000, End: 2_000_000})
	c.Proposals(spaceID).Put(cache.IDKey(closed), models.Proposal{SpaceID: spaceID, ID: closed, Title: "stale", Start: 1, End: 500_000})
	c.Votes(spaceID, open).Put(voter, models.Vote{Author: voter})
	c.Votes(spaceID, closed).Put(voter, models.Vote{Author: voter})

	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	rec := newFakeRecorder()
	r := NewRefresher(domain, pool, rec, zaptest.NewLogger(t))
	r.now = func() time.Time { return now }

	ok, failed := r.Refresh(context.Background())
	assert.Equal(t, 1, ok)
	assert.Zero(t, failed)
	assert.Equal(t, 1, rec.refreshed[true])

	got, _ := c.Proposals(spaceID).Get(cache.IDKey(open))
	assert.Equal(t, "open", got.Title)
	assert.Equal(t, []string{"y", "n"}, got.Choices)
	got, _ = c.Proposals(spaceID).Get(cache.IDKey(closed))
	assert.Equal(t, "stale", got.Title)

	_, openVotes := c.Votes(spaceID, open).Get(voter)
	_, closedVotes := c.Votes(spaceID, closed).Get(voter)
	assert.False(t, openVotes)
	assert.True(t, closedVotes)
}

func TestRefreshCountsFailures(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	gw := ledgertest.New()
	spaceID := gw.AddSpace(ledgertest.SpaceSeed{Name: "dao"})
	id := gw.AddProposal(spaceID, ledgertest.ProposalSeed{Title: "open", Start: 1, End: 2_000_000, Choices: []string{"y", "n"}})
	gw.Fail("Proposal", apperr.New(apperr.CodeLedgerUnavailable, "down"))

	domain := townsquare.New(gw, nil)
	domain.Cache().Proposals(spaceID).Put(cache.IDKey(id), models.Proposal{SpaceID: spaceID, ID: id, Start: 1, End: 2_000_000})

	pool := pond.NewPool(2)
	t.Cleanup(pool.StopAndWait)
	rec := newFakeRecorder()
	r := NewRefresher(domain, pool, rec, zaptest.NewLogger(t))
	r.now = func() time.Time { return now }

	ok, failed := r.Refresh(context.Background())
	assert.Zero(t, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, rec.refreshed[false])
}

func TestRefreshWithEmptyCache(t *testing.T) {
	pool := pond.NewPool(1)
	t.Cleanup(pool.StopAndWait)
	r := NewRefresher(townsquare.New(ledgertest.New(), nil), pool, nil, zaptest.NewLogger(t))

	ok, failed := r.Refresh(context.Background())
	assert.Zero(t, ok+failed)
}

func TestSchedule(t *testing.T) {
	pool := pond.NewPool(1)
	t.Cleanup(pool.StopAndWait)
	r := NewRefresher(townsquare.New(ledgertest.New(), nil), pool, nil, zaptest.NewLogger(t))
	c := cron.New()

	id, err := r.Schedule(c, DefaultRefreshSchedule)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = r.Schedule(c, "every tuesday")
	assert.Error(t, err)
}
