// Package jobs holds the relayer's background work: cross-instance cache
// invalidation and the scheduled refresh of active proposals.
package jobs

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/redis"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap"
)

const (
	SourceLocal = "local"
	SourceRedis = "redis"
	SourceAdmin = "admin"
)

// InvalidationRecorder is satisfied by *metrics.Metrics.
type InvalidationRecorder interface {
	Invalidated(kind, source string)
}

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	PublishVoteRelayed(ctx context.Context, ev redis.VoteRelayed)
}

// Invalidator drops cached proposal state after a vote lands, here or on
// another instance.
type Invalidator struct {
	cache  *cache.Cache
	origin string
	rec    InvalidationRecorder
	pub    Publisher
	logger *zap.Logger
}

// NewInvalidator builds an invalidator. rec and pub may be nil.
func NewInvalidator(c *cache.Cache, origin string, rec InvalidationRecorder, pub Publisher, logger *zap.Logger) *Invalidator {
	return &Invalidator{
		cache:  c,
		origin: origin,
		rec:    rec,
		pub:    pub,
		logger: logger.With(zap.String("component", "invalidator")),
	}
}

// OnSubmitted matches vote.Opts.OnSubmitted: invalidate locally, then tell the other instances.
func (i *Invalidator) OnSubmitted(ctx context.Context, req vote.Request, res vote.Result) {
	i.VoteRelayed(req.SpaceID, req.ProposalID, SourceLocal)
	if i.pub == nil {
		return
	}
	power := "0"
	if res.Power != nil {
		power = res.Power.String()
	}
	i.pub.PublishVoteRelayed(ctx, redis.VoteRelayed{
		SpaceID:    req.SpaceID.String(),
		ProposalID: req.ProposalID.String(),
		Voter:      res.Voter.Hex(),
		Choice:     res.Choice,
		Power:      power,
		TxHash:     res.TxHash.Hex(),
		Origin:     i.origin,
	})
}

// VoteRelayed invalidates the proposal (its tally changed) and its vote list.
func (i *Invalidator) VoteRelayed(spaceID, proposalID *big.Int, source string) {
	key := cache.Key{SpaceID: spaceID, ProposalID: proposalID}
	i.Invalidate(cache.KindProposal, key, source)
	i.Invalidate(cache.KindVote, key, source)
}

// Invalidate drops one kind of entry and records where the request came from.
func (i *Invalidator) Invalidate(kind cache.Kind, key cache.Key, source string) {
	i.cache.Invalidate(kind, key)
	if i.rec != nil {
		i.rec.Invalidated(string(kind), source)
	}
}

// Handle applies an event published by another instance. Own events are skipped.
func (i *Invalidator) Handle(ev redis.VoteRelayed) {
	if ev.Origin != "" && ev.Origin == i.origin {
		return
	}
	spaceID, ok1 := new(big.Int).SetString(ev.SpaceID, 10)
	proposalID, ok2 := new(big.Int).SetString(ev.ProposalID, 10)
	if !ok1 || !ok2 {
		i.logger.Warn("Ignoring vote event with bad ids",
			zap.String("space", ev.SpaceID), zap.String("proposal", ev.ProposalID))
		return
	}
	i.VoteRelayed(spaceID, proposalID, SourceRedis)
	i.logger.Debug("Invalidated after remote vote",
		zap.String("space", ev.SpaceID), zap.String("proposal", ev.ProposalID), zap.String("origin", ev.Origin))
}

// Run keeps a subscription open until ctx is cancelled, resubscribing with backoff.
func (i *Invalidator) Run(ctx context.Context, client *redis.Client) error {
	backoff := time.Second
	for {
		err := client.SubscribeVoteRelayed(ctx, i.Handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			i.logger.Warn("Vote event subscription dropped, retrying",
				zap.Error(err), zap.Duration("retryIn", backoff))
		}
		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, 30*time.Second)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
