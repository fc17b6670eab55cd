package jobs

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"go.uber.org/zap"
)

// DefaultRefreshSchedule is used when CACHE_REFRESH_SCHEDULE is unset.
const DefaultRefreshSchedule = "@every 30s"

// RefreshRecorder is satisfied by *metrics.Metrics.
type RefreshRecorder interface {
	Refreshed(ok bool)
}

// Refresher re-reads cached proposals that are still open for voting so
// their tallies do not go stale between votes relayed elsewhere.
type Refresher struct {
	domain  *townsquare.Client
	pool    pond.Pool
	timeout time.Duration
	now     func() time.Time
	rec     RefreshRecorder
	logger  *zap.Logger
}

func NewRefresher(domain *townsquare.Client, pool pond.Pool, rec RefreshRecorder, logger *zap.Logger) *Refresher {
	return &Refresher{
		domain:  domain,
		pool:    pool,
		timeout: 20 * time.Second,
		now:     time.Now,
		rec:     rec,
		logger:  logger.With(zap.String("component", "refresher")),
	}
}

type proposalRef struct {
	spaceID, proposalID *big.Int
}

// Refresh recaches every active proposal present in the cache and drops
// their vote lists. It returns how many were refreshed and how many failed.
func (r *Refresher) Refresh(ctx context.Context) (int, int) {
	now := r.now()
	var active []proposalRef
	r.domain.Cache().EachProposal(func(p models.Proposal) bool {
		if p.SpaceID != nil && p.ID != nil && p.StateAt(now) == models.ProposalActive {
			active = append(active, proposalRef{spaceID: p.SpaceID, proposalID: p.ID})
		}
		return true
	})
	if len(active) == 0 {
		return 0, 0
	}

	var ok, failed atomic.Int64
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, ref := range active {
		group.Submit(func() {
			_, err := r.domain.GetProposal(groupCtx, ref.spaceID, ref.proposalID, townsquare.WithRecache())
			if err != nil {
				failed.Add(1)
				r.logger.Debug("Proposal refresh failed",
					zap.String("space", ref.spaceID.String()),
					zap.String("proposal", ref.proposalID.String()),
					zap.Error(err))
				return
			}
			r.domain.Cache().Invalidate(cache.KindVote, cache.Key{SpaceID: ref.spaceID, ProposalID: ref.proposalID})
			ok.Add(1)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Proposal refresh group failed", zap.Error(err))
	}

	if r.rec != nil {
		for i := int64(0); i < ok.Load(); i++ {
			r.rec.Refreshed(true)
		}
		for i := int64(0); i < failed.Load(); i++ {
			r.rec.Refreshed(false)
		}
	}
	return int(ok.Load()), int(failed.Load())
}

// Schedule registers Refresh on c under spec.
func (r *Refresher) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		refreshed, failed := r.Refresh(ctx)
		if refreshed+failed > 0 {
			r.logger.Info("Refreshed active proposals", zap.Int("refreshed", refreshed), zap.Int("failed", failed))
		}
	})
}
