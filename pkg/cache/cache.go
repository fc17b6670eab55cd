// Package cache is the process-local, non-authoritative mirror of ledger
// entities. One Cache is built per server or client session; nothing is
// persisted across restarts.
package cache

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/ufedojoa/townsquare/pkg/models"
)

// Kind identifies an entity type for invalidation and metrics.
type Kind string

const (
	KindSpace    Kind = "space"
	KindSettings Kind = "space_settings"
	KindToken    Kind = "token"
	KindProposal Kind = "proposal"
	KindVote     Kind = "vote"
)

// ParseKind validates an external kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSpace, KindSettings, KindToken, KindProposal, KindVote:
		return k, nil
	}
	return "", fmt.Errorf("unknown cache kind %q", s)
}

// Key addresses an entry for Invalidate. Unused fields are ignored per kind.
type Key struct {
	SpaceID    *big.Int
	ProposalID *big.Int
	Address    common.Address
}

// Cache groups the typed collections.
type Cache struct {
	rec       Recorder
	spaces    *Collection[string, models.Space]
	settings  *Collection[string, models.SpaceSettings]
	tokens    *Collection[common.Address, models.Token]
	proposals *xsync.Map[string, *Collection[string, models.Proposal]]
	votes     *xsync.Map[string, *Collection[common.Address, models.Vote]]
}

// Option configures a Cache.
type Option func(*Cache)

// WithRecorder reports hits and misses to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Cache) { c.rec = rec }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{rec: nopRecorder{}}
	for _, o := range opts {
		o(c)
	}
	c.spaces = NewCollection[string, models.Space](string(KindSpace), models.Space.Merge, c.rec)
	c.settings = NewCollection[string, models.SpaceSettings](string(KindSettings), nil, c.rec)
	c.tokens = NewCollection[common.Address, models.Token](string(KindToken), models.Token.Merge, c.rec)
	c.proposals = xsync.NewMap[string, *Collection[string, models.Proposal]]()
	c.votes = xsync.NewMap[string, *Collection[common.Address, models.Vote]]()
	return c
}

// IDKey is the string form of a uint256 identifier.
func IDKey(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func (c *Cache) Spaces() *Collection[string, models.Space] { return c.spaces }

func (c *Cache) Settings() *Collection[string, models.SpaceSettings] { return c.settings }

// Tokens are never evicted: metadata is immutable.
func (c *Cache) Tokens() *Collection[common.Address, models.Token] { return c.tokens }

// Proposals returns the per-space proposal collection, creating it on first use.
func (c *Cache) Proposals(spaceID *big.Int) *Collection[string, models.Proposal] {
	k := IDKey(spaceID)
	if col, ok := c.proposals.Load(k); ok {
		return col
	}
	col, _ := c.proposals.LoadOrStore(k, NewCollection[string, models.Proposal](string(KindProposal), models.Proposal.Merge, c.rec))
	return col
}

// Votes returns the per-proposal vote collection, creating it on first use.
// Votes are immutable once cast, so a later Put simply replaces the entry.
func (c *Cache) Votes(spaceID, proposalID *big.Int) *Collection[common.Address, models.Vote] {
	k := IDKey(spaceID) + "/" + IDKey(proposalID)
	if col, ok := c.votes.Load(k); ok {
		return col
	}
	col, _ := c.votes.LoadOrStore(k, NewCollection[common.Address, models.Vote](string(KindVote), nil, c.rec))
	return col
}

// EachProposal visits every cached proposal across spaces.
func (c *Cache) EachProposal(fn func(models.Proposal) bool) {
	c.proposals.Range(func(_ string, col *Collection[string, models.Proposal]) bool {
		cont := true
		col.Range(func(_ string, p models.Proposal) bool {
			cont = fn(p)
			return cont
		})
		return cont
	})
}

// Invalidate drops the entries addressed by key for kind.
func (c *Cache) Invalidate(kind Kind, key Key) {
	switch kind {
	case KindSpace:
		c.spaces.Invalidate(IDKey(key.SpaceID))
		c.settings.Invalidate(IDKey(key.SpaceID))
	case KindSettings:
		c.settings.Invalidate(IDKey(key.SpaceID))
	case KindToken:
		c.tokens.Invalidate(key.Address)
	case KindProposal:
		if key.ProposalID == nil {
			c.proposals.Delete(IDKey(key.SpaceID))
			return
		}
		c.Proposals(key.SpaceID).Invalidate(IDKey(key.ProposalID))
	case KindVote:
		c.votes.Delete(IDKey(key.SpaceID) + "/" + IDKey(key.ProposalID))
	}
}

// Clear drops everything except token metadata.
func (c *Cache) Clear() {
	c.spaces.Clear()
	c.settings.Clear()
	c.proposals.Clear()
	c.votes.Clear()
}
