// Package townsquare is the domain client: cache-aware reads over the ledger
// gateway plus the write operations a space member or admin performs.
//
// Reads follow one pattern: consult the cache under the view's completeness
// policy, read the ledger on a miss, merge the result into the cache, and for
// list reads fall back to whatever is cached when the ledger is unavailable.
// Writes always surface their errors.
package townsquare

import (
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/tokeninfo"
	"go.uber.org/zap"
)

// CreationFeeLockup is how long after creation a space's fee becomes redeemable.
const CreationFeeLockup = 90 * 24 * time.Hour

// DefaultPageSize is used when a list call passes limit 0.
const DefaultPageSize = 10

// Client is safe for concurrent use. Construct one per session or server.
type Client struct {
	ledger ledger.Gateway
	tokens tokeninfo.Fetcher
	cache  *cache.Cache
	now    func() time.Time
	logger *zap.Logger

	// vote submission
	signer     *ecdsa.PrivateKey
	relayerURL string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCache shares an existing cache instead of creating a private one.
func WithCache(c *cache.Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock overrides the wall clock used for proposal state and fee redemption.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithVoteSigner enables CastVote: votes are signed with key and posted to relayerURL.
func WithVoteSigner(key *ecdsa.PrivateKey, relayerURL string) Option {
	return func(cl *Client) {
		cl.signer = key
		cl.relayerURL = relayerURL
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

func New(gw ledger.Gateway, tokens tokeninfo.Fetcher, opts ...Option) *Client {
	c := &Client{
		ledger:     gw,
		tokens:     tokens,
		now:        time.Now,
		logger:     zap.NewNop(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.cache == nil {
		c.cache = cache.New()
	}
	c.logger = c.logger.With(zap.String("component", "townsquare"))
	return c
}

// Cache exposes the client's cache for invalidation by the host process.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Ledger exposes the underlying gateway.
func (c *Client) Ledger() ledger.Gateway { return c.ledger }

// Account is the address writes are sent from. Votes are cast from the vote
// signer's address when one is configured.
func (c *Client) Account() common.Address {
	if c.signer != nil {
		return crypto.PubkeyToAddress(c.signer.PublicKey)
	}
	return c.ledger.Account()
}

func (c *Client) requireAccount() error {
	if c.ledger.Account() == (common.Address{}) {
		return apperr.New(apperr.CodeAccountRequired, "Account not connected")
	}
	return nil
}

type readOpts struct {
	recache bool
}

// ReadOption tunes a single read.
type ReadOption func(*readOpts)

// WithRecache skips the completeness check and always reads the ledger.
func WithRecache() ReadOption {
	return func(o *readOpts) { o.recache = true }
}

func applyRead(opts []ReadOption) readOpts {
	var o readOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func pageBounds(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return skip, limit
}

// listWindow serves positions [skip, skip+limit) of col. Only the range from
// the first uncached position on is read through fetch, and store caches each
// fetched row at its position. When fetch fails and part of the window is
// cached, that part is returned and onStale is told why.
func listWindow[K comparable, V, R any](
	col *cache.Collection[K, V],
	skip, limit int,
	recache bool,
	fetch func(skip, limit uint64) ([]R, error),
	store func(pos int, row R) V,
	onStale func(cached int, err error),
) ([]V, error) {
	var head, cached []V
	if !recache {
		var complete bool
		if cached, complete = col.Window(skip, limit); complete {
			return cached, nil
		}
		head = col.Head(skip, limit)
	}

	from := skip + len(head)
	want := skip + limit - from
	if want <= 0 {
		return head, nil
	}
	rows, err := fetch(uint64(from), uint64(want))
	if err != nil {
		if recache {
			cached, _ = col.Window(skip, limit)
		}
		if len(cached) == 0 {
			return nil, err
		}
		onStale(len(cached), err)
		return cached, nil
	}
	if len(rows) < want {
		col.SetEnd(from + len(rows))
	}

	out := make([]V, 0, len(head)+len(rows))
	out = append(out, head...)
	for i, row := range rows {
		out = append(out, store(from+i, row))
	}
	return out, nil
}

func idKey(id *big.Int) string { return cache.IDKey(id) }
