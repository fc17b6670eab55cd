// Package tokeninfo looks up ERC-20 metadata (name, symbol, decimals) from an
// explorer-style HTTP API.
package tokeninfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/models"
	"go.uber.org/zap"
)

// LocalChainID is the only chain the dev stub may be enabled on.
const LocalChainID uint64 = 1337

// Stub values served in dev mode.
const (
	StubName     = "Test Token"
	StubSymbol   = "TEST"
	StubDecimals = uint64(18)
)

// Fetcher resolves token metadata by contract address.
type Fetcher interface {
	Fetch(ctx context.Context, token common.Address) (models.Token, error)
}

// Opts configures a Client.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client

	// ChainID is the deployment chain. DevStub is only accepted when it equals LocalChainID.
	ChainID uint64
	DevStub bool

	Logger *zap.Logger
}

// Client implements Fetcher.
type Client struct {
	http    *httpClient
	stub    bool
	timeout time.Duration
	logger  *zap.Logger
}

var _ Fetcher = (*Client)(nil)

// New validates opts and returns a client.
func New(o Opts) (*Client, error) {
	if o.DevStub && o.ChainID != LocalChainID {
		return nil, fmt.Errorf("tokeninfo: dev stub requested on chain %d, only allowed on %d", o.ChainID, LocalChainID)
	}
	if !o.DevStub && len(o.Endpoints) == 0 {
		return nil, errors.New("tokeninfo: at least one endpoint is required")
	}
	if o.RPS <= 0 {
		o.RPS = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.DevStub {
		logger.Warn("Token metadata dev stub enabled", zap.Uint64("chainId", o.ChainID))
	}
	return &Client{
		http:    newHTTPClient(o),
		stub:    o.DevStub,
		timeout: o.Timeout,
		logger:  logger.With(zap.String("component", "tokeninfo")),
	}, nil
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenResult struct {
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Decimals flexInt `json:"decimals"`
}

// flexInt accepts a JSON number or a decimal string.
type flexInt struct {
	value uint64
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("decimals %q: %w", s, err)
	}
	f.value, f.set = v, true
	return nil
}

// Fetch returns the token's metadata. Any failure is METADATA_LOOKUP_FAILED.
func (c *Client) Fetch(ctx context.Context, token common.Address) (models.Token, error) {
	if c.stub {
		d := StubDecimals
		return models.Token{ID: token, Name: StubName, Symbol: StubSymbol, Decimals: &d}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("module", "token")
	q.Set("action", "getToken")
	q.Set("contractaddress", strings.ToLower(token.Hex()))

	var resp apiResponse
	if err := c.http.getJSON(ctx, q, &resp); err != nil {
		c.logger.Warn("Token metadata lookup failed", zap.String("token", token.Hex()), zap.Error(err))
		return models.Token{}, apperr.Wrap(apperr.CodeMetadataLookupFailed, err, "token "+token.Hex())
	}
	raw := strings.TrimSpace(string(resp.Result))
	if raw == "" || raw == "null" || raw == "{}" || raw == `""` {
		return models.Token{}, apperr.Newf(apperr.CodeMetadataLookupFailed, "token %s: empty result (%s)", token.Hex(), resp.Message)
	}
	var res tokenResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return models.Token{}, apperr.Wrap(apperr.CodeMetadataLookupFailed, err, "token "+token.Hex())
	}
	if !res.Decimals.set {
		return models.Token{}, apperr.Newf(apperr.CodeMetadataLookupFailed, "token %s: no decimals", token.Hex())
	}
	d := res.Decimals.value
	return models.Token{ID: token, Name: res.Name, Symbol: res.Symbol, Decimals: &d}, nil
}
