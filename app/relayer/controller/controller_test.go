package controller

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ufedojoa/townsquare/app/relayer/jobs"
	"github.com/ufedojoa/townsquare/app/relayer/types"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger/ledgertest"
	"github.com/ufedojoa/townsquare/pkg/metrics"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/tokeninfo"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"github.com/ufedojoa/townsquare/pkg/utils"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap/zaptest"
)

const (
	testChainID = 1337
	adminToken  = "s3cret"
)

type harness struct {
	ledger  *ledgertest.Ledger
	app     *types.App
	handler http.Handler
	key     *ecdsa.PrivateKey
	voter   common.Address
	admin   common.Address
	token   common.Address
}

// newHarness seeds space 0 (decimals 6) with a three-choice proposal 0
// snapshotted at height 1000, where the voter holds 2.5 tokens.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{
		ledger: ledgertest.New(),
		key:    key,
		voter:  crypto.PubkeyToAddress(key.PublicKey),
		admin:  common.HexToAddress("0x00000000000000000000000000000000000000a2"),
		token:  common.HexToAddress("0x70000000000000000000000000000000000000aa"),
	}
	h.ledger.SetAccount(common.HexToAddress("0x5e1a7e5"))
	h.ledger.SetHead(1500)
	h.ledger.AddSpace(ledgertest.SpaceSeed{
		Name: "dao", Description: "d", Token: h.token, Decimals: 6,
		Owner: h.admin, Admins: []common.Address{h.admin},
	})
	h.ledger.AddProposal(big.NewInt(0), ledgertest.ProposalSeed{
		Title: "Pick one", Snapshot: 1000, Start: 1, End: 1 << 40, Choices: []string{"a", "b", "c"},
	})
	h.ledger.SetBalance(h.token, h.voter, 1000, big.NewInt(2_500_000))

	m, err := metrics.New()
	require.NoError(t, err)
	tokens, err := tokeninfo.New(tokeninfo.Opts{ChainID: testChainID, DevStub: true, Logger: logger})
	require.NoError(t, err)
	hash, err := utils.HashOrRead(adminToken)
	require.NoError(t, err)

	entityCache := cache.New(cache.WithRecorder(m))
	inv := jobs.NewInvalidator(entityCache, "test", m, nil, logger)
	authorizer := vote.NewAuthorizer(h.ledger, vote.Opts{
		ChainID:     testChainID,
		OnSubmitted: inv.OnSubmitted,
		Observe:     m.ObserveVote,
		Logger:      logger,
	})
	t.Cleanup(authorizer.Close)

	h.app = &types.App{
		Config:     types.Config{ChainID: testChainID, AdminTokenHash: hash, InstanceID: "test"},
		Ledger:     h.ledger,
		Domain:     townsquare.New(h.ledger, tokens, townsquare.WithCache(entityCache), townsquare.WithLogger(logger)),
		Authorizer: authorizer,
		Metrics:    m,
		Logger:     logger,
	}
	router, err := NewController(h.app, inv).NewRouter()
	require.NoError(t, err)
	h.handler = WithCORS(router, nil)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) voteBody(t *testing.T, spaceID, proposalID int64, signedChoice uint64, choice any) map[string]any {
	t.Helper()
	sig, err := vote.Sign(vote.Message(big.NewInt(spaceID), big.NewInt(proposalID), signedChoice), h.key)
	require.NoError(t, err)
	return map[string]any{"choiceIndex": choice, "signature": hexutil.Encode(sig), "address": h.voter.Hex()}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestVoteIsRelayedOnceAndInvalidatesCache(t *testing.T) {
	h := newHarness(t)
	h.app.Domain.Cache().Proposals(big.NewInt(0)).Put("0", models.Proposal{ID: big.NewInt(0)})

	rec := h.do(t, http.MethodPost, "/vote/0/0", h.voteBody(t, 0, 0, 1, 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ok voteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, "Vote created successfully", ok.Message)
	assert.True(t, strings.HasPrefix(ok.TxHash, "0x"))
	assert.Equal(t, int64(2), h.ledger.Tally(big.NewInt(0), big.NewInt(0))[1].Int64())

	_, cached := h.app.Domain.Cache().Proposals(big.NewInt(0)).Get("0")
	assert.False(t, cached)

	rec = h.do(t, http.MethodPost, "/vote/0/0", h.voteBody(t, 0, 0, 1, 1))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CodeAlreadyVoted), decodeError(t, rec).Code)
}

func TestVoteAcceptsStringChoiceOnApiPrefix(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/vote/0/0", h.voteBody(t, 0, 0, 2, "2"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestVoteRejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   func(h *harness, t *testing.T) map[string]any
		status int
		code   apperr.Code
	}{
		{
			name:   "replayed against another choice",
			path:   "/vote/0/0",
			body:   func(h *harness, t *testing.T) map[string]any { return h.voteBody(t, 0, 0, 0, 1) },
			status: http.StatusForbidden,
			code:   apperr.CodeSignatureInvalid,
		},
		{
			name:   "choice one past the end",
			path:   "/vote/0/0",
			body:   func(h *harness, t *testing.T) map[string]any { return h.voteBody(t, 0, 0, 3, 3) },
			status: http.StatusForbidden,
			code:   apperr.CodeChoiceInvalid,
		},
		{
			name: "malformed signature",
			path: "/vote/0/0",
			body: func(h *harness, t *testing.T) map[string]any {
				return map[string]any{"choiceIndex": 0, "signature": "0xzz", "address": h.voter.Hex()}
			},
			status: http.StatusForbidden,
			code:   apperr.CodeSignatureInvalid,
		},
		{
			name: "wrong chain",
			path: "/vote/0/0",
			body: func(h *harness, t *testing.T) map[string]any {
				b := h.voteBody(t, 0, 0, 0, 0)
				b["chainId"] = 1
				return b
			},
			status: http.StatusForbidden,
			code:   apperr.CodeInvalidChain,
		},
		{
			name:   "negative choice",
			path:   "/vote/0/0",
			body:   func(h *harness, t *testing.T) map[string]any { return h.voteBody(t, 0, 0, 0, -1) },
			status: http.StatusBadRequest,
			code:   apperr.CodeInvalidRequest,
		},
		{
			name:   "bad space id",
			path:   "/vote/x/0",
			body:   func(h *harness, t *testing.T) map[string]any { return h.voteBody(t, 0, 0, 0, 0) },
			status: http.StatusBadRequest,
			code:   apperr.CodeInvalidRequest,
		},
		{
			name:   "unknown proposal",
			path:   "/vote/0/9",
			body:   func(h *harness, t *testing.T) map[string]any { return h.voteBody(t, 0, 9, 0, 0) },
			status: http.StatusNotFound,
			code:   apperr.CodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(t, http.MethodPost, tt.path, tt.body(h, t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.code), decodeError(t, rec).Code)
			assert.Zero(t, h.ledger.Calls("VoteOnProposal"))
		})
	}
}

func TestVoteWithoutPower(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(h.token, h.voter, 1000, big.NewInt(999_999))

	rec := h.do(t, http.MethodPost, "/vote/0/0", h.voteBody(t, 0, 0, 0, 0))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(apperr.CodeNoPower), decodeError(t, rec).Code)
}

func TestSpaceDetailIncludesAdminsAndStubToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/spaces/0", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var space models.Space
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &space))
	assert.Equal(t, []common.Address{h.admin}, space.Admins)
	assert.Equal(t, tokeninfo.StubSymbol, space.Token.Symbol)
	assert.Equal(t, uint64(6), *space.Token.Decimals)

	rec = h.do(t, http.MethodGet, "/spaces?skip=0&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"dao"`)

	rec = h.do(t, http.MethodGet, "/spaces?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/spaces/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposalReads(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/spaces/0/proposals/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.ProposalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.ProposalActive, view.State)
	assert.Equal(t, []string{"a", "b", "c"}, view.Choices)

	rec = h.do(t, http.MethodGet, "/spaces/0/proposals/0/power/"+h.voter.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"power":"2"`)

	rec = h.do(t, http.MethodGet, "/spaces/0/proposals/0/votes/"+h.voter.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"voted":false}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/spaces/0/proposals/0/power/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminInvalidate(t *testing.T) {
	h := newHarness(t)
	h.app.Domain.Cache().Spaces().Put("0", models.Space{ID: big.NewInt(0)})

	rec := h.do(t, http.MethodPost, "/admin/cache/invalidate", map[string]string{"kind": "space", "spaceId": "0"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/admin/cache/invalidate", map[string]string{"kind": "space", "spaceId": "0"},
		"Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/admin/cache/invalidate", map[string]string{"kind": "space", "spaceId": "0"},
		"Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, cached := h.app.Domain.Cache().Spaces().Get("0")
	assert.False(t, cached)

	rec = h.do(t, http.MethodPost, "/admin/cache/invalidate", map[string]string{"kind": "bogus"},
		"Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/admin/cache/invalidate", map[string]string{"kind": "vote", "spaceId": "0"},
		"Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"head":1500`)

	h.ledger.Fail("ChainHead", apperr.New(apperr.CodeLedgerUnavailable, "down"))
	rec = h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndRequestID(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/vote/0/0", h.voteBody(t, 0, 0, 0, 1))

	rec := h.do(t, http.MethodGet, "/metrics", nil, requestIDHeader, "abc-123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Body.String(), `townsquare_vote_requests_total{outcome="SIGNATURE_INVALID"} 1`)

	rec = h.do(t, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/vote/0/0", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
