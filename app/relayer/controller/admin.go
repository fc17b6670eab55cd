package controller

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/app/relayer/jobs"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/utils"
	"go.uber.org/zap"
)

// ValidateToken checks the bearer token against the configured bcrypt hash.
func (c *Controller) ValidateToken(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	return utils.MatchesHash(c.App.Config.AdminTokenHash, strings.TrimPrefix(authHeader, "Bearer "))
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r)
			return
		}
		c.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "unauthorized"))
	})
}

type invalidateRequest struct {
	// Kind is a cache kind, or "all".
	Kind       string `json:"kind"`
	SpaceID    string `json:"spaceId"`
	ProposalID string `json:"proposalId"`
	Address    string `json:"address"`
}

func optionalID(raw, name string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "invalid %s %q", name, raw)
	}
	return id, nil
}

// HandleInvalidate drops cache entries on operator request.
func (c *Controller) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	var in invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&in); err != nil {
		c.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "bad json"))
		return
	}
	if in.Kind == "all" {
		c.App.Domain.Cache().Clear()
		c.App.Logger.Info("Cache cleared by admin", zap.String("requestId", requestID(r.Context())))
		writeJSON(w, http.StatusOK, map[string]string{"invalidated": "all"})
		return
	}

	kind, err := cache.ParseKind(in.Kind)
	if err != nil {
		c.writeError(w, r, apperr.Wrap(apperr.CodeInvalidRequest, err, "invalid kind"))
		return
	}
	var key cache.Key
	if key.SpaceID, err = optionalID(in.SpaceID, "spaceId"); err != nil {
		c.writeError(w, r, err)
		return
	}
	if key.ProposalID, err = optionalID(in.ProposalID, "proposalId"); err != nil {
		c.writeError(w, r, err)
		return
	}
	if in.Address != "" {
		if !common.IsHexAddress(in.Address) {
			c.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "invalid address"))
			return
		}
		key.Address = common.HexToAddress(in.Address)
	}

	switch {
	case kind == cache.KindToken && in.Address == "":
		err = apperr.New(apperr.CodeInvalidRequest, "token invalidation needs an address")
	case kind == cache.KindVote && (key.SpaceID == nil || key.ProposalID == nil):
		err = apperr.New(apperr.CodeInvalidRequest, "vote invalidation needs spaceId and proposalId")
	case kind != cache.KindToken && key.SpaceID == nil:
		err = apperr.New(apperr.CodeInvalidRequest, "spaceId is required")
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	c.Invalidator.Invalidate(kind, key, jobs.SourceAdmin)
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": string(kind)})
}
