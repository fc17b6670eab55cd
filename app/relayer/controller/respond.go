package controller

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Server-side failures are logged with the request id.
func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		c.App.Logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
			zap.String("requestId", requestID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: apperr.MessageOf(err), Code: string(code)})
}

// pathID parses a decimal uint256 path variable.
func pathID(r *http.Request, name string) (*big.Int, error) {
	raw := mux.Vars(r)[name]
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "invalid %s %q", name, raw)
	}
	return id, nil
}

func pathIDs(r *http.Request) (*big.Int, *big.Int, error) {
	spaceID, err := pathID(r, "spaceId")
	if err != nil {
		return nil, nil, err
	}
	proposalID, err := pathID(r, "proposalId")
	if err != nil {
		return nil, nil, err
	}
	return spaceID, proposalID, nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperr.Newf(apperr.CodeInvalidRequest, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
