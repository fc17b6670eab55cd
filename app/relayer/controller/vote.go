package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/vote"
)

// voteRequest is the body of POST /vote. choiceIndex may arrive as a JSON number or a decimal string.
type voteRequest struct {
	ChoiceIndex json.RawMessage `json:"choiceIndex"`
	Signature   string          `json:"signature"`
	Address     string          `json:"address"`
	ChainID     *uint64         `json:"chainId,omitempty"`
}

type voteResponse struct {
	Message string `json:"message"`
	TxHash  string `json:"txHash"`
}

func parseChoice(raw json.RawMessage) (uint64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, apperr.New(apperr.CodeInvalidRequest, "choiceIndex is required")
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, apperr.New(apperr.CodeInvalidRequest, "invalid choiceIndex")
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, apperr.Newf(apperr.CodeInvalidRequest, "invalid choiceIndex %q", s)
	}
	return n, nil
}

// HandleVote authorizes a signed vote and relays it from the relayer account.
func (c *Controller) HandleVote(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	var in voteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		c.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "bad json"))
		return
	}
	choice, err := parseChoice(in.ChoiceIndex)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if !common.IsHexAddress(in.Address) {
		c.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "invalid address"))
		return
	}
	sig, err := vote.DecodeSignature(in.Signature)
	if err != nil {
		c.writeError(w, r, apperr.New(apperr.CodeSignatureInvalid, "Invalid signature"))
		return
	}

	res, err := c.App.Authorizer.Authorize(r.Context(), vote.Request{
		SpaceID:    spaceID,
		ProposalID: proposalID,
		Choice:     choice,
		Signature:  sig,
		Address:    common.HexToAddress(in.Address),
		ChainID:    in.ChainID,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, voteResponse{Message: "Vote created successfully", TxHash: res.TxHash.Hex()})
}
