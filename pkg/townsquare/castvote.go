package townsquare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap"
)

// VoteBody is the JSON body the relayer accepts.
type VoteBody struct {
	ChoiceIndex uint64         `json:"choiceIndex"`
	Signature   string         `json:"signature"`
	Address     common.Address `json:"address"`
	ChainID     *uint64        `json:"chainId,omitempty"`
}

// VoteReply is the relayer's answer. Error and Code are set on failure.
type VoteReply struct {
	Message string `json:"message,omitempty"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CastVote signs the vote message with the configured key and submits it to
// the relayer. The relayer pays for and sends the transaction.
func (c *Client) CastVote(ctx context.Context, spaceID, proposalID *big.Int, choice uint64) (common.Hash, error) {
	if c.signer == nil || c.relayerURL == "" {
		return common.Hash{}, apperr.New(apperr.CodeAccountRequired, "no vote signer configured")
	}
	sig, err := vote.Sign(vote.Message(spaceID, proposalID, choice), c.signer)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeInternal, err, "sign vote")
	}
	body, err := json.Marshal(VoteBody{
		ChoiceIndex: choice,
		Signature:   hexutil.Encode(sig),
		Address:     crypto.PubkeyToAddress(c.signer.PublicKey),
	})
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeInternal, err, "encode vote")
	}

	endpoint := fmt.Sprintf("%s/vote/%s/%s", strings.TrimRight(c.relayerURL, "/"), spaceID, proposalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeInvalidRequest, err, "build vote request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "relayer unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeLedgerUnavailable, err, "read relayer reply")
	}
	var reply VoteReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return common.Hash{}, apperr.Newf(apperr.CodeInternal, "relayer replied %d with non-JSON body", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		code := apperr.Code(reply.Code)
		if code == "" {
			code = apperr.CodeInternal
		}
		return common.Hash{}, apperr.New(code, reply.Error)
	}
	if !strings.HasPrefix(reply.TxHash, "0x") || len(reply.TxHash) != 66 {
		return common.Hash{}, apperr.Newf(apperr.CodeInternal, "relayer returned malformed tx hash %q", reply.TxHash)
	}

	c.cache.Invalidate(cache.KindProposal, cache.Key{SpaceID: spaceID, ProposalID: proposalID})
	c.cache.Invalidate(cache.KindVote, cache.Key{SpaceID: spaceID, ProposalID: proposalID})
	tx := common.HexToHash(reply.TxHash)
	c.logger.Info("Vote relayed",
		zap.String("space", spaceID.String()), zap.String("proposal", proposalID.String()),
		zap.Uint64("choice", choice), zap.String("tx", tx.Hex()))
	return tx, nil
}
