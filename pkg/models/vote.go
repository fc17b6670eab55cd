package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vote is keyed by (SpaceID, ProposalID, Author). Amount is the power recorded at cast time.
type Vote struct {
	SpaceID    *big.Int       `json:"spaceId"`
	ProposalID *big.Int       `json:"proposalId"`
	Author     common.Address `json:"author"`
	Choice     uint64         `json:"choice"`
	Amount     *big.Int       `json:"amount"`
	// Index is the position in the ledger's voter list.
	Index int `json:"index"`
}
