package vote

import (
	"fmt"
	"math/big"
)

const messageTemplate = "Sign this message to confirm your vote\n\nSpace ID: %s\nProposal ID: %s\nChoice index: %d"

// Message is the exact text a voter signs. It binds the space, the proposal
// and the choice so a signature cannot be replayed against any other vote.
func Message(spaceID, proposalID *big.Int, choice uint64) string {
	return fmt.Sprintf(messageTemplate, spaceID.String(), proposalID.String(), choice)
}
