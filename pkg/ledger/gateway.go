package ledger

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the read surface of the Townsquare contract plus ERC-20 balances.
type Reader interface {
	ChainHead(ctx context.Context) (uint64, error)
	SpacesCount(ctx context.Context) (*big.Int, error)
	Spaces(ctx context.Context, skip, limit uint64) ([]SpaceRow, error)
	Space(ctx context.Context, id *big.Int) (SpaceRecord, error)
	SpaceOwner(ctx context.Context, id *big.Int) (common.Address, error)
	SpaceAdmins(ctx context.Context, id *big.Int) ([]common.Address, error)
	SpaceSettings(ctx context.Context, id *big.Int) (SettingsRecord, error)
	UserSpaces(ctx context.Context, user common.Address) ([]UserSpaceRow, error)
	SpaceCreationFee(ctx context.Context) (*big.Int, error)
	CreationTimestamp(ctx context.Context, id *big.Int) (*big.Int, error)
	ProposalsCount(ctx context.Context, spaceID *big.Int) (*big.Int, error)
	Proposals(ctx context.Context, spaceID *big.Int, skip, limit uint64) ([]ProposalRow, error)
	Proposal(ctx context.Context, spaceID, proposalID *big.Int) (ProposalRecord, error)
	VotersCount(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error)
	Votes(ctx context.Context, spaceID, proposalID *big.Int, skip, limit uint64) ([]VoteRow, error)
	HasVoted(ctx context.Context, spaceID, proposalID *big.Int, user common.Address) (bool, error)
	IsSpaceAdmin(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error)
	IsSpaceMember(ctx context.Context, spaceID *big.Int, user common.Address) (bool, error)
	IsProposalExecuted(ctx context.Context, spaceID, proposalID *big.Int) (bool, error)
	WinningChoiceIndex(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error)
	// BalanceAt reads holder's token balance as of block height.
	BalanceAt(ctx context.Context, token, holder common.Address, height uint64) (*big.Int, error)
}

// Writer submits signed transactions from Account.
type Writer interface {
	Account() common.Address
	CreateSpace(ctx context.Context, p CreateSpaceParams) (*big.Int, error)
	UpdateSpace(ctx context.Context, p UpdateSpaceParams) error
	UpdateProposalThreshold(ctx context.Context, spaceID, threshold *big.Int, onlyAdmins bool) error
	SetSpaceAdmins(ctx context.Context, spaceID *big.Int, admins []common.Address) error
	JoinSpace(ctx context.Context, spaceID *big.Int) error
	LeaveSpace(ctx context.Context, spaceID *big.Int) error
	CreateProposal(ctx context.Context, p CreateProposalParams) (*big.Int, error)
	// VoteOnProposal relays a vote and returns once the transaction is accepted
	// by the node. It does not wait for inclusion.
	VoteOnProposal(ctx context.Context, p VoteParams) (common.Hash, error)
	// ExecuteProposal returns the executed choice index.
	ExecuteProposal(ctx context.Context, spaceID, proposalID *big.Int) (*big.Int, error)
	RedeemCreationFee(ctx context.Context, spaceID *big.Int) error
}

// Gateway is everything the domain layer needs from the ledger.
type Gateway interface {
	Reader
	Writer
}

// Backend is the node connection. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}
