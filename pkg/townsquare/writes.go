package townsquare

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/models"
	"go.uber.org/zap"
)

// SpaceInput is the editable part of a space.
type SpaceInput struct {
	Name        string
	Description string
	Token       common.Address
	Avatar      string
	Website     string
}

// ProposalInput describes a new proposal. Actions is optional; missing
// entries mean the choice executes nothing.
type ProposalInput struct {
	SpaceID     *big.Int
	Title       string
	Description string
	Start       uint64
	End         uint64
	Choices     []string
	Actions     []models.ChoiceAction
}

// CreateSpace creates a space and returns it as freshly read from the ledger.
// The token's metadata must resolve: its decimals are stored on the ledger.
func (c *Client) CreateSpace(ctx context.Context, in SpaceInput) (models.Space, error) {
	if err := c.requireAccount(); err != nil {
		return models.Space{}, err
	}
	token, err := c.token(ctx, in.Token)
	if err != nil {
		return models.Space{}, err
	}
	id, err := c.ledger.CreateSpace(ctx, ledger.CreateSpaceParams{
		Name:          in.Name,
		Description:   in.Description,
		Token:         in.Token,
		Avatar:        in.Avatar,
		Website:       in.Website,
		TokenDecimals: *token.Decimals,
	})
	if err != nil {
		return models.Space{}, err
	}
	c.cache.Spaces().ResetEnd()
	c.logger.Info("Space created", zap.String("space", id.String()), zap.String("token", in.Token.Hex()))
	return c.GetSpace(ctx, id, WithRecache())
}

func (c *Client) UpdateSpace(ctx context.Context, id *big.Int, in SpaceInput) error {
	if err := c.requireAccount(); err != nil {
		return err
	}
	token, err := c.token(ctx, in.Token)
	if err != nil {
		return err
	}
	err = c.ledger.UpdateSpace(ctx, ledger.UpdateSpaceParams{
		SpaceID:       id,
		Name:          in.Name,
		Description:   in.Description,
		Token:         in.Token,
		TokenDecimals: *token.Decimals,
		Avatar:        in.Avatar,
		Website:       in.Website,
	})
	if err != nil {
		return err
	}
	c.cache.Invalidate(cache.KindSpace, cache.Key{SpaceID: id})
	c.refresh("space", func() error {
		_, err := c.GetSpace(ctx, id, WithRecache())
		return err
	})
	return nil
}

func (c *Client) UpdateProposalThreshold(ctx context.Context, id, threshold *big.Int, onlyAdmins bool) error {
	if err := c.requireAccount(); err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 {
		return apperr.New(apperr.CodeInvalidRequest, "threshold must be a non-negative integer")
	}
	if err := c.ledger.UpdateProposalThreshold(ctx, id, threshold, onlyAdmins); err != nil {
		return err
	}
	c.cache.Settings().Put(idKey(id), models.SpaceSettings{
		CreateProposalThreshold:     new(big.Int).Set(threshold),
		OnlyAdminsCanCreateProposal: onlyAdmins,
	})
	return nil
}

func (c *Client) SetSpaceAdmins(ctx context.Context, id *big.Int, admins []common.Address) error {
	if err := c.requireAccount(); err != nil {
		return err
	}
	if err := c.ledger.SetSpaceAdmins(ctx, id, admins); err != nil {
		return err
	}
	c.patchSpace(id, func(s *models.Space) { s.Admins = append([]common.Address{}, admins...) })
	return nil
}

func (c *Client) JoinSpace(ctx context.Context, id *big.Int) error {
	return c.membership(ctx, id, true)
}

func (c *Client) LeaveSpace(ctx context.Context, id *big.Int) error {
	return c.membership(ctx, id, false)
}

func (c *Client) membership(ctx context.Context, id *big.Int, join bool) error {
	if err := c.requireAccount(); err != nil {
		return err
	}
	var err error
	if join {
		err = c.ledger.JoinSpace(ctx, id)
	} else {
		err = c.ledger.LeaveSpace(ctx, id)
	}
	if err != nil {
		return err
	}
	c.cache.Invalidate(cache.KindSpace, cache.Key{SpaceID: id})
	return nil
}

// CreateProposal snapshots voting power at the current chain head.
func (c *Client) CreateProposal(ctx context.Context, in ProposalInput) (models.Proposal, error) {
	if err := c.requireAccount(); err != nil {
		return models.Proposal{}, err
	}
	if len(in.Choices) < 2 {
		return models.Proposal{}, apperr.New(apperr.CodeInvalidRequest, "a proposal needs at least two choices")
	}
	if in.End <= in.Start {
		return models.Proposal{}, apperr.New(apperr.CodeInvalidRequest, "proposal must end after it starts")
	}
	if len(in.Actions) > len(in.Choices) {
		return models.Proposal{}, apperr.New(apperr.CodeInvalidRequest, "more pass actions than choices")
	}
	head, err := c.ledger.ChainHead(ctx)
	if err != nil {
		return models.Proposal{}, err
	}

	executors := make([]common.Address, len(in.Choices))
	data := make([]common.Hash, len(in.Choices))
	for i, a := range in.Actions {
		if a.Executor != nil {
			executors[i] = *a.Executor
		}
		data[i] = a.Data
	}

	id, err := c.ledger.CreateProposal(ctx, ledger.CreateProposalParams{
		SpaceID:     in.SpaceID,
		Title:       in.Title,
		Description: in.Description,
		Start:       in.Start,
		End:         in.End,
		Snapshot:    head,
		Choices:     in.Choices,
		Executors:   executors,
		Data:        data,
	})
	if err != nil {
		return models.Proposal{}, err
	}
	c.cache.Proposals(in.SpaceID).ResetEnd()
	c.logger.Info("Proposal created",
		zap.String("space", in.SpaceID.String()), zap.String("proposal", id.String()), zap.Uint64("snapshot", head))
	return c.GetProposal(ctx, in.SpaceID, id, WithRecache())
}

// ExecuteProposal runs the winning choice's pass action and returns that choice.
func (c *Client) ExecuteProposal(ctx context.Context, spaceID, proposalID *big.Int) (uint64, error) {
	if err := c.requireAccount(); err != nil {
		return 0, err
	}
	choice, err := c.ledger.ExecuteProposal(ctx, spaceID, proposalID)
	if err != nil {
		return 0, err
	}
	c.cache.Invalidate(cache.KindProposal, cache.Key{SpaceID: spaceID, ProposalID: proposalID})
	return choice.Uint64(), nil
}

// RedeemCreationFee refunds the creation fee once the lockup has passed.
func (c *Client) RedeemCreationFee(ctx context.Context, id *big.Int) error {
	if err := c.requireAccount(); err != nil {
		return err
	}
	ok, err := c.CanRedeemCreationFee(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.CodeInvalidRequest, "creation fee of space %s is still locked", id)
	}
	return c.ledger.RedeemCreationFee(ctx, id)
}

// refresh re-reads an entity after a successful write. Failures are logged, not returned.
func (c *Client) refresh(what string, fn func() error) {
	if err := fn(); err != nil {
		c.logger.Warn("Refresh after write failed", zap.String("entity", what), zap.Error(err))
	}
}
