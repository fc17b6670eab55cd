package townsquare

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/models"
	"go.uber.org/zap"
)

func spaceComplete(v models.View) func(models.Space) bool {
	return func(s models.Space) bool { return s.CompleteFor(v) }
}

// ListSpaces returns spaces [skip, skip+limit). On ledger failure it returns
// the cached part of the window, which may be short.
func (c *Client) ListSpaces(ctx context.Context, skip, limit int, opts ...ReadOption) ([]models.Space, error) {
	skip, limit = pageBounds(skip, limit)
	ro := applyRead(opts)
	col := c.cache.Spaces()

	return listWindow(col, skip, limit, ro.recache,
		func(skip, limit uint64) ([]ledger.SpaceRow, error) {
			return c.ledger.Spaces(ctx, skip, limit)
		},
		func(pos int, row ledger.SpaceRow) models.Space {
			s := spaceFromRow(row)
			if tok, ok := c.cache.Tokens().Get(row.Token); ok {
				s.Token.Name, s.Token.Symbol = tok.Name, tok.Symbol
			}
			return col.PutAt(pos, idKey(row.ID), s)
		},
		func(cached int, err error) {
			c.logger.Warn("Listing spaces from cache after ledger failure",
				zap.Int("skip", skip), zap.Int("limit", limit), zap.Int("cached", cached), zap.Error(err))
		})
}

// GetSpace returns the detail view: description, owner and token metadata.
func (c *Client) GetSpace(ctx context.Context, id *big.Int, opts ...ReadOption) (models.Space, error) {
	ro := applyRead(opts)
	col := c.cache.Spaces()
	key := idKey(id)

	if !ro.recache {
		if s, ok := col.Lookup(key, spaceComplete(models.ViewDetail)); ok {
			return s, nil
		}
	}

	rec, err := c.ledger.Space(ctx, id)
	if err != nil {
		return models.Space{}, err
	}
	token, err := c.token(ctx, rec.Token)
	if err != nil {
		return models.Space{}, err
	}
	owner, err := c.ledger.SpaceOwner(ctx, id)
	if err != nil {
		return models.Space{}, err
	}
	return col.Put(key, spaceFromRecord(rec, token, owner)), nil
}

// token returns cached metadata or fetches it. Metadata is immutable so it is never re-fetched.
func (c *Client) token(ctx context.Context, addr common.Address) (models.Token, error) {
	if tok, ok := c.cache.Tokens().Lookup(addr, models.Token.Known); ok {
		return tok, nil
	}
	if c.tokens == nil {
		return models.Token{}, apperr.New(apperr.CodeMetadataLookupFailed, "no token metadata source configured")
	}
	tok, err := c.tokens.Fetch(ctx, addr)
	if err != nil {
		return models.Token{}, err
	}
	if !tok.Known() {
		return models.Token{}, apperr.Newf(apperr.CodeMetadataLookupFailed, "no decimals for token %s", addr.Hex())
	}
	tok.ID = addr
	return c.cache.Tokens().Put(addr, tok), nil
}

// LoadSpaceAdmins reads the admin list into the cached space.
func (c *Client) LoadSpaceAdmins(ctx context.Context, id *big.Int, opts ...ReadOption) ([]common.Address, error) {
	ro := applyRead(opts)
	col := c.cache.Spaces()
	key := idKey(id)

	if !ro.recache {
		if s, ok := col.Lookup(key, spaceComplete(models.ViewAdmins)); ok {
			return s.Admins, nil
		}
	}
	admins, err := c.ledger.SpaceAdmins(ctx, id)
	if err != nil {
		return nil, err
	}
	c.patchSpace(id, func(s *models.Space) { s.Admins = append([]common.Address{}, admins...) })
	return admins, nil
}

// patchSpace edits one field of a cached space without touching the others.
func (c *Client) patchSpace(id *big.Int, fn func(*models.Space)) {
	c.cache.Spaces().Update(idKey(id), func(old models.Space, loaded bool) (models.Space, bool) {
		if !loaded {
			old = models.Space{ID: new(big.Int).Set(id)}
		}
		fn(&old)
		return old, true
	})
}

func (c *Client) GetSpaceSettings(ctx context.Context, id *big.Int, opts ...ReadOption) (models.SpaceSettings, error) {
	ro := applyRead(opts)
	col := c.cache.Settings()
	key := idKey(id)

	if !ro.recache {
		if s, ok := col.Lookup(key, nil); ok {
			return s, nil
		}
	}
	rec, err := c.ledger.SpaceSettings(ctx, id)
	if err != nil {
		return models.SpaceSettings{}, err
	}
	return col.Put(key, models.SpaceSettings{
		CreateProposalThreshold:     rec.ProposalThreshold,
		OnlyAdminsCanCreateProposal: rec.OnlyAdmins,
	}), nil
}

// ListUserSpaces returns the spaces user belongs to. It is not cached.
func (c *Client) ListUserSpaces(ctx context.Context, user common.Address) ([]models.UserSpace, error) {
	rows, err := c.ledger.UserSpaces(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSpace, len(rows))
	for i, r := range rows {
		out[i] = models.UserSpace{ID: r.ID, Name: r.Name, Avatar: r.Avatar}
	}
	return out, nil
}

func (c *Client) IsSpaceAdmin(ctx context.Context, id *big.Int, user common.Address) (bool, error) {
	if user == (common.Address{}) {
		return false, nil
	}
	return c.ledger.IsSpaceAdmin(ctx, id, user)
}

func (c *Client) IsSpaceMember(ctx context.Context, id *big.Int, user common.Address) (bool, error) {
	if user == (common.Address{}) {
		return false, nil
	}
	return c.ledger.IsSpaceMember(ctx, id, user)
}

// CanRedeemCreationFee reports whether the creation fee lockup has elapsed.
func (c *Client) CanRedeemCreationFee(ctx context.Context, id *big.Int) (bool, error) {
	ts, err := c.ledger.CreationTimestamp(ctx, id)
	if err != nil {
		return false, err
	}
	unlock := new(big.Int).Add(ts, big.NewInt(int64(CreationFeeLockup/time.Second)))
	return unlock.Cmp(big.NewInt(c.now().Unix())) < 0, nil
}

// CreationFee is the amount, in wei, that creating a space currently costs.
func (c *Client) CreationFee(ctx context.Context) (*big.Int, error) {
	return c.ledger.SpaceCreationFee(ctx)
}
