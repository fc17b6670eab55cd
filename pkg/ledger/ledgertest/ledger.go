// Package ledgertest provides an in-memory ledger.Gateway for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/ledger"
)

type checkpoint struct {
	height  uint64
	balance *big.Int
}

type space struct {
	rec       ledger.SpaceRecord
	owner     common.Address
	admins    []common.Address
	members   map[common.Address]bool
	settings  ledger.SettingsRecord
	created   int64
	redeemed  bool
	proposals []*proposal
}

type proposal struct {
	rec      ledger.ProposalRecord
	votes    []ledger.VoteRow
	voted    map[common.Address]bool
	executed bool
}

// Ledger is a single-contract ledger kept in memory. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	head     uint64
	account  common.Address
	fee      *big.Int
	spaces   []*space
	balances map[common.Address]map[common.Address][]checkpoint
	errs     map[string]error
	calls    map[string]int
	pages    map[string][]Page
	txs      uint64
	now      func() time.Time
}

var _ ledger.Gateway = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		head:     1,
		fee:      big.NewInt(0),
		balances: map[common.Address]map[common.Address][]checkpoint{},
		errs:     map[string]error{},
		calls:    map[string]int{},
		pages:    map[string][]Page{},
		now:      time.Now,
	}
}

// SpaceSeed describes a space added directly, bypassing CreateSpace.
type SpaceSeed struct {
	Name        string
	Description string
	Avatar      string
	Website     string
	Token       common.Address
	Decimals    uint64
	Owner       common.Address
	Admins      []common.Address
	Members     []common.Address
	CreatedAt   time.Time
}

// ProposalSeed describes a proposal added directly, bypassing CreateProposal.
type ProposalSeed struct {
	Title       string
	Description string
	Author      common.Address
	Start       uint64
	End         uint64
	Snapshot    uint64
	Choices     []string
	Executors   []common.Address
	Data        []common.Hash
}

func (l *Ledger) SetHead(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = h
}

func (l *Ledger) SetAccount(a common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = a
}

func (l *Ledger) SetCreationFee(fee *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fee = fee
}

// SetBalance records holder's balance of token from height onwards.
func (l *Ledger) SetBalance(token, holder common.Address, height uint64, balance *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byHolder, ok := l.balances[token]
	if !ok {
		byHolder = map[common.Address][]checkpoint{}
		l.balances[token] = byHolder
	}
	cps := append(byHolder[holder], checkpoint{height: height, balance: new(big.Int).Set(balance)})
	sort.Slice(cps, func(i, j int) bool { return cps[i].height < cps[j].height })
	byHolder[holder] = cps
}

// Fail makes every subsequent call of method return err until Heal.
func (l *Ledger) Fail(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[method] = err
}

func (l *Ledger) Heal(method string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.errs, method)
}

// Calls reports how many times method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// Page is the skip and limit of one listing call.
type Page struct {
	Skip, Limit uint64
}

// Pages returns the windows requested from a listing method, oldest first.
func (l *Ledger) Pages(method string) []Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Page(nil), l.pages[method]...)
}

// AddSpace appends a space and returns its id.
func (l *Ledger) AddSpace(s SpaceSeed) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addSpace(s)
}

func (l *Ledger) addSpace(s SpaceSeed) *big.Int {
	id := big.NewInt(int64(len(l.spaces)))
	created := s.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	sp := &space{
		rec: ledger.SpaceRecord{
			SpaceRow: ledger.SpaceRow{
				ID:          id,
				Name:        s.Name,
				Avatar:      s.Avatar,
				Website:     s.Website,
				Token:       s.Token,
				MemberCount: big.NewInt(0),
			},
			Description:   s.Description,
			TokenDecimals: new(big.Int).SetUint64(s.Decimals),
		},
		owner:    s.Owner,
		admins:   append([]common.Address(nil), s.Admins...),
		members:  map[common.Address]bool{},
		settings: ledger.SettingsRecord{ProposalThreshold: big.NewInt(0)},
		created:  created.Unix(),
	}
	for _, m := range append([]common.Address{s.Owner}, s.Members...) {
		if m != (common.Address{}) {
			sp.members[m] = true
		}
	}
	sp.rec.MemberCount = big.NewInt(int64(len(sp.members)))
	l.spaces = append(l.spaces, sp)
	return new(big.Int).Set(id)
}

// AddProposal appends a proposal to spaceID and returns its id.
func (l *Ledger) AddProposal(spaceID *big.Int, p ProposalSeed) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	sp, err := l.space(spaceID)
	if err != nil {
		panic(err)
	}
	return l.addProposal(sp, p)
}

func (l *Ledger) addProposal(sp *space, p ProposalSeed) *big.Int {
	id := big.NewInt(int64(len(sp.proposals)))
	executors := p.Executors
	if executors == nil {
		executors = make([]common.Address, len(p.Choices))
	}
	data := p.Data
	if data == nil {
		data = make([]common.Hash, len(p.Choices))
	}
	tally := make([]*big.Int, len(p.Choices))
	for i := range tally {
		tally[i] = big.NewInt(0)
	}
	sp.proposals = append(sp.proposals, &proposal{
		rec: ledger.ProposalRecord{
			SpaceID:     new(big.Int).Set(sp.rec.ID),
			ID:          id,
			Title:       p.Title,
			Description: p.Description,
			Author:      p.Author,
			Start:       p.Start,
			End:         p.End,
			Snapshot:    p.Snapshot,
			Choices:     append([]string(nil), p.Choices...),
			Executors:   executors,
			Data:        data,
			Votes:       tally,
		},
		voted: map[common.Address]bool{},
	})
	return new(big.Int).Set(id)
}

// Tally returns a copy of the per-choice vote totals.
func (l *Ledger) Tally(spaceID, proposalID *big.Int) []*big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.proposal(spaceID, proposalID)
	if err != nil {
		return nil
	}
	return cloneInts(p.rec.Votes)
}

// enter records the call and returns the injected failure, if any. Caller holds mu.
func (l *Ledger) enter(ctx context.Context, method string) error {
	l.calls[method]++
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.CodeLedgerUnavailable, err, method)
	}
	if err, ok := l.errs[method]; ok {
		return err
	}
	if err, ok := l.errs["*"]; ok {
		return err
	}
	return nil
}

func (l *Ledger) space(id *big.Int) (*space, error) {
	if id == nil || !id.IsInt64() || id.Sign() < 0 || id.Int64() >= int64(len(l.spaces)) {
		return nil, apperr.Newf(apperr.CodeNotFound, "space %v does not exist", id)
	}
	return l.spaces[id.Int64()], nil
}

func (l *Ledger) proposal(spaceID, proposalID *big.Int) (*proposal, error) {
	sp, err := l.space(spaceID)
	if err != nil {
		return nil, err
	}
	if proposalID == nil || !proposalID.IsInt64() || proposalID.Sign() < 0 || proposalID.Int64() >= int64(len(sp.proposals)) {
		return nil, apperr.Newf(apperr.CodeNotFound, "proposal %v/%v does not exist", spaceID, proposalID)
	}
	return sp.proposals[proposalID.Int64()], nil
}

func (l *Ledger) nextTx() common.Hash {
	l.txs++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", l.txs)))
}

// page records a listing call. Caller holds mu.
func (l *Ledger) page(method string, skip, limit uint64) {
	l.pages[method] = append(l.pages[method], Page{Skip: skip, Limit: limit})
}

func window(n, skip, limit uint64) (uint64, uint64) {
	if skip >= n {
		return n, n
	}
	end := skip + limit
	if end > n || end < skip {
		end = n
	}
	return skip, end
}

func cloneInts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
