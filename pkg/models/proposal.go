package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProposalState is derived from wall-clock time, never stored.
type ProposalState string

const (
	ProposalPending ProposalState = "pending"
	ProposalActive  ProposalState = "active"
	ProposalClosed  ProposalState = "closed"
)

// ChoiceAction is what executing a proposal does when Choice wins.
type ChoiceAction struct {
	Choice   string          `json:"choice"`
	Executor *common.Address `json:"executor,omitempty"`
	Data     common.Hash     `json:"data"`
}

// Proposal lives inside a space. Snapshot fixes the block whose balances weight the votes.
type Proposal struct {
	SpaceID     *big.Int `json:"spaceId"`
	ID          *big.Int `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	// Start and End are unix seconds.
	Start        uint64 `json:"start"`
	End          uint64 `json:"end"`
	ChoicesCount int    `json:"choicesCount"`

	Author             *common.Address `json:"author,omitempty"`
	Snapshot           *uint64         `json:"snapshot,omitempty"`
	Choices            []string        `json:"choices,omitempty"`
	PassActions        []ChoiceAction  `json:"passActions,omitempty"`
	ChoicesVotesCounts []*big.Int      `json:"choicesVotesCounts,omitempty"`
}

// CompleteFor reports whether p can answer v without a ledger read.
func (p *Proposal) CompleteFor(v View) bool {
	if p == nil || p.ID == nil {
		return false
	}
	switch v {
	case ViewSummary:
		return true
	case ViewDetail:
		return p.Choices != nil && p.Snapshot != nil && p.Author != nil
	}
	return false
}

// StateAt derives the lifecycle state at now.
func (p *Proposal) StateAt(now time.Time) ProposalState {
	ts := now.Unix()
	if ts < 0 {
		return ProposalPending
	}
	switch unix := uint64(ts); {
	case unix >= p.End:
		return ProposalClosed
	case unix < p.Start:
		return ProposalPending
	}
	return ProposalActive
}

// Merge returns p updated with n. Summary reads do not erase detail fields.
func (p Proposal) Merge(n Proposal) Proposal {
	out := p
	if n.SpaceID != nil {
		out.SpaceID = n.SpaceID
	}
	if n.ID != nil {
		out.ID = n.ID
	}
	out.Title = n.Title
	out.Description = n.Description
	out.Start = n.Start
	out.End = n.End
	if n.ChoicesCount > 0 {
		out.ChoicesCount = n.ChoicesCount
	}
	if n.Author != nil {
		out.Author = n.Author
	}
	if n.Snapshot != nil {
		out.Snapshot = n.Snapshot
	}
	if n.Choices != nil {
		out.Choices = n.Choices
	}
	if n.PassActions != nil {
		out.PassActions = n.PassActions
	}
	if n.ChoicesVotesCounts != nil {
		out.ChoicesVotesCounts = n.ChoicesVotesCounts
	}
	return out
}

// ProposalView is a proposal together with its derived state, as served over HTTP.
type ProposalView struct {
	Proposal
	State ProposalState `json:"state"`
}
