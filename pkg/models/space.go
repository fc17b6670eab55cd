package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Space is a token-gated community.
//
// Name, Avatar, Website, MemberCount and Token.ID come back from every ledger
// read and are always overwritten on merge. Description, Owner and Admins are
// only loaded by detail reads and survive merges with summaries.
type Space struct {
	ID          *big.Int `json:"id"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar"`
	Website     string   `json:"website"`
	MemberCount *big.Int `json:"memberCount"`
	Token       Token    `json:"token"`
	// IsPrivate is reserved by the contract and always false today.
	IsPrivate bool `json:"isPrivate"`

	Description *string          `json:"description,omitempty"`
	Owner       *common.Address  `json:"owner,omitempty"`
	Admins      []common.Address `json:"admins,omitempty"`
}

// CompleteFor reports whether s can answer v without a ledger read.
func (s *Space) CompleteFor(v View) bool {
	if s == nil || s.ID == nil {
		return false
	}
	switch v {
	case ViewSummary:
		return true
	case ViewDetail:
		return s.Description != nil && s.Owner != nil && s.Token.Known()
	case ViewAdmins:
		return s.Admins != nil
	}
	return false
}

// Merge returns s updated with n, keeping lazily loaded fields n lacks.
func (s Space) Merge(n Space) Space {
	out := s
	if n.ID != nil {
		out.ID = n.ID
	}
	out.Name = n.Name
	out.Avatar = n.Avatar
	out.Website = n.Website
	if n.MemberCount != nil {
		out.MemberCount = n.MemberCount
	}
	out.Token = s.Token.Merge(n.Token)
	out.IsPrivate = n.IsPrivate
	if n.Description != nil {
		out.Description = n.Description
	}
	if n.Owner != nil {
		out.Owner = n.Owner
	}
	if n.Admins != nil {
		out.Admins = append([]common.Address(nil), n.Admins...)
	}
	return out
}

// SpaceSettings are the proposal-creation gates of a space.
type SpaceSettings struct {
	CreateProposalThreshold     *big.Int `json:"createProposalThreshold"`
	OnlyAdminsCanCreateProposal bool     `json:"onlyAdminsCanCreateProposal"`
}

// UserSpace is the reduced view returned by the membership index.
type UserSpace struct {
	ID     *big.Int `json:"id"`
	Name   string   `json:"name"`
	Avatar string   `json:"avatar"`
}
