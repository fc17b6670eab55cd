package models

import "github.com/ethereum/go-ethereum/common"

// Token is the ERC-20 a space weights votes with. Metadata never changes once fetched.
type Token struct {
	ID       common.Address `json:"id"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals *uint64        `json:"decimals,omitempty"`
}

// Known reports whether metadata (not just the address) has been loaded.
func (t Token) Known() bool {
	return t.Decimals != nil
}

// Merge overlays the fields n knows about. A different address replaces the token entirely.
func (t Token) Merge(n Token) Token {
	if n.ID != t.ID {
		return n
	}
	if n.Name != "" {
		t.Name = n.Name
	}
	if n.Symbol != "" {
		t.Symbol = n.Symbol
	}
	if n.Decimals != nil {
		d := *n.Decimals
		t.Decimals = &d
	}
	return t
}
