// Package models holds the domain entities mirrored from the Townsquare
// contract and the completeness policy the cache uses to decide whether a
// partially loaded entity can answer a given view.
//
// Optional fields are pointers or nil slices: nil means "not loaded yet",
// never "empty on the ledger".
package models
