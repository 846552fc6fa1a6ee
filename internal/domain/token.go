// Package domain defines the shared value types, sentinel errors, event
// shapes, and store/cache interfaces used across the ledger components.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TokenID identifies an IP token on the ledger.
type TokenID string

// NewTokenID returns a fresh random token id.
func NewTokenID() TokenID {
	return TokenID(uuid.NewString())
}

// TokenInfo is an immutable description of an IP token, fixed at creation.
type TokenInfo struct {
	ID          TokenID
	Name        string
	Symbol      string
	Description string
	Category    string
	Creator     common.Address
	CreatedAt   time.Time
}

// TokenSupply is a point-in-time snapshot of a token's supply counters.
// Total is fixed for the lifetime of the token; Reserve and Circulating
// shift against each other and always sum to Total.
type TokenSupply struct {
	Total       uint64
	Reserve     uint64
	Circulating uint64
}
