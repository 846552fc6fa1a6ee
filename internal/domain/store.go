package domain

import (
	"context"
	"time"
)

// Store interfaces are implemented by internal/store/postgres. The stores
// mirror committed ledger state for operators and off-process readers; they
// are written behind the state machine and are never authoritative.

// EventStore journals committed ledger events in order.
type EventStore interface {
	Append(ctx context.Context, evt Event) error
	// Replay streams all journaled events in commit order.
	Replay(ctx context.Context, fn func(seq int64, evt Event) error) error
}

// TokenStore keeps the latest snapshot of every token's identity and supply.
type TokenStore interface {
	Upsert(ctx context.Context, info TokenInfo, supply TokenSupply) error
	UpdateSupply(ctx context.Context, id TokenID, supply TokenSupply) error
	List(ctx context.Context) ([]TokenInfo, []TokenSupply, error)
}

// OrderStore keeps the latest snapshot of every order.
type OrderStore interface {
	Upsert(ctx context.Context, o MarketOrder) error
	ListByToken(ctx context.Context, tokenID TokenID) ([]MarketOrder, error)
}

// TradeStore records executions append-only.
type TradeStore interface {
	Insert(ctx context.Context, ex Execution) error
}

// DistributionStore records reward payouts append-only.
type DistributionStore interface {
	Insert(ctx context.Context, d RewardDistribution) error
	ListByToken(ctx context.Context, tokenID TokenID) ([]RewardDistribution, error)
}

// Cache interfaces are implemented by internal/cache/redis.

// PriceCache exposes the oracle's latest derived price to off-process
// readers.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID TokenID, price uint64, changeBps int64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID TokenID) (uint64, time.Time, error)
}

// EventBus publishes committed ledger events for non-authoritative
// consumers (the external indexer mirror).
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
