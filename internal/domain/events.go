package domain

import "time"

// EventKind enumerates the ledger event journal entry types.
type EventKind string

const (
	EventTokenCreated       EventKind = "token_created"
	EventReserveAdjusted    EventKind = "reserve_adjusted"
	EventReserveReleased    EventKind = "reserve_released"
	EventOrderPlaced        EventKind = "order_placed"
	EventOrderMatched       EventKind = "order_matched"
	EventOrderCancelled     EventKind = "order_cancelled"
	EventOrderUpdated       EventKind = "order_updated"
	EventPriceUpdated       EventKind = "price_updated"
	EventEngagementRecorded EventKind = "engagement_recorded"
	EventRewardDistributed  EventKind = "reward_distributed"
)

// Event is one entry of the append-only ledger journal. Payload holds the
// kind-specific value type (TokenInfo, MarketOrder, Execution,
// RewardDistribution, ...) and is serialized as-is by the mirror.
type Event struct {
	Kind    EventKind
	TokenID TokenID
	At      time.Time
	Payload any
}

// EventSink receives committed ledger events. Implementations must never
// block the emitting transaction; slow consumers drop or buffer on their own
// side.
type EventSink interface {
	Emit(evt Event)
}

// NopSink discards all events. Components fall back to it when wired
// without a mirror.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// TokenCreated is the payload for token creation events.
type TokenCreated struct {
	Info   TokenInfo
	Supply TokenSupply
}

// ReserveChange is the payload for reserve adjustment and release events.
type ReserveChange struct {
	TokenID     TokenID
	Amount      uint64
	Reserve     uint64
	Circulating uint64
}

// PricePoint is the payload for price update events.
type PricePoint struct {
	TokenID   TokenID
	Price     uint64
	ChangeBps int64
	At        time.Time
}
