package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle. Transitions are monotonic:
// active -> partially_filled -> filled, or active -> cancelled. Terminal
// states never revert.
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Live reports whether an order with this status can still match.
func (s OrderStatus) Live() bool {
	return s == OrderStatusActive || s == OrderStatusPartiallyFilled
}

// MarketOrder is a resting limit order on a token's book. Price and Quantity
// are integers in the smallest price/quantity base units. Sequence is the
// marketplace arrival counter and breaks price ties during matching.
type MarketOrder struct {
	ID        uuid.UUID
	TokenID   TokenID
	Creator   common.Address
	Side      OrderSide
	Price     uint64
	Quantity  uint64
	Filled    uint64
	Status    OrderStatus
	Sequence  uint64
	CreatedAt time.Time
}

// Remaining returns the unfilled quantity.
func (o MarketOrder) Remaining() uint64 {
	return o.Quantity - o.Filled
}

// Execution is a single fill between a taker order and a resting maker
// order, priced at the maker's limit.
type Execution struct {
	TradeID     uuid.UUID
	TokenID     TokenID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	TakerSide   OrderSide
	Price       uint64
	Quantity    uint64
	ExecutedAt  time.Time
}

// BookTop is the best-bid/best-ask view of a token's book after an update.
// A zero price on either side means that side of the book is empty.
type BookTop struct {
	BestBid uint64
	BestAsk uint64
}
