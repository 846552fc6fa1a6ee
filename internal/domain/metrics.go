package domain

import "time"

// EngagementMetrics is the attested off-chain view of a token's engagement.
// Each verified oracle update overwrites the whole record; nothing is merged
// incrementally on-chain. AverageRating is scaled by 100 (850 = 8.50) and
// PredictionAccuracy and GrowthRate are basis points. GrowthRate may be
// negative.
type EngagementMetrics struct {
	AverageRating      uint64
	Contributors       uint64
	TotalEngagements   uint64
	PredictionAccuracy uint64
	GrowthRate         int64
	UpdatedAt          time.Time
}

// TradingMetrics is the on-chain trading view of a token, updated
// incrementally after every executed trade.
type TradingMetrics struct {
	HighestBid uint64
	LowestAsk  uint64
	LastPrice  uint64
	BuyVolume  uint64
	SellVolume uint64
	TradeCount uint64
	UpdatedAt  time.Time
}

// Midpoint returns the bid/ask midpoint and whether both sides exist.
func (m TradingMetrics) Midpoint() (uint64, bool) {
	if m.HighestBid == 0 || m.LowestAsk == 0 {
		return 0, false
	}
	return m.HighestBid/2 + m.LowestAsk/2 + (m.HighestBid%2+m.LowestAsk%2)/2, true
}

// TradingUpdate carries one marketplace execution plus the post-trade book
// top into the oracle.
type TradingUpdate struct {
	TokenID    TokenID
	Price      uint64
	Quantity   uint64
	TakerSide  OrderSide
	BestBid    uint64
	BestAsk    uint64
	ExecutedAt time.Time
}

// PriceData is the oracle's derived price for a token. Price is recomputed
// from the engagement/trading blend and never set directly by a trade.
// ChangeBps is the old-vs-new delta in basis points, kept for audit.
type PriceData struct {
	BasePrice uint64
	Price     uint64
	ChangeBps int64
	UpdatedAt time.Time
}
