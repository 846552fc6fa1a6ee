package market

import (
	"sort"

	"github.com/mediafi/ipledger/internal/domain"
)

// book holds the resting orders for one token, both sides kept in matching
// priority order: bids by price descending, asks by price ascending, ties
// by arrival sequence (earliest first).
type book struct {
	bids []*domain.MarketOrder
	asks []*domain.MarketOrder
}

// add inserts o at its priority position.
func (b *book) add(o *domain.MarketOrder) {
	if o.Side == domain.OrderSideBuy {
		i := sort.Search(len(b.bids), func(i int) bool {
			r := b.bids[i]
			return r.Price < o.Price || (r.Price == o.Price && r.Sequence > o.Sequence)
		})
		b.bids = append(b.bids, nil)
		copy(b.bids[i+1:], b.bids[i:])
		b.bids[i] = o
		return
	}
	i := sort.Search(len(b.asks), func(i int) bool {
		r := b.asks[i]
		return r.Price > o.Price || (r.Price == o.Price && r.Sequence > o.Sequence)
	})
	b.asks = append(b.asks, nil)
	copy(b.asks[i+1:], b.asks[i:])
	b.asks[i] = o
}

// remove deletes o from its side, if present.
func (b *book) remove(o *domain.MarketOrder) {
	side := &b.asks
	if o.Side == domain.OrderSideBuy {
		side = &b.bids
	}
	for i, r := range *side {
		if r.ID == o.ID {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return
		}
	}
}

// prune drops terminal orders from the head of both sides so best lookups
// stay O(1) between matches.
func (b *book) prune() {
	for len(b.bids) > 0 && !b.bids[0].Status.Live() {
		b.bids = b.bids[1:]
	}
	for len(b.asks) > 0 && !b.asks[0].Status.Live() {
		b.asks = b.asks[1:]
	}
}

// bestBid returns the highest-priority live buy order, or nil.
func (b *book) bestBid() *domain.MarketOrder {
	b.prune()
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// bestAsk returns the highest-priority live sell order, or nil.
func (b *book) bestAsk() *domain.MarketOrder {
	b.prune()
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// top returns the current best bid/ask prices; zero means empty side.
func (b *book) top() domain.BookTop {
	var t domain.BookTop
	if bid := b.bestBid(); bid != nil {
		t.BestBid = bid.Price
	}
	if ask := b.bestAsk(); ask != nil {
		t.BestAsk = ask.Price
	}
	return t
}
