// Package market implements the exchange for IP tokens: per-token limit
// order books, price-time-priority matching, and the registry-level trading
// fee. Token custody stays with the external ledger's transfer primitive;
// the marketplace tracks payment amounts and order state only.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mediafi/ipledger/internal/domain"
)

const (
	// DefaultFeeBps is the default trading fee: 100 bps = 1%.
	DefaultFeeBps uint64 = 100
	// MaxFeeBps caps the admin-adjustable trading fee at 10%.
	MaxFeeBps uint64 = 1000

	bpsDenominator = 10_000
)

// AdminCap is the unforgeable marketplace admin capability issued by New.
// The unexported nonce keeps it non-zero-sized so every allocation has a
// distinct address.
type AdminCap struct {
	_     [0]func() // not comparable by value
	nonce uint64
}

var capNonce atomic.Uint64

func newAdminCap() *AdminCap {
	return &AdminCap{nonce: capNonce.Add(1)}
}

// TradeRecorder receives each execution together with the post-trade book
// top. The oracle implements it.
type TradeRecorder interface {
	UpdateTradingMetrics(u domain.TradingUpdate) error
}

// TokenDirectory answers whether a token id is registered. The token
// registry implements it.
type TokenDirectory interface {
	Exists(id domain.TokenID) bool
}

// Marketplace matches buy and sell orders per token.
type Marketplace struct {
	admin *AdminCap

	mu            sync.Mutex
	feeBps        uint64
	feesCollected uint64
	seq           uint64
	books         map[domain.TokenID]*book
	orders        map[uuid.UUID]*domain.MarketOrder

	tokens   TokenDirectory
	recorder TradeRecorder
	sink     domain.EventSink
	logger   *slog.Logger
}

// New creates a Marketplace with the default fee and issues its admin
// capability. sink may be nil.
func New(tokens TokenDirectory, recorder TradeRecorder, sink domain.EventSink, logger *slog.Logger) (*Marketplace, *AdminCap) {
	if sink == nil {
		sink = domain.NopSink{}
	}
	adm := newAdminCap()
	return &Marketplace{
		admin:    adm,
		feeBps:   DefaultFeeBps,
		books:    make(map[domain.TokenID]*book),
		orders:   make(map[uuid.UUID]*domain.MarketOrder),
		tokens:   tokens,
		recorder: recorder,
		sink:     sink,
		logger:   logger.With(slog.String("component", "marketplace")),
	}, adm
}

// grants reports whether adm is the capability issued at construction.
func (m *Marketplace) grants(adm *AdminCap) bool {
	return adm != nil && adm == m.admin && adm.nonce == m.admin.nonce
}

// CreateBuyOrder places a buy order. payment must cover price*quantity plus
// the trading fee; the surplus is returned as change. The order rests on
// the book until ExecuteBuyOrder matches it.
func (m *Marketplace) CreateBuyOrder(tokenID domain.TokenID, creator common.Address, price, quantity, payment uint64) (domain.MarketOrder, uint64, error) {
	cost, fee, err := m.orderCost(price, quantity)
	if err != nil {
		return domain.MarketOrder{}, 0, fmt.Errorf("market: create buy: %w", err)
	}
	total, err := domain.CheckedAdd(cost, fee)
	if err != nil {
		return domain.MarketOrder{}, 0, fmt.Errorf("market: create buy: %w", err)
	}
	if payment < total {
		return domain.MarketOrder{}, 0, fmt.Errorf("market: create buy: payment %d below %d: %w",
			payment, total, domain.ErrInsufficientPayment)
	}
	if !m.tokens.Exists(tokenID) {
		return domain.MarketOrder{}, 0, fmt.Errorf("market: create buy: token %s: %w", tokenID, domain.ErrNotFound)
	}

	o := m.place(tokenID, creator, domain.OrderSideBuy, price, quantity)

	m.mu.Lock()
	m.feesCollected += fee
	m.mu.Unlock()

	return o, payment - total, nil
}

// CreateSellOrder places a sell order. No payment changes hands until
// execution; token custody is handled by the external ledger.
func (m *Marketplace) CreateSellOrder(tokenID domain.TokenID, creator common.Address, price, quantity uint64) (domain.MarketOrder, error) {
	if price == 0 {
		return domain.MarketOrder{}, fmt.Errorf("market: create sell: %w", domain.ErrInvalidPrice)
	}
	if quantity == 0 {
		return domain.MarketOrder{}, fmt.Errorf("market: create sell: %w", domain.ErrInvalidQuantity)
	}
	if !m.tokens.Exists(tokenID) {
		return domain.MarketOrder{}, fmt.Errorf("market: create sell: token %s: %w", tokenID, domain.ErrNotFound)
	}
	return m.place(tokenID, creator, domain.OrderSideSell, price, quantity), nil
}

// ExecuteBuyOrder matches the buy order against resting sells: lowest ask
// at or below the limit first, earliest arrival breaking price ties. Fills
// price at the maker's limit. Partial fills leave the remainder resting.
func (m *Marketplace) ExecuteBuyOrder(orderID uuid.UUID) ([]domain.Execution, error) {
	return m.execute(orderID, domain.OrderSideBuy)
}

// ExecuteSellOrder matches the sell order against resting buys: highest
// bid at or above the limit first, earliest arrival breaking price ties.
func (m *Marketplace) ExecuteSellOrder(orderID uuid.UUID) ([]domain.Execution, error) {
	return m.execute(orderID, domain.OrderSideSell)
}

// CancelOrder cancels an order. Only the creator may cancel, and only
// while the order is still fully unfilled.
func (m *Marketplace) CancelOrder(orderID uuid.UUID, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("market: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Creator != caller {
		return fmt.Errorf("market: cancel %s: caller %s is not creator: %w", orderID, caller, domain.ErrUnauthorized)
	}
	if o.Status != domain.OrderStatusActive {
		return fmt.Errorf("market: cancel %s: status %s: %w", orderID, o.Status, domain.ErrOrderNotActive)
	}

	o.Status = domain.OrderStatusCancelled
	m.books[o.TokenID].remove(o)

	m.logger.Info("order cancelled",
		slog.String("order_id", orderID.String()),
		slog.String("token_id", string(o.TokenID)),
	)
	m.sink.Emit(domain.Event{
		Kind:    domain.EventOrderCancelled,
		TokenID: o.TokenID,
		At:      time.Now().UTC(),
		Payload: *o,
	})
	return nil
}

// UpdateTradingFee sets the registry-level trading fee. Requires the
// marketplace admin capability; the fee is capped at MaxFeeBps.
func (m *Marketplace) UpdateTradingFee(adm *AdminCap, feeBps uint64) error {
	if !m.grants(adm) {
		return fmt.Errorf("market: update fee: %w", domain.ErrUnauthorized)
	}
	if feeBps > MaxFeeBps {
		return fmt.Errorf("market: update fee %d above cap %d: %w", feeBps, MaxFeeBps, domain.ErrInvalidFee)
	}
	m.mu.Lock()
	m.feeBps = feeBps
	m.mu.Unlock()
	return nil
}

// GetOrderInfo returns a snapshot of the order.
func (m *Marketplace) GetOrderInfo(orderID uuid.UUID) (domain.MarketOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.MarketOrder{}, fmt.Errorf("market: order %s: %w", orderID, domain.ErrNotFound)
	}
	return *o, nil
}

// FeeBps returns the current trading fee.
func (m *Marketplace) FeeBps() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeBps
}

// FeesCollected returns the cumulative fees charged at order creation.
func (m *Marketplace) FeesCollected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feesCollected
}

// BookTop returns the current best bid/ask for the token.
func (m *Marketplace) BookTop(tokenID domain.TokenID) domain.BookTop {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[tokenID]
	if !ok {
		return domain.BookTop{}
	}
	return b.top()
}

// orderCost validates price/quantity and returns (cost, fee).
func (m *Marketplace) orderCost(price, quantity uint64) (uint64, uint64, error) {
	if price == 0 {
		return 0, 0, domain.ErrInvalidPrice
	}
	if quantity == 0 {
		return 0, 0, domain.ErrInvalidQuantity
	}
	cost, err := domain.CheckedMul(price, quantity)
	if err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	feeBps := m.feeBps
	m.mu.Unlock()
	fee, err := domain.MulDiv(cost, feeBps, bpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	return cost, fee, nil
}

// place records a new active order on the book.
func (m *Marketplace) place(tokenID domain.TokenID, creator common.Address, side domain.OrderSide, price, quantity uint64) domain.MarketOrder {
	m.mu.Lock()
	m.seq++
	o := &domain.MarketOrder{
		ID:        uuid.New(),
		TokenID:   tokenID,
		Creator:   creator,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    domain.OrderStatusActive,
		Sequence:  m.seq,
		CreatedAt: time.Now().UTC(),
	}
	b, ok := m.books[tokenID]
	if !ok {
		b = &book{}
		m.books[tokenID] = b
	}
	b.add(o)
	m.orders[o.ID] = o
	m.mu.Unlock()

	m.logger.Info("order placed",
		slog.String("order_id", o.ID.String()),
		slog.String("token_id", string(tokenID)),
		slog.String("side", string(side)),
		slog.Uint64("price", price),
		slog.Uint64("quantity", quantity),
	)
	m.sink.Emit(domain.Event{
		Kind:    domain.EventOrderPlaced,
		TokenID: tokenID,
		At:      o.CreatedAt,
		Payload: *o,
	})
	return *o
}

// execute runs the matching loop for a taker order of the given side.
func (m *Marketplace) execute(orderID uuid.UUID, side domain.OrderSide) ([]domain.Execution, error) {
	m.mu.Lock()

	taker, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("market: execute %s: %w", orderID, domain.ErrNotFound)
	}
	if taker.Side != side {
		m.mu.Unlock()
		return nil, fmt.Errorf("market: execute %s: side %s: %w", orderID, taker.Side, domain.ErrOrderNotActive)
	}
	if !taker.Status.Live() {
		m.mu.Unlock()
		return nil, fmt.Errorf("market: execute %s: status %s: %w", orderID, taker.Status, domain.ErrOrderNotActive)
	}

	b := m.books[taker.TokenID]
	var (
		fills   []domain.Execution
		tops    []domain.BookTop
		touched []domain.MarketOrder
	)
	for taker.Remaining() > 0 {
		maker := m.bestCounter(b, taker)
		if maker == nil {
			break
		}

		qty := taker.Remaining()
		if maker.Remaining() < qty {
			qty = maker.Remaining()
		}
		fill(taker, qty)
		fill(maker, qty)
		if !maker.Status.Live() {
			b.remove(maker)
		}

		ex := domain.Execution{
			TradeID:    uuid.New(),
			TokenID:    taker.TokenID,
			TakerSide:  side,
			Price:      maker.Price,
			Quantity:   qty,
			ExecutedAt: time.Now().UTC(),
		}
		if side == domain.OrderSideBuy {
			ex.BuyOrderID, ex.SellOrderID = taker.ID, maker.ID
		} else {
			ex.BuyOrderID, ex.SellOrderID = maker.ID, taker.ID
		}
		fills = append(fills, ex)
		tops = append(tops, b.top())
		touched = append(touched, *maker)
	}
	if !taker.Status.Live() {
		b.remove(taker)
	}
	if len(fills) > 0 {
		touched = append(touched, *taker)
	}
	m.mu.Unlock()

	// Push executions into the oracle outside the book lock; the oracle
	// keeps its own critical section.
	for i, ex := range fills {
		update := domain.TradingUpdate{
			TokenID:    ex.TokenID,
			Price:      ex.Price,
			Quantity:   ex.Quantity,
			TakerSide:  ex.TakerSide,
			BestBid:    tops[i].BestBid,
			BestAsk:    tops[i].BestAsk,
			ExecutedAt: ex.ExecutedAt,
		}
		if err := m.recorder.UpdateTradingMetrics(update); err != nil {
			return fills, fmt.Errorf("market: execute %s: record trade: %w", orderID, err)
		}
		m.sink.Emit(domain.Event{
			Kind:    domain.EventOrderMatched,
			TokenID: ex.TokenID,
			At:      ex.ExecutedAt,
			Payload: ex,
		})
	}

	for _, snap := range touched {
		m.sink.Emit(domain.Event{
			Kind:    domain.EventOrderUpdated,
			TokenID: snap.TokenID,
			At:      time.Now().UTC(),
			Payload: snap,
		})
	}

	if len(fills) > 0 {
		m.logger.Info("order executed",
			slog.String("order_id", orderID.String()),
			slog.Int("fills", len(fills)),
		)
	}
	return fills, nil
}

// bestCounter returns the best matchable resting order on the opposite
// side, or nil when the spread does not cross. Caller holds m.mu.
func (m *Marketplace) bestCounter(b *book, taker *domain.MarketOrder) *domain.MarketOrder {
	if taker.Side == domain.OrderSideBuy {
		ask := b.bestAsk()
		if ask == nil || ask.Price > taker.Price {
			return nil
		}
		return ask
	}
	bid := b.bestBid()
	if bid == nil || bid.Price < taker.Price {
		return nil
	}
	return bid
}

// fill applies qty to an order and advances its status. Status moves
// forward only: active -> partially_filled -> filled.
func fill(o *domain.MarketOrder, qty uint64) {
	o.Filled += qty
	if o.Filled == o.Quantity {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
}
