package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediafi/ipledger/internal/domain"
)

// TradeStore implements domain.TradeStore: append-only execution records.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records one execution.
func (s *TradeStore) Insert(ctx context.Context, ex domain.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, token_id, buy_order_id, sell_order_id, taker_side, price, quantity, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ex.TradeID, string(ex.TokenID), ex.BuyOrderID, ex.SellOrderID,
		string(ex.TakerSide), int64(ex.Price), int64(ex.Quantity), ex.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", ex.TradeID, err)
	}
	return nil
}
