package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediafi/ipledger/internal/domain"
)

// OrderStore implements domain.OrderStore: latest snapshot per order.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the order's current snapshot.
func (s *OrderStore) Upsert(ctx context.Context, o domain.MarketOrder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (
			id, token_id, creator, side, price, quantity, filled, status, sequence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			filled = EXCLUDED.filled,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		o.ID, string(o.TokenID), o.Creator.Hex(), string(o.Side),
		int64(o.Price), int64(o.Quantity), int64(o.Filled),
		string(o.Status), int64(o.Sequence), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// ListByToken returns all order snapshots for a token in arrival order.
func (s *OrderStore) ListByToken(ctx context.Context, tokenID domain.TokenID) ([]domain.MarketOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_id, creator, side, price, quantity, filled, status, sequence, created_at
		FROM orders WHERE token_id = $1 ORDER BY sequence`,
		string(tokenID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders %s: %w", tokenID, err)
	}
	defer rows.Close()

	var out []domain.MarketOrder
	for rows.Next() {
		var (
			o        domain.MarketOrder
			tid      string
			creator  string
			price    int64
			quantity int64
			filled   int64
			side     string
			status   string
			seq      int64
		)
		if err := rows.Scan(&o.ID, &tid, &creator, &side, &price, &quantity, &filled,
			&status, &seq, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.TokenID = domain.TokenID(tid)
		o.Creator = common.HexToAddress(creator)
		o.Side = domain.OrderSide(side)
		o.Price = uint64(price)
		o.Quantity = uint64(quantity)
		o.Filled = uint64(filled)
		o.Status = domain.OrderStatus(status)
		o.Sequence = uint64(seq)
		out = append(out, o)
	}
	return out, rows.Err()
}
