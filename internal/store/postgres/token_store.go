package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediafi/ipledger/internal/domain"
)

// TokenStore implements domain.TokenStore: latest identity and supply
// snapshot per token.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Upsert writes the token's current snapshot.
func (s *TokenStore) Upsert(ctx context.Context, info domain.TokenInfo, supply domain.TokenSupply) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (
			id, name, symbol, description, category, creator,
			total_supply, reserve_pool, circulating_supply, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			reserve_pool = EXCLUDED.reserve_pool,
			circulating_supply = EXCLUDED.circulating_supply,
			updated_at = NOW()`,
		string(info.ID), info.Name, info.Symbol, info.Description, info.Category,
		info.Creator.Hex(),
		int64(supply.Total), int64(supply.Reserve), int64(supply.Circulating),
		info.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", info.ID, err)
	}
	return nil
}

// UpdateSupply overwrites the supply counters for an existing token row.
func (s *TokenStore) UpdateSupply(ctx context.Context, id domain.TokenID, supply domain.TokenSupply) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tokens SET reserve_pool = $2, circulating_supply = $3, updated_at = NOW()
		WHERE id = $1`,
		string(id), int64(supply.Reserve), int64(supply.Circulating),
	)
	if err != nil {
		return fmt.Errorf("postgres: update supply %s: %w", id, err)
	}
	return nil
}

// List returns all token snapshots in creation order.
func (s *TokenStore) List(ctx context.Context) ([]domain.TokenInfo, []domain.TokenSupply, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, symbol, description, category, creator,
		       total_supply, reserve_pool, circulating_supply, created_at
		FROM tokens ORDER BY created_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: list tokens: %w", err)
	}
	defer rows.Close()

	var (
		infos    []domain.TokenInfo
		supplies []domain.TokenSupply
	)
	for rows.Next() {
		var (
			info    domain.TokenInfo
			id      string
			creator string
			total   int64
			reserve int64
			circ    int64
		)
		if err := rows.Scan(&id, &info.Name, &info.Symbol, &info.Description, &info.Category,
			&creator, &total, &reserve, &circ, &info.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan token: %w", err)
		}
		info.ID = domain.TokenID(id)
		info.Creator = common.HexToAddress(creator)
		infos = append(infos, info)
		supplies = append(supplies, domain.TokenSupply{
			Total:       uint64(total),
			Reserve:     uint64(reserve),
			Circulating: uint64(circ),
		})
	}
	return infos, supplies, rows.Err()
}
