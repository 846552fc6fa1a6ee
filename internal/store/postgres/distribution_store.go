package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediafi/ipledger/internal/domain"
)

// DistributionStore implements domain.DistributionStore: the append-only
// reward payout log. The (token, recipient, event) uniqueness constraint
// backs the in-memory double-payout fence at the storage layer too.
type DistributionStore struct {
	pool *pgxpool.Pool
}

// NewDistributionStore creates a DistributionStore backed by the given
// connection pool.
func NewDistributionStore(pool *pgxpool.Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Insert records one payout.
func (s *DistributionStore) Insert(ctx context.Context, d domain.RewardDistribution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reward_distributions (id, token_id, recipient, amount, reason, event_id, distributed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, string(d.TokenID), d.Recipient.Hex(), int64(d.Amount), d.Reason, d.EventID, d.DistributedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert distribution %s: %w", d.ID, err)
	}
	return nil
}

// ListByToken returns the token's payouts oldest first.
func (s *DistributionStore) ListByToken(ctx context.Context, tokenID domain.TokenID) ([]domain.RewardDistribution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_id, recipient, amount, reason, event_id, distributed_at
		FROM reward_distributions WHERE token_id = $1 ORDER BY distributed_at`,
		string(tokenID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list distributions %s: %w", tokenID, err)
	}
	defer rows.Close()

	var out []domain.RewardDistribution
	for rows.Next() {
		var (
			d         domain.RewardDistribution
			tid       string
			recipient string
			amount    int64
		)
		if err := rows.Scan(&d.ID, &tid, &recipient, &amount, &d.Reason, &d.EventID, &d.DistributedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan distribution: %w", err)
		}
		d.TokenID = domain.TokenID(tid)
		d.Recipient = common.HexToAddress(recipient)
		d.Amount = uint64(amount)
		out = append(out, d)
	}
	return out, rows.Err()
}
