package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediafi/ipledger/internal/domain"
)

// EventStore implements domain.EventStore: the append-only journal of
// committed ledger events.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append journals one event. The payload is stored as JSONB keyed by the
// event kind.
func (s *EventStore) Append(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", evt.Kind, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_events (kind, token_id, payload, occurred_at) VALUES ($1, $2, $3, $4)`,
		string(evt.Kind), string(evt.TokenID), payload, evt.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", evt.Kind, err)
	}
	return nil
}

// Replay streams every journaled event in commit order, decoding each
// payload into its kind's value type.
func (s *EventStore) Replay(ctx context.Context, fn func(seq int64, evt domain.Event) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, kind, token_id, payload, occurred_at FROM ledger_events ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("postgres: replay events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			kind    string
			tokenID string
			payload []byte
			evt     domain.Event
		)
		if err := rows.Scan(&seq, &kind, &tokenID, &payload, &evt.At); err != nil {
			return fmt.Errorf("postgres: scan event: %w", err)
		}
		evt.Kind = domain.EventKind(kind)
		evt.TokenID = domain.TokenID(tokenID)

		decoded, err := decodePayload(evt.Kind, payload)
		if err != nil {
			return fmt.Errorf("postgres: event seq %d: %w", seq, err)
		}
		evt.Payload = decoded

		if err := fn(seq, evt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// decodePayload maps an event kind to its payload value type.
func decodePayload(kind domain.EventKind, payload []byte) (any, error) {
	switch kind {
	case domain.EventTokenCreated:
		var v domain.TokenCreated
		return v, unmarshalInto(payload, &v)
	case domain.EventReserveAdjusted, domain.EventReserveReleased:
		var v domain.ReserveChange
		return v, unmarshalInto(payload, &v)
	case domain.EventOrderPlaced, domain.EventOrderCancelled, domain.EventOrderUpdated:
		var v domain.MarketOrder
		return v, unmarshalInto(payload, &v)
	case domain.EventOrderMatched:
		var v domain.Execution
		return v, unmarshalInto(payload, &v)
	case domain.EventPriceUpdated:
		var v domain.PricePoint
		return v, unmarshalInto(payload, &v)
	case domain.EventEngagementRecorded:
		var v domain.Engagement
		return v, unmarshalInto(payload, &v)
	case domain.EventRewardDistributed:
		var v domain.RewardDistribution
		return v, unmarshalInto(payload, &v)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func unmarshalInto(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
