package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafi/ipledger/internal/domain"
)

const testToken domain.TokenID = "tok-1"

var alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

// memJournal is an append-only in-memory stand-in for the Postgres journal.
type memJournal struct {
	events []domain.Event
}

func (j *memJournal) Append(_ context.Context, evt domain.Event) error {
	j.events = append(j.events, evt)
	return nil
}

func (j *memJournal) Replay(_ context.Context, fn func(seq int64, evt domain.Event) error) error {
	for i, evt := range j.events {
		if err := fn(int64(i+1), evt); err != nil {
			return err
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenCreated(reserve, circulating uint64) domain.Event {
	total := reserve + circulating
	return domain.Event{
		Kind:    domain.EventTokenCreated,
		TokenID: testToken,
		At:      time.Now().UTC(),
		Payload: domain.TokenCreated{
			Info:   domain.TokenInfo{ID: testToken, Name: "Test", Symbol: "TST"},
			Supply: domain.TokenSupply{Total: total, Reserve: reserve, Circulating: circulating},
		},
	}
}

func reserveChange(reserve, circulating uint64) domain.Event {
	return domain.Event{
		Kind:    domain.EventReserveReleased,
		TokenID: testToken,
		At:      time.Now().UTC(),
		Payload: domain.ReserveChange{TokenID: testToken, Reserve: reserve, Circulating: circulating},
	}
}

func orderSnapshot(id uuid.UUID, quantity, filled uint64, status domain.OrderStatus) domain.Event {
	return domain.Event{
		Kind:    domain.EventOrderUpdated,
		TokenID: testToken,
		At:      time.Now().UTC(),
		Payload: domain.MarketOrder{
			ID:       id,
			TokenID:  testToken,
			Creator:  alice,
			Side:     domain.OrderSideBuy,
			Price:    100,
			Quantity: quantity,
			Filled:   filled,
			Status:   status,
		},
	}
}

func distribution(eventID string) domain.Event {
	return domain.Event{
		Kind:    domain.EventRewardDistributed,
		TokenID: testToken,
		At:      time.Now().UTC(),
		Payload: domain.RewardDistribution{
			ID:        uuid.NewString(),
			TokenID:   testToken,
			Recipient: alice,
			Amount:    200,
			EventID:   eventID,
		},
	}
}

func TestAuditorCleanJournal(t *testing.T) {
	orderID := uuid.New()
	journal := &memJournal{events: []domain.Event{
		tokenCreated(50_000, 150_000),
		reserveChange(40_000, 160_000),
		orderSnapshot(orderID, 10, 0, domain.OrderStatusActive),
		orderSnapshot(orderID, 10, 4, domain.OrderStatusPartiallyFilled),
		orderSnapshot(orderID, 10, 10, domain.OrderStatusFilled),
		distribution("e1"),
		distribution("e2"),
	}}

	report, err := NewAuditor(journal, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, int64(7), report.Events)
	assert.Equal(t, 1, report.Tokens)
	assert.Equal(t, 1, report.Orders)
}

func TestAuditorFlagsSupplyDrift(t *testing.T) {
	journal := &memJournal{events: []domain.Event{
		tokenCreated(50_000, 150_000),
		// 1000 units vanish.
		reserveChange(40_000, 159_000),
	}}

	report, err := NewAuditor(journal, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, report.Violations[0], "seq 2")
}

func TestAuditorFlagsOrderViolations(t *testing.T) {
	t.Run("fill regression", func(t *testing.T) {
		orderID := uuid.New()
		journal := &memJournal{events: []domain.Event{
			orderSnapshot(orderID, 10, 5, domain.OrderStatusPartiallyFilled),
			orderSnapshot(orderID, 10, 3, domain.OrderStatusPartiallyFilled),
		}}
		report, err := NewAuditor(journal, testLogger()).Run(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, report.Violations)
	})

	t.Run("terminal status reopened", func(t *testing.T) {
		orderID := uuid.New()
		journal := &memJournal{events: []domain.Event{
			orderSnapshot(orderID, 10, 10, domain.OrderStatusFilled),
			orderSnapshot(orderID, 10, 10, domain.OrderStatusActive),
		}}
		report, err := NewAuditor(journal, testLogger()).Run(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, report.Violations)
	})

	t.Run("status fill mismatch", func(t *testing.T) {
		orderID := uuid.New()
		journal := &memJournal{events: []domain.Event{
			orderSnapshot(orderID, 10, 0, domain.OrderStatusActive),
			orderSnapshot(orderID, 10, 10, domain.OrderStatusPartiallyFilled),
		}}
		report, err := NewAuditor(journal, testLogger()).Run(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, report.Violations)
	})
}

func TestAuditorFlagsDoublePayout(t *testing.T) {
	journal := &memJournal{events: []domain.Event{
		distribution("e1"),
		distribution("e1"),
	}}

	report, err := NewAuditor(journal, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, report.Violations[0], "paid twice")
}

func TestAuditorUnknownTokenReserveChange(t *testing.T) {
	journal := &memJournal{events: []domain.Event{
		reserveChange(10, 20),
	}}

	report, err := NewAuditor(journal, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, report.Violations[0], "unknown token")
}
