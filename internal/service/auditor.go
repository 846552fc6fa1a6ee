package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediafi/ipledger/internal/domain"
)

// Auditor replays the Postgres event journal into a fresh projection and
// checks the ledger invariants at every step: supply conservation
// (reserve + circulating == total), order fill bounds and status
// monotonicity, and payout uniqueness per engagement event.
type Auditor struct {
	journal domain.EventStore
	logger  *slog.Logger
}

// NewAuditor creates an Auditor over the given journal.
func NewAuditor(journal domain.EventStore, logger *slog.Logger) *Auditor {
	return &Auditor{
		journal: journal,
		logger:  logger.With(slog.String("component", "auditor")),
	}
}

// Report summarizes one audit run.
type Report struct {
	Events     int64
	Tokens     int
	Orders     int
	Violations []string
}

// OK reports whether the audit found no violations.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

type auditedOrder struct {
	quantity uint64
	filled   uint64
	status   domain.OrderStatus
}

// Run replays the journal and returns the audit report. A violation does
// not stop the replay; all findings are collected.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	supplies := make(map[domain.TokenID]domain.TokenSupply)
	orders := make(map[string]*auditedOrder)
	paid := make(map[string]struct{})

	var report Report
	violate := func(seq int64, format string, args ...any) {
		report.Violations = append(report.Violations,
			fmt.Sprintf("seq %d: %s", seq, fmt.Sprintf(format, args...)))
	}

	err := a.journal.Replay(ctx, func(seq int64, evt domain.Event) error {
		report.Events++

		switch p := evt.Payload.(type) {
		case domain.TokenCreated:
			if p.Supply.Reserve+p.Supply.Circulating != p.Supply.Total {
				violate(seq, "token %s created with reserve %d + circulating %d != total %d",
					p.Info.ID, p.Supply.Reserve, p.Supply.Circulating, p.Supply.Total)
			}
			supplies[p.Info.ID] = p.Supply

		case domain.ReserveChange:
			s, ok := supplies[p.TokenID]
			if !ok {
				violate(seq, "reserve change for unknown token %s", p.TokenID)
				return nil
			}
			if p.Reserve+p.Circulating != s.Total {
				violate(seq, "token %s reserve %d + circulating %d != total %d",
					p.TokenID, p.Reserve, p.Circulating, s.Total)
			}
			s.Reserve = p.Reserve
			s.Circulating = p.Circulating
			supplies[p.TokenID] = s

		case domain.MarketOrder:
			key := p.ID.String()
			prev, seen := orders[key]
			if !seen {
				orders[key] = &auditedOrder{quantity: p.Quantity, filled: p.Filled, status: p.Status}
				break
			}
			if p.Filled < prev.filled {
				violate(seq, "order %s filled regressed %d -> %d", key, prev.filled, p.Filled)
			}
			if p.Filled > p.Quantity {
				violate(seq, "order %s filled %d exceeds quantity %d", key, p.Filled, p.Quantity)
			}
			if terminal(prev.status) && p.Status != prev.status {
				violate(seq, "order %s left terminal status %s for %s", key, prev.status, p.Status)
			}
			if (p.Status == domain.OrderStatusFilled) != (p.Filled == p.Quantity) {
				violate(seq, "order %s status %s inconsistent with filled %d/%d",
					key, p.Status, p.Filled, p.Quantity)
			}
			prev.filled = p.Filled
			prev.status = p.Status

		case domain.RewardDistribution:
			key := string(p.TokenID) + "|" + p.Recipient.Hex() + "|" + p.EventID
			if _, dup := paid[key]; dup {
				violate(seq, "event %q paid twice for %s on token %s", p.EventID, p.Recipient, p.TokenID)
			}
			paid[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("service: audit replay: %w", err)
	}

	report.Tokens = len(supplies)
	report.Orders = len(orders)

	a.logger.Info("audit complete",
		slog.Int64("events", report.Events),
		slog.Int("tokens", report.Tokens),
		slog.Int("orders", report.Orders),
		slog.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func terminal(s domain.OrderStatus) bool {
	return s == domain.OrderStatusFilled || s == domain.OrderStatusCancelled
}
