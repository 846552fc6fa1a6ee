// Package service contains the off-transaction plumbing around the ledger
// core: the mirror that journals committed events to Postgres and Redis,
// and the auditor that replays the journal against the ledger invariants.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mediafi/ipledger/internal/domain"
)

// EventChannel is the Pub/Sub channel committed events fan out on.
const EventChannel = "ledger_events"

// Mirror implements domain.EventSink. Components emit synchronously into a
// buffered channel; a single worker drains it into the Postgres journal,
// the snapshot tables, the Redis price cache, and the event bus. The
// emitting transaction never blocks: when the buffer is full the event is
// dropped and counted.
type Mirror struct {
	events  chan domain.Event
	dropped atomic.Uint64

	journal domain.EventStore
	tokens  domain.TokenStore
	orders  domain.OrderStore
	trades  domain.TradeStore
	dists   domain.DistributionStore
	prices  domain.PriceCache
	bus     domain.EventBus

	logger *slog.Logger
}

// MirrorStores bundles the destinations a Mirror writes to. Any nil field
// is skipped, so a deployment can mirror to Postgres only, Redis only, or
// both.
type MirrorStores struct {
	Journal       domain.EventStore
	Tokens        domain.TokenStore
	Orders        domain.OrderStore
	Trades        domain.TradeStore
	Distributions domain.DistributionStore
	Prices        domain.PriceCache
	Bus           domain.EventBus
}

// NewMirror creates a Mirror with a buffer of size bufSize (default 1024).
func NewMirror(stores MirrorStores, bufSize int, logger *slog.Logger) *Mirror {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Mirror{
		events:  make(chan domain.Event, bufSize),
		journal: stores.Journal,
		tokens:  stores.Tokens,
		orders:  stores.Orders,
		trades:  stores.Trades,
		dists:   stores.Distributions,
		prices:  stores.Prices,
		bus:     stores.Bus,
		logger:  logger.With(slog.String("component", "mirror")),
	}
}

// Emit queues a committed event for mirroring. Never blocks.
func (m *Mirror) Emit(evt domain.Event) {
	select {
	case m.events <- evt:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Run drains the event buffer until ctx is cancelled. Mirror write
// failures are logged and skipped; the journal is a mirror, not the
// authority, so a failed write must not stall the ledger.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-m.events:
			if err := m.handle(ctx, evt); err != nil {
				m.logger.WarnContext(ctx, "mirror write failed",
					slog.String("kind", string(evt.Kind)),
					slog.String("token_id", string(evt.TokenID)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// handle journals one event and updates the kind-specific snapshot.
func (m *Mirror) handle(ctx context.Context, evt domain.Event) error {
	if m.journal != nil {
		if err := m.journal.Append(ctx, evt); err != nil {
			return err
		}
	}

	switch p := evt.Payload.(type) {
	case domain.TokenCreated:
		if m.tokens != nil {
			if err := m.tokens.Upsert(ctx, p.Info, p.Supply); err != nil {
				return err
			}
		}
	case domain.ReserveChange:
		if m.tokens != nil {
			supply := domain.TokenSupply{Reserve: p.Reserve, Circulating: p.Circulating}
			if err := m.tokens.UpdateSupply(ctx, p.TokenID, supply); err != nil {
				return err
			}
		}
	case domain.MarketOrder:
		if m.orders != nil {
			if err := m.orders.Upsert(ctx, p); err != nil {
				return err
			}
		}
	case domain.Execution:
		if m.trades != nil {
			if err := m.trades.Insert(ctx, p); err != nil {
				return err
			}
		}
	case domain.RewardDistribution:
		if m.dists != nil {
			if err := m.dists.Insert(ctx, p); err != nil {
				return err
			}
		}
	case domain.PricePoint:
		if m.prices != nil {
			if err := m.prices.SetPrice(ctx, p.TokenID, p.Price, p.ChangeBps, p.At); err != nil {
				return err
			}
		}
	}

	return m.publish(ctx, evt)
}

// publish fans the event out on the bus as JSON.
func (m *Mirror) publish(ctx context.Context, evt domain.Event) error {
	if m.bus == nil {
		return nil
	}
	msg, err := json.Marshal(map[string]any{
		"kind":     string(evt.Kind),
		"token_id": string(evt.TokenID),
		"at":       evt.At.Format(time.RFC3339Nano),
		"payload":  evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("mirror: marshal event %s: %w", evt.Kind, err)
	}
	return m.bus.Publish(ctx, EventChannel, msg)
}
