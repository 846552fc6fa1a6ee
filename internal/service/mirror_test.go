package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafi/ipledger/internal/domain"
)

type memTokenStore struct {
	upserts  []domain.TokenInfo
	supplies []domain.TokenSupply
}

func (s *memTokenStore) Upsert(_ context.Context, info domain.TokenInfo, supply domain.TokenSupply) error {
	s.upserts = append(s.upserts, info)
	s.supplies = append(s.supplies, supply)
	return nil
}

func (s *memTokenStore) UpdateSupply(_ context.Context, _ domain.TokenID, supply domain.TokenSupply) error {
	s.supplies = append(s.supplies, supply)
	return nil
}

func (s *memTokenStore) List(_ context.Context) ([]domain.TokenInfo, []domain.TokenSupply, error) {
	return s.upserts, s.supplies, nil
}

type memBus struct {
	published [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func drainMirror(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	// Give the worker a moment to drain, then stop it.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case <-deadline:
			cancel()
			<-done
			return
		default:
			if len(m.events) == 0 {
				cancel()
				<-done
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestMirrorJournalsAndSnapshots(t *testing.T) {
	journal := &memJournal{}
	tokens := &memTokenStore{}
	bus := &memBus{}

	m := NewMirror(MirrorStores{Journal: journal, Tokens: tokens, Bus: bus}, 16, testLogger())

	m.Emit(tokenCreated(50_000, 150_000))
	m.Emit(reserveChange(40_000, 160_000))
	drainMirror(t, m)

	require.Len(t, journal.events, 2)
	assert.Equal(t, domain.EventTokenCreated, journal.events[0].Kind)

	require.Len(t, tokens.upserts, 1)
	assert.Equal(t, testToken, tokens.upserts[0].ID)
	require.Len(t, tokens.supplies, 2)
	assert.Equal(t, uint64(40_000), tokens.supplies[1].Reserve)

	require.Len(t, bus.published, 2)
	assert.Contains(t, string(bus.published[0]), "token_created")
	assert.Equal(t, uint64(0), m.Dropped())
}

func TestMirrorDropsWhenFull(t *testing.T) {
	m := NewMirror(MirrorStores{}, 2, testLogger())

	// No worker running; the third emit overflows the buffer.
	m.Emit(tokenCreated(1, 1))
	m.Emit(tokenCreated(1, 1))
	m.Emit(tokenCreated(1, 1))

	assert.Equal(t, uint64(1), m.Dropped())
}

func TestMirrorNilStoresAreSkipped(t *testing.T) {
	journal := &memJournal{}
	m := NewMirror(MirrorStores{Journal: journal}, 16, testLogger())

	m.Emit(tokenCreated(50_000, 150_000))
	m.Emit(distribution("e1"))
	drainMirror(t, m)

	assert.Len(t, journal.events, 2)
}
