package app

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafi/ipledger/internal/config"
	"github.com/mediafi/ipledger/internal/domain"
)

type memSink struct {
	events []domain.Event
}

func (s *memSink) Emit(evt domain.Event) {
	s.events = append(s.events, evt)
}

func (s *memSink) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.Kind)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCore(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Ledger.TotalSupply = 200_000
	cfg.Ledger.TradingFeeBps = 250
	cfg.Oracle.EngagementWeight = 70
	cfg.Oracle.TradingWeight = 30
	cfg.Attestor.Scheme = "ed25519"
	cfg.Attestor.PublicKeyHex = hex.EncodeToString(pub)

	sink := &memSink{}
	core, err := BuildCore(&cfg, sink, testLogger())
	require.NoError(t, err)

	assert.Equal(t, uint64(200_000), core.Tokens.TotalSupply())
	assert.Equal(t, uint64(250), core.Market.FeeBps())

	// Ledger writes issued through the core reach the sink.
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	id, err := core.Tokens.CreateToken(core.TokenAdmin, "Neon Verse", "NEON", "", "art", creator, 50_000)
	require.NoError(t, err)
	require.NoError(t, core.Oracle.InitializeTokenPrice(core.OracleAdmin, id, 1_000_000_000))
	require.NoError(t, core.Oracle.UpdateEngagementMetrics(core.OracleAdmin, id, domain.EngagementMetrics{
		AverageRating:    8,
		Contributors:     5,
		TotalEngagements: 50,
		GrowthRate:       1_000,
	}))

	_, err = core.Market.CreateSellOrder(id, creator, 1_000_000_000, 10)
	require.NoError(t, err)

	kinds := sink.kinds()
	assert.Contains(t, kinds, domain.EventTokenCreated)
	assert.Contains(t, kinds, domain.EventPriceUpdated)
	assert.Contains(t, kinds, domain.EventOrderPlaced)
}

func TestBuildCoreConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad weights", func(c *config.Config) { c.Oracle.EngagementWeight = 80; c.Oracle.TradingWeight = 30 }},
		{"fee above cap", func(c *config.Config) { c.Ledger.TradingFeeBps = 5_000 }},
		{"bad attestor key", func(c *config.Config) { c.Attestor.PublicKeyHex = "not-hex" }},
		{"short attestor key", func(c *config.Config) { c.Attestor.PublicKeyHex = "abcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)
			_, err := BuildCore(&cfg, &memSink{}, testLogger())
			require.Error(t, err)
		})
	}
}
