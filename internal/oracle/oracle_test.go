package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafi/ipledger/internal/crypto"
	"github.com/mediafi/ipledger/internal/domain"
)

const testToken domain.TokenID = "tok-1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOracle(t *testing.T, basePrice uint64) (*Oracle, *AdminCap) {
	t.Helper()
	o, adm := New(nil, testLogger())
	require.NoError(t, o.InitializeTokenPrice(adm, testToken, basePrice))
	return o, adm
}

func TestInitializeTokenPrice(t *testing.T) {
	o, adm := New(nil, testLogger())

	assert.ErrorIs(t, o.InitializeTokenPrice(nil, testToken, 100), domain.ErrUnauthorized)
	assert.ErrorIs(t, o.InitializeTokenPrice(&AdminCap{}, testToken, 100), domain.ErrUnauthorized)
	assert.ErrorIs(t, o.InitializeTokenPrice(adm, testToken, 0), domain.ErrInvalidPrice)

	require.NoError(t, o.InitializeTokenPrice(adm, testToken, 100))
	assert.ErrorIs(t, o.InitializeTokenPrice(adm, testToken, 100), domain.ErrAlreadyExists)

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), price)

	_, err = o.GetPrice("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetWeights(t *testing.T) {
	o, adm := newTestOracle(t, 100)

	tests := []struct {
		name    string
		we, wt  uint64
		wantErr bool
	}{
		{"default split", 60, 40, false},
		{"all engagement", 100, 0, false},
		{"sum below 100", 50, 40, true},
		{"sum above 100", 60, 50, true},
		{"single weight above 100", 150, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.SetWeights(adm, tt.we, tt.wt)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidWeight)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, o.SetWeights(nil, 60, 40), domain.ErrUnauthorized)
}

// With the full weight on engagement, a 25% growth rate at the neutral
// multiplier lifts the price by exactly 25% of base.
func TestEngagementPriceGrowth(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)
	require.NoError(t, o.SetWeights(adm, 100, 0))

	require.NoError(t, o.UpdateEngagementMetrics(adm, testToken, domain.EngagementMetrics{
		AverageRating: 850,
		Contributors:  42,
		GrowthRate:    2_500,
	}))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000_000), price)

	pd, err := o.GetPriceData(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), pd.BasePrice)
	assert.Equal(t, int64(2_500), pd.ChangeBps)
}

func TestNegativeGrowthFloorsAtZero(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)
	require.NoError(t, o.SetWeights(adm, 100, 0))

	// -120% growth pushes the factor below zero; the price floors at 0
	// instead of wrapping.
	require.NoError(t, o.UpdateEngagementMetrics(adm, testToken, domain.EngagementMetrics{
		GrowthRate: -12_000,
	}))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), price)
}

func TestBlendedPrice(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)

	// Engagement price 1.25e9 at weight 60; no trading data yet so the
	// trading leg stays at base with weight 40.
	require.NoError(t, o.UpdateEngagementMetrics(adm, testToken, domain.EngagementMetrics{
		GrowthRate: 2_500,
	}))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_150_000_000), price)
}

func TestTradingPriceMidpoint(t *testing.T) {
	o, adm := newTestOracle(t, 1_000)
	require.NoError(t, o.SetWeights(adm, 0, 100))

	require.NoError(t, o.UpdateTradingMetrics(domain.TradingUpdate{
		TokenID:    testToken,
		Price:      950,
		Quantity:   10,
		TakerSide:  domain.OrderSideBuy,
		BestBid:    900,
		BestAsk:    1_100,
		ExecutedAt: time.Now().UTC(),
	}))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), price, "midpoint of 900/1100")

	tm, err := o.GetTradingMetrics(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tm.BuyVolume)
	assert.Equal(t, uint64(1), tm.TradeCount)
}

// With one side of the book empty the trading leg falls back to the last
// executed price.
func TestTradingPriceLastExecution(t *testing.T) {
	o, adm := newTestOracle(t, 1_000)
	require.NoError(t, o.SetWeights(adm, 0, 100))

	require.NoError(t, o.UpdateTradingMetrics(domain.TradingUpdate{
		TokenID:    testToken,
		Price:      950,
		Quantity:   3,
		TakerSide:  domain.OrderSideSell,
		BestBid:    900,
		BestAsk:    0,
		ExecutedAt: time.Now().UTC(),
	}))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), price)
}

func TestUpdateTradingMetricsUnknownToken(t *testing.T) {
	o, _ := newTestOracle(t, 1_000)
	err := o.UpdateTradingMetrics(domain.TradingUpdate{TokenID: "missing", Price: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func signEngagement(t *testing.T, priv ed25519.PrivateKey, tokenID domain.TokenID, m domain.EngagementMetrics, tsMs uint64) []byte {
	t.Helper()
	msg := crypto.EncodeIntent(crypto.IntentProcessData, tsMs, canonicalEngagementBytes(tokenID, m))
	sig, err := crypto.SignIntent(crypto.SchemeEd25519, priv, msg)
	require.NoError(t, err)
	return sig
}

func TestAttestedUpdate(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)
	require.NoError(t, o.SetWeights(adm, 100, 0))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, o.RegisterAttestorKey(adm, crypto.SchemeEd25519, pub))

	metrics := domain.EngagementMetrics{
		AverageRating: 850,
		Contributors:  42,
		GrowthRate:    2_500,
	}
	sig := signEngagement(t, priv, testToken, metrics, 1_000)

	require.NoError(t, o.UpdateEngagementMetricsAttested(testToken, metrics, 1_000, pub, sig))

	got, err := o.GetEngagementMetrics(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Contributors)

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000_000), price)
}

func TestAttestedUpdateRejections(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, o.RegisterAttestorKey(adm, crypto.SchemeEd25519, pub))

	metrics := domain.EngagementMetrics{GrowthRate: 2_500}
	sig := signEngagement(t, priv, testToken, metrics, 1_000)
	require.NoError(t, o.UpdateEngagementMetricsAttested(testToken, metrics, 1_000, pub, sig))

	t.Run("unregistered key", func(t *testing.T) {
		otherPub, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		sig := signEngagement(t, otherPriv, testToken, metrics, 2_000)
		err = o.UpdateEngagementMetricsAttested(testToken, metrics, 2_000, otherPub, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidAttestation)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		sig := signEngagement(t, priv, testToken, metrics, 1_000)
		err := o.UpdateEngagementMetricsAttested(testToken, metrics, 1_000, pub, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidAttestation)
	})

	t.Run("tampered metrics", func(t *testing.T) {
		sig := signEngagement(t, priv, testToken, metrics, 3_000)
		inflated := metrics
		inflated.GrowthRate = 9_999
		err := o.UpdateEngagementMetricsAttested(testToken, inflated, 3_000, pub, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidAttestation)

		// The stored metrics must be untouched by the rejected update.
		got, err := o.GetEngagementMetrics(testToken)
		require.NoError(t, err)
		assert.Equal(t, int64(2_500), got.GrowthRate)
	})

	t.Run("timestamp mismatch", func(t *testing.T) {
		sig := signEngagement(t, priv, testToken, metrics, 4_000)
		err := o.UpdateEngagementMetricsAttested(testToken, metrics, 5_000, pub, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidAttestation)
	})
}

func TestAttestedUpdateSecp256k1(t *testing.T) {
	o, adm := newTestOracle(t, 1_000_000_000)
	require.NoError(t, o.SetWeights(adm, 100, 0))

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pub := ethcrypto.CompressPubkey(&key.PublicKey)
	require.NoError(t, o.RegisterAttestorKey(adm, crypto.SchemeSecp256k1, pub))

	metrics := domain.EngagementMetrics{GrowthRate: 1_000}
	msg := crypto.EncodeIntent(crypto.IntentProcessData, 7_000, canonicalEngagementBytes(testToken, metrics))
	sig, err := crypto.SignIntent(crypto.SchemeSecp256k1, ethcrypto.FromECDSA(key), msg)
	require.NoError(t, err)

	require.NoError(t, o.UpdateEngagementMetricsAttested(testToken, metrics, 7_000, pub, sig))

	price, err := o.GetPrice(testToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_100_000_000), price)
}

func TestRegisterAttestorKeyValidation(t *testing.T) {
	o, adm := New(nil, testLogger())

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	assert.ErrorIs(t, o.RegisterAttestorKey(nil, crypto.SchemeEd25519, pub), domain.ErrUnauthorized)
	assert.ErrorIs(t, o.RegisterAttestorKey(adm, crypto.SchemeEd25519, pub[:16]), domain.ErrInvalidAttestation)
	assert.ErrorIs(t, o.RegisterAttestorKey(adm, crypto.Scheme("rsa"), pub), domain.ErrInvalidAttestation)
}
