// Package oracle maintains per-token engagement metrics, trading metrics,
// and the blended price derived from both. Engagement data enters either
// through the attested enclave path, verified against registered attestor
// keys, or through the clearly separated trusted-admin path used by
// operators and tests.
package oracle

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediafi/ipledger/internal/crypto"
	"github.com/mediafi/ipledger/internal/domain"
)

const (
	// DefaultEngagementWeight and DefaultTradingWeight set the 60/40
	// engagement/trading price blend.
	DefaultEngagementWeight uint64 = 60
	DefaultTradingWeight    uint64 = 40

	// DefaultEngagementMultiplier scales attested growth; 100 is neutral.
	DefaultEngagementMultiplier uint64 = 100

	bpsDenominator = 10_000
)

// AdminCap is the unforgeable oracle admin capability issued by New. The
// unexported nonce keeps it non-zero-sized so every allocation has a
// distinct address.
type AdminCap struct {
	_     [0]func() // not comparable by value
	nonce uint64
}

var capNonce atomic.Uint64

func newAdminCap() *AdminCap {
	return &AdminCap{nonce: capNonce.Add(1)}
}

// attestorKey is one registered off-chain feed key.
type attestorKey struct {
	scheme crypto.Scheme
	pubKey []byte
}

// Oracle is the pricing oracle for all registered tokens.
type Oracle struct {
	admin *AdminCap

	mu               sync.RWMutex
	engagementWeight uint64
	tradingWeight    uint64
	multiplier       uint64
	prices           map[domain.TokenID]*domain.PriceData
	engagement       map[domain.TokenID]*domain.EngagementMetrics
	trading          map[domain.TokenID]*domain.TradingMetrics
	attestors        map[string]attestorKey // hex(pubkey) -> key
	lastAttestedMs   map[domain.TokenID]uint64

	sink   domain.EventSink
	logger *slog.Logger
}

// New creates an Oracle with the default 60/40 blend and issues its admin
// capability. sink may be nil.
func New(sink domain.EventSink, logger *slog.Logger) (*Oracle, *AdminCap) {
	if sink == nil {
		sink = domain.NopSink{}
	}
	adm := newAdminCap()
	return &Oracle{
		admin:            adm,
		engagementWeight: DefaultEngagementWeight,
		tradingWeight:    DefaultTradingWeight,
		multiplier:       DefaultEngagementMultiplier,
		prices:           make(map[domain.TokenID]*domain.PriceData),
		engagement:       make(map[domain.TokenID]*domain.EngagementMetrics),
		trading:          make(map[domain.TokenID]*domain.TradingMetrics),
		attestors:        make(map[string]attestorKey),
		lastAttestedMs:   make(map[domain.TokenID]uint64),
		sink:             sink,
		logger:           logger.With(slog.String("component", "oracle")),
	}, adm
}

// grants reports whether adm is the capability issued at construction.
func (o *Oracle) grants(adm *AdminCap) bool {
	return adm != nil && adm == o.admin && adm.nonce == o.admin.nonce
}

// InitializeTokenPrice registers a token with the oracle at basePrice.
// Requires the oracle admin capability.
func (o *Oracle) InitializeTokenPrice(adm *AdminCap, tokenID domain.TokenID, basePrice uint64) error {
	if !o.grants(adm) {
		return fmt.Errorf("oracle: initialize %s: %w", tokenID, domain.ErrUnauthorized)
	}
	if basePrice == 0 {
		return fmt.Errorf("oracle: initialize %s: zero base price: %w", tokenID, domain.ErrInvalidPrice)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.prices[tokenID]; ok {
		return fmt.Errorf("oracle: initialize %s: %w", tokenID, domain.ErrAlreadyExists)
	}
	o.prices[tokenID] = &domain.PriceData{
		BasePrice: basePrice,
		Price:     basePrice,
		UpdatedAt: time.Now().UTC(),
	}
	o.logger.Info("token price initialized",
		slog.String("token_id", string(tokenID)),
		slog.Uint64("base_price", basePrice),
	)
	return nil
}

// SetWeights changes the engagement/trading blend. Both weights must lie in
// [0,100] and sum to exactly 100.
func (o *Oracle) SetWeights(adm *AdminCap, engagementWeight, tradingWeight uint64) error {
	if !o.grants(adm) {
		return fmt.Errorf("oracle: set weights: %w", domain.ErrUnauthorized)
	}
	if engagementWeight > 100 || tradingWeight > 100 || engagementWeight+tradingWeight != 100 {
		return fmt.Errorf("oracle: set weights %d/%d: %w", engagementWeight, tradingWeight, domain.ErrInvalidWeight)
	}
	o.mu.Lock()
	o.engagementWeight = engagementWeight
	o.tradingWeight = tradingWeight
	o.mu.Unlock()
	return nil
}

// RegisterAttestorKey registers an off-chain feed public key under the
// given scheme. Only registered keys can push attested engagement updates.
func (o *Oracle) RegisterAttestorKey(adm *AdminCap, scheme crypto.Scheme, pubKey []byte) error {
	if !o.grants(adm) {
		return fmt.Errorf("oracle: register attestor: %w", domain.ErrUnauthorized)
	}
	// Length sanity up front so a truncated key cannot be registered.
	if err := crypto.ValidateKey(scheme, pubKey); err != nil {
		return fmt.Errorf("oracle: register attestor: %v: %w", err, domain.ErrInvalidAttestation)
	}

	key := make([]byte, len(pubKey))
	copy(key, pubKey)

	o.mu.Lock()
	o.attestors[hex.EncodeToString(pubKey)] = attestorKey{scheme: scheme, pubKey: key}
	o.mu.Unlock()

	o.logger.Info("attestor key registered",
		slog.String("scheme", string(scheme)),
		slog.String("pubkey", hex.EncodeToString(pubKey)),
	)
	return nil
}

// UpdateEngagementMetrics is the trusted-admin path: it overwrites a
// token's engagement metrics without attestation and recalculates the
// price. Operator and test use only; the attested path is
// UpdateEngagementMetricsAttested.
func (o *Oracle) UpdateEngagementMetrics(adm *AdminCap, tokenID domain.TokenID, m domain.EngagementMetrics) error {
	if !o.grants(adm) {
		return fmt.Errorf("oracle: update engagement %s: %w", tokenID, domain.ErrUnauthorized)
	}
	return o.applyEngagement(tokenID, m)
}

// UpdateEngagementMetricsAttested is the attested path. The submitted
// metrics are trusted only when sig verifies under a registered attestor
// key over the canonical intent encoding of (timestampMs, tokenID,
// metrics), and timestampMs is newer than the last accepted attestation
// for the token.
func (o *Oracle) UpdateEngagementMetricsAttested(tokenID domain.TokenID, m domain.EngagementMetrics, timestampMs uint64, pubKey, sig []byte) error {
	o.mu.RLock()
	att, registered := o.attestors[hex.EncodeToString(pubKey)]
	lastMs := o.lastAttestedMs[tokenID]
	o.mu.RUnlock()

	if !registered {
		return fmt.Errorf("oracle: attested update %s: unregistered key: %w", tokenID, domain.ErrInvalidAttestation)
	}
	if timestampMs <= lastMs {
		return fmt.Errorf("oracle: attested update %s: stale timestamp %d: %w", tokenID, timestampMs, domain.ErrInvalidAttestation)
	}

	msg := crypto.EncodeIntent(crypto.IntentProcessData, timestampMs, canonicalEngagementBytes(tokenID, m))
	if err := crypto.VerifyIntent(att.scheme, att.pubKey, msg, sig); err != nil {
		return fmt.Errorf("oracle: attested update %s: %v: %w", tokenID, err, domain.ErrInvalidAttestation)
	}

	if err := o.applyEngagement(tokenID, m); err != nil {
		return err
	}

	o.mu.Lock()
	o.lastAttestedMs[tokenID] = timestampMs
	o.mu.Unlock()
	return nil
}

// UpdateTradingMetrics folds one marketplace execution into the token's
// trading metrics and recalculates the price. Called by the marketplace
// after every fill.
func (o *Oracle) UpdateTradingMetrics(u domain.TradingUpdate) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pd, ok := o.prices[u.TokenID]
	if !ok {
		return fmt.Errorf("oracle: trading update %s: %w", u.TokenID, domain.ErrNotFound)
	}

	tm := o.trading[u.TokenID]
	if tm == nil {
		tm = &domain.TradingMetrics{}
		o.trading[u.TokenID] = tm
	}
	tm.HighestBid = u.BestBid
	tm.LowestAsk = u.BestAsk
	tm.LastPrice = u.Price
	if u.TakerSide == domain.OrderSideBuy {
		tm.BuyVolume += u.Quantity
	} else {
		tm.SellVolume += u.Quantity
	}
	tm.TradeCount++
	tm.UpdatedAt = u.ExecutedAt

	return o.recalculateLocked(u.TokenID, pd)
}

// RecalculatePrice recomputes a token's blended price from the current
// metrics. Metric updates already recalculate internally; this entry point
// exists for reads after weight changes.
func (o *Oracle) RecalculatePrice(tokenID domain.TokenID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	pd, ok := o.prices[tokenID]
	if !ok {
		return fmt.Errorf("oracle: recalculate %s: %w", tokenID, domain.ErrNotFound)
	}
	return o.recalculateLocked(tokenID, pd)
}

// GetPrice returns the current blended price for the token.
func (o *Oracle) GetPrice(tokenID domain.TokenID) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	pd, ok := o.prices[tokenID]
	if !ok {
		return 0, fmt.Errorf("oracle: price %s: %w", tokenID, domain.ErrNotFound)
	}
	return pd.Price, nil
}

// GetPriceData returns the full price record for the token.
func (o *Oracle) GetPriceData(tokenID domain.TokenID) (domain.PriceData, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	pd, ok := o.prices[tokenID]
	if !ok {
		return domain.PriceData{}, fmt.Errorf("oracle: price data %s: %w", tokenID, domain.ErrNotFound)
	}
	return *pd, nil
}

// GetEngagementMetrics returns the last accepted engagement metrics.
func (o *Oracle) GetEngagementMetrics(tokenID domain.TokenID) (domain.EngagementMetrics, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	em, ok := o.engagement[tokenID]
	if !ok {
		return domain.EngagementMetrics{}, fmt.Errorf("oracle: engagement %s: %w", tokenID, domain.ErrNotFound)
	}
	return *em, nil
}

// GetTradingMetrics returns the accumulated trading metrics.
func (o *Oracle) GetTradingMetrics(tokenID domain.TokenID) (domain.TradingMetrics, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tm, ok := o.trading[tokenID]
	if !ok {
		return domain.TradingMetrics{}, fmt.Errorf("oracle: trading %s: %w", tokenID, domain.ErrNotFound)
	}
	return *tm, nil
}

// applyEngagement overwrites the token's engagement metrics wholesale and
// recalculates the price.
func (o *Oracle) applyEngagement(tokenID domain.TokenID, m domain.EngagementMetrics) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pd, ok := o.prices[tokenID]
	if !ok {
		return fmt.Errorf("oracle: update engagement %s: %w", tokenID, domain.ErrNotFound)
	}

	m.UpdatedAt = time.Now().UTC()
	o.engagement[tokenID] = &m

	return o.recalculateLocked(tokenID, pd)
}

// recalculateLocked recomputes the blended price. Caller holds o.mu.
//
//	engagementPrice = base * (10000 + growth*multiplier/100) / 10000
//	tradingPrice    = midpoint | last execution | base
//	price           = (engagementPrice*wE + tradingPrice*wT) / 100
func (o *Oracle) recalculateLocked(tokenID domain.TokenID, pd *domain.PriceData) error {
	engPrice := pd.BasePrice
	if em := o.engagement[tokenID]; em != nil {
		adjusted := em.GrowthRate * int64(o.multiplier) / 100
		factor := int64(bpsDenominator) + adjusted
		if factor < 0 {
			factor = 0
		}
		p, err := domain.MulDiv(pd.BasePrice, uint64(factor), bpsDenominator)
		if err != nil {
			return fmt.Errorf("oracle: recalculate %s: %w", tokenID, err)
		}
		engPrice = p
	}

	tradingPrice := pd.BasePrice
	if tm := o.trading[tokenID]; tm != nil {
		if mid, ok := tm.Midpoint(); ok {
			tradingPrice = mid
		} else if tm.LastPrice > 0 {
			tradingPrice = tm.LastPrice
		}
	}

	weighted, err := domain.CheckedMul(engPrice, o.engagementWeight)
	if err != nil {
		return fmt.Errorf("oracle: recalculate %s: %w", tokenID, err)
	}
	weightedTrading, err := domain.CheckedMul(tradingPrice, o.tradingWeight)
	if err != nil {
		return fmt.Errorf("oracle: recalculate %s: %w", tokenID, err)
	}
	sum, err := domain.CheckedAdd(weighted, weightedTrading)
	if err != nil {
		return fmt.Errorf("oracle: recalculate %s: %w", tokenID, err)
	}
	newPrice := sum / 100

	oldPrice := pd.Price
	pd.Price = newPrice
	pd.UpdatedAt = time.Now().UTC()
	if oldPrice > 0 {
		pd.ChangeBps = (int64(newPrice) - int64(oldPrice)) * bpsDenominator / int64(oldPrice)
	} else {
		pd.ChangeBps = 0
	}

	o.sink.Emit(domain.Event{
		Kind:    domain.EventPriceUpdated,
		TokenID: tokenID,
		At:      pd.UpdatedAt,
		Payload: domain.PricePoint{TokenID: tokenID, Price: newPrice, ChangeBps: pd.ChangeBps, At: pd.UpdatedAt},
	})
	return nil
}

// canonicalEngagementBytes is the deterministic payload encoding the
// enclave signs: token id bytes, then each metric as little-endian u64 in
// declaration order, growth rate as two's-complement u64.
func canonicalEngagementBytes(tokenID domain.TokenID, m domain.EngagementMetrics) []byte {
	buf := make([]byte, 0, len(tokenID)+5*8)
	buf = append(buf, []byte(tokenID)...)
	buf = appendU64(buf, m.AverageRating)
	buf = appendU64(buf, m.Contributors)
	buf = appendU64(buf, m.TotalEngagements)
	buf = appendU64(buf, m.PredictionAccuracy)
	buf = appendU64(buf, uint64(m.GrowthRate))
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
